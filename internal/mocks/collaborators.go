package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/blob"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/extraction"
	"github.com/phrazzld/sunlog-api/internal/ratelimit"
	"github.com/phrazzld/sunlog-api/internal/store"
)

// MemoryBlobStorage implements blob.Storage in memory.
type MemoryBlobStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte

	// PutErr, GetErr and DeleteErr override the matching operation when set.
	PutErr    error
	GetErr    error
	DeleteErr error
}

var _ blob.Storage = (*MemoryBlobStorage)(nil)

// NewMemoryBlobStorage returns an empty blob storage.
func NewMemoryBlobStorage() *MemoryBlobStorage {
	return &MemoryBlobStorage{blobs: make(map[string][]byte)}
}

// Put implements blob.Storage.
func (s *MemoryBlobStorage) Put(_ context.Context, groupID, taskID uuid.UUID, filename, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return "", s.PutErr
	}
	ref := blob.ObjectKey(groupID, taskID, filename)
	s.blobs[ref] = append([]byte(nil), data...)
	return ref, nil
}

// Get implements blob.Storage.
func (s *MemoryBlobStorage) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	data, ok := s.blobs[ref]
	if !ok {
		return nil, blob.ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

// Delete implements blob.Storage.
func (s *MemoryBlobStorage) Delete(_ context.Context, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return false, s.DeleteErr
	}
	_, ok := s.blobs[ref]
	delete(s.blobs, ref)
	return ok, nil
}

// Refs returns the stored references in sorted order.
func (s *MemoryBlobStorage) Refs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]string, 0, len(s.blobs))
	for ref := range s.blobs {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// MockExtractor implements extraction.Extractor with a configurable function.
type MockExtractor struct {
	ProviderName string
	ExtractFn    func(ctx context.Context, data []byte, mimeType string) ([]domain.Reading, error)

	mu    sync.Mutex
	calls int
}

var _ extraction.Extractor = (*MockExtractor)(nil)

// Name implements extraction.Extractor.
func (m *MockExtractor) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Extract implements extraction.Extractor.
func (m *MockExtractor) Extract(ctx context.Context, data []byte, mimeType string) ([]domain.Reading, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.ExtractFn != nil {
		return m.ExtractFn(ctx, data, mimeType)
	}
	return extraction.NewMock().Extract(ctx, data, mimeType)
}

// Calls returns how many times Extract ran.
func (m *MockExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockLimiter implements ratelimit.Limiter with a per-member allowance.
type MockLimiter struct {
	mu sync.Mutex

	// Allow is the number of calls each member may make. Zero means unlimited.
	Allow int
	used  map[uuid.UUID]int
}

var _ ratelimit.Limiter = (*MockLimiter)(nil)

// CheckAndConsume implements ratelimit.Limiter.
func (l *MockLimiter) CheckAndConsume(_ context.Context, memberID uuid.UUID, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Allow == 0 {
		return nil
	}
	if l.used == nil {
		l.used = make(map[uuid.UUID]int)
	}
	if l.used[memberID] >= l.Allow {
		return ratelimit.ErrLimitExceeded
	}
	l.used[memberID]++
	return nil
}

// MemberDirectory implements store.MemberDirectory over a fixed map.
type MemberDirectory struct {
	Members map[uuid.UUID]*domain.Membership
	Err     error
}

var _ store.MemberDirectory = (*MemberDirectory)(nil)

// NewMemberDirectory returns a directory containing the given memberships.
func NewMemberDirectory(members ...*domain.Membership) *MemberDirectory {
	d := &MemberDirectory{Members: make(map[uuid.UUID]*domain.Membership)}
	for _, m := range members {
		d.Members[m.MemberID] = m
	}
	return d
}

// GetMembership implements store.MemberDirectory.
func (d *MemberDirectory) GetMembership(_ context.Context, memberID uuid.UUID) (*domain.Membership, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	m, ok := d.Members[memberID]
	if !ok {
		return nil, store.ErrMembershipNotFound
	}
	c := *m
	return &c, nil
}
