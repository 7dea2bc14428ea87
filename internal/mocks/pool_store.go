package mocks

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/store"
)

// MemoryPoolStore is an in-memory store.TaskStore and store.AuditStore.
// A single mutex stands in for the row-level atomicity of the database, so
// every transition is a compare-and-set exactly like the SQL implementation.
type MemoryPoolStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.PoolTask
	jobs  []*domain.ProcessingJob

	// Err, when set, is returned by every method. A done context fails every
	// method first, as database/sql does.
	Err error

	// CreateErr, when set, is returned by Create only.
	CreateErr error

	// BeforeFinish runs just before FinishProcessing evaluates its
	// condition. Tests use it to lose the lease mid-flight.
	BeforeFinish func()
}

var (
	_ store.TaskStore  = (*MemoryPoolStore)(nil)
	_ store.AuditStore = (*memoryAuditStore)(nil)
)

func (m *MemoryPoolStore) failure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.Err
}

// NewMemoryPoolStore returns an empty store.
func NewMemoryPoolStore() *MemoryPoolStore {
	return &MemoryPoolStore{tasks: make(map[uuid.UUID]*domain.PoolTask)}
}

// Audit returns the audit view over the same data.
func (m *MemoryPoolStore) Audit() store.AuditStore {
	return &memoryAuditStore{m: m}
}

// Jobs returns a copy of every recorded job in insertion order.
func (m *MemoryPoolStore) Jobs() []*domain.ProcessingJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ProcessingJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		c := *j
		out = append(out, &c)
	}
	return out
}

// Put stores task as-is, bypassing validation. Tests use it to seed state.
func (m *MemoryPoolStore) Put(task *domain.PoolTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = cloneTask(task)
}

func cloneTask(t *domain.PoolTask) *domain.PoolTask {
	c := *t
	return &c
}

func (m *MemoryPoolStore) find(id, groupID uuid.UUID) (*domain.PoolTask, error) {
	t, ok := m.tasks[id]
	if !ok || t.GroupID != groupID {
		return nil, store.ErrTaskNotFound
	}
	return t, nil
}

// Create implements store.TaskStore.
func (m *MemoryPoolStore) Create(ctx context.Context, task *domain.PoolTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(ctx); err != nil {
		return err
	}
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if err := task.Validate(); err != nil {
		return err
	}
	for _, t := range m.tasks {
		if t.BlobRef == task.BlobRef {
			return store.ErrBlobRefExists
		}
	}
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// GetByID implements store.TaskStore.
func (m *MemoryPoolStore) GetByID(ctx context.Context, id, groupID uuid.UUID) (*domain.PoolTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(ctx); err != nil {
		return nil, err
	}
	t, err := m.find(id, groupID)
	if err != nil {
		return nil, err
	}
	return cloneTask(t), nil
}

// CountOutstanding implements store.TaskStore.
func (m *MemoryPoolStore) CountOutstanding(ctx context.Context, groupID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, t := range m.tasks {
		if t.GroupID == groupID && t.Status.Outstanding() {
			n++
		}
	}
	return n, nil
}

// Claim implements store.TaskStore.
func (m *MemoryPoolStore) Claim(ctx context.Context, p store.ClaimParams) (*domain.PoolTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(ctx); err != nil {
		return nil, err
	}
	t, err := m.find(p.TaskID, p.GroupID)
	if err != nil {
		return nil, err
	}
	if !t.Claimable(p.Now, p.LeaseTimeout, p.ProcessingTimeout) {
		return nil, t.ClassifyClaimFailure()
	}
	now := p.Now.UTC()
	holder := p.MemberID
	t.Status = domain.TaskStatusClaimed
	t.HolderID = &holder
	t.LeaseStartedAt = &now
	t.ProcessingStartedAt = nil
	t.UpdatedAt = now
	return cloneTask(t), nil
}

// Release implements store.TaskStore.
func (m *MemoryPoolStore) Release(ctx context.Context, id, groupID, memberID uuid.UUID, now time.Time) (*domain.PoolTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(ctx); err != nil {
		return nil, err
	}
	t, err := m.find(id, groupID)
	if err != nil {
		return nil, err
	}
	if !t.HeldBy(memberID) {
		return nil, t.ClassifyHolderFailure()
	}
	t.Status = domain.TaskStatusPending
	t.HolderID = nil
	t.LeaseStartedAt = nil
	t.ProcessingStartedAt = nil
	t.UpdatedAt = now.UTC()
	return cloneTask(t), nil
}

// BeginProcessing implements store.TaskStore.
func (m *MemoryPoolStore) BeginProcessing(ctx context.Context, id, groupID, memberID uuid.UUID, now time.Time) (*domain.PoolTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(ctx); err != nil {
		return nil, err
	}
	t, err := m.find(id, groupID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TaskStatusClaimed || !t.HeldBy(memberID) {
		return nil, t.ClassifyHolderFailure()
	}
	ts := now.UTC()
	t.Status = domain.TaskStatusProcessing
	t.ProcessingStartedAt = &ts
	t.UpdatedAt = ts
	return cloneTask(t), nil
}

// FinishProcessing implements store.TaskStore.
func (m *MemoryPoolStore) FinishProcessing(
	ctx context.Context,
	update domain.TerminalUpdate,
	job *domain.ProcessingJob,
) (*domain.PoolTask, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	if m.BeforeFinish != nil {
		m.BeforeFinish()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(ctx); err != nil {
		return nil, err
	}

	t, err := m.find(update.TaskID, update.GroupID)
	if err != nil {
		abandoned := job.AsAbandoned("lease lost before commit")
		abandoned.TaskID = nil
		m.jobs = append(m.jobs, abandoned)
		return nil, err
	}
	if t.Status != domain.TaskStatusProcessing || !t.HeldBy(update.MemberID) {
		m.jobs = append(m.jobs, job.AsAbandoned("lease lost before commit"))
		return nil, t.ClassifyHolderFailure()
	}

	completedAt := update.CompletedAt.UTC()
	completedBy := update.MemberID
	t.Status = update.Status
	t.HolderID = nil
	t.LeaseStartedAt = nil
	t.ProcessingStartedAt = nil
	t.CompletedBy = &completedBy
	t.CompletedAt = &completedAt
	t.ResultCount = update.ResultCount
	t.FailureReason = update.FailureReason
	t.UpdatedAt = completedAt

	c := *job
	m.jobs = append(m.jobs, &c)
	return cloneTask(t), nil
}

// List implements store.TaskStore.
func (m *MemoryPoolStore) List(ctx context.Context, f store.ListFilter) ([]*domain.PoolTask, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(ctx); err != nil {
		return nil, 0, err
	}

	var matched []*domain.PoolTask
	for _, t := range m.tasks {
		if t.GroupID != f.GroupID || !statusIn(t.Status, f.Statuses) {
			continue
		}
		matched = append(matched, cloneTask(t))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	if f.Offset >= total {
		return []*domain.PoolTask{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func statusIn(s domain.TaskStatus, set []domain.TaskStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// CountByStatus implements store.TaskStore.
func (m *MemoryPoolStore) CountByStatus(ctx context.Context, groupID uuid.UUID) (store.StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c store.StatusCounts
	if err := m.failure(ctx); err != nil {
		return c, err
	}
	for _, t := range m.tasks {
		if t.GroupID == groupID {
			c.Add(t.Status, 1)
		}
	}
	return c, nil
}

// ProcessedCountByMember implements store.TaskStore.
func (m *MemoryPoolStore) ProcessedCountByMember(ctx context.Context, groupID uuid.UUID) ([]store.MemberCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(ctx); err != nil {
		return nil, err
	}
	counts := map[uuid.UUID]int{}
	for _, t := range m.tasks {
		if t.GroupID == groupID && t.Status == domain.TaskStatusProcessed && t.CompletedBy != nil {
			counts[*t.CompletedBy]++
		}
	}
	out := make([]store.MemberCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, store.MemberCount{MemberID: id, ProcessedCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProcessedCount != out[j].ProcessedCount {
			return out[i].ProcessedCount > out[j].ProcessedCount
		}
		return out[i].MemberID.String() < out[j].MemberID.String()
	})
	return out, nil
}

// Delete implements store.TaskStore.
func (m *MemoryPoolStore) Delete(ctx context.Context, id, groupID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(ctx); err != nil {
		return err
	}
	if _, err := m.find(id, groupID); err != nil {
		return err
	}
	delete(m.tasks, id)
	for _, j := range m.jobs {
		if j.TaskID != nil && *j.TaskID == id {
			j.TaskID = nil
		}
	}
	return nil
}

// DeleteByGroup implements store.TaskStore.
func (m *MemoryPoolStore) DeleteByGroup(ctx context.Context, groupID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(ctx); err != nil {
		return nil, err
	}
	var refs []string
	for id, t := range m.tasks {
		if t.GroupID == groupID {
			refs = append(refs, t.BlobRef)
			delete(m.tasks, id)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// WithTx implements store.TaskStore. The memory store has no transactions.
func (m *MemoryPoolStore) WithTx(*sql.Tx) store.TaskStore {
	return m
}

type memoryAuditStore struct {
	m *MemoryPoolStore
}

func (a *memoryAuditStore) Create(ctx context.Context, job *domain.ProcessingJob) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	if err := a.m.failure(ctx); err != nil {
		return err
	}
	c := *job
	a.m.jobs = append(a.m.jobs, &c)
	return nil
}

func (a *memoryAuditStore) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.ProcessingJob, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	if err := a.m.failure(ctx); err != nil {
		return nil, err
	}
	var out []*domain.ProcessingJob
	for _, j := range a.m.jobs {
		if j.TaskID != nil && *j.TaskID == taskID {
			c := *j
			out = append(out, &c)
		}
	}
	return out, nil
}

func (a *memoryAuditStore) WithTx(*sql.Tx) store.AuditStore {
	return a
}
