// Package mocks provides in-memory implementations of the pool's ports for
// tests.
//
// MemoryPoolStore implements store.TaskStore and, through Audit, the paired
// store.AuditStore with the same compare-and-set semantics as PostgreSQL.
// The collaborator fakes (MemoryBlobStorage, MockExtractor, MockLimiter and
// MemberDirectory) expose error fields and hooks so tests can inject
// failures:
//
//	st := mocks.NewMemoryPoolStore()
//	blobs := mocks.NewMemoryBlobStorage()
//	blobs.GetErr = errors.New("disk unavailable")
//
//	svc, err := pool.NewService(pool.Dependencies{
//	    Tasks:     st,
//	    Audit:     st.Audit(),
//	    Storage:   blobs,
//	    Extractor: &mocks.MockExtractor{},
//	}, cfg)
package mocks
