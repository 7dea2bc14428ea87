// Package store defines the persistence ports of the pool service.
//
// TaskStore exposes the lease protocol as compare-and-set transitions rather
// than row locks: every method that moves a task between states succeeds only
// if the row still matches the expected status and holder, and reports a miss
// so the caller can classify it. AuditStore and MemberDirectory cover the
// append-only processing log and the read-only membership lookup.
package store
