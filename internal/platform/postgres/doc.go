// Package postgres provides PostgreSQL-specific implementations for the data
// storage interfaces defined in the internal/store package.
//
// Task transitions are single conditional UPDATE ... RETURNING statements so
// that concurrent claims race inside the database rather than in the process.
// When a transition matches no row, the store reads the task once more to tell
// a missing task from a lost race. Schema migrations live in the migrations
// subpackage and are embedded into the binary.
package postgres
