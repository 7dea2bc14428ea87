// Package testdb provides utilities for database integration tests.
//
// Tests that only need isolation run inside a transaction that is rolled back
// when the test ends (WithTx). Tests that exercise concurrency across
// connections, such as competing claims, commit for real and clean up the
// rows of their own group afterwards.
//
// Integration tests are guarded by the integration build tag and skip
// themselves when DATABASE_URL is not set:
//
//	//go:build integration
//
//	func TestSomething(t *testing.T) {
//		db := testdb.GetTestDBWithT(t)
//		testdb.SetupTestDatabaseSchema(t, db)
//		testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//			// ...
//		})
//	}
package testdb
