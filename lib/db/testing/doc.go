// Package testing provides standardised tests and benchmarks for
// storage engines that satisfy the db.Backend interface.
//
// The package contains:
//   - testing: A conformance suite for the db.Env, db.ReadTxn, db.WriteTxn and
//     db.Cursor contracts (DupSort, integer keys, isolation, single writer, ...)
//   - benchmark: Performance tests for common transaction patterns
//
// Tests that need an optional feature (db.FeatureDupSort, db.FeaturePersistence, ...)
// are skipped for engines that do not report it.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.Backend {
//		return NewMyBackend()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunBackendTests(t, "MyBackend", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunBackendBenchmarks(b, "MyBackend", factory)
package testing
