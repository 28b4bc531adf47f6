// Package maple implements an in-process multi-version storage engine for rKV.
// It provides a complete implementation of the db.Backend interface without
// cgo or memory mapped files and is the default engine for tests and for
// environments that fit in memory.
//
// The package focuses on:
//   - Lock-free readers: a read transaction is a pointer to an immutable
//     committed state and never blocks the writer
//   - A single writer per environment that works on copy-on-write b-trees
//   - Sorted duplicates (DupSort) and numerically ordered integer keys
//   - Optional persistence through compressed, checksummed snapshot files
//
// Key Components:
//
//   - mapleEnv: The environment. It holds the current committed state in an
//     atomic pointer, the writer mutex and the table handles (DBI). Opening a
//     table that does not exist creates it in a write transaction of its own.
//
//   - txn: Read and write transactions. A read transaction keeps the table map
//     of the state it started on. The write transaction copies the table map
//     and clones every table (internal.Table) before modifying it. Cloning a
//     google/btree tree is lazy, unmodified nodes stay shared with the
//     committed version. Commit publishes the new state with a single pointer
//     swap, Abort just drops it.
//
//   - cursor: Remembers the last returned entry and searches relative to it.
//     It therefore stays valid while its write transaction changes the table.
//
//   - internal.Table: A b-tree ordered by key (and by value for DupSort
//     tables). Integer keys are stored big-endian so that byte order equals
//     numeric order.
//
// Persistence:
//
//   - Unless the backend is created with InMemory, every commit rewrites
//     <path>/data.maple through a temporary file and an atomic rename. With
//     NoSync commits are only published in memory and Sync or Close writes them.
//   - The snapshot body is the CBOR encoding of all tables, compressed with
//     snappy (default), zstd, lz4 or not at all (EnvOptions.Options["compression"]).
//     The header carries an xxh3 checksum of the body.
//   - <path>/lock.maple is locked with flock while the environment is open, an
//     exclusive lock for writers and a shared lock for read-only environments.
//
// Limits:
//
//   - MaxDBs bounds the number of tables (ErrDBsFull).
//   - MapSize bounds the accounted size of keys and values (ErrMapFull).
//   - MaxReaders bounds concurrent read transactions (ErrReadersFull).
//
// Thread-safety: The environment is safe for concurrent use. Transactions
// and cursors must only be used by one goroutine at a time.
package maple
