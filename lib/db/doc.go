// Package db defines the backend interface every storage engine of rKV implements.
// It is the boundary between the typed store layer (github.com/ValentinKolb/rKV/lib/store)
// and a concrete memory-mapped, copy-on-write B-tree engine.
//
// The package focuses on:
//   - A minimal, byte-oriented interface for environments, databases, transactions and cursors
//   - Feature discovery through capability flags
//   - Uniform sentinel errors instead of engine specific error codes
//
// Key Components:
//
//   - Backend: Opens environments of one engine. Backends are selected by their
//     Implementation identifier ("bolt", "mdbx" or "maple").
//
//   - Env: One open environment. It creates and opens named databases, starts
//     transactions and reports statistics. An Env serializes writers itself, so
//     BeginWrite blocks while another write transaction is active.
//
//   - ReadTxn / WriteTxn: MVCC transactions. A ReadTxn sees the state of the last
//     commit before it started. WriteTxn embeds ReadTxn and adds the mutating
//     operations, so read-only code cannot write by accident.
//
//   - Cursor: Ordered positioning inside one database, driven by CursorOp values
//     modelled after the LMDB cursor API (First, Next, SetRange, NextDup, ...).
//
//   - DBFlags: DupSort and IntegerKey semantics are communicated to the engine
//     when a database is created and are fixed for its lifetime.
//
// Contract details shared by all implementations:
//   - Byte slices returned by a transaction are only valid until it ends.
//   - DupSort databases keep the values of one key sorted and unique.
//   - Del(key, nil) on a DupSort database removes every duplicate of key.
//   - Get on a DupSort database returns the smallest duplicate.
//   - A failed relative cursor move (Next, Prev, NextDup, ...) leaves the cursor in place.
//   - IntegerKey databases compare 4 or 8 byte native-endian keys numerically.
//     All keys of one database must use the same width.
//
// Related Packages:
//
// The engines/bolt package wraps go.etcd.io/bbolt and is the default engine.
// The engines/mdbx package wraps libmdbx through github.com/erigontech/mdbx-go and is
// only compiled with the "mdbx" build tag. The engines/maple package is an
// in-process engine built on copy-on-write B-trees, with optional snapshot
// persistence.
//
// The testing package (github.com/ValentinKolb/rKV/lib/db/testing) provides
// the conformance suite and benchmarks every engine runs:
//   - RunBackendTests: Validates an engine against the contract above
//   - RunBackendBenchmarks: Performance benchmarks for comparing engines
package db
