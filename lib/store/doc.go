// Package store provides the typed, transactional access layer of rKV. It
// opens named stores inside shared environments, encodes values with the
// type-tagged codec of the codec package and maps the single writer, many
// readers model of the backends onto Go types.
//
// The package focuses on:
//   - One open environment per canonical path and process (Manager)
//   - Stores bound to exactly one kind for the lifetime of the environment
//   - Read and write capabilities expressed in the type system
//   - A structured error system with return codes
//
// Key Components:
//
//   - Manager: An explicitly constructed registry of open environments keyed
//     by the canonical path (absolute, symlinks resolved). GetOrCreate returns
//     a counted reference, the last Environment.Close closes the backend.
//     Concurrent opens of one path collapse into a single backend open, the
//     backend open itself runs without holding the registry lock.
//
//   - Environment: One backend environment (bolt, mdbx or maple, selected by
//     Config.Backend). It owns the writer gate, the kind table of the stores
//     opened in this process and the runtime metrics. OpenStore checks the
//     kind table before the backend is consulted, so a kind mismatch never
//     touches the engine.
//
//   - Transactions: ReadTxn is a snapshot, WriteTxn embeds ReadTxn and is the
//     only type mutating operations accept. Both follow the state machine
//     Active -> Committed | Aborted, every operation on a finished transaction
//     fails with ErrTransactionFinished. Abort is a no-op on finished
//     transactions, so `defer txn.Abort()` is the idiom for both.
//
//   - Writer gate: At most one WriteTxn per environment. With the block
//     policy writers wait in FIFO order (BeginWriteContext bounds the wait),
//     with the fail-fast policy BeginWrite returns ErrWriteTxnUnavailable.
//     TryBeginWrite never waits under either policy.
//
//   - Stores: Store works with raw byte keys. The typed views SingleStore,
//     MultiStore, IntegerStore and MultiIntegerStore convert keys, integer
//     keys use the fixed-width native-endian encoding the engines order
//     numerically.
//
//   - Cursor: Moves through the key order of a store. Running out of entries
//     is terminal per direction, moving the other way resumes at the end.
//
// Error System:
//
//	Every error returned by the package is an *Error with a RetCode. Errors
//	match the sentinels (ErrNotFound, ErrKindMismatch, ...) by code with
//	errors.Is and unwrap to their cause, so codec and backend errors
//	(codec.ErrUnexpectedType, db.ErrMapFull, ...) match as well. A missing key
//	is not an error for Get, it returns ok=false. A value stored with another
//	type than requested is ErrUnexpectedType, never ErrNotFound.
//
// Migration:
//
//	Migrate copies every store of one environment into an empty one, for
//	example to move data from the maple engine to bolt.
package store
