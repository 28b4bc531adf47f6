// Package bolt implements the db.Backend interface on top of go.etcd.io/bbolt,
// a pure Go memory mapped copy-on-write B+tree. It is the default engine of
// rKV.
//
// Layout:
//
//   - Every environment is one file, <path>/data.bolt. bbolt holds an
//     exclusive flock on it while a writable environment is open, and a shared
//     one for read-only environments.
//   - Every named database is a top-level bucket. The bucket __rkv_meta stores
//     the sort flags (DupSort, IntegerKey) of each database, so reopening a
//     database with different flags fails with ErrIncompatible.
//   - DupSort databases keep one nested bucket per key. The duplicates are the
//     keys of the nested bucket, prefixed with a zero byte because bbolt does
//     not accept empty keys. bbolt keeps them sorted and unique.
//   - IntegerKey databases store keys big-endian, so the byte order of bbolt
//     is the numeric order.
//
// Transactions map 1:1 to bbolt transactions. bbolt itself enforces a single
// writer, BeginWrite blocks until the active writer has finished.
//
// Cursors do not hold a bbolt cursor across calls. They remember the last
// returned entry and seek relative to it, which keeps them usable while the
// write transaction modifies the bucket.
//
// Limits:
//
//   - MaxDBs bounds the number of named databases (ErrDBsFull).
//   - MapSize bounds the file size. Puts fail with ErrMapFull once the size of
//     the last commit plus the data of the write transaction would exceed it.
//   - MaxReaders bounds concurrent read transactions (ErrReadersFull).
package bolt
