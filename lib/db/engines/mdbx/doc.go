// Package mdbx implements the db.Backend interface with libmdbx through
// github.com/erigontech/mdbx-go. libmdbx is a native memory mapped
// copy-on-write B+tree engine of the LMDB family, so named databases and
// sorted duplicates map directly to its own features. Integer keys are stored
// big-endian (db.OrderedIntegerKey) in plain databases, the __rkv_meta table
// records the flags of every database so that a reopen with other flags fails
// with db.ErrIncompatible.
//
// The package requires cgo and is only compiled with the mdbx build tag:
//
//	go build -tags mdbx ./...
//
// Files: <path>/mdbx.dat holds the data, <path>/mdbx.lck the reader table and
// the writer lock shared by every process that opens the environment.
//
// Environments are opened with NoStickyThreads, so read transactions are not
// bound to the OS thread that started them. A write transaction locks the
// calling goroutine to its OS thread and must be committed or aborted by that
// goroutine.
//
// Cursors remember the last returned entry. libmdbx leaves a cursor in an end
// state after a failed move, the wrapper restores the previous position so
// that all engines behave the same.
package mdbx
