package store

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/logging"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync/atomic"
)

var plog = logger.GetLogger(logging.LoggerStore)

// --------------------------------------------------------------------------
// Environment
// --------------------------------------------------------------------------

// Environment is one reference to an open backend environment, returned by
// Manager.GetOrCreate and Manager.Get. All references of a path share the same
// backend environment and stores, each of them is released once by Close.
//
// Thread-safety: All methods are safe for concurrent use. Transactions
// obtained from the environment are not.
type Environment struct {
	*environment
	released atomic.Bool
}

// environment is the state shared by all references of a path
type environment struct {
	manager *Manager
	path    string
	cfg     Config
	env     db.Env
	gate    *writerGate
	metrics *envMetrics

	readers atomic.Int64 // active read transactions
	closed  atomic.Bool
	refs    int // guarded by manager.mu

	// stores binds every store name opened in this process to one kind
	stores *xsync.MapOf[string, *Store]
}

// StoreOptions configure OpenStore
type StoreOptions struct {
	// Create the store if it does not exist. Without it a missing store
	// returns ErrNotFound.
	Create bool
}

// StoreInfo describes a store of the environment
type StoreInfo struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	Open bool   `json:"open"` // opened in this process
}

func newEnvironment(m *Manager, path string, cfg *Config, raw db.Env) *environment {
	e := &environment{
		manager: m,
		path:    path,
		cfg:     *cfg,
		env:     raw,
		gate:    newWriterGate(cfg.WriterPolicy),
		stores:  xsync.NewMapOf[string, *Store](),
	}
	e.metrics = newEnvMetrics(path, func() float64 { return float64(e.readers.Load()) })
	return e
}

// same reports whether o refers to the same backend environment as e
func (e *Environment) same(o *Environment) bool {
	return o != nil && e.environment == o.environment
}

func (e *Environment) checkOpen() error {
	if e.closed.Load() {
		return WrapError(RetCInvalidOperation, "environment closed", db.ErrClosed)
	}
	return nil
}

// Path returns the canonical path of the environment
func (e *Environment) Path() string {
	return e.path
}

// Config returns a copy of the configuration the environment was opened with
func (e *Environment) Config() Config {
	return e.cfg
}

// Backend returns the engine of the environment
func (e *Environment) Backend() db.Implementation {
	return e.cfg.Backend
}

// --------------------------------------------------------------------------
// Stores
// --------------------------------------------------------------------------

// OpenStore opens the store name with the given kind, creating it unless
// opts.Create is false. A name that is already bound to another kind in
// this process fails with ErrKindMismatch before the backend is consulted.
// Creating a store needs the writer, so it is subject to the writer policy
// and must not be called by a goroutine that holds the write transaction.
func (e *Environment) OpenStore(name string, kind Kind, opts *StoreOptions) (*Store, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if kind < KindSingle || kind > KindDupSortInteger {
		return nil, NewError(RetCInvalidOperation, fmt.Sprintf("invalid store kind %d", kind))
	}
	if s, ok := e.stores.Load(name); ok {
		return s.bound(kind)
	}

	create := opts == nil || opts.Create
	dbi, err := e.openDB(name, kind, create)
	if err != nil {
		return nil, err
	}

	s, loaded := e.stores.LoadOrStore(name, &Store{env: e, name: name, kind: kind, dbi: dbi})
	if loaded {
		return s.bound(kind)
	}
	plog.Debugf("opened store %s (%s) in %s", name, kind, e.path)
	return s, nil
}

// openDB opens the backend database, taking the writer only to create it
func (e *Environment) openDB(name string, kind Kind, create bool) (db.DBI, error) {
	op := fmt.Sprintf("open store %s", name)
	dbi, err := e.env.OpenDB(name, kind.flags())
	if err == nil || !errors.Is(err, db.ErrNotFound) || !create {
		return dbi, backendError(op, err)
	}
	if e.cfg.ReadOnly {
		return 0, WrapError(RetCReadOnly, op, db.ErrReadOnly)
	}

	if err := e.gate.acquire(context.Background()); err != nil {
		e.metrics.unavailable.Inc()
		return 0, err
	}
	defer e.gate.release()
	dbi, err = e.env.OpenDB(name, kind.flags()|db.FlagCreate)
	return dbi, backendError(op, err)
}

// ListStores returns every store of the environment, sorted by name
func (e *Environment) ListStores() ([]StoreInfo, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	dbs, err := e.env.ListDBs()
	if err != nil {
		return nil, backendError("list stores", err)
	}
	infos := make([]StoreInfo, 0, len(dbs))
	for _, d := range dbs {
		_, open := e.stores.Load(d.Name)
		infos = append(infos, StoreInfo{Name: d.Name, Kind: kindOf(d.Flags), Open: open})
	}
	return infos, nil
}

// --------------------------------------------------------------------------
// Maintenance
// --------------------------------------------------------------------------

// Sync flushes committed data to disk. Without force the backend may skip
// the flush if commits are durable already.
func (e *Environment) Sync(force bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return backendError("sync", e.env.Sync(force))
}

// Stat returns statistics of the environment
func (e *Environment) Stat() (db.Stat, error) {
	if err := e.checkOpen(); err != nil {
		return db.Stat{}, err
	}
	stat, err := e.env.Stat()
	return stat, backendError("stat", err)
}

// Info returns information about the backend environment
func (e *Environment) Info() db.DatabaseInfo {
	return e.env.Info()
}

// Close releases this reference, closing it again is a no-op. The last
// release closes the backend environment, which requires every transaction
// to be finished.
func (e *Environment) Close() error {
	if e.released.Swap(true) {
		return nil
	}
	return e.manager.release(e.environment)
}

func (e *environment) shutdown() error {
	if e.closed.Swap(true) {
		return nil
	}
	plog.Infof("closing environment %s", e.path)
	return backendError("close", e.env.Close())
}
