//go:build mdbx

package mdbx

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/logging"
	"github.com/erigontech/mdbx-go/mdbx"
	"github.com/lni/dragonboat/v4/logger"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
)

var plog = logger.GetLogger(logging.LoggerMDBX)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	DataFile          = "mdbx.dat" // Name of the data file inside the environment directory
	LockFile          = "mdbx.lck" // Name of the lock file inside the environment directory
	defaultMaxDBs     = 128
	defaultMaxReaders = 126
	defaultMapSize    = 1 << 30

	// metaDB records the flags of every named database. libmdbx has no usable
	// integer key flag through mdbx-go, so integer keys are stored big-endian
	// and only this table knows about them.
	metaDB = "__rkv_meta"
)

// --------------------------------------------------------------------------
// Backend
// --------------------------------------------------------------------------

// DBOptions configures the mdbx backend
type DBOptions struct {
	PageSize int // Page size of new environments (0 = libmdbx default)
}

// DefaultOptions returns the default mdbx options
func DefaultOptions() *DBOptions {
	return &DBOptions{}
}

type backend struct {
	opts DBOptions
}

// NewBackend creates the mdbx backend with the specified options (optional)
func NewBackend(opts *DBOptions) db.Backend {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &backend{opts: *opts}
}

func (b *backend) Name() db.Implementation {
	return db.ImplMDBX
}

func (b *backend) Open(path string, opts db.EnvOptions) (db.Env, error) {
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("environment directory %s: %w", path, os.ErrNotExist)
	}

	menv, err := mdbx.NewEnv(mdbx.Label("rkv"))
	if err != nil {
		return nil, mapError(err)
	}

	env := &mdbxEnv{
		path:       path,
		menv:       menv,
		maxDBs:     opts.MaxDBs,
		mapSize:    opts.MapSize,
		maxReaders: opts.MaxReaders,
		readOnly:   opts.ReadOnly,
		noSync:     opts.NoSync,
		dbis:       make(map[string]db.DBI),
	}
	if env.maxDBs <= 0 {
		env.maxDBs = defaultMaxDBs
	}
	if env.maxReaders <= 0 {
		env.maxReaders = defaultMaxReaders
	}
	if env.mapSize <= 0 {
		env.mapSize = defaultMapSize
	}

	if err := env.configure(b.opts); err != nil {
		menv.Close()
		return nil, err
	}

	// read transactions are not bound to OS threads, goroutines may migrate
	flags := uint(mdbx.NoStickyThreads)
	switch {
	case opts.ReadOnly:
		flags |= mdbx.Readonly
	case opts.NoSync:
		flags |= mdbx.SafeNoSync
	}
	if err := menv.Open(path, flags, 0o644); err != nil {
		menv.Close()
		return nil, mapError(err)
	}
	if err := env.openMeta(); err != nil {
		menv.Close()
		return nil, err
	}

	plog.Debugf("opened %s (read-only=%t, no-sync=%t)", path, opts.ReadOnly, opts.NoSync)
	return env, nil
}

// --------------------------------------------------------------------------
// Environment
// --------------------------------------------------------------------------

// mdbxEnv maps the db.Env interface onto a libmdbx environment. libmdbx
// provides MVCC, the single writer and the cross-process lock file.
type mdbxEnv struct {
	path string
	menv *mdbx.Env

	maxDBs     int
	mapSize    int64
	maxReaders int
	readOnly   bool
	noSync     bool

	meta    mdbx.DBI
	hasMeta bool // false for read-only environments created by another tool

	closed atomic.Bool

	mu      sync.RWMutex // protects dbis and handles
	dbis    map[string]db.DBI
	handles []handle // index is the DBI
}

// handle is an open libmdbx database
type handle struct {
	name  string
	dbi   mdbx.DBI
	flags db.DBFlags
}

func (env *mdbxEnv) configure(opts DBOptions) error {
	// one more for the metadata table
	if err := env.menv.SetOption(mdbx.OptMaxDB, uint64(env.maxDBs)+1); err != nil {
		return mapError(err)
	}
	if err := env.menv.SetOption(mdbx.OptMaxReaders, uint64(env.maxReaders)); err != nil {
		return mapError(err)
	}
	pageSize := -1
	if opts.PageSize > 0 {
		pageSize = opts.PageSize
	}
	return mapError(env.menv.SetGeometry(-1, -1, int(env.mapSize), -1, -1, pageSize))
}

// mapError converts libmdbx errors into the errors of the db package
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case mdbx.IsNotFound(err):
		return db.ErrNotFound
	case mdbx.IsErrno(err, mdbx.KeyExist):
		return db.ErrKeyExists
	case mdbx.IsMapFull(err):
		return db.ErrMapFull
	case mdbx.IsErrno(err, mdbx.DBsFull):
		return db.ErrDBsFull
	case mdbx.IsErrno(err, mdbx.ReadersFull):
		return db.ErrReadersFull
	case mdbx.IsErrno(err, mdbx.Incompatible):
		return db.ErrIncompatible
	case mdbx.IsErrno(err, mdbx.BadValSize):
		return fmt.Errorf("%w: %v", db.ErrBadValSize, err)
	case mdbx.IsErrno(err, mdbx.BadTxn):
		return db.ErrTxnDone
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", db.ErrReadOnly, err)
	default:
		return err
	}
}

// toNative returns the libmdbx flags of a database, integer keys have none
func toNative(flags db.DBFlags) uint {
	var f uint
	if flags&db.FlagDupSort != 0 {
		f |= mdbx.DupSort
	}
	return f
}

func fromNative(f uint) db.DBFlags {
	var flags db.DBFlags
	if f&mdbx.DupSort != 0 {
		flags |= db.FlagDupSort
	}
	return flags
}

func encodeFlags(flags db.DBFlags) []byte {
	return []byte{byte(flags.SortFlags())}
}

func decodeFlags(b []byte) db.DBFlags {
	if len(b) == 0 {
		return 0
	}
	return db.DBFlags(b[0])
}

// openMeta opens the metadata table, writable environments create it
func (env *mdbxEnv) openMeta() error {
	create := !env.readOnly
	txnFlags, native := uint(mdbx.Readonly), uint(0)
	if create {
		txnFlags, native = 0, mdbx.Create
	}
	if create {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	mtxn, err := env.menv.BeginTxn(nil, txnFlags)
	if err != nil {
		return mapError(err)
	}
	mdbi, err := mtxn.OpenDBI(metaDB, native, nil, nil)
	if err != nil {
		mtxn.Abort()
		if mdbx.IsNotFound(err) && !create {
			return nil
		}
		return mapError(err)
	}
	if _, err := mtxn.Commit(); err != nil {
		return mapError(err)
	}
	env.meta, env.hasMeta = mdbi, true
	return nil
}

// recordedFlags reads the flags of name from the metadata table
func (env *mdbxEnv) recordedFlags(mtxn *mdbx.Txn, name string) (db.DBFlags, bool, error) {
	if !env.hasMeta {
		return 0, false, nil
	}
	v, err := mtxn.Get(env.meta, []byte(name))
	if mdbx.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, mapError(err)
	}
	return decodeFlags(v), true, nil
}

// --------------------------------------------------------------------------
// Database Operations
// --------------------------------------------------------------------------

func (env *mdbxEnv) OpenDB(name string, flags db.DBFlags) (db.DBI, error) {
	if env.closed.Load() {
		return 0, db.ErrClosed
	}
	if !db.ValidName(name) || name == metaDB {
		return 0, db.ErrInvalid
	}
	sortFlags := flags.SortFlags()

	env.mu.RLock()
	if dbi, ok := env.dbis[name]; ok {
		h := env.handles[dbi]
		env.mu.RUnlock()
		if h.flags != sortFlags {
			return 0, db.ErrIncompatible
		}
		return dbi, nil
	}
	env.mu.RUnlock()

	create := flags&db.FlagCreate != 0 && !env.readOnly

	// the write transaction waits for the active writer, env.mu is not held
	txnFlags := uint(mdbx.Readonly)
	if create {
		txnFlags = 0
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	mtxn, err := env.menv.BeginTxn(nil, txnFlags)
	if err != nil {
		return 0, mapError(err)
	}
	mdbi, err := env.openDBI(mtxn, name, sortFlags, create)
	if err != nil {
		mtxn.Abort()
		if errors.Is(err, db.ErrNotFound) && flags&db.FlagCreate != 0 && env.readOnly {
			return 0, db.ErrReadOnly
		}
		return 0, err
	}
	if _, err := mtxn.Commit(); err != nil {
		return 0, mapError(err)
	}
	if create {
		plog.Debugf("opened database %s (%s)", name, sortFlags)
	}

	env.mu.Lock()
	defer env.mu.Unlock()
	if dbi, ok := env.dbis[name]; ok {
		return dbi, nil
	}
	dbi := db.DBI(len(env.handles))
	env.handles = append(env.handles, handle{name: name, dbi: mdbi, flags: sortFlags})
	env.dbis[name] = dbi
	return dbi, nil
}

// openDBI opens name inside mtxn and checks its recorded flags. With create
// a missing database is created and recorded.
func (env *mdbxEnv) openDBI(mtxn *mdbx.Txn, name string, flags db.DBFlags, create bool) (mdbx.DBI, error) {
	recorded, found, err := env.recordedFlags(mtxn, name)
	if err != nil {
		return 0, err
	}
	if found && recorded != flags {
		return 0, db.ErrIncompatible
	}

	native := toNative(flags)
	if create && !found {
		native |= mdbx.Create
	}
	mdbi, err := mtxn.OpenDBI(name, native, nil, nil)
	if err != nil {
		return 0, mapError(err)
	}
	switch {
	case found:
		return mdbi, nil
	case create:
		if err := mtxn.Put(env.meta, []byte(name), encodeFlags(flags), 0); err != nil {
			return 0, mapError(err)
		}
		return mdbi, nil
	case flags&db.FlagIntegerKey != 0:
		// unrecorded databases never have integer keys
		return 0, db.ErrIncompatible
	default:
		return mdbi, nil
	}
}

// resolve returns the libmdbx handle of dbi
func (env *mdbxEnv) resolve(dbi db.DBI) (handle, error) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	if int(dbi) >= len(env.handles) {
		return handle{}, db.ErrInvalid
	}
	return env.handles[dbi], nil
}

// ListDBs reads the names from the main database and the flags from the
// metadata table (or libmdbx for unrecorded databases)
func (env *mdbxEnv) ListDBs() ([]db.DBEntry, error) {
	if env.closed.Load() {
		return nil, db.ErrClosed
	}
	mtxn, err := env.menv.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, mapError(err)
	}
	defer mtxn.Abort()

	root, err := mtxn.OpenRoot(0)
	if err != nil {
		return nil, mapError(err)
	}
	cur, err := mtxn.OpenCursor(root)
	if err != nil {
		return nil, mapError(err)
	}
	defer cur.Close()

	var names []string
	for k, _, err := cur.Get(nil, nil, mdbx.First); err == nil; k, _, err = cur.Get(nil, nil, mdbx.Next) {
		if string(k) != metaDB {
			names = append(names, string(k))
		}
	}

	dbs := make([]db.DBEntry, 0, len(names))
	for _, name := range names {
		recorded, found, err := env.recordedFlags(mtxn, name)
		if err != nil {
			return nil, err
		}
		if found {
			dbs = append(dbs, db.DBEntry{Name: name, Flags: recorded})
			continue
		}
		mdbi, err := mtxn.OpenDBI(name, mdbx.DBAccede, nil, nil)
		if err != nil {
			return nil, mapError(err)
		}
		f, err := mtxn.Flags(mdbi)
		if err != nil {
			return nil, mapError(err)
		}
		dbs = append(dbs, db.DBEntry{Name: name, Flags: fromNative(f)})
	}
	sort.Slice(dbs, func(i, j int) bool { return dbs[i].Name < dbs[j].Name })
	return dbs, nil
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func (env *mdbxEnv) BeginRead() (db.ReadTxn, error) {
	if env.closed.Load() {
		return nil, db.ErrClosed
	}
	mtxn, err := env.menv.BeginTxn(nil, mdbx.Readonly)
	if err != nil {
		return nil, mapError(err)
	}
	return &txn{env: env, mtxn: mtxn}, nil
}

// BeginWrite blocks until the active write transaction (of any process) has
// finished. libmdbx requires a write transaction to end on the OS thread that
// began it, so the calling goroutine is locked to its thread until Commit or
// Abort, which must be called by the same goroutine.
func (env *mdbxEnv) BeginWrite() (db.WriteTxn, error) {
	if env.readOnly {
		return nil, db.ErrReadOnly
	}
	if env.closed.Load() {
		return nil, db.ErrClosed
	}
	runtime.LockOSThread()
	mtxn, err := env.menv.BeginTxn(nil, 0)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, mapError(err)
	}
	return &txn{env: env, mtxn: mtxn, writable: true}, nil
}

// --------------------------------------------------------------------------
// Maintenance
// --------------------------------------------------------------------------

func (env *mdbxEnv) Sync(force bool) error {
	if env.closed.Load() {
		return db.ErrClosed
	}
	if env.readOnly {
		return nil
	}
	return mapError(env.menv.Sync(force, false))
}

func (env *mdbxEnv) Stat() (db.Stat, error) {
	if env.closed.Load() {
		return db.Stat{}, db.ErrClosed
	}
	s, err := env.menv.Stat()
	if err != nil {
		return db.Stat{}, mapError(err)
	}
	return convertStat(s), nil
}

func convertStat(s *mdbx.Stat) db.Stat {
	return db.Stat{
		PageSize:      uint(s.PSize),
		Depth:         uint(s.Depth),
		BranchPages:   s.BranchPages,
		LeafPages:     s.LeafPages,
		OverflowPages: s.OverflowPages,
		Entries:       s.Entries,
	}
}

func (env *mdbxEnv) Info() db.DatabaseInfo {
	var size int64
	if fi, err := os.Stat(filepath.Join(env.path, DataFile)); err == nil {
		size = fi.Size()
	}
	env.mu.RLock()
	open := len(env.handles)
	env.mu.RUnlock()
	return db.DatabaseInfo{
		SizeBytes:         size,
		DbType:            db.ImplMDBX,
		SupportedFeatures: db.FeaturesOf(features),
		Metadata: map[string]interface{}{
			"map_size":    env.mapSize,
			"max_dbs":     env.maxDBs,
			"max_readers": env.maxReaders,
			"open_dbs":    open,
			"no_sync":     env.noSync,
		},
	}
}

const features = db.FeatureDupSort | db.FeatureIntegerKey | db.FeaturePersistence | db.FeatureSync | db.FeatureMultiProcess

func (env *mdbxEnv) SupportsFeature(feature db.Feature) bool {
	return features&feature == feature
}

func (env *mdbxEnv) Close() error {
	if env.closed.Swap(true) {
		return nil
	}
	plog.Debugf("closing %s", env.path)
	env.menv.Close()
	return nil
}
