package maple

import (
	"bufio"
	"fmt"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/rKV/lib/logging"
	"github.com/gofrs/flock"
	"github.com/lni/dragonboat/v4/logger"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
)

var plog = logger.GetLogger(logging.LoggerMaple)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	DataFile          = "data.maple" // Name of the snapshot file inside the environment directory
	LockFile          = "lock.maple" // Name of the lock file inside the environment directory
	pageSize          = 4096         // Nominal page size reported by Stat
	defaultMaxDBs     = 128
	defaultMaxReaders = 126
)

// OptionCompression selects the snapshot compression (none, snappy, zstd, lz4)
const OptionCompression = "compression"

// --------------------------------------------------------------------------
// Backend
// --------------------------------------------------------------------------

// DBOptions configures the maple backend
type DBOptions struct {
	InMemory bool // Never read or write snapshot files
}

// DefaultOptions returns the default maple options
func DefaultOptions() *DBOptions {
	return &DBOptions{}
}

type backend struct {
	opts DBOptions
}

// NewBackend creates the maple backend with the specified options (optional)
func NewBackend(opts *DBOptions) db.Backend {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &backend{opts: *opts}
}

func (b *backend) Name() db.Implementation {
	return db.ImplMaple
}

// Open opens the environment in path. Unless the backend is in-memory the
// committed state is loaded from and written to path/data.maple.
func (b *backend) Open(path string, opts db.EnvOptions) (db.Env, error) {
	c, err := internal.ParseCompression(opts.Options[OptionCompression])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", db.ErrInvalid, err)
	}

	env := &mapleEnv{
		path:        path,
		persistent:  !b.opts.InMemory,
		compression: c,
		maxDBs:      opts.MaxDBs,
		mapSize:     opts.MapSize,
		maxReaders:  opts.MaxReaders,
		readOnly:    opts.ReadOnly,
		noSync:      opts.NoSync,
		dbis:        make(map[string]db.DBI),
	}
	if env.maxDBs <= 0 {
		env.maxDBs = defaultMaxDBs
	}
	if env.maxReaders <= 0 {
		env.maxReaders = defaultMaxReaders
	}

	st := &state{tables: make(map[string]*internal.Table)}
	if env.persistent {
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("environment directory %s: %w", path, os.ErrNotExist)
		}

		// writers hold an exclusive lock, read-only environments a shared one
		env.lock = flock.New(filepath.Join(path, LockFile))
		var locked bool
		if env.readOnly {
			locked, err = env.lock.TryRLock()
		} else {
			locked, err = env.lock.TryLock()
		}
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, fmt.Errorf("environment %s is locked by another process", path)
		}

		if st, err = env.load(); err != nil {
			_ = env.lock.Unlock()
			return nil, err
		}
	}
	env.current.Store(st)

	plog.Debugf("opened %s (persistent=%t, compression=%s, tables=%d)", path, env.persistent, c, len(st.tables))
	return env, nil
}

// --------------------------------------------------------------------------
// Environment
// --------------------------------------------------------------------------

// state is one committed version of all tables. It is immutable once published.
type state struct {
	txnID  uint64
	tables map[string]*internal.Table
	size   int64
}

// mapleEnv keeps every table as a copy-on-write b-tree. Readers load the
// current state pointer, the single writer clones the tables it modifies and
// publishes a new state on commit.
type mapleEnv struct {
	path        string
	persistent  bool
	compression internal.Compression
	lock        *flock.Flock

	maxDBs     int
	mapSize    int64
	maxReaders int
	readOnly   bool
	noSync     bool

	current atomic.Pointer[state]
	readers atomic.Int64
	writer  sync.Mutex // held by the active write transaction
	dirty   atomic.Bool
	closed  atomic.Bool

	mu    sync.RWMutex // protects dbis and names
	dbis  map[string]db.DBI
	names []string // index is the DBI
	flags []db.DBFlags
}

func (env *mapleEnv) dataPath() string {
	return filepath.Join(env.path, DataFile)
}

// load reads the snapshot file, a missing file is an empty environment
func (env *mapleEnv) load() (*state, error) {
	f, err := os.Open(env.dataPath())
	if os.IsNotExist(err) {
		return &state{tables: make(map[string]*internal.Table)}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	txnID, tables, err := internal.ReadSnapshot(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", env.dataPath(), err)
	}
	st := &state{txnID: txnID, tables: tables}
	for _, t := range tables {
		st.size += t.Size
	}
	return st, nil
}

// persist writes st to a temporary file and renames it over the snapshot file
func (env *mapleEnv) persist(st *state) error {
	tmp := env.dataPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(f, 1024*1024) // 1 MB buffer
	if err := internal.WriteSnapshot(bw, st.txnID, st.tables, env.compression); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, env.dataPath())
}

// publish makes st the committed state, writing it to disk first unless NoSync is set
func (env *mapleEnv) publish(st *state) error {
	if env.persistent {
		if env.noSync {
			env.dirty.Store(true)
		} else if err := env.persist(st); err != nil {
			return err
		}
	}
	env.current.Store(st)
	return nil
}

// --------------------------------------------------------------------------
// Database Operations
// --------------------------------------------------------------------------

func (env *mapleEnv) OpenDB(name string, flags db.DBFlags) (db.DBI, error) {
	if env.closed.Load() {
		return 0, db.ErrClosed
	}
	if !db.ValidName(name) {
		return 0, db.ErrInvalid
	}
	sortFlags := flags.SortFlags()

	env.mu.Lock()
	dbi, done, err := env.lookupLocked(name, sortFlags)
	env.mu.Unlock()
	if done {
		return dbi, err
	}

	if flags&db.FlagCreate == 0 {
		return 0, db.ErrNotFound
	}
	if env.readOnly {
		return 0, db.ErrReadOnly
	}

	// creating a table is a write transaction of its own
	env.writer.Lock()
	defer env.writer.Unlock()
	env.mu.Lock()
	defer env.mu.Unlock()

	if dbi, done, err := env.lookupLocked(name, sortFlags); done {
		return dbi, err
	}

	cur := env.current.Load()
	if len(cur.tables) >= env.maxDBs {
		return 0, db.ErrDBsFull
	}
	next := &state{
		txnID:  cur.txnID + 1,
		tables: maps.Clone(cur.tables),
		size:   cur.size,
	}
	next.tables[name] = internal.NewTable(sortFlags)
	if err := env.publish(next); err != nil {
		return 0, err
	}

	plog.Debugf("created table %s (%s)", name, sortFlags)
	return env.registerLocked(name, sortFlags), nil
}

// lookupLocked resolves an existing table. done is false if the table does not exist.
func (env *mapleEnv) lookupLocked(name string, flags db.DBFlags) (dbi db.DBI, done bool, err error) {
	if dbi, ok := env.dbis[name]; ok {
		if env.flags[dbi] != flags {
			return 0, true, db.ErrIncompatible
		}
		return dbi, true, nil
	}
	if t, ok := env.current.Load().tables[name]; ok {
		if t.Flags != flags {
			return 0, true, db.ErrIncompatible
		}
		return env.registerLocked(name, flags), true, nil
	}
	return 0, false, nil
}

func (env *mapleEnv) registerLocked(name string, flags db.DBFlags) db.DBI {
	dbi := db.DBI(len(env.names))
	env.names = append(env.names, name)
	env.flags = append(env.flags, flags)
	env.dbis[name] = dbi
	return dbi
}

// resolve returns the name and flags of dbi
func (env *mapleEnv) resolve(dbi db.DBI) (string, db.DBFlags, error) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	if int(dbi) >= len(env.names) {
		return "", 0, db.ErrInvalid
	}
	return env.names[dbi], env.flags[dbi], nil
}

func (env *mapleEnv) ListDBs() ([]db.DBEntry, error) {
	if env.closed.Load() {
		return nil, db.ErrClosed
	}
	cur := env.current.Load()
	dbs := make([]db.DBEntry, 0, len(cur.tables))
	for name, t := range cur.tables {
		dbs = append(dbs, db.DBEntry{Name: name, Flags: t.Flags})
	}
	sort.Slice(dbs, func(i, j int) bool { return dbs[i].Name < dbs[j].Name })
	return dbs, nil
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func (env *mapleEnv) BeginRead() (db.ReadTxn, error) {
	if env.closed.Load() {
		return nil, db.ErrClosed
	}
	if env.readers.Add(1) > int64(env.maxReaders) {
		env.readers.Add(-1)
		return nil, db.ErrReadersFull
	}
	cur := env.current.Load()
	return &txn{env: env, txnID: cur.txnID, tables: cur.tables}, nil
}

// BeginWrite blocks until the active write transaction has finished
func (env *mapleEnv) BeginWrite() (db.WriteTxn, error) {
	if env.readOnly {
		return nil, db.ErrReadOnly
	}
	if env.closed.Load() {
		return nil, db.ErrClosed
	}
	env.writer.Lock()
	if env.closed.Load() {
		env.writer.Unlock()
		return nil, db.ErrClosed
	}

	cur := env.current.Load()
	return &txn{
		env:      env,
		txnID:    cur.txnID + 1,
		tables:   maps.Clone(cur.tables),
		owned:    make(map[string]bool),
		size:     cur.size,
		writable: true,
	}, nil
}

// --------------------------------------------------------------------------
// Maintenance
// --------------------------------------------------------------------------

// Sync writes the committed state if commits were not written because of NoSync
func (env *mapleEnv) Sync(force bool) error {
	if env.closed.Load() {
		return db.ErrClosed
	}
	if !env.persistent || env.readOnly {
		return nil
	}
	if !env.dirty.Load() && !force {
		return nil
	}

	// the writer lock keeps the snapshot file in commit order
	env.writer.Lock()
	defer env.writer.Unlock()
	env.dirty.Store(false)
	if err := env.persist(env.current.Load()); err != nil {
		env.dirty.Store(true)
		return err
	}
	return nil
}

func (env *mapleEnv) Stat() (db.Stat, error) {
	if env.closed.Load() {
		return db.Stat{}, db.ErrClosed
	}
	cur := env.current.Load()
	return db.Stat{
		PageSize:  pageSize,
		Depth:     1,
		LeafPages: uint64(len(cur.tables)),
		Entries:   uint64(len(cur.tables)),
	}, nil
}

func (env *mapleEnv) Info() db.DatabaseInfo {
	cur := env.current.Load()
	var size int64
	if env.persistent {
		if fi, err := os.Stat(env.dataPath()); err == nil {
			size = fi.Size()
		}
	} else {
		size = cur.size
	}
	return db.DatabaseInfo{
		SizeBytes:         size,
		DbType:            db.ImplMaple,
		SupportedFeatures: db.FeaturesOf(env.features()),
		Metadata: map[string]interface{}{
			"txn_id":      cur.txnID,
			"tables":      len(cur.tables),
			"data_bytes":  cur.size,
			"map_size":    env.mapSize,
			"readers":     env.readers.Load(),
			"compression": env.compression.String(),
			"persistent":  env.persistent,
		},
	}
}

func (env *mapleEnv) features() db.Feature {
	f := db.FeatureDupSort | db.FeatureIntegerKey
	if env.persistent {
		f |= db.FeaturePersistence | db.FeatureSync | db.FeatureMultiProcess
	}
	return f
}

func (env *mapleEnv) SupportsFeature(feature db.Feature) bool {
	return env.features()&feature == feature
}

// Close waits for the active writer, writes outstanding commits and releases the lock file
func (env *mapleEnv) Close() error {
	env.writer.Lock()
	defer env.writer.Unlock()
	if env.closed.Swap(true) {
		return nil
	}

	var err error
	if env.persistent && !env.readOnly && env.dirty.Load() {
		err = env.persist(env.current.Load())
	}
	if env.lock != nil {
		if unlockErr := env.lock.Unlock(); err == nil {
			err = unlockErr
		}
	}
	plog.Debugf("closed %s", env.path)
	return err
}
