package bolt

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/logging"
	"github.com/lni/dragonboat/v4/logger"
	"go.etcd.io/bbolt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var plog = logger.GetLogger(logging.LoggerBolt)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	DataFile          = "data.bolt" // Name of the database file inside the environment directory
	defaultMaxDBs     = 128
	defaultMaxReaders = 126
	maxInitialMmap    = 1 << 30 // Upper bound for the initial mmap size
	entryOverhead     = 16      // Accounted page overhead per put
)

// metaBucket records the flags of every named database
var metaBucket = []byte("__rkv_meta")

// --------------------------------------------------------------------------
// Backend
// --------------------------------------------------------------------------

// DBOptions configures the bolt backend
type DBOptions struct {
	Timeout time.Duration // How long Open waits for the file lock of another process
}

// DefaultOptions returns the default bolt options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		Timeout: time.Second,
	}
}

type backend struct {
	opts DBOptions
}

// NewBackend creates the bolt backend with the specified options (optional)
func NewBackend(opts *DBOptions) db.Backend {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &backend{opts: *opts}
}

func (b *backend) Name() db.Implementation {
	return db.ImplBolt
}

// Open opens path/data.bolt, creating it unless the environment is read-only
func (b *backend) Open(path string, opts db.EnvOptions) (db.Env, error) {
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("environment directory %s: %w", path, os.ErrNotExist)
	}

	boltOpts := &bbolt.Options{
		Timeout:  b.opts.Timeout,
		ReadOnly: opts.ReadOnly,
		NoSync:   opts.NoSync,
	}
	if opts.MapSize > 0 {
		boltOpts.InitialMmapSize = int(min(opts.MapSize, maxInitialMmap))
	}

	file := filepath.Join(path, DataFile)
	bdb, err := bbolt.Open(file, 0o644, boltOpts)
	if err != nil {
		return nil, err
	}

	env := &boltEnv{
		path:       path,
		bdb:        bdb,
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

	if !opts.ReadOnly {
		err := bdb.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(metaBucket)
			return err
		})
		if err != nil {
			bdb.Close()
			return nil, err
		}
	}

	plog.Debugf("opened %s (read-only=%t, no-sync=%t)", file, opts.ReadOnly, opts.NoSync)
	return env, nil
}

// --------------------------------------------------------------------------
// Environment
// --------------------------------------------------------------------------

// boltEnv maps named databases onto top-level buckets of one bbolt file.
// bbolt provides the MVCC snapshots, the single writer and the file lock.
type boltEnv struct {
	path string
	bdb  *bbolt.DB

	maxDBs     int
	mapSize    int64
	maxReaders int
	readOnly   bool
	noSync     bool

	readers atomic.Int64
	closed  atomic.Bool

	mu    sync.RWMutex // protects dbis, names and flags
	dbis  map[string]db.DBI
	names []string // index is the DBI
	flags []db.DBFlags
}

// mapError converts bbolt errors into the errors of the db package
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bbolt.ErrKeyRequired),
		errors.Is(err, bbolt.ErrKeyTooLarge),
		errors.Is(err, bbolt.ErrValueTooLarge):
		return fmt.Errorf("%w: %v", db.ErrBadValSize, err)
	case errors.Is(err, bbolt.ErrTxClosed):
		return db.ErrTxnDone
	case errors.Is(err, bbolt.ErrDatabaseReadOnly), errors.Is(err, bbolt.ErrTxNotWritable):
		return db.ErrReadOnly
	case errors.Is(err, bbolt.ErrDatabaseNotOpen):
		return db.ErrClosed
	default:
		return err
	}
}

func countKeys(b *bbolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
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

// --------------------------------------------------------------------------
// Database Operations
// --------------------------------------------------------------------------

func (env *boltEnv) OpenDB(name string, flags db.DBFlags) (db.DBI, error) {
	if env.closed.Load() {
		return 0, db.ErrClosed
	}
	if !db.ValidName(name) || name == string(metaBucket) {
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

	// the update waits for the active writer, which may need env.mu to resolve handles
	err = env.bdb.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if v := meta.Get([]byte(name)); v != nil {
			// created concurrently
			if decodeFlags(v) != sortFlags {
				return db.ErrIncompatible
			}
			return nil
		}
		if countKeys(meta) >= env.maxDBs {
			return db.ErrDBsFull
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
			return err
		}
		return meta.Put([]byte(name), encodeFlags(sortFlags))
	})
	if err != nil {
		return 0, mapError(err)
	}
	plog.Debugf("created database %s (%s)", name, sortFlags)

	env.mu.Lock()
	defer env.mu.Unlock()
	if dbi, ok := env.dbis[name]; ok {
		return dbi, nil
	}
	return env.registerLocked(name, sortFlags), nil
}

// lookupLocked resolves an existing database. done is false if the database does not exist.
func (env *boltEnv) lookupLocked(name string, flags db.DBFlags) (dbi db.DBI, done bool, err error) {
	if dbi, ok := env.dbis[name]; ok {
		if env.flags[dbi] != flags {
			return 0, true, db.ErrIncompatible
		}
		return dbi, true, nil
	}

	var (
		existing db.DBFlags
		found    bool
	)
	err = env.bdb.View(func(tx *bbolt.Tx) error {
		if meta := tx.Bucket(metaBucket); meta != nil {
			if v := meta.Get([]byte(name)); v != nil {
				existing, found = decodeFlags(v), true
			}
		}
		return nil
	})
	if err != nil {
		return 0, true, mapError(err)
	}
	if !found {
		return 0, false, nil
	}
	if existing != flags {
		return 0, true, db.ErrIncompatible
	}
	return env.registerLocked(name, flags), true, nil
}

func (env *boltEnv) registerLocked(name string, flags db.DBFlags) db.DBI {
	dbi := db.DBI(len(env.names))
	env.names = append(env.names, name)
	env.flags = append(env.flags, flags)
	env.dbis[name] = dbi
	return dbi
}

// resolve returns the name and flags of dbi
func (env *boltEnv) resolve(dbi db.DBI) (string, db.DBFlags, error) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	if int(dbi) >= len(env.names) {
		return "", 0, db.ErrInvalid
	}
	return env.names[dbi], env.flags[dbi], nil
}

func (env *boltEnv) ListDBs() ([]db.DBEntry, error) {
	if env.closed.Load() {
		return nil, db.ErrClosed
	}
	var dbs []db.DBEntry
	err := env.bdb.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if meta == nil {
			return nil
		}
		return meta.ForEach(func(k, v []byte) error {
			dbs = append(dbs, db.DBEntry{Name: string(k), Flags: decodeFlags(v)})
			return nil
		})
	})
	if err != nil {
		return nil, mapError(err)
	}
	sort.Slice(dbs, func(i, j int) bool { return dbs[i].Name < dbs[j].Name })
	return dbs, nil
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

func (env *boltEnv) BeginRead() (db.ReadTxn, error) {
	if env.closed.Load() {
		return nil, db.ErrClosed
	}
	if env.readers.Add(1) > int64(env.maxReaders) {
		env.readers.Add(-1)
		return nil, db.ErrReadersFull
	}
	tx, err := env.bdb.Begin(false)
	if err != nil {
		env.readers.Add(-1)
		return nil, mapError(err)
	}
	return &txn{env: env, tx: tx}, nil
}

// BeginWrite blocks until the active write transaction has finished
func (env *boltEnv) BeginWrite() (db.WriteTxn, error) {
	if env.readOnly {
		return nil, db.ErrReadOnly
	}
	if env.closed.Load() {
		return nil, db.ErrClosed
	}
	tx, err := env.bdb.Begin(true)
	if err != nil {
		return nil, mapError(err)
	}
	return &txn{env: env, tx: tx, writable: true}, nil
}

// --------------------------------------------------------------------------
// Maintenance
// --------------------------------------------------------------------------

// Sync flushes the file. Commits are durable already unless NoSync is set.
func (env *boltEnv) Sync(force bool) error {
	if env.closed.Load() {
		return db.ErrClosed
	}
	if env.readOnly || (!env.noSync && !force) {
		return nil
	}
	return mapError(env.bdb.Sync())
}

func (env *boltEnv) Stat() (db.Stat, error) {
	if env.closed.Load() {
		return db.Stat{}, db.ErrClosed
	}
	stat := db.Stat{PageSize: uint(env.bdb.Info().PageSize)}
	err := env.bdb.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if meta == nil {
			return nil
		}
		s := meta.Stats()
		stat.Depth = uint(s.Depth)
		stat.BranchPages = uint64(s.BranchPageN)
		stat.LeafPages = uint64(s.LeafPageN)
		stat.OverflowPages = uint64(s.LeafOverflowN + s.BranchOverflowN)
		stat.Entries = uint64(s.KeyN)
		return nil
	})
	return stat, mapError(err)
}

func (env *boltEnv) Info() db.DatabaseInfo {
	var size int64
	if fi, err := os.Stat(filepath.Join(env.path, DataFile)); err == nil {
		size = fi.Size()
	}
	stats := env.bdb.Stats()
	return db.DatabaseInfo{
		SizeBytes:         size,
		DbType:            db.ImplBolt,
		SupportedFeatures: db.FeaturesOf(features),
		Metadata: map[string]interface{}{
			"page_size":    env.bdb.Info().PageSize,
			"map_size":     env.mapSize,
			"readers":      env.readers.Load(),
			"open_txn":     stats.OpenTxN,
			"txn_total":    stats.TxN,
			"free_pages":   stats.FreePageN,
			"pending_page": stats.PendingPageN,
		},
	}
}

const features = db.FeatureDupSort | db.FeatureIntegerKey | db.FeaturePersistence | db.FeatureSync | db.FeatureMultiProcess

func (env *boltEnv) SupportsFeature(feature db.Feature) bool {
	return features&feature == feature
}

// Close closes the bbolt file. It blocks until open transactions have finished.
func (env *boltEnv) Close() error {
	if env.closed.Swap(true) {
		return nil
	}
	plog.Debugf("closing %s", env.path)
	return env.bdb.Close()
}
