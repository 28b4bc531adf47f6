package db

import (
	"errors"
	"strings"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplBolt  Implementation = "bolt"
	ImplMDBX  Implementation = "mdbx"
	ImplMaple Implementation = "maple"
)

// Feature represents backend features as bit flags
type Feature uint64

const (
	FeatureDupSort      Feature = 1 << iota // Support for sorted duplicate values
	FeatureIntegerKey                       // Support for numerically ordered integer keys
	FeaturePersistence                      // Committed data survives a restart
	FeatureSync                             // Sync flushes outstanding writes to durable storage
	FeatureMultiProcess                     // The environment is protected against a second process
)

func (f Feature) String() string {
	switch f {
	case FeatureDupSort:
		return "DupSort"
	case FeatureIntegerKey:
		return "IntegerKey"
	case FeaturePersistence:
		return "Persistence"
	case FeatureSync:
		return "Sync"
	case FeatureMultiProcess:
		return "MultiProcess"
	default:
		return "Unknown"
	}
}

// AllFeatures lists every known feature in declaration order.
var AllFeatures = []Feature{
	FeatureDupSort,
	FeatureIntegerKey,
	FeaturePersistence,
	FeatureSync,
	FeatureMultiProcess,
}

// FeaturesOf returns all single features contained in mask.
func FeaturesOf(mask Feature) []Feature {
	features := make([]Feature, 0, len(AllFeatures))
	for _, f := range AllFeatures {
		if mask&f == f {
			features = append(features, f)
		}
	}
	return features
}

// DBFlags are fixed for the lifetime of a database at creation time.
type DBFlags uint

const (
	FlagCreate     DBFlags = 1 << iota // Create the database if it does not exist
	FlagDupSort                        // Allow multiple sorted values per key
	FlagIntegerKey                     // Keys are 4 or 8 byte native-endian unsigned integers
)

// SortFlags strips flags that only matter at open time.
func (f DBFlags) SortFlags() DBFlags {
	return f &^ FlagCreate
}

func (f DBFlags) String() string {
	parts := make([]string, 0, 3)
	if f&FlagCreate != 0 {
		parts = append(parts, "create")
	}
	if f&FlagDupSort != 0 {
		parts = append(parts, "dupsort")
	}
	if f&FlagIntegerKey != 0 {
		parts = append(parts, "integerkey")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// PutFlags modify the behaviour of a single put.
type PutFlags uint

const (
	PutNoOverwrite PutFlags = 1 << iota // Fail with ErrKeyExists if the key is present
	PutNoDupData                        // Fail with ErrKeyExists if the key/value pair is present (DupSort only)
)

// CursorOp selects how a cursor is positioned.
type CursorOp uint

const (
	OpFirst     CursorOp = iota // First entry of the database
	OpLast                      // Last entry of the database
	OpNext                      // Next entry (next duplicate or next key)
	OpPrev                      // Previous entry
	OpSet                       // Exact key, first duplicate
	OpSetRange                  // Smallest key >= the given key, first duplicate
	OpGetBoth                   // Exact key/value pair (DupSort)
	OpFirstDup                  // First duplicate of the current key
	OpLastDup                   // Last duplicate of the current key
	OpNextDup                   // Next duplicate of the current key
	OpPrevDup                   // Previous duplicate of the current key
	OpNextNoDup                 // First duplicate of the next key
)

func (op CursorOp) String() string {
	switch op {
	case OpFirst:
		return "First"
	case OpLast:
		return "Last"
	case OpNext:
		return "Next"
	case OpPrev:
		return "Prev"
	case OpSet:
		return "Set"
	case OpSetRange:
		return "SetRange"
	case OpGetBoth:
		return "GetBoth"
	case OpFirstDup:
		return "FirstDup"
	case OpLastDup:
		return "LastDup"
	case OpNextDup:
		return "NextDup"
	case OpPrevDup:
		return "PrevDup"
	case OpNextNoDup:
		return "NextNoDup"
	default:
		return "Unknown"
	}
}

// DBI identifies an open database inside one environment.
type DBI uint32

// DBEntry describes a named database as reported by Env.ListDBs.
type DBEntry struct {
	Name  string  `json:"name"`
	Flags DBFlags `json:"flags"`
}

// EnvOptions configure a backend environment at open time.
type EnvOptions struct {
	MaxDBs     int   // Maximum number of named databases (0 = backend default)
	MapSize    int64 // Maximum size of the data in bytes (0 = backend default)
	MaxReaders int   // Maximum number of concurrent readers (0 = backend default)
	ReadOnly   bool  // Open the environment read-only
	NoSync     bool  // Do not flush to disk on commit, Sync does
	Options    map[string]string
}

// Stat reports B-tree statistics of an environment or a single database.
type Stat struct {
	PageSize      uint   `json:"page_size"`
	Depth         uint   `json:"depth"`
	BranchPages   uint64 `json:"branch_pages"`
	LeafPages     uint64 `json:"leaf_pages"`
	OverflowPages uint64 `json:"overflow_pages"`
	Entries       uint64 `json:"entries"`
}

type DatabaseInfo struct {
	SizeBytes         int64          `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	ErrNotFound     = errors.New("key/value pair not found")
	ErrKeyExists    = errors.New("key/value pair already exists")
	ErrMapFull      = errors.New("environment map size limit reached")
	ErrDBsFull      = errors.New("maximum number of named databases reached")
	ErrReadersFull  = errors.New("maximum number of readers reached")
	ErrIncompatible = errors.New("database exists with incompatible flags")
	ErrBadValSize   = errors.New("unsupported key or value size")
	ErrTxnDone      = errors.New("transaction already finished")
	ErrReadOnly     = errors.New("environment is read-only")
	ErrInvalid      = errors.New("invalid argument")
	ErrClosed       = errors.New("environment closed")
)

// --------------------------------------------------------------------------
// Backend Interfaces
// --------------------------------------------------------------------------

// Backend opens environments of one storage engine.
type Backend interface {
	// Name returns the implementation identifier.
	Name() Implementation

	// Open opens (or creates) the environment stored in the directory path.
	// The directory must exist.
	Open(path string, opts EnvOptions) (env Env, err error)
}

// Env is one open backend environment.
// Implementations serialize writers themselves: BeginWrite blocks while
// another write transaction is active.
type Env interface {

	// --------------------------------------------------------------------------
	// Database Operations
	// --------------------------------------------------------------------------

	// OpenDB opens the named database. Without FlagCreate a missing database
	// returns ErrNotFound. Sort flags of an existing database must match.
	// Creating a database runs its own write transaction and blocks while
	// another writer is active.
	OpenDB(name string, flags DBFlags) (dbi DBI, err error)

	// ListDBs returns every named database of the environment, sorted by name.
	ListDBs() (dbs []DBEntry, err error)

	// --------------------------------------------------------------------------
	// Transactions
	// --------------------------------------------------------------------------

	// BeginRead starts a read-only transaction on the latest committed state.
	BeginRead() (txn ReadTxn, err error)

	// BeginWrite starts the write transaction, blocking while another one is active.
	BeginWrite() (txn WriteTxn, err error)

	// --------------------------------------------------------------------------
	// Maintenance
	// --------------------------------------------------------------------------

	// Sync flushes committed data to durable storage.
	Sync(force bool) (err error)

	// Stat returns statistics of the environment's main tree.
	Stat() (stat Stat, err error)

	// Info returns information about the environment.
	Info() (info DatabaseInfo)

	// SupportsFeature checks if the backend supports all features in mask.
	SupportsFeature(feature Feature) (ok bool)

	// Close closes the environment. Open transactions must be finished first.
	Close() (err error)
}

// ReadTxn is a snapshot of the environment.
// Returned byte slices are only valid until the transaction ends.
type ReadTxn interface {
	// Get returns the value (the first duplicate for DupSort databases) or ErrNotFound.
	Get(dbi DBI, key []byte) (val []byte, err error)

	// Cursor opens a cursor on dbi, valid until the transaction ends.
	Cursor(dbi DBI) (cur Cursor, err error)

	// Stat returns statistics of a single database.
	Stat(dbi DBI) (stat Stat, err error)

	// Abort ends the transaction. Calling it on a finished transaction is a no-op.
	Abort()
}

// WriteTxn is the exclusive writer of an environment.
type WriteTxn interface {
	ReadTxn

	// Put stores key/value. DupSort databases add val as a duplicate.
	Put(dbi DBI, key, val []byte, flags PutFlags) (err error)

	// Del removes key. For DupSort databases a non-nil val removes only that pair.
	Del(dbi DBI, key, val []byte) (err error)

	// Clear removes every entry of dbi.
	Clear(dbi DBI) (err error)

	// Commit makes all changes visible atomically. On error nothing was applied.
	Commit() (err error)
}

// Cursor positions inside one database.
// A failed relative move leaves the cursor where it was. OpNext and OpPrev
// start at the first or last entry when the cursor is not positioned yet, the
// duplicate operations return ErrNotFound instead.
type Cursor interface {
	// Get positions the cursor with op and returns the entry at the new position.
	// key and val are only used by OpSet, OpSetRange and OpGetBoth.
	Get(key, val []byte, op CursorOp) (k, v []byte, err error)

	// Close releases the cursor.
	Close()
}
