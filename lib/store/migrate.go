package store

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/logging"
	"github.com/lni/dragonboat/v4/logger"
)

var mlog = logger.GetLogger(logging.LoggerMigrate)

// --------------------------------------------------------------------------
// Migration
// --------------------------------------------------------------------------

var (
	// ErrSourceEmpty is returned by Migrate if the source has no stores.
	ErrSourceEmpty = errors.New("source environment has no stores")
	// ErrDestinationNotEmpty is returned by Migrate if the destination has stores.
	ErrDestinationNotEmpty = errors.New("destination environment is not empty")
)

// MigrateStats summarizes a migration
type MigrateStats struct {
	Stores  int    `json:"stores"`
	Entries uint64 `json:"entries"`
}

// Migrate copies every store of src, with its kind and all entries, into
// the empty environment dst. The environments may use different backends.
// Each store is copied in one write transaction of dst, values are copied
// as stored without decoding them.
func Migrate(src, dst *Environment) (MigrateStats, error) {
	var stats MigrateStats
	if src.same(dst) {
		return stats, NewError(RetCInvalidOperation, "source and destination are the same environment")
	}

	stores, err := src.ListStores()
	if err != nil {
		return stats, err
	}
	if len(stores) == 0 {
		return stats, WrapError(RetCInvalidOperation, src.path, ErrSourceEmpty)
	}
	existing, err := dst.ListStores()
	if err != nil {
		return stats, err
	}
	if len(existing) > 0 {
		return stats, WrapError(RetCInvalidOperation, dst.path, ErrDestinationNotEmpty)
	}

	for _, info := range stores {
		n, err := migrateStore(src, dst, info)
		if err != nil {
			return stats, fmt.Errorf("migrating store %s: %w", info.Name, err)
		}
		stats.Stores++
		stats.Entries += n
		mlog.Infof("migrated store %s (%s): %d entries", info.Name, info.Kind, n)
	}
	return stats, nil
}

func migrateStore(src, dst *Environment, info StoreInfo) (uint64, error) {
	from, err := src.OpenStore(info.Name, info.Kind, &StoreOptions{Create: false})
	if err != nil {
		return 0, err
	}
	to, err := dst.OpenStore(info.Name, info.Kind, &StoreOptions{Create: true})
	if err != nil {
		return 0, err
	}

	rtxn, err := src.BeginRead()
	if err != nil {
		return 0, err
	}
	defer rtxn.Abort()
	wtxn, err := dst.BeginWrite()
	if err != nil {
		return 0, err
	}
	defer wtxn.Abort()

	cur, err := rtxn.raw.Cursor(from.dbi)
	if err != nil {
		return 0, backendError("open cursor", err)
	}
	defer cur.Close()

	var n uint64
	k, v, err := cur.Get(nil, nil, db.OpFirst)
	for ; err == nil; k, v, err = cur.Get(nil, nil, db.OpNext) {
		if err := wtxn.w.Put(to.dbi, k, v, 0); err != nil {
			return n, backendError("put", err)
		}
		n++
	}
	if !IsNotFound(err) {
		return n, backendError("cursor", err)
	}
	return n, wtxn.Commit()
}
