package testing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/ValentinKolb/rKV/lib/db"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// BackendFactory is a function that creates a new instance of a backend implementation
type BackendFactory func() db.Backend

// RunBackendTests runs the conformance test suite for a backend implementation.
func RunBackendTests(t *testing.T, name string, factory BackendFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("OpenDB", func(t *testing.T) {
			testOpenDB(t, factory)
		})

		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory)
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory)
		})

		t.Run("Clear", func(t *testing.T) {
			testClear(t, factory)
		})

		t.Run("Cursor", func(t *testing.T) {
			testCursor(t, factory)
		})

		t.Run("DupSort", func(t *testing.T) {
			testDupSort(t, factory)
		})

		t.Run("DupSortCursor", func(t *testing.T) {
			testDupSortCursor(t, factory)
		})

		t.Run("IntegerKey", func(t *testing.T) {
			testIntegerKey(t, factory)
		})

		t.Run("Isolation", func(t *testing.T) {
			testIsolation(t, factory)
		})

		t.Run("Abort", func(t *testing.T) {
			testAbort(t, factory)
		})

		t.Run("FinishedTxn", func(t *testing.T) {
			testFinishedTxn(t, factory)
		})

		t.Run("SingleWriter", func(t *testing.T) {
			testSingleWriter(t, factory)
		})

		t.Run("ConcurrentReaders", func(t *testing.T) {
			testConcurrentReaders(t, factory)
		})

		t.Run("Stat", func(t *testing.T) {
			testStat(t, factory)
		})

		t.Run("MaxDBs", func(t *testing.T) {
			testMaxDBs(t, factory)
		})

		t.Run("MapSizeChurn", func(t *testing.T) {
			testMapSizeChurn(t, factory)
		})

		t.Run("Persistence", func(t *testing.T) {
			testPersistence(t, factory)
		})

		t.Run("ReadOnly", func(t *testing.T) {
			testReadOnly(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the environment supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, env db.Env, feature db.Feature) {
	if !env.SupportsFeature(feature) {
		t.Skip()
	}
}

// defaultOptions are used by every test that does not need special limits
func defaultOptions() db.EnvOptions {
	return db.EnvOptions{MaxDBs: 8, MapSize: 64 << 20, MaxReaders: 126}
}

// openEnv opens a fresh environment in a temporary directory
func openEnv(t testing.TB, factory BackendFactory, opts db.EnvOptions) (db.Env, string) {
	t.Helper()
	path := t.TempDir()
	env, err := factory().Open(path, opts)
	if err != nil {
		t.Fatalf("Failed to open environment: %v", err)
	}
	return env, path
}

func openDB(t testing.TB, env db.Env, name string, flags db.DBFlags) db.DBI {
	t.Helper()
	dbi, err := env.OpenDB(name, flags|db.FlagCreate)
	if err != nil {
		t.Fatalf("Failed to open database %s: %v", name, err)
	}
	return dbi
}

// update runs fn in a write transaction and commits it
func update(t testing.TB, env db.Env, fn func(txn db.WriteTxn)) {
	t.Helper()
	txn, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("Failed to begin write transaction: %v", err)
	}
	defer txn.Abort()
	fn(txn)
	if err := txn.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
}

// view runs fn in a read transaction
func view(t testing.TB, env db.Env, fn func(txn db.ReadTxn)) {
	t.Helper()
	txn, err := env.BeginRead()
	if err != nil {
		t.Fatalf("Failed to begin read transaction: %v", err)
	}
	defer txn.Abort()
	fn(txn)
}

func put(t testing.TB, txn db.WriteTxn, dbi db.DBI, key, val string) {
	t.Helper()
	if err := txn.Put(dbi, []byte(key), []byte(val), 0); err != nil {
		t.Fatalf("Put(%s, %s) failed: %v", key, val, err)
	}
}

func expectValue(t testing.TB, txn db.ReadTxn, dbi db.DBI, key, expected string) {
	t.Helper()
	val, err := txn.Get(dbi, []byte(key))
	if err != nil {
		t.Errorf("Get(%s) failed: %v", key, err)
		return
	}
	if string(val) != expected {
		t.Errorf("Get(%s): expected %q, got %q", key, expected, val)
	}
}

func expectMissing(t testing.TB, txn db.ReadTxn, dbi db.DBI, key string) {
	t.Helper()
	if _, err := txn.Get(dbi, []byte(key)); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Get(%s): expected ErrNotFound, got %v", key, err)
	}
}

// collect walks the cursor with op until it is exhausted
func collect(t testing.TB, cur db.Cursor, start, op db.CursorOp) []string {
	t.Helper()
	var out []string
	k, v, err := cur.Get(nil, nil, start)
	for err == nil {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
		k, v, err = cur.Get(nil, nil, op)
	}
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("Cursor walk failed: %v", err)
	}
	return out
}

// nativeKey encodes k the way integer-keyed databases expect it
func nativeKey(k uint64) []byte {
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, k)
	return b
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}

func expectEntries(t testing.TB, got []string, expected ...string) {
	t.Helper()
	if len(got) != len(expected) {
		t.Errorf("Expected entries %v, got %v", expected, got)
		return
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Errorf("Expected entries %v, got %v", expected, got)
			return
		}
	}
}

func expectEntry(t testing.TB, k, v []byte, err error, key, val string) {
	t.Helper()
	if err != nil {
		t.Errorf("Expected %s=%s, got error %v", key, val, err)
		return
	}
	if string(k) != key || string(v) != val {
		t.Errorf("Expected %s=%s, got %s=%s", key, val, k, v)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testOpenDB(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()

	if _, err := env.OpenDB("missing", 0); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing database, got %v", err)
	}

	first := openDB(t, env, "b-store", 0)
	again, err := env.OpenDB("b-store", 0)
	if err != nil {
		t.Fatalf("Reopen without create failed: %v", err)
	}
	if first != again {
		t.Errorf("Expected the same handle for the same database, got %d and %d", first, again)
	}

	openDB(t, env, "a-store", db.FlagDupSort)

	if _, err := env.OpenDB("b-store", db.FlagDupSort|db.FlagCreate); !errors.Is(err, db.ErrIncompatible) {
		t.Errorf("Expected ErrIncompatible for flag mismatch, got %v", err)
	}

	dbs, err := env.ListDBs()
	if err != nil {
		t.Fatalf("ListDBs failed: %v", err)
	}
	if len(dbs) != 2 || dbs[0].Name != "a-store" || dbs[1].Name != "b-store" {
		t.Fatalf("Unexpected database list %+v", dbs)
	}
	if dbs[0].Flags.SortFlags() != db.FlagDupSort || dbs[1].Flags.SortFlags() != 0 {
		t.Errorf("Unexpected database flags %+v", dbs)
	}
}

func testPutGet(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	dbi := openDB(t, env, "main", 0)

	update(t, env, func(txn db.WriteTxn) {
		put(t, txn, dbi, "key", "value1")
		expectValue(t, txn, dbi, "key", "value1")
		put(t, txn, dbi, "key", "value2")
		expectValue(t, txn, dbi, "key", "value2")
		put(t, txn, dbi, "empty", "")

		err := txn.Put(dbi, []byte("key"), []byte("value3"), db.PutNoOverwrite)
		if !errors.Is(err, db.ErrKeyExists) {
			t.Errorf("Expected ErrKeyExists with PutNoOverwrite, got %v", err)
		}
	})

	view(t, env, func(txn db.ReadTxn) {
		expectValue(t, txn, dbi, "key", "value2")
		expectValue(t, txn, dbi, "empty", "")
		expectMissing(t, txn, dbi, "nonexistent-key")
	})
}

func testDelete(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	dbi := openDB(t, env, "main", 0)

	update(t, env, func(txn db.WriteTxn) {
		put(t, txn, dbi, "a", "1")
		put(t, txn, dbi, "b", "2")
	})

	update(t, env, func(txn db.WriteTxn) {
		if err := txn.Del(dbi, []byte("a"), nil); err != nil {
			t.Errorf("Del failed: %v", err)
		}
		if err := txn.Del(dbi, []byte("a"), nil); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
		}
		// the value argument is ignored without DupSort
		if err := txn.Del(dbi, []byte("b"), []byte("other")); err != nil {
			t.Errorf("Del with value failed: %v", err)
		}
	})

	view(t, env, func(txn db.ReadTxn) {
		expectMissing(t, txn, dbi, "a")
		expectMissing(t, txn, dbi, "b")
	})
}

func testClear(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	dbi := openDB(t, env, "main", 0)
	other := openDB(t, env, "other", 0)

	update(t, env, func(txn db.WriteTxn) {
		for i := 0; i < 100; i++ {
			put(t, txn, dbi, fmt.Sprintf("key-%03d", i), "v")
		}
		put(t, txn, other, "keep", "v")
	})

	update(t, env, func(txn db.WriteTxn) {
		if err := txn.Clear(dbi); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
	})

	view(t, env, func(txn db.ReadTxn) {
		cur, err := txn.Cursor(dbi)
		if err != nil {
			t.Fatalf("Cursor failed: %v", err)
		}
		defer cur.Close()
		if _, _, err := cur.Get(nil, nil, db.OpFirst); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected empty database after Clear, got %v", err)
		}
		expectValue(t, txn, other, "keep", "v")
	})

	// the database handle stays usable
	update(t, env, func(txn db.WriteTxn) {
		put(t, txn, dbi, "again", "v")
	})
}

func testCursor(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	dbi := openDB(t, env, "main", 0)

	view(t, env, func(txn db.ReadTxn) {
		cur, err := txn.Cursor(dbi)
		if err != nil {
			t.Fatalf("Cursor failed: %v", err)
		}
		defer cur.Close()
		if _, _, err := cur.Get(nil, nil, db.OpFirst); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected ErrNotFound on empty database, got %v", err)
		}
		if _, _, err := cur.Get(nil, nil, db.OpLast); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected ErrNotFound on empty database, got %v", err)
		}
	})

	update(t, env, func(txn db.WriteTxn) {
		for _, k := range []string{"d", "b", "a", "c", "e"} {
			put(t, txn, dbi, k, k+k)
		}
	})

	view(t, env, func(txn db.ReadTxn) {
		cur, err := txn.Cursor(dbi)
		if err != nil {
			t.Fatalf("Cursor failed: %v", err)
		}
		defer cur.Close()

		expectEntries(t, collect(t, cur, db.OpFirst, db.OpNext), "a=aa", "b=bb", "c=cc", "d=dd", "e=ee")
		expectEntries(t, collect(t, cur, db.OpLast, db.OpPrev), "e=ee", "d=dd", "c=cc", "b=bb", "a=aa")

		k, v, err := cur.Get([]byte("bb"), nil, db.OpSetRange)
		expectEntry(t, k, v, err, "c", "cc")

		k, v, err = cur.Get([]byte("c"), nil, db.OpSet)
		expectEntry(t, k, v, err, "c", "cc")

		if _, _, err := cur.Get([]byte("cc"), nil, db.OpSet); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for OpSet on missing key, got %v", err)
		}
		if _, _, err := cur.Get([]byte("f"), nil, db.OpSetRange); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for OpSetRange past the end, got %v", err)
		}

		// a failed move keeps the position
		k, v, err = cur.Get(nil, nil, db.OpLast)
		expectEntry(t, k, v, err, "e", "ee")
		if _, _, err := cur.Get(nil, nil, db.OpNext); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after the last entry, got %v", err)
		}
		k, v, err = cur.Get(nil, nil, db.OpPrev)
		expectEntry(t, k, v, err, "d", "dd")

		k, v, err = cur.Get(nil, nil, db.OpFirst)
		expectEntry(t, k, v, err, "a", "aa")
		if _, _, err := cur.Get(nil, nil, db.OpPrev); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected ErrNotFound before the first entry, got %v", err)
		}
		k, v, err = cur.Get(nil, nil, db.OpNext)
		expectEntry(t, k, v, err, "b", "bb")

		// dup operations on a plain database
		k, v, err = cur.Get(nil, nil, db.OpFirstDup)
		expectEntry(t, k, v, err, "b", "bb")
		if _, _, err := cur.Get(nil, nil, db.OpNextDup); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for OpNextDup without DupSort, got %v", err)
		}
		k, v, err = cur.Get(nil, nil, db.OpNextNoDup)
		expectEntry(t, k, v, err, "c", "cc")
	})

	// cursors in a write transaction see uncommitted changes
	update(t, env, func(txn db.WriteTxn) {
		put(t, txn, dbi, "bb", "new")
		if err := txn.Del(dbi, []byte("d"), nil); err != nil {
			t.Fatalf("Del failed: %v", err)
		}
		cur, err := txn.Cursor(dbi)
		if err != nil {
			t.Fatalf("Cursor failed: %v", err)
		}
		defer cur.Close()
		expectEntries(t, collect(t, cur, db.OpFirst, db.OpNext), "a=aa", "b=bb", "bb=new", "c=cc", "e=ee")
	})
}

func testDupSort(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	requireFeature(t, env, db.FeatureDupSort)
	dbi := openDB(t, env, "dups", db.FlagDupSort)

	update(t, env, func(txn db.WriteTxn) {
		put(t, txn, dbi, "a", "3")
		put(t, txn, dbi, "a", "1")
		put(t, txn, dbi, "a", "2")
		put(t, txn, dbi, "a", "2") // existing pair is a no-op
		put(t, txn, dbi, "b", "x")

		err := txn.Put(dbi, []byte("a"), []byte("1"), db.PutNoDupData)
		if !errors.Is(err, db.ErrKeyExists) {
			t.Errorf("Expected ErrKeyExists with PutNoDupData, got %v", err)
		}
		if err := txn.Put(dbi, []byte("a"), []byte("4"), db.PutNoDupData); err != nil {
			t.Errorf("PutNoDupData with a new value failed: %v", err)
		}
		err = txn.Put(dbi, []byte("b"), []byte("y"), db.PutNoOverwrite)
		if !errors.Is(err, db.ErrKeyExists) {
			t.Errorf("Expected ErrKeyExists with PutNoOverwrite, got %v", err)
		}
	})

	view(t, env, func(txn db.ReadTxn) {
		// Get returns the smallest duplicate
		expectValue(t, txn, dbi, "a", "1")

		cur, err := txn.Cursor(dbi)
		if err != nil {
			t.Fatalf("Cursor failed: %v", err)
		}
		defer cur.Close()
		expectEntries(t, collect(t, cur, db.OpFirst, db.OpNext), "a=1", "a=2", "a=3", "a=4", "b=x")

		stat, err := txn.Stat(dbi)
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		if stat.Entries != 5 {
			t.Errorf("Expected 5 entries, got %d", stat.Entries)
		}
	})

	update(t, env, func(txn db.WriteTxn) {
		if err := txn.Del(dbi, []byte("a"), []byte("2")); err != nil {
			t.Errorf("Del of one duplicate failed: %v", err)
		}
		if err := txn.Del(dbi, []byte("a"), []byte("9")); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for missing duplicate, got %v", err)
		}
	})

	view(t, env, func(txn db.ReadTxn) {
		cur, err := txn.Cursor(dbi)
		if err != nil {
			t.Fatalf("Cursor failed: %v", err)
		}
		defer cur.Close()
		expectEntries(t, collect(t, cur, db.OpFirst, db.OpNext), "a=1", "a=3", "a=4", "b=x")
	})

	update(t, env, func(txn db.WriteTxn) {
		if err := txn.Del(dbi, []byte("a"), nil); err != nil {
			t.Errorf("Del of all duplicates failed: %v", err)
		}
	})

	view(t, env, func(txn db.ReadTxn) {
		expectMissing(t, txn, dbi, "a")
		expectValue(t, txn, dbi, "b", "x")
	})
}

func testDupSortCursor(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	requireFeature(t, env, db.FeatureDupSort)
	dbi := openDB(t, env, "dups", db.FlagDupSort)

	update(t, env, func(txn db.WriteTxn) {
		for _, kv := range [][2]string{{"a", "1"}, {"a", "2"}, {"a", "3"}, {"b", "1"}, {"c", "1"}, {"c", "2"}} {
			put(t, txn, dbi, kv[0], kv[1])
		}
	})

	view(t, env, func(txn db.ReadTxn) {
		cur, err := txn.Cursor(dbi)
		if err != nil {
			t.Fatalf("Cursor failed: %v", err)
		}
		defer cur.Close()

		k, v, err := cur.Get([]byte("a"), nil, db.OpSet)
		expectEntry(t, k, v, err, "a", "1")
		expectEntries(t, collect(t, cur, db.OpFirstDup, db.OpNextDup), "a=1", "a=2", "a=3")

		// exhausted NextDup stays on the last duplicate
		if _, _, err := cur.Get(nil, nil, db.OpNextDup); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after the last duplicate, got %v", err)
		}
		k, v, err = cur.Get(nil, nil, db.OpNext)
		expectEntry(t, k, v, err, "b", "1")

		k, v, err = cur.Get([]byte("a"), nil, db.OpSet)
		expectEntry(t, k, v, err, "a", "1")
		k, v, err = cur.Get(nil, nil, db.OpLastDup)
		expectEntry(t, k, v, err, "a", "3")
		k, v, err = cur.Get(nil, nil, db.OpPrevDup)
		expectEntry(t, k, v, err, "a", "2")
		k, v, err = cur.Get(nil, nil, db.OpNextNoDup)
		expectEntry(t, k, v, err, "b", "1")
		k, v, err = cur.Get(nil, nil, db.OpNextNoDup)
		expectEntry(t, k, v, err, "c", "1")
		if _, _, err := cur.Get(nil, nil, db.OpNextNoDup); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after the last key, got %v", err)
		}

		k, v, err = cur.Get([]byte("c"), []byte("2"), db.OpGetBoth)
		expectEntry(t, k, v, err, "c", "2")
		if _, _, err := cur.Get([]byte("c"), []byte("3"), db.OpGetBoth); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for missing pair, got %v", err)
		}

		k, v, err = cur.Get([]byte("bb"), nil, db.OpSetRange)
		expectEntry(t, k, v, err, "c", "1")

		expectEntries(t, collect(t, cur, db.OpLast, db.OpPrev), "c=2", "c=1", "b=1", "a=3", "a=2", "a=1")
	})
}

func testIntegerKey(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	requireFeature(t, env, db.FeatureIntegerKey)

	dbi := openDB(t, env, "ints", db.FlagIntegerKey)
	dups := openDB(t, env, "int-dups", db.FlagIntegerKey|db.FlagDupSort)

	keys := []uint64{2, 10, 1, 1 << 32, 255, 256}
	update(t, env, func(txn db.WriteTxn) {
		for _, k := range keys {
			if err := txn.Put(dbi, nativeKey(k), []byte(fmt.Sprint(k)), 0); err != nil {
				t.Fatalf("Put(%d) failed: %v", k, err)
			}
			for _, v := range []string{"y", "x"} {
				if err := txn.Put(dups, nativeKey(k), []byte(v), 0); err != nil {
					t.Fatalf("Put(%d, %s) failed: %v", k, v, err)
				}
			}
		}
		if err := txn.Put(dbi, []byte("abc"), []byte("bad"), 0); !errors.Is(err, db.ErrBadValSize) {
			t.Errorf("Expected ErrBadValSize for a 3 byte integer key, got %v", err)
		}
	})

	view(t, env, func(txn db.ReadTxn) {
		val, err := txn.Get(dbi, nativeKey(10))
		if err != nil || string(val) != "10" {
			t.Errorf("Get(10): expected 10, got %q (err %v)", val, err)
		}

		cur, err := txn.Cursor(dbi)
		if err != nil {
			t.Fatalf("Cursor failed: %v", err)
		}
		defer cur.Close()
		var order []string
		k, v, err := cur.Get(nil, nil, db.OpFirst)
		for err == nil {
			if !bytes.Equal(k, nativeKey(parseUint(string(v)))) {
				t.Errorf("Cursor returned key %x that does not match value %s", k, v)
			}
			order = append(order, string(v))
			k, v, err = cur.Get(nil, nil, db.OpNext)
		}
		expectEntries(t, order, "1", "2", "10", "255", "256", "4294967296")

		k, v, err = cur.Get(nativeKey(11), nil, db.OpSetRange)
		expectEntry(t, k, v, err, string(nativeKey(255)), "255")

		dcur, err := txn.Cursor(dups)
		if err != nil {
			t.Fatalf("Cursor failed: %v", err)
		}
		defer dcur.Close()
		k, v, err = dcur.Get(nativeKey(2), nil, db.OpSet)
		expectEntry(t, k, v, err, string(nativeKey(2)), "x")
		k, v, err = dcur.Get(nil, nil, db.OpNextDup)
		expectEntry(t, k, v, err, string(nativeKey(2)), "y")
		k, v, err = dcur.Get(nil, nil, db.OpNextNoDup)
		expectEntry(t, k, v, err, string(nativeKey(10)), "x")
	})
}

func testIsolation(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	dbi := openDB(t, env, "main", 0)

	update(t, env, func(txn db.WriteTxn) {
		put(t, txn, dbi, "existing", "old")
	})

	before, err := env.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead failed: %v", err)
	}
	defer before.Abort()

	writer, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	put(t, writer, dbi, "new", "value")
	put(t, writer, dbi, "existing", "new")

	// uncommitted writes are invisible
	expectMissing(t, before, dbi, "new")
	expectValue(t, before, dbi, "existing", "old")

	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// the old snapshot does not change after the commit
	expectMissing(t, before, dbi, "new")
	expectValue(t, before, dbi, "existing", "old")

	view(t, env, func(txn db.ReadTxn) {
		expectValue(t, txn, dbi, "new", "value")
		expectValue(t, txn, dbi, "existing", "new")
	})
}

func testAbort(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	dbi := openDB(t, env, "main", 0)

	txn, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	put(t, txn, dbi, "x", "y")
	txn.Abort()
	txn.Abort() // idempotent

	view(t, env, func(txn db.ReadTxn) {
		expectMissing(t, txn, dbi, "x")
	})

	// the writer lock was released
	update(t, env, func(txn db.WriteTxn) {
		put(t, txn, dbi, "x", "z")
	})
}

func testFinishedTxn(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	dbi := openDB(t, env, "main", 0)

	txn, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	put(t, txn, dbi, "k", "v")
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	txn.Abort() // no-op after commit

	if err := txn.Put(dbi, []byte("k"), []byte("v"), 0); !errors.Is(err, db.ErrTxnDone) {
		t.Errorf("Expected ErrTxnDone for Put after commit, got %v", err)
	}
	if _, err := txn.Get(dbi, []byte("k")); !errors.Is(err, db.ErrTxnDone) {
		t.Errorf("Expected ErrTxnDone for Get after commit, got %v", err)
	}
	if err := txn.Commit(); !errors.Is(err, db.ErrTxnDone) {
		t.Errorf("Expected ErrTxnDone for a second commit, got %v", err)
	}

	reader, err := env.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead failed: %v", err)
	}
	reader.Abort()
	if _, err := reader.Get(dbi, []byte("k")); !errors.Is(err, db.ErrTxnDone) {
		t.Errorf("Expected ErrTxnDone for Get after abort, got %v", err)
	}
}

func testSingleWriter(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	dbi := openDB(t, env, "main", 0)

	first, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	put(t, first, dbi, "counter", "first")

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		second, err := env.BeginWrite()
		if err != nil {
			t.Errorf("Second BeginWrite failed: %v", err)
			return
		}
		acquired.Store(true)
		// the second writer sees the committed state of the first one
		val, err := second.Get(dbi, []byte("counter"))
		if err != nil || string(val) != "first" {
			t.Errorf("Expected the first writer's commit, got %q (err %v)", val, err)
		}
		if err := second.Put(dbi, []byte("counter"), []byte("second"), 0); err != nil {
			t.Errorf("Put failed: %v", err)
		}
		if err := second.Commit(); err != nil {
			t.Errorf("Commit failed: %v", err)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	if acquired.Load() {
		t.Fatalf("Second writer acquired the lock while the first was active")
	}
	if err := first.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Second writer did not acquire the lock after the first committed")
	}

	view(t, env, func(txn db.ReadTxn) {
		expectValue(t, txn, dbi, "counter", "second")
	})
}

func testConcurrentReaders(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	dbi := openDB(t, env, "main", 0)

	const numKeys = 100
	update(t, env, func(txn db.WriteTxn) {
		for i := 0; i < numKeys; i++ {
			put(t, txn, dbi, fmt.Sprintf("key-%03d", i), fmt.Sprintf("value-%d", i))
		}
	})

	// an open writer does not block readers
	writer, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	defer writer.Abort()
	put(t, writer, dbi, "key-000", "changed")

	var wg sync.WaitGroup
	var failures atomic.Int64
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txn, err := env.BeginRead()
			if err != nil {
				failures.Add(1)
				return
			}
			defer txn.Abort()
			for i := 0; i < numKeys; i++ {
				val, err := txn.Get(dbi, []byte(fmt.Sprintf("key-%03d", i)))
				if err != nil || string(val) != fmt.Sprintf("value-%d", i) {
					failures.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if n := failures.Load(); n > 0 {
		t.Errorf("%d concurrent reads failed", n)
	}
}

func testStat(t *testing.T, factory BackendFactory) {
	env, _ := openEnv(t, factory, defaultOptions())
	defer env.Close()
	dbi := openDB(t, env, "main", 0)
	openDB(t, env, "second", 0)

	update(t, env, func(txn db.WriteTxn) {
		for i := 0; i < 42; i++ {
			put(t, txn, dbi, fmt.Sprintf("key-%03d", i), "value")
		}
	})

	view(t, env, func(txn db.ReadTxn) {
		stat, err := txn.Stat(dbi)
		if err != nil {
			t.Fatalf("Stat failed: %v", err)
		}
		if stat.Entries != 42 {
			t.Errorf("Expected 42 entries, got %d", stat.Entries)
		}
		if stat.PageSize == 0 {
			t.Errorf("Expected a page size")
		}
	})

	stat, err := env.Stat()
	if err != nil {
		t.Fatalf("Env Stat failed: %v", err)
	}
	if stat.Entries != 2 {
		t.Errorf("Expected 2 named databases in the environment stat, got %d", stat.Entries)
	}

	info := env.Info()
	if info.DbType == "" {
		t.Errorf("Expected an implementation identifier")
	}
	for _, f := range info.SupportedFeatures {
		if !env.SupportsFeature(f) {
			t.Errorf("Feature %s is listed but not supported", f)
		}
	}
}

func testMaxDBs(t *testing.T, factory BackendFactory) {
	opts := defaultOptions()
	opts.MaxDBs = 2
	env, _ := openEnv(t, factory, opts)
	defer env.Close()

	openDB(t, env, "one", 0)
	openDB(t, env, "two", 0)
	if _, err := env.OpenDB("three", db.FlagCreate); !errors.Is(err, db.ErrDBsFull) {
		t.Errorf("Expected ErrDBsFull, got %v", err)
	}
	// reopening existing databases is still possible
	if _, err := env.OpenDB("one", 0); err != nil {
		t.Errorf("Reopen failed: %v", err)
	}
}

// testMapSizeChurn rewrites and deletes far more data than the map holds.
// Only the net growth of a transaction counts against MapSize.
func testMapSizeChurn(t *testing.T, factory BackendFactory) {
	opts := defaultOptions()
	opts.MapSize = 1 << 20
	value := strings.Repeat("x", 1024)

	t.Run("Overwrite", func(t *testing.T) {
		env, _ := openEnv(t, factory, opts)
		defer env.Close()
		dbi := openDB(t, env, "main", 0)

		update(t, env, func(txn db.WriteTxn) {
			for i := 0; i < 2000; i++ {
				if err := txn.Put(dbi, []byte("same-key"), []byte(value), 0); err != nil {
					t.Fatalf("Put #%d failed: %v", i, err)
				}
			}
			for i := 0; i < 2000; i++ {
				key := []byte(fmt.Sprintf("churn-%d", i))
				if err := txn.Put(dbi, key, []byte(value), 0); err != nil {
					t.Fatalf("Put(%s) failed: %v", key, err)
				}
				if err := txn.Del(dbi, key, nil); err != nil {
					t.Fatalf("Del(%s) failed: %v", key, err)
				}
			}
		})

		view(t, env, func(txn db.ReadTxn) {
			expectValue(t, txn, dbi, "same-key", value)
			expectMissing(t, txn, dbi, "churn-0")
		})
	})

	t.Run("DupSort", func(t *testing.T) {
		env, _ := openEnv(t, factory, opts)
		defer env.Close()
		requireFeature(t, env, db.FeatureDupSort)
		dbi := openDB(t, env, "dups", db.FlagDupSort)

		update(t, env, func(txn db.WriteTxn) {
			for i := 0; i < 2000; i++ {
				if err := txn.Put(dbi, []byte("a"), []byte(value), 0); err != nil {
					t.Fatalf("Put #%d of an existing pair failed: %v", i, err)
				}
			}
			for i := 0; i < 2000; i++ {
				val := []byte(fmt.Sprintf("%s-%d", value, i))
				if err := txn.Put(dbi, []byte("b"), val, 0); err != nil {
					t.Fatalf("Put #%d failed: %v", i, err)
				}
				if err := txn.Del(dbi, []byte("b"), val); err != nil {
					t.Fatalf("Del #%d failed: %v", i, err)
				}
			}
		})

		view(t, env, func(txn db.ReadTxn) {
			expectValue(t, txn, dbi, "a", value)
			expectMissing(t, txn, dbi, "b")
		})
	})

	t.Run("Clear", func(t *testing.T) {
		env, _ := openEnv(t, factory, opts)
		defer env.Close()
		dbi := openDB(t, env, "main", 0)

		update(t, env, func(txn db.WriteTxn) {
			for round := 0; round < 4; round++ {
				for i := 0; i < 256; i++ {
					key := []byte(fmt.Sprintf("key-%03d", i))
					if err := txn.Put(dbi, key, []byte(value), 0); err != nil {
						t.Fatalf("Round %d: Put(%s) failed: %v", round, key, err)
					}
				}
				if err := txn.Clear(dbi); err != nil {
					t.Fatalf("Round %d: Clear failed: %v", round, err)
				}
			}
			put(t, txn, dbi, "last", "v")
		})

		view(t, env, func(txn db.ReadTxn) {
			expectValue(t, txn, dbi, "last", "v")
			expectMissing(t, txn, dbi, "key-000")
		})
	})
}

func testPersistence(t *testing.T, factory BackendFactory) {
	env, path := openEnv(t, factory, defaultOptions())
	requireFeature(t, env, db.FeaturePersistence)

	dbi := openDB(t, env, "main", 0)
	dups := openDB(t, env, "dups", db.FlagDupSort)
	update(t, env, func(txn db.WriteTxn) {
		put(t, txn, dbi, "persistent", "value")
		put(t, txn, dups, "k", "1")
		put(t, txn, dups, "k", "2")
	})
	if err := env.Sync(true); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := factory().Open(path, defaultOptions())
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	dbi, err = reopened.OpenDB("main", 0)
	if err != nil {
		t.Fatalf("OpenDB after reopen failed: %v", err)
	}
	if _, err := reopened.OpenDB("dups", db.FlagCreate); !errors.Is(err, db.ErrIncompatible) {
		t.Errorf("Expected ErrIncompatible reopening a DupSort database without DupSort, got %v", err)
	}
	dups, err = reopened.OpenDB("dups", db.FlagDupSort)
	if err != nil {
		t.Fatalf("OpenDB after reopen failed: %v", err)
	}

	view(t, reopened, func(txn db.ReadTxn) {
		expectValue(t, txn, dbi, "persistent", "value")
		cur, err := txn.Cursor(dups)
		if err != nil {
			t.Fatalf("Cursor failed: %v", err)
		}
		defer cur.Close()
		expectEntries(t, collect(t, cur, db.OpFirst, db.OpNext), "k=1", "k=2")
	})
}

func testReadOnly(t *testing.T, factory BackendFactory) {
	env, path := openEnv(t, factory, defaultOptions())
	requireFeature(t, env, db.FeaturePersistence)

	dbi := openDB(t, env, "main", 0)
	update(t, env, func(txn db.WriteTxn) {
		put(t, txn, dbi, "k", "v")
	})
	if err := env.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	opts := defaultOptions()
	opts.ReadOnly = true
	ro, err := factory().Open(path, opts)
	if err != nil {
		t.Fatalf("Read-only open failed: %v", err)
	}
	defer ro.Close()

	if _, err := ro.BeginWrite(); !errors.Is(err, db.ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly for BeginWrite, got %v", err)
	}
	if _, err := ro.OpenDB("new", db.FlagCreate); !errors.Is(err, db.ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly for creating a database, got %v", err)
	}
	dbi, err = ro.OpenDB("main", 0)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	view(t, ro, func(txn db.ReadTxn) {
		expectValue(t, txn, dbi, "k", "v")
	})
}
