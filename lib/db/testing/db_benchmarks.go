package testing

import (
	"fmt"
	"github.com/ValentinKolb/rKV/lib/db"
	"math/rand"
	"testing"
)

// RunBackendBenchmarks runs all benchmarks for a backend implementation
func RunBackendBenchmarks(b *testing.B, name string, factory BackendFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, factory)
		})

		b.Run("PutBatch", func(b *testing.B) {
			benchmarkPutBatch(b, factory)
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory)
		})

		b.Run("GetParallel", func(b *testing.B) {
			benchmarkGetParallel(b, factory)
		})

		b.Run("CursorScan", func(b *testing.B) {
			benchmarkCursorScan(b, factory)
		})

		b.Run("DupSortPut", func(b *testing.B) {
			benchmarkDupSortPut(b, factory)
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

const benchKeys = 10_000

// benchEnv opens an environment with NoSync and a database filled with benchKeys keys
func benchEnv(b *testing.B, factory BackendFactory, flags db.DBFlags, fill bool) (db.Env, db.DBI) {
	b.Helper()
	opts := defaultOptions()
	opts.MapSize = 1 << 30
	opts.NoSync = true
	env, _ := openEnv(b, factory, opts)
	b.Cleanup(func() {
		env.Close()
	})
	dbi := openDB(b, env, "bench", flags)

	if fill {
		update(b, env, func(txn db.WriteTxn) {
			for i := 0; i < benchKeys; i++ {
				if err := txn.Put(dbi, benchKey(i), []byte(fmt.Sprintf("value-%d", i)), 0); err != nil {
					b.Fatalf("Put failed: %v", err)
				}
			}
		})
	}
	return env, dbi
}

func benchKey(i int) []byte {
	return []byte(fmt.Sprintf("key-%08d", i))
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for one write transaction per Put
func benchmarkPut(b *testing.B, factory BackendFactory) {
	env, dbi := benchEnv(b, factory, 0, false)
	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		update(b, env, func(txn db.WriteTxn) {
			if err := txn.Put(dbi, benchKey(i), value, 0); err != nil {
				b.Fatalf("Put failed: %v", err)
			}
		})
	}
}

// Benchmark for 100 Puts per write transaction
func benchmarkPutBatch(b *testing.B, factory BackendFactory) {
	env, dbi := benchEnv(b, factory, 0, false)
	value := []byte("benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		update(b, env, func(txn db.WriteTxn) {
			for j := 0; j < 100; j++ {
				if err := txn.Put(dbi, benchKey(i*100+j), value, 0); err != nil {
					b.Fatalf("Put failed: %v", err)
				}
			}
		})
	}
}

// Benchmark for Get inside one read transaction
func benchmarkGet(b *testing.B, factory BackendFactory) {
	env, dbi := benchEnv(b, factory, 0, true)

	txn, err := env.BeginRead()
	if err != nil {
		b.Fatalf("BeginRead failed: %v", err)
	}
	defer txn.Abort()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := txn.Get(dbi, benchKey(i%benchKeys)); err != nil {
			b.Fatalf("Get failed: %v", err)
		}
	}
}

// Benchmark for concurrent readers, each with a short read transaction
func benchmarkGetParallel(b *testing.B, factory BackendFactory) {
	env, dbi := benchEnv(b, factory, 0, true)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			txn, err := env.BeginRead()
			if err != nil {
				b.Errorf("BeginRead failed: %v", err)
				return
			}
			if _, err := txn.Get(dbi, benchKey(r.Intn(benchKeys))); err != nil {
				b.Errorf("Get failed: %v", err)
			}
			txn.Abort()
		}
	})
}

// Benchmark for a full cursor scan
func benchmarkCursorScan(b *testing.B, factory BackendFactory) {
	env, dbi := benchEnv(b, factory, 0, true)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		view(b, env, func(txn db.ReadTxn) {
			cur, err := txn.Cursor(dbi)
			if err != nil {
				b.Fatalf("Cursor failed: %v", err)
			}
			defer cur.Close()
			n := 0
			for _, _, err := cur.Get(nil, nil, db.OpFirst); err == nil; _, _, err = cur.Get(nil, nil, db.OpNext) {
				n++
			}
			if n != benchKeys {
				b.Fatalf("Expected %d entries, got %d", benchKeys, n)
			}
		})
	}
}

// Benchmark for adding duplicates to a few keys
func benchmarkDupSortPut(b *testing.B, factory BackendFactory) {
	env, dbi := benchEnv(b, factory, db.FlagDupSort, false)
	requireFeature(b, env, db.FeatureDupSort)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		update(b, env, func(txn db.WriteTxn) {
			if err := txn.Put(dbi, benchKey(i%16), benchKey(i), 0); err != nil {
				b.Fatalf("Put failed: %v", err)
			}
		})
	}
}

// Benchmark for mixed operations: 90% reads and 10% writes
func benchmarkMixedUsage(b *testing.B, factory BackendFactory) {
	env, dbi := benchEnv(b, factory, 0, true)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := benchKey(r.Intn(benchKeys))
			if r.Intn(10) == 0 {
				txn, err := env.BeginWrite()
				if err != nil {
					b.Errorf("BeginWrite failed: %v", err)
					return
				}
				if err := txn.Put(dbi, key, []byte("updated"), 0); err != nil {
					b.Errorf("Put failed: %v", err)
				}
				if err := txn.Commit(); err != nil {
					b.Errorf("Commit failed: %v", err)
				}
				continue
			}
			txn, err := env.BeginRead()
			if err != nil {
				b.Errorf("BeginRead failed: %v", err)
				return
			}
			if _, err := txn.Get(dbi, key); err != nil {
				b.Errorf("Get failed: %v", err)
			}
			txn.Abort()
		}
	})
}
