package store

import (
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple"
	"sync/atomic"
	"testing"
	"time"
)

// backends every store test runs against
var testBackends = []db.Implementation{db.ImplBolt, db.ImplMaple}

func forEachBackend(t *testing.T, fn func(t *testing.T, impl db.Implementation)) {
	for _, impl := range testBackends {
		t.Run(string(impl), func(t *testing.T) {
			fn(t, impl)
		})
	}
}

func testConfig(impl db.Implementation) *Config {
	cfg := DefaultConfig()
	cfg.Backend = impl
	cfg.MapSize = 64 << 20
	return cfg
}

// openTestEnv opens a fresh environment with its own manager
func openTestEnv(t *testing.T, impl db.Implementation) *Environment {
	t.Helper()
	return openTestEnvConfig(t, testConfig(impl))
}

func openTestEnvConfig(t *testing.T, cfg *Config) *Environment {
	t.Helper()
	m := NewManager()
	env, err := m.GetOrCreate(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	t.Cleanup(func() {
		if err := m.CloseAll(); err != nil {
			t.Errorf("CloseAll failed: %v", err)
		}
	})
	return env
}

func mustUpdate(t *testing.T, env *Environment, fn func(txn *WriteTxn) error) {
	t.Helper()
	if err := env.Update(fn); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func mustView(t *testing.T, env *Environment, fn func(txn *ReadTxn) error) {
	t.Helper()
	if err := env.View(fn); err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func expectValue(t *testing.T, got codec.Value, ok bool, err error, expected codec.Value) {
	t.Helper()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatalf("Expected %s, got nothing", codec.Format(expected))
	}
	if codec.Format(got) != codec.Format(expected) {
		t.Errorf("Expected %s, got %s", codec.Format(expected), codec.Format(got))
	}
}

func expectMissing(t *testing.T, got codec.Value, ok bool, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Errorf("Expected no value, got %s", codec.Format(got))
	}
}

// --------------------------------------------------------------------------
// Counting Backend
// --------------------------------------------------------------------------

// countingBackend wraps the in-memory maple engine and counts backend calls
type countingBackend struct {
	db.Backend
	delay   time.Duration // added to every Open
	opens   atomic.Int32
	openDBs atomic.Int32
	closes  atomic.Int32
}

func newCountingBackend() *countingBackend {
	return &countingBackend{Backend: maple.NewBackend(&maple.DBOptions{InMemory: true})}
}

func (b *countingBackend) Open(path string, opts db.EnvOptions) (db.Env, error) {
	b.opens.Add(1)
	time.Sleep(b.delay)
	env, err := b.Backend.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return &countingEnv{Env: env, b: b}, nil
}

type countingEnv struct {
	db.Env
	b *countingBackend
}

func (e *countingEnv) OpenDB(name string, flags db.DBFlags) (db.DBI, error) {
	e.b.openDBs.Add(1)
	return e.Env.OpenDB(name, flags)
}

func (e *countingEnv) Close() error {
	e.b.closes.Add(1)
	return e.Env.Close()
}
