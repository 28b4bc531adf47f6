package store

import (
	"errors"
	"github.com/ValentinKolb/rKV/lib/db"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestManagerIdentity(t *testing.T) {
	backend := newCountingBackend()
	backend.delay = 20 * time.Millisecond
	m := NewManager(WithBackend(backend))
	defer m.CloseAll()

	path := t.TempDir()
	cfg := testConfig(db.ImplMaple)

	const callers = 16
	envs := make([]*Environment, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env, err := m.GetOrCreate(path, cfg)
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			envs[i] = env
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if !envs[i].same(envs[0]) {
			t.Fatalf("Caller %d got a different environment", i)
		}
	}
	if n := backend.opens.Load(); n != 1 {
		t.Errorf("Expected exactly one backend open, got %d", n)
	}
	if m.Len() != 1 {
		t.Errorf("Expected one registered environment, got %d", m.Len())
	}

	// every reference must be released before the backend is closed
	for i := 0; i < callers-1; i++ {
		if err := envs[i].Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}
	if backend.closes.Load() != 0 {
		t.Fatalf("Backend closed while a reference is held")
	}
	if _, err := envs[0].BeginRead(); err != nil {
		t.Errorf("Environment unusable while a reference is held: %v", err)
	}
	if err := envs[0].Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if backend.closes.Load() != 1 {
		t.Errorf("Expected the last release to close the backend")
	}
	if m.Len() != 0 {
		t.Errorf("Expected an empty registry, got %d", m.Len())
	}

	// a new request opens the path again
	env, err := m.GetOrCreate(path, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate after release failed: %v", err)
	}
	defer env.Close()
	if env.same(envs[0]) {
		t.Errorf("Expected a new environment after the last release")
	}
	if n := backend.opens.Load(); n != 2 {
		t.Errorf("Expected a second backend open, got %d", n)
	}
}

func TestManagerDifferentPaths(t *testing.T) {
	backend := newCountingBackend()
	m := NewManager(WithBackend(backend))
	defer m.CloseAll()

	cfg := testConfig(db.ImplMaple)
	a, err := m.GetOrCreate(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	b, err := m.GetOrCreate(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if a.same(b) {
		t.Errorf("Expected different environments for different paths")
	}
	if m.Len() != 2 {
		t.Errorf("Expected two environments, got %d", m.Len())
	}
}

func TestManagerCanonicalize(t *testing.T) {
	m := NewManager(WithBackend(newCountingBackend()))
	defer m.CloseAll()
	cfg := testConfig(db.ImplMaple)

	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("Symlinks not supported: %v", err)
	}

	a, err := m.GetOrCreate(target, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	b, err := m.GetOrCreate(link, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if a != b {
		t.Errorf("Expected the symlink to resolve to the same environment")
	}
	c, err := m.GetOrCreate(filepath.Join(target, "..", "target"), cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if a != c {
		t.Errorf("Expected relative segments to resolve to the same environment")
	}

	got, err := m.Get(link)
	if err != nil || got != a {
		t.Errorf("Get returned %p (err %v), expected %p", got, err, a)
	}
	got.Close()
}

func TestManagerOpenFailure(t *testing.T) {
	m := NewManager()
	defer m.CloseAll()

	missing := filepath.Join(t.TempDir(), "missing")
	if _, err := m.GetOrCreate(missing, testConfig(db.ImplBolt)); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Expected ErrOpenFailed for a missing directory, got %v", err)
	}

	cfg := testConfig("rocksdb")
	if _, err := m.GetOrCreate(t.TempDir(), cfg); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Expected ErrOpenFailed for an unknown backend, got %v", err)
	}

	cfg = testConfig(db.ImplBolt)
	cfg.WriterPolicy = "yolo"
	if _, err := m.GetOrCreate(t.TempDir(), cfg); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Expected ErrInvalidOperation for an invalid config, got %v", err)
	}

	if m.Len() != 0 {
		t.Errorf("Failed opens must not register environments, got %d", m.Len())
	}
	if _, err := m.Get(missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound from Get, got %v", err)
	}
}

func TestManagerCloseAll(t *testing.T) {
	backend := newCountingBackend()
	m := NewManager(WithBackend(backend))
	cfg := testConfig(db.ImplMaple)

	env, err := m.GetOrCreate(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := m.GetOrCreate(env.Path(), cfg); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := m.CloseAll(); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if backend.closes.Load() != 1 {
		t.Errorf("Expected one backend close, got %d", backend.closes.Load())
	}
	if _, err := env.BeginRead(); err == nil {
		t.Errorf("Expected an error on a closed environment")
	}
	// releasing stale references is harmless
	if err := env.Close(); err != nil {
		t.Errorf("Close after CloseAll failed: %v", err)
	}
}

func TestManagerDoubleClose(t *testing.T) {
	backend := newCountingBackend()
	m := NewManager(WithBackend(backend))
	defer m.CloseAll()

	cfg := testConfig(db.ImplMaple)
	path := t.TempDir()
	a, err := m.GetOrCreate(path, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	b, err := m.GetOrCreate(path, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	// closing a reference twice must not release the other holder's one
	for i := 0; i < 2; i++ {
		if err := a.Close(); err != nil {
			t.Fatalf("Close %d failed: %v", i, err)
		}
	}
	if backend.closes.Load() != 0 {
		t.Fatalf("Backend closed while a reference is held")
	}
	txn, err := b.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead on the remaining reference failed: %v", err)
	}
	txn.Abort()

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if backend.closes.Load() != 1 {
		t.Errorf("Expected the last release to close the backend, got %d closes", backend.closes.Load())
	}
	if m.Len() != 0 {
		t.Errorf("Expected an empty registry, got %d", m.Len())
	}
}
