package store

import (
	"errors"
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/db"
	"strings"
	"sync"
	"testing"
)

func TestKindMismatch(t *testing.T) {
	backend := newCountingBackend()
	m := NewManager(WithBackend(backend))
	defer m.CloseAll()
	env, err := m.GetOrCreate(t.TempDir(), testConfig(db.ImplMaple))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	s, err := env.OpenStore("s", KindSingle, nil)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	calls := backend.openDBs.Load()

	for _, kind := range []Kind{KindDupSort, KindInteger, KindDupSortInteger} {
		_, err := env.OpenStore("s", kind, nil)
		if !errors.Is(err, ErrKindMismatch) {
			t.Errorf("Expected ErrKindMismatch for %s, got %v", kind, err)
		}
		if CodeOf(err) != RetCKindMismatch {
			t.Errorf("Expected code KindMismatch, got %s", CodeOf(err))
		}
	}
	if n := backend.openDBs.Load(); n != calls {
		t.Errorf("Kind mismatch reached the backend (%d OpenDB calls, expected %d)", n, calls)
	}

	// the original handle stays usable
	mustUpdate(t, env, func(txn *WriteTxn) error {
		return s.Put(txn, []byte("k"), codec.Str("v"))
	})
	mustView(t, env, func(txn *ReadTxn) error {
		v, ok, err := s.Get(txn, []byte("k"))
		expectValue(t, v, ok, err, codec.Str("v"))
		return nil
	})

	// the same kind returns the same handle
	again, err := env.OpenStore("s", KindSingle, nil)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	if again != s {
		t.Errorf("Expected the bound handle to be returned")
	}
	if n := backend.openDBs.Load(); n != calls {
		t.Errorf("Reopening a bound store reached the backend")
	}
}

func TestKindMismatchPersisted(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(db.ImplBolt)

	m := NewManager()
	env, err := m.GetOrCreate(dir, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := env.OpenStore("multi", KindDupSort, nil); err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// a new process only knows the kind stored by the backend
	m = NewManager()
	defer m.CloseAll()
	env, err = m.GetOrCreate(dir, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := env.OpenStore("multi", KindSingle, nil); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("Expected ErrKindMismatch, got %v", err)
	}
	if _, err := env.OpenStore("multi", KindDupSort, &StoreOptions{Create: false}); err != nil {
		t.Errorf("Opening with the stored kind failed: %v", err)
	}
}

func TestOpenStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)

		if _, err := env.OpenStore("missing", KindSingle, &StoreOptions{Create: false}); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound without create, got %v", err)
		}
		if _, err := env.OpenStore("bad", Kind(0), nil); !errors.Is(err, ErrInvalidOperation) {
			t.Errorf("Expected ErrInvalidOperation for kind 0, got %v", err)
		}
		if _, err := env.OpenStore("bad", Kind(9), nil); !errors.Is(err, ErrInvalidOperation) {
			t.Errorf("Expected ErrInvalidOperation for kind 9, got %v", err)
		}

		kinds := map[string]Kind{
			"users":  KindSingle,
			"tags":   KindDupSort,
			"seq":    KindInteger,
			"events": KindDupSortInteger,
		}
		for name, kind := range kinds {
			s, err := env.OpenStore(name, kind, nil)
			if err != nil {
				t.Fatalf("OpenStore(%s) failed: %v", name, err)
			}
			if s.Name() != name || s.Kind() != kind || !s.Environment().same(env) {
				t.Errorf("Unexpected store handle %s/%s", s.Name(), s.Kind())
			}
		}

		infos, err := env.ListStores()
		if err != nil {
			t.Fatalf("ListStores failed: %v", err)
		}
		if len(infos) != len(kinds) {
			t.Fatalf("Expected %d stores, got %d: %v", len(kinds), len(infos), infos)
		}
		for i, info := range infos {
			if i > 0 && infos[i-1].Name >= info.Name {
				t.Errorf("Stores not sorted: %v", infos)
			}
			if kinds[info.Name] != info.Kind {
				t.Errorf("Store %s: expected kind %s, got %s", info.Name, kinds[info.Name], info.Kind)
			}
			if !info.Open {
				t.Errorf("Store %s should be reported as open", info.Name)
			}
		}
	})
}

func TestOpenStoreConcurrent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)

		const goroutines = 8
		stores := make([]*Store, goroutines)
		var wg sync.WaitGroup
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s, err := env.OpenStore("shared", KindDupSort, nil)
				if err != nil {
					t.Errorf("OpenStore failed: %v", err)
					return
				}
				stores[i] = s
			}(i)
		}
		wg.Wait()
		for i := 1; i < goroutines; i++ {
			if stores[i] != stores[0] {
				t.Fatalf("Goroutine %d got a different handle", i)
			}
		}
	})
}

func TestReadOnlyEnvironment(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(db.ImplBolt)

	m := NewManager()
	env, err := m.GetOrCreate(dir, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	s, err := env.OpenStore("s", KindSingle, nil)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	mustUpdate(t, env, func(txn *WriteTxn) error {
		return s.Put(txn, []byte("k"), codec.U64(7))
	})
	if err := env.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	cfg.ReadOnly = true
	m = NewManager()
	defer m.CloseAll()
	env, err = m.GetOrCreate(dir, cfg)
	if err != nil {
		t.Fatalf("GetOrCreate read-only failed: %v", err)
	}

	if _, err := env.BeginWrite(); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly from BeginWrite, got %v", err)
	}
	if _, err := env.OpenStore("new", KindSingle, nil); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly when creating a store, got %v", err)
	}

	s, err = env.OpenStore("s", KindSingle, nil)
	if err != nil {
		t.Fatalf("Opening an existing store failed: %v", err)
	}
	mustView(t, env, func(txn *ReadTxn) error {
		v, ok, err := s.Get(txn, []byte("k"))
		expectValue(t, v, ok, err, codec.U64(7))
		return nil
	})
}

func TestEnvironmentClosed(t *testing.T) {
	m := NewManager()
	env, err := m.GetOrCreate(t.TempDir(), testConfig(db.ImplBolt))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := env.BeginRead(); !errors.Is(err, ErrInvalidOperation) || !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected a closed error from BeginRead, got %v", err)
	}
	if _, err := env.BeginWrite(); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected a closed error from BeginWrite, got %v", err)
	}
	if _, err := env.OpenStore("s", KindSingle, nil); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected a closed error from OpenStore, got %v", err)
	}
	// more releases than references are ignored
	if err := env.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestEnvironmentMaintenance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)
		s, err := OpenInteger[uint64](env, "seq", nil)
		if err != nil {
			t.Fatalf("OpenInteger failed: %v", err)
		}
		mustUpdate(t, env, func(txn *WriteTxn) error {
			for i := uint64(0); i < 100; i++ {
				if err := s.Put(txn, i, codec.U64(i*i)); err != nil {
					return err
				}
			}
			return nil
		})

		if err := env.Sync(true); err != nil {
			t.Errorf("Sync failed: %v", err)
		}
		if _, err := env.Stat(); err != nil {
			t.Errorf("Stat failed: %v", err)
		}
		mustView(t, env, func(txn *ReadTxn) error {
			stat, err := s.Stat(txn)
			if err != nil {
				return err
			}
			if stat.Entries != 100 {
				t.Errorf("Expected 100 entries, got %d", stat.Entries)
			}
			return nil
		})

		if env.Info().DbType != impl {
			t.Errorf("Expected implementation %s, got %s", impl, env.Info().DbType)
		}
		if env.Backend() != impl || env.Config().Backend != impl {
			t.Errorf("Unexpected backend %s", env.Backend())
		}

		var sb strings.Builder
		env.WriteMetrics(&sb)
		if !strings.Contains(sb.String(), "rkv_commits_total") {
			t.Errorf("Expected commit metrics, got:\n%s", sb.String())
		}
	})
}
