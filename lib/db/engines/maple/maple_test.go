package maple

import (
	"errors"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple/internal"
	"os"
	"path/filepath"
	"testing"
)

func openEnv(t *testing.T, path string, opts db.EnvOptions) db.Env {
	t.Helper()
	env, err := NewBackend(nil).Open(path, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return env
}

func TestCompressionOptions(t *testing.T) {
	for _, name := range []string{"none", "snappy", "zstd", "lz4"} {
		t.Run(name, func(t *testing.T) {
			path := t.TempDir()
			opts := db.EnvOptions{Options: map[string]string{OptionCompression: name}}

			env := openEnv(t, path, opts)
			dbi, err := env.OpenDB("data", db.FlagCreate)
			if err != nil {
				t.Fatalf("OpenDB failed: %v", err)
			}
			txn, err := env.BeginWrite()
			if err != nil {
				t.Fatalf("BeginWrite failed: %v", err)
			}
			if err := txn.Put(dbi, []byte("key"), []byte("value value value value"), 0); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if err := txn.Commit(); err != nil {
				t.Fatalf("Commit failed: %v", err)
			}
			if err := env.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			env = openEnv(t, path, opts)
			defer env.Close()
			dbi, err = env.OpenDB("data", 0)
			if err != nil {
				t.Fatalf("OpenDB after reopen failed: %v", err)
			}
			rtxn, err := env.BeginRead()
			if err != nil {
				t.Fatalf("BeginRead failed: %v", err)
			}
			defer rtxn.Abort()
			val, err := rtxn.Get(dbi, []byte("key"))
			if err != nil || string(val) != "value value value value" {
				t.Errorf("Unexpected value %q (err %v)", val, err)
			}
		})
	}

	if _, err := NewBackend(nil).Open(t.TempDir(), db.EnvOptions{Options: map[string]string{OptionCompression: "brotli"}}); !errors.Is(err, db.ErrInvalid) {
		t.Errorf("Expected ErrInvalid for unknown compression, got %v", err)
	}
}

func TestNoSync(t *testing.T) {
	path := t.TempDir()
	env := openEnv(t, path, db.EnvOptions{NoSync: true})
	defer env.Close()

	dbi, err := env.OpenDB("data", db.FlagCreate)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	txn, _ := env.BeginWrite()
	if err := txn.Put(dbi, []byte("k"), []byte("v"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(path, DataFile)); !os.IsNotExist(err) {
		t.Errorf("Expected no snapshot file before Sync, got %v", err)
	}
	if err := env.Sync(false); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(path, DataFile)); err != nil {
		t.Errorf("Expected snapshot file after Sync: %v", err)
	}
}

func TestLockFile(t *testing.T) {
	path := t.TempDir()
	env := openEnv(t, path, db.EnvOptions{})

	if _, err := NewBackend(nil).Open(path, db.EnvOptions{}); err == nil {
		t.Errorf("Expected second open of a locked environment to fail")
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	again := openEnv(t, path, db.EnvOptions{})
	again.Close()
}

func TestCorruptSnapshot(t *testing.T) {
	path := t.TempDir()
	if err := os.WriteFile(filepath.Join(path, DataFile), []byte("RKVMAPLE garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewBackend(nil).Open(path, db.EnvOptions{}); !errors.Is(err, internal.ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt, got %v", err)
	}
}

func TestMapSize(t *testing.T) {
	env := openEnv(t, t.TempDir(), db.EnvOptions{MapSize: 1024})
	defer env.Close()

	dbi, err := env.OpenDB("data", db.FlagCreate)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	txn, _ := env.BeginWrite()
	defer txn.Abort()
	if err := txn.Put(dbi, []byte("small"), make([]byte, 100), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := txn.Put(dbi, []byte("large"), make([]byte, 2048), 0); !errors.Is(err, db.ErrMapFull) {
		t.Errorf("Expected ErrMapFull, got %v", err)
	}
	// overwriting with a smaller value frees space
	if err := txn.Put(dbi, []byte("small"), make([]byte, 10), 0); err != nil {
		t.Errorf("Put failed: %v", err)
	}
}

func TestMaxReaders(t *testing.T) {
	env := openEnv(t, t.TempDir(), db.EnvOptions{MaxReaders: 2})
	defer env.Close()

	r1, err := env.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead failed: %v", err)
	}
	r2, err := env.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead failed: %v", err)
	}
	if _, err := env.BeginRead(); !errors.Is(err, db.ErrReadersFull) {
		t.Errorf("Expected ErrReadersFull, got %v", err)
	}
	r1.Abort()
	r3, err := env.BeginRead()
	if err != nil {
		t.Errorf("BeginRead after Abort failed: %v", err)
	} else {
		r3.Abort()
	}
	r2.Abort()
}
