package bolt

import (
	"bytes"
	"errors"
	"github.com/ValentinKolb/rKV/lib/db"
	"go.etcd.io/bbolt"
	"path/filepath"
	"testing"
	"time"
)

func openEnv(t *testing.T, path string, opts db.EnvOptions) db.Env {
	t.Helper()
	env, err := NewBackend(&DBOptions{Timeout: 100 * time.Millisecond}).Open(path, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return env
}

func TestMapSize(t *testing.T) {
	env := openEnv(t, t.TempDir(), db.EnvOptions{MapSize: 1 << 20})
	defer env.Close()

	dbi, err := env.OpenDB("data", db.FlagCreate)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}

	txn, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	val := bytes.Repeat([]byte("x"), 4096)
	var putErr error
	for i := 0; i < 1024 && putErr == nil; i++ {
		putErr = txn.Put(dbi, []byte{byte(i >> 8), byte(i), 'k'}, val, 0)
	}
	if !errors.Is(putErr, db.ErrMapFull) {
		t.Fatalf("Expected ErrMapFull, got %v", putErr)
	}
	txn.Abort()

	txn, err = env.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite after abort: %v", err)
	}
	if _, err := txn.Get(dbi, []byte{0, 0, 'k'}); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	txn.Abort()
}

func TestMetaFlags(t *testing.T) {
	path := t.TempDir()
	env := openEnv(t, path, db.EnvOptions{})
	if _, err := env.OpenDB("dups", db.FlagCreate|db.FlagDupSort|db.FlagIntegerKey); err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	if _, err := env.OpenDB(string(metaBucket), db.FlagCreate); !errors.Is(err, db.ErrInvalid) {
		t.Errorf("Expected ErrInvalid for the metadata bucket, got %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	bdb, err := bbolt.Open(filepath.Join(path, DataFile), 0o644, &bbolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		t.Fatalf("bbolt open failed: %v", err)
	}
	err = bdb.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(metaBucket).Get([]byte("dups"))
		if got := decodeFlags(v); got != db.FlagDupSort|db.FlagIntegerKey {
			t.Errorf("Unexpected stored flags %v", got)
		}
		if tx.Bucket([]byte("dups")) == nil {
			t.Errorf("Expected a bucket for the database")
		}
		return nil
	})
	if err != nil {
		t.Errorf("View failed: %v", err)
	}
	bdb.Close()

	env = openEnv(t, path, db.EnvOptions{})
	defer env.Close()
	dbs, err := env.ListDBs()
	if err != nil {
		t.Fatalf("ListDBs failed: %v", err)
	}
	if len(dbs) != 1 || dbs[0].Name != "dups" || dbs[0].Flags != db.FlagDupSort|db.FlagIntegerKey {
		t.Errorf("Unexpected databases %+v", dbs)
	}
}

func TestDupBucketRemoved(t *testing.T) {
	env := openEnv(t, t.TempDir(), db.EnvOptions{})
	defer env.Close()
	dbi, err := env.OpenDB("dups", db.FlagCreate|db.FlagDupSort)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}

	txn, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	defer txn.Abort()
	for _, v := range []string{"", "1"} {
		if err := txn.Put(dbi, []byte("a"), []byte(v), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if v, err := txn.Get(dbi, []byte("a")); err != nil || len(v) != 0 {
		t.Errorf("Expected the empty duplicate first, got %q (err %v)", v, err)
	}
	for _, v := range []string{"", "1"} {
		if err := txn.Del(dbi, []byte("a"), []byte(v)); err != nil {
			t.Fatalf("Del failed: %v", err)
		}
	}
	// a key without duplicates is gone
	if _, err := txn.Get(dbi, []byte("a")); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	stat, err := txn.Stat(dbi)
	if err != nil || stat.Entries != 0 {
		t.Errorf("Expected no entries, got %d (err %v)", stat.Entries, err)
	}
}

func TestSecondWriterTimesOut(t *testing.T) {
	path := t.TempDir()
	env := openEnv(t, path, db.EnvOptions{})
	defer env.Close()

	if _, err := NewBackend(&DBOptions{Timeout: 50 * time.Millisecond}).Open(path, db.EnvOptions{}); err == nil {
		t.Errorf("Expected the file lock to reject a second writable open")
	}
}
