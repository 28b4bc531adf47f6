//go:build mdbx

package mdbx

import (
	"encoding/binary"
	"errors"
	"github.com/ValentinKolb/rKV/lib/db"
	"os"
	"path/filepath"
	"testing"
)

func TestFiles(t *testing.T) {
	path := t.TempDir()
	env, err := NewBackend(nil).Open(path, db.EnvOptions{MapSize: 16 << 20})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	for _, name := range []string{DataFile, LockFile} {
		if _, err := os.Stat(filepath.Join(path, name)); err != nil {
			t.Errorf("Expected %s: %v", name, err)
		}
	}
}

func TestListDBs(t *testing.T) {
	env, err := NewBackend(nil).Open(t.TempDir(), db.EnvOptions{MapSize: 16 << 20})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	if _, err := env.OpenDB("plain", db.FlagCreate); err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	if _, err := env.OpenDB("ints", db.FlagCreate|db.FlagDupSort|db.FlagIntegerKey); err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}

	dbs, err := env.ListDBs()
	if err != nil {
		t.Fatalf("ListDBs failed: %v", err)
	}
	if len(dbs) != 2 {
		t.Fatalf("Expected 2 databases, got %+v", dbs)
	}
	if dbs[0].Name != "ints" || dbs[0].Flags != db.FlagDupSort|db.FlagIntegerKey {
		t.Errorf("Unexpected entry %+v", dbs[0])
	}
	if dbs[1].Name != "plain" || dbs[1].Flags != 0 {
		t.Errorf("Unexpected entry %+v", dbs[1])
	}
}

func TestEmptyKey(t *testing.T) {
	env, err := NewBackend(nil).Open(t.TempDir(), db.EnvOptions{MapSize: 16 << 20})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()
	dbi, err := env.OpenDB("plain", db.FlagCreate)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	txn, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	defer txn.Abort()
	if err := txn.Put(dbi, nil, []byte("v"), 0); !errors.Is(err, db.ErrBadValSize) {
		t.Errorf("Expected ErrBadValSize, got %v", err)
	}
}

func TestIntegerKeyFlagsPersisted(t *testing.T) {
	path := t.TempDir()
	opts := db.EnvOptions{MapSize: 16 << 20}
	env, err := NewBackend(nil).Open(path, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	dbi, err := env.OpenDB("ints", db.FlagCreate|db.FlagIntegerKey)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	txn, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	for _, k := range []uint64{2, 10, 1} {
		key := make([]byte, 8)
		binary.NativeEndian.PutUint64(key, k)
		if err := txn.Put(dbi, key, []byte("v"), 0); err != nil {
			t.Fatalf("Put(%d) failed: %v", k, err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	env, err = NewBackend(nil).Open(path, opts)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer env.Close()

	if _, err := env.OpenDB("ints", db.FlagCreate); !errors.Is(err, db.ErrIncompatible) {
		t.Errorf("Expected ErrIncompatible without FlagIntegerKey, got %v", err)
	}
	dbi, err = env.OpenDB("ints", db.FlagIntegerKey)
	if err != nil {
		t.Fatalf("OpenDB after reopen failed: %v", err)
	}

	rtxn, err := env.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead failed: %v", err)
	}
	defer rtxn.Abort()
	cur, err := rtxn.Cursor(dbi)
	if err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}
	defer cur.Close()

	var got []uint64
	k, _, err := cur.Get(nil, nil, db.OpFirst)
	for err == nil {
		got = append(got, binary.NativeEndian.Uint64(k))
		k, _, err = cur.Get(nil, nil, db.OpNext)
	}
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("Cursor walk failed: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 10 {
		t.Errorf("Expected keys [1 2 10], got %v", got)
	}

	dbs, err := env.ListDBs()
	if err != nil {
		t.Fatalf("ListDBs failed: %v", err)
	}
	if len(dbs) != 1 || dbs[0].Name != "ints" || dbs[0].Flags != db.FlagIntegerKey {
		t.Errorf("Unexpected databases %+v", dbs)
	}
}
