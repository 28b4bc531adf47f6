package store

import (
	"errors"
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/db"
	"testing"
)

type cursorMove struct {
	name string
	move func() ([]byte, codec.Value, bool, error)
	key  string // "" expects ok=false
	val  codec.Value
}

func runMoves(t *testing.T, moves []cursorMove) {
	t.Helper()
	for i, m := range moves {
		k, v, ok, err := m.move()
		if err != nil {
			t.Fatalf("Step %d (%s) failed: %v", i, m.name, err)
		}
		if m.key == "" {
			if ok {
				t.Errorf("Step %d (%s): expected no entry, got %q", i, m.name, k)
			}
			continue
		}
		if !ok {
			t.Errorf("Step %d (%s): expected %q, got no entry", i, m.name, m.key)
			continue
		}
		if string(k) != m.key {
			t.Errorf("Step %d (%s): expected key %q, got %q", i, m.name, m.key, k)
		}
		if m.val != nil && codec.Format(v) != codec.Format(m.val) {
			t.Errorf("Step %d (%s): expected %s, got %s", i, m.name, codec.Format(m.val), codec.Format(v))
		}
	}
}

func TestCursorExhaustion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)
		s, err := env.OpenStore("s", KindSingle, nil)
		if err != nil {
			t.Fatalf("OpenStore failed: %v", err)
		}
		mustUpdate(t, env, func(txn *WriteTxn) error {
			for _, k := range []string{"c", "a", "b"} {
				if err := s.Put(txn, []byte(k), codec.Str(k)); err != nil {
					return err
				}
			}
			return nil
		})

		txn, err := env.BeginRead()
		if err != nil {
			t.Fatalf("BeginRead failed: %v", err)
		}
		defer txn.Abort()

		cur, err := s.OpenCursor(txn)
		if err != nil {
			t.Fatalf("OpenCursor failed: %v", err)
		}
		defer cur.Close()

		runMoves(t, []cursorMove{
			{"Next", cur.Next, "a", codec.Str("a")},
			{"Next", cur.Next, "b", codec.Str("b")},
			{"Next", cur.Next, "c", codec.Str("c")},
			{"Next", cur.Next, "", nil},
			{"Next", cur.Next, "", nil},
			{"Prev", cur.Prev, "c", nil},
			{"Prev", cur.Prev, "b", nil},
			{"Prev", cur.Prev, "a", nil},
			{"Prev", cur.Prev, "", nil},
			{"Prev", cur.Prev, "", nil},
			{"Next", cur.Next, "a", nil},
			{"Last", cur.Last, "c", nil},
			{"First", cur.First, "a", nil},
		})

		seek := func(key string) func() ([]byte, codec.Value, bool, error) {
			return func() ([]byte, codec.Value, bool, error) { return cur.Seek([]byte(key)) }
		}
		runMoves(t, []cursorMove{
			{"Seek bb", seek("bb"), "c", nil},
			{"Seek b", seek("b"), "b", nil},
			{"Seek z", seek("z"), "", nil},
			{"Next", cur.Next, "", nil},
			{"Prev", cur.Prev, "c", nil},
		})

		// a fresh cursor moving backwards starts at the end
		back, err := s.OpenCursor(txn)
		if err != nil {
			t.Fatalf("OpenCursor failed: %v", err)
		}
		defer back.Close()
		runMoves(t, []cursorMove{
			{"Prev", back.Prev, "c", nil},
		})
	})
}

func TestCursorEmptyStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)
		s, err := env.OpenStore("empty", KindDupSort, nil)
		if err != nil {
			t.Fatalf("OpenStore failed: %v", err)
		}
		mustView(t, env, func(txn *ReadTxn) error {
			cur, err := s.OpenCursor(txn)
			if err != nil {
				return err
			}
			defer cur.Close()
			runMoves(t, []cursorMove{
				{"First", cur.First, "", nil},
				{"Last", cur.Last, "", nil},
				{"Next", cur.Next, "", nil},
				{"Prev", cur.Prev, "", nil},
				{"NextDup", cur.NextDup, "", nil},
				{"NextNoDup", cur.NextNoDup, "", nil},
			})
			return nil
		})
	})
}

func TestCursorDuplicates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)
		s, err := env.OpenStore("multi", KindDupSort, nil)
		if err != nil {
			t.Fatalf("OpenStore failed: %v", err)
		}
		mustUpdate(t, env, func(txn *WriteTxn) error {
			for _, v := range []codec.U64{2, 3, 1} {
				if err := s.Put(txn, []byte("a"), v); err != nil {
					return err
				}
			}
			return s.Put(txn, []byte("b"), codec.U64(4))
		})

		mustView(t, env, func(txn *ReadTxn) error {
			cur, err := s.OpenCursor(txn)
			if err != nil {
				return err
			}
			defer cur.Close()

			runMoves(t, []cursorMove{
				// duplicate moves need a position
				{"NextDup", cur.NextDup, "", nil},
				{"First", cur.First, "a", codec.U64(1)},
				{"NextDup", cur.NextDup, "a", codec.U64(2)},
				{"NextDup", cur.NextDup, "a", codec.U64(3)},
				{"NextDup", cur.NextDup, "", nil},
				{"PrevDup", cur.PrevDup, "a", codec.U64(2)},
				{"LastDup", cur.LastDup, "a", codec.U64(3)},
				{"FirstDup", cur.FirstDup, "a", codec.U64(1)},
				{"PrevDup", cur.PrevDup, "", nil},
				{"NextNoDup", cur.NextNoDup, "b", codec.U64(4)},
				{"NextDup", cur.NextDup, "", nil},
				{"NextNoDup", cur.NextNoDup, "", nil},
				{"Prev", cur.Prev, "b", codec.U64(4)},
				{"Prev", cur.Prev, "a", codec.U64(3)},
			})
			return nil
		})
	})
}

func TestCursorErrors(t *testing.T) {
	env := openTestEnv(t, db.ImplMaple)
	s, err := env.OpenStore("s", KindSingle, nil)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	mustUpdate(t, env, func(txn *WriteTxn) error {
		return s.Put(txn, []byte("k"), codec.Bool(true))
	})

	txn, err := env.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead failed: %v", err)
	}
	cur, err := s.OpenCursor(txn)
	if err != nil {
		t.Fatalf("OpenCursor failed: %v", err)
	}
	if _, _, _, err := cur.NextDup(); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Expected ErrInvalidOperation for NextDup on a single store, got %v", err)
	}
	if _, _, _, err := cur.NextNoDup(); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Expected ErrInvalidOperation for NextNoDup on a single store, got %v", err)
	}

	txn.Abort()
	if _, _, _, err := cur.First(); !errors.Is(err, ErrTransactionFinished) {
		t.Errorf("Expected ErrTransactionFinished after the transaction ended, got %v", err)
	}

	txn, err = env.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead failed: %v", err)
	}
	defer txn.Abort()
	cur, err = s.OpenCursor(txn)
	if err != nil {
		t.Fatalf("OpenCursor failed: %v", err)
	}
	cur.Close()
	cur.Close()
	if _, _, _, err := cur.Next(); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Expected ErrInvalidOperation on a closed cursor, got %v", err)
	}
}

func TestKeyCursor(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)
		s, err := OpenMultiInteger[uint32](env, "s", nil)
		if err != nil {
			t.Fatalf("OpenMultiInteger failed: %v", err)
		}
		mustUpdate(t, env, func(txn *WriteTxn) error {
			for _, k := range []uint32{1000, 7, 70} {
				if err := s.Put(txn, k, codec.U64(k)); err != nil {
					return err
				}
				if err := s.Put(txn, k, codec.U64(k+1)); err != nil {
					return err
				}
			}
			return nil
		})

		mustView(t, env, func(txn *ReadTxn) error {
			cur, err := s.OpenCursor(txn)
			if err != nil {
				return err
			}
			defer cur.Close()

			var keys []uint32
			for k, _, ok, err := cur.First(); ok; k, _, ok, err = cur.NextNoDup() {
				if err != nil {
					return err
				}
				keys = append(keys, k)
			}
			if len(keys) != 3 || keys[0] != 7 || keys[1] != 70 || keys[2] != 1000 {
				t.Errorf("Expected [7 70 1000], got %v", keys)
			}

			k, v, ok, err := cur.Seek(8)
			if err != nil || !ok || k != 70 {
				t.Fatalf("Expected Seek(8) to find 70, got %d (%t, %v)", k, ok, err)
			}
			expectValue(t, v, ok, err, codec.U64(70))
			k, v, ok, err = cur.LastDup()
			if k != 70 {
				t.Errorf("Expected key 70, got %d", k)
			}
			expectValue(t, v, ok, err, codec.U64(71))

			k, _, ok, err = cur.Prev()
			if err != nil || !ok || k != 70 {
				t.Errorf("Expected Prev to reach the first value of 70, got %d (%t, %v)", k, ok, err)
			}
			k, _, ok, err = cur.Last()
			if err != nil || !ok || k != 1000 {
				t.Errorf("Expected Last to be 1000, got %d (%t, %v)", k, ok, err)
			}
			return nil
		})
	})
}

func TestCursorDecodingErrorKeepsPosition(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)
		s, err := env.OpenStore("s", KindSingle, nil)
		if err != nil {
			t.Fatalf("OpenStore failed: %v", err)
		}

		// b holds bytes that are not a tagged value
		txn, err := env.BeginWrite()
		if err != nil {
			t.Fatalf("BeginWrite failed: %v", err)
		}
		for _, k := range []string{"a", "c"} {
			if err := s.Put(txn, []byte(k), codec.Str(k)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		if err := txn.w.Put(s.dbi, []byte("b"), []byte{0xee, 1, 2}, 0); err != nil {
			t.Fatalf("Raw put failed: %v", err)
		}
		if err := txn.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		rtxn, err := env.BeginRead()
		if err != nil {
			t.Fatalf("BeginRead failed: %v", err)
		}
		defer rtxn.Abort()
		cur, err := s.OpenCursor(rtxn)
		if err != nil {
			t.Fatalf("OpenCursor failed: %v", err)
		}
		defer cur.Close()

		// leave the cursor past the end, then land on the undecodable entry
		if _, _, ok, err := cur.Seek([]byte("z")); ok || err != nil {
			t.Fatalf("Expected no entry after z, got ok=%v err=%v", ok, err)
		}
		if _, _, _, err := cur.Seek([]byte("b")); !errors.Is(err, ErrDecoding) {
			t.Fatalf("Expected ErrDecoding, got %v", err)
		}
		runMoves(t, []cursorMove{
			{"Next", cur.Next, "c", codec.Str("c")},
		})

		if _, _, ok, err := cur.Next(); ok || err != nil {
			t.Fatalf("Expected no entry after c, got ok=%v err=%v", ok, err)
		}
		if _, _, _, err := cur.Seek([]byte("b")); !errors.Is(err, ErrDecoding) {
			t.Fatalf("Expected ErrDecoding, got %v", err)
		}
		runMoves(t, []cursorMove{
			{"Prev", cur.Prev, "a", codec.Str("a")},
		})
	})
}
