package store

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/db"
	"reflect"
	"strconv"
	"testing"
	"time"
)

func formatValues(values []codec.Value) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = codec.Format(v)
	}
	return out
}

func TestMultiStoreValues(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)
		s, err := OpenMulti[string](env, "multi", nil)
		if err != nil {
			t.Fatalf("OpenMulti failed: %v", err)
		}

		mustUpdate(t, env, func(txn *WriteTxn) error {
			for _, v := range []codec.U64{3, 1, 2, 2} {
				if err := s.Put(txn, "a", v); err != nil {
					return err
				}
			}
			return s.Put(txn, "b", codec.U64(9))
		})

		expected := []codec.Value{codec.U64(1), codec.U64(2), codec.U64(3)}
		mustView(t, env, func(txn *ReadTxn) error {
			values, err := s.GetAll(txn, "a")
			if err != nil {
				return err
			}
			if !reflect.DeepEqual(formatValues(values), formatValues(expected)) {
				t.Errorf("Expected %v, got %v", formatValues(expected), formatValues(values))
			}
			// Get returns the smallest value
			v, ok, err := s.Get(txn, "a")
			expectValue(t, v, ok, err, codec.U64(1))
			return nil
		})

		mustUpdate(t, env, func(txn *WriteTxn) error {
			return s.DeleteValue(txn, "a", codec.U64(2))
		})

		expected = []codec.Value{codec.U64(1), codec.U64(3)}
		mustView(t, env, func(txn *ReadTxn) error {
			values, err := s.GetAll(txn, "a")
			if err != nil {
				return err
			}
			if !reflect.DeepEqual(formatValues(values), formatValues(expected)) {
				t.Errorf("Expected %v after delete, got %v", formatValues(expected), formatValues(values))
			}
			values, err = s.GetAll(txn, "b")
			if err != nil {
				return err
			}
			if len(values) != 1 {
				t.Errorf("Expected one value under b, got %v", formatValues(values))
			}
			values, err = s.GetAll(txn, "missing")
			if err != nil || len(values) != 0 {
				t.Errorf("Expected no values for a missing key, got %v (%v)", formatValues(values), err)
			}
			return nil
		})

		mustUpdate(t, env, func(txn *WriteTxn) error {
			if err := s.DeleteValue(txn, "a", codec.U64(2)); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound for a missing pair, got %v", err)
			}
			if err := s.PutWithFlags(txn, "a", codec.U64(1), NoDupData); CodeOf(err) != RetCKeyExists {
				t.Errorf("Expected KeyExists for an existing pair, got %v", err)
			}
			if err := s.PutWithFlags(txn, "a", codec.U64(5), NoDupData); err != nil {
				t.Errorf("PutWithFlags failed: %v", err)
			}
			// removing every value removes the key
			for _, v := range []codec.U64{1, 3, 5} {
				if err := s.DeleteValue(txn, "a", v); err != nil {
					return err
				}
			}
			return nil
		})
		mustView(t, env, func(txn *ReadTxn) error {
			v, ok, err := s.Get(txn, "a")
			expectMissing(t, v, ok, err)
			return nil
		})
	})
}

func TestIntegerKeyOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)

		s64, err := OpenInteger[uint64](env, "u64", nil)
		if err != nil {
			t.Fatalf("OpenInteger failed: %v", err)
		}
		s32, err := OpenInteger[uint32](env, "u32", nil)
		if err != nil {
			t.Fatalf("OpenInteger failed: %v", err)
		}

		keys := []uint64{2, 10, 1, 256, 1 << 40}
		mustUpdate(t, env, func(txn *WriteTxn) error {
			for _, k := range keys {
				if err := s64.Put(txn, k, codec.Str(fmt.Sprint(k))); err != nil {
					return err
				}
				if k <= 1<<32-1 {
					if err := s32.Put(txn, uint32(k), codec.U64(k)); err != nil {
						return err
					}
				}
			}
			return nil
		})

		mustView(t, env, func(txn *ReadTxn) error {
			var got []uint64
			err := s64.Iterate(txn, nil, func(k uint64, v codec.Value) error {
				got = append(got, k)
				if codec.Format(v) != codec.Format(codec.Str(fmt.Sprint(k))) {
					t.Errorf("Key %d has value %s", k, codec.Format(v))
				}
				return nil
			})
			if err != nil {
				return err
			}
			if expected := []uint64{1, 2, 10, 256, 1 << 40}; !reflect.DeepEqual(got, expected) {
				t.Errorf("Expected %v, got %v", expected, got)
			}

			var got32 []uint32
			err = s32.Iterate(txn, nil, func(k uint32, _ codec.Value) error {
				got32 = append(got32, k)
				return nil
			})
			if err != nil {
				return err
			}
			if expected := []uint32{1, 2, 10, 256}; !reflect.DeepEqual(got32, expected) {
				t.Errorf("Expected %v, got %v", expected, got32)
			}

			// iteration from a key in the middle
			from := uint64(3)
			got = got[:0]
			err = s64.Iterate(txn, &from, func(k uint64, _ codec.Value) error {
				got = append(got, k)
				return nil
			})
			if err != nil {
				return err
			}
			if expected := []uint64{10, 256, 1 << 40}; !reflect.DeepEqual(got, expected) {
				t.Errorf("Expected %v from 3, got %v", expected, got)
			}
			return nil
		})
	})
}

func TestMultiIntegerStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)
		s, err := OpenMultiInteger[uint64](env, "events", nil)
		if err != nil {
			t.Fatalf("OpenMultiInteger failed: %v", err)
		}

		mustUpdate(t, env, func(txn *WriteTxn) error {
			for _, k := range []uint64{300, 2, 1} {
				for _, v := range []string{"y", "x"} {
					if err := s.Put(txn, k, codec.Str(fmt.Sprintf("%d%s", k, v))); err != nil {
						return err
					}
				}
			}
			return nil
		})

		mustView(t, env, func(txn *ReadTxn) error {
			var got []string
			err := s.Iterate(txn, nil, func(k uint64, v codec.Value) error {
				str, err := codec.As[codec.Str](v)
				if err != nil {
					return err
				}
				got = append(got, string(str))
				return nil
			})
			if err != nil {
				return err
			}
			expected := []string{"1x", "1y", "2x", "2y", "300x", "300y"}
			if !reflect.DeepEqual(got, expected) {
				t.Errorf("Expected %v, got %v", expected, got)
			}
			return nil
		})
	})
}

func TestUnexpectedType(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)
		s, err := env.OpenStore("s", KindSingle, nil)
		if err != nil {
			t.Fatalf("OpenStore failed: %v", err)
		}
		mustUpdate(t, env, func(txn *WriteTxn) error {
			return s.Put(txn, []byte("k"), codec.Str("text"))
		})

		mustView(t, env, func(txn *ReadTxn) error {
			_, ok, err := GetAs[codec.U64](txn, s, []byte("k"))
			if !errors.Is(err, ErrUnexpectedType) || !errors.Is(err, codec.ErrUnexpectedType) {
				t.Errorf("Expected ErrUnexpectedType, got %v", err)
			}
			if errors.Is(err, ErrNotFound) {
				t.Errorf("A type mismatch must not be reported as not found")
			}
			if ok {
				t.Errorf("Expected ok=false on a type mismatch")
			}

			_, ok, err = GetAs[codec.U64](txn, s, []byte("missing"))
			if err != nil || ok {
				t.Errorf("Expected (false, nil) for a missing key, got (%t, %v)", ok, err)
			}

			if _, err := s.MustGet(txn, []byte("missing")); !errors.Is(err, ErrNotFound) || !IsNotFound(err) {
				t.Errorf("Expected ErrNotFound from MustGet, got %v", err)
			}

			str, ok, err := GetAs[codec.Str](txn, s, []byte("k"))
			if err != nil || !ok || str != "text" {
				t.Errorf("Expected text, got %q (%t, %v)", str, ok, err)
			}
			return nil
		})
	})
}

func TestDecodingError(t *testing.T) {
	env := openTestEnv(t, db.ImplBolt)
	s, err := env.OpenStore("s", KindSingle, nil)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}

	// write bytes that are not a tagged value
	txn, err := env.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite failed: %v", err)
	}
	if err := txn.w.Put(s.dbi, []byte("k"), []byte{0xee, 1, 2}, 0); err != nil {
		t.Fatalf("Raw put failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	mustView(t, env, func(txn *ReadTxn) error {
		if _, _, err := s.Get(txn, []byte("k")); !errors.Is(err, ErrDecoding) {
			t.Errorf("Expected ErrDecoding, got %v", err)
		}
		return nil
	})

	mustUpdate(t, env, func(txn *WriteTxn) error {
		if err := s.Put(txn, []byte("bad"), codec.Str("\xff")); !errors.Is(err, ErrEncoding) {
			t.Errorf("Expected ErrEncoding for invalid UTF-8, got %v", err)
		}
		return nil
	})
}

func TestSingleStoreOperations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)
		s, err := OpenSingle[string](env, "s", nil)
		if err != nil {
			t.Fatalf("OpenSingle failed: %v", err)
		}
		now := codec.InstantOf(time.UnixMilli(1700000000000))
		id := codec.NewUUID()

		values := map[string]codec.Value{
			"bool":    codec.Bool(true),
			"u64":     codec.U64(42),
			"i64":     codec.I64(-42),
			"f64":     codec.F64(3.5),
			"instant": now,
			"uuid":    id,
			"str":     codec.Str("hello"),
			"json":    codec.JSON(`{"a":1}`),
			"blob":    codec.Blob{0, 1, 2},
			"map":     codec.Map{"n": codec.U64(1)},
		}
		mustUpdate(t, env, func(txn *WriteTxn) error {
			for k, v := range values {
				if err := s.Put(txn, k, v); err != nil {
					return err
				}
			}
			// overwrite
			return s.Put(txn, "u64", codec.U64(43))
		})
		values["u64"] = codec.U64(43)

		mustView(t, env, func(txn *ReadTxn) error {
			for k, expected := range values {
				v, ok, err := s.Get(txn, k)
				expectValue(t, v, ok, err, expected)
			}
			return nil
		})

		mustUpdate(t, env, func(txn *WriteTxn) error {
			if err := s.Store().PutWithFlags(txn, []byte("str"), codec.Str("x"), NoOverwrite); CodeOf(err) != RetCKeyExists {
				t.Errorf("Expected KeyExists with NoOverwrite, got %v", err)
			}
			if err := s.Store().PutWithFlags(txn, []byte("str"), codec.Str("x"), NoDupData); !errors.Is(err, ErrInvalidOperation) {
				t.Errorf("Expected ErrInvalidOperation for NoDupData, got %v", err)
			}
			if err := s.Store().DeleteValue(txn, []byte("str"), codec.Str("hello")); !errors.Is(err, ErrInvalidOperation) {
				t.Errorf("Expected ErrInvalidOperation for DeleteValue, got %v", err)
			}
			if err := s.Delete(txn, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound deleting a missing key, got %v", err)
			}
			return s.Delete(txn, "str")
		})

		mustView(t, env, func(txn *ReadTxn) error {
			v, ok, err := s.Get(txn, "str")
			expectMissing(t, v, ok, err)
			return nil
		})

		mustUpdate(t, env, func(txn *WriteTxn) error {
			return s.Clear(txn)
		})
		mustView(t, env, func(txn *ReadTxn) error {
			stat, err := s.Stat(txn)
			if err != nil {
				return err
			}
			if stat.Entries != 0 {
				t.Errorf("Expected an empty store after Clear, got %d entries", stat.Entries)
			}
			return nil
		})

		// the store survives Clear
		mustUpdate(t, env, func(txn *WriteTxn) error {
			return s.Put(txn, "again", codec.Bool(false))
		})
	})
}

func TestIterateStop(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)
		s, err := OpenSingle[string](env, "s", nil)
		if err != nil {
			t.Fatalf("OpenSingle failed: %v", err)
		}
		mustUpdate(t, env, func(txn *WriteTxn) error {
			for _, k := range []string{"d", "b", "a", "c"} {
				if err := s.Put(txn, k, codec.Str(k)); err != nil {
					return err
				}
			}
			return nil
		})

		mustView(t, env, func(txn *ReadTxn) error {
			var got []string
			err := s.Iterate(txn, nil, func(k string, _ codec.Value) error {
				got = append(got, k)
				if k == "b" {
					return ErrStopIteration
				}
				return nil
			})
			if err != nil {
				t.Errorf("ErrStopIteration must end the iteration without error, got %v", err)
			}
			if !reflect.DeepEqual(got, []string{"a", "b"}) {
				t.Errorf("Expected [a b], got %v", got)
			}

			boom := errors.New("boom")
			err = s.Iterate(txn, nil, func(string, codec.Value) error { return boom })
			if !errors.Is(err, boom) {
				t.Errorf("Expected the error of fn, got %v", err)
			}

			from := "bb"
			got = got[:0]
			err = s.Iterate(txn, &from, func(k string, _ codec.Value) error {
				got = append(got, k)
				return nil
			})
			if err != nil {
				return err
			}
			if !reflect.DeepEqual(got, []string{"c", "d"}) {
				t.Errorf("Expected [c d], got %v", got)
			}
			return nil
		})
	})
}

func TestMapFull(t *testing.T) {
	cfg := testConfig(db.ImplBolt)
	cfg.MapSize = 1 << 20
	env := openTestEnvConfig(t, cfg)
	s, err := OpenInteger[uint64](env, "s", nil)
	if err != nil {
		t.Fatalf("OpenInteger failed: %v", err)
	}

	err = env.Update(func(txn *WriteTxn) error {
		payload := make(codec.Blob, 4096)
		for i := uint64(0); i < 1024; i++ {
			if err := s.Put(txn, i, payload); err != nil {
				return err
			}
		}
		return nil
	})
	if !errors.Is(err, ErrWriteTxnUnavailable) || !errors.Is(err, db.ErrMapFull) {
		t.Errorf("Expected ErrWriteTxnUnavailable wrapping ErrMapFull, got %v", err)
	}

	// the failed transaction applied nothing and released the writer
	mustView(t, env, func(txn *ReadTxn) error {
		stat, err := s.Stat(txn)
		if err != nil {
			return err
		}
		if stat.Entries != 0 {
			t.Errorf("Expected no entries, got %d", stat.Entries)
		}
		return nil
	})
	txn, err := env.TryBeginWrite()
	if err != nil {
		t.Fatalf("TryBeginWrite failed: %v", err)
	}
	txn.Abort()
}

func TestMapSizeOverwrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		cfg := testConfig(impl)
		cfg.MapSize = 1 << 20
		env := openTestEnvConfig(t, cfg)
		s, err := OpenSingle[string](env, "s", nil)
		if err != nil {
			t.Fatalf("OpenSingle failed: %v", err)
		}

		payload := make(codec.Blob, 1024)
		mustUpdate(t, env, func(txn *WriteTxn) error {
			for i := 0; i < 2000; i++ {
				if err := s.Put(txn, "same-key", payload); err != nil {
					return fmt.Errorf("put #%d: %w", i, err)
				}
			}
			for i := 0; i < 1000; i++ {
				key := "tmp-" + strconv.Itoa(i)
				if err := s.Put(txn, key, payload); err != nil {
					return fmt.Errorf("put %s: %w", key, err)
				}
				if err := s.Delete(txn, key); err != nil {
					return fmt.Errorf("delete %s: %w", key, err)
				}
			}
			return nil
		})

		mustView(t, env, func(txn *ReadTxn) error {
			v, ok, err := s.Get(txn, "same-key")
			expectValue(t, v, ok, err, payload)
			stat, err := s.Stat(txn)
			if err != nil {
				return err
			}
			if stat.Entries != 1 {
				t.Errorf("Expected 1 entry, got %d", stat.Entries)
			}
			return nil
		})
	})
}
