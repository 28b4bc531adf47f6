package store

import (
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/db"
	"testing"
)

func TestAnalyze(t *testing.T) {
	forEachBackend(t, func(t *testing.T, impl db.Implementation) {
		env := openTestEnv(t, impl)
		s, err := OpenMulti[string](env, "s", nil)
		if err != nil {
			t.Fatalf("OpenMulti failed: %v", err)
		}
		mustUpdate(t, env, func(txn *WriteTxn) error {
			for _, v := range []codec.Value{codec.U64(1), codec.U64(2), codec.Str("x")} {
				if err := s.Put(txn, "a", v); err != nil {
					return err
				}
			}
			return s.Put(txn, "bb", codec.Blob(make([]byte, 1000)))
		})

		mustView(t, env, func(txn *ReadTxn) error {
			a, err := Analyze(txn, s.Store())
			if err != nil {
				return err
			}
			if a.Entries != 4 || a.Keys != 2 {
				t.Errorf("Expected 4 entries under 2 keys, got %d under %d", a.Entries, a.Keys)
			}
			if a.Tags[codec.TagU64] != 2 || a.Tags[codec.TagStr] != 1 || a.Tags[codec.TagBlob] != 1 {
				t.Errorf("Unexpected tag counts %v", a.Tags)
			}
			if a.Invalid != 0 {
				t.Errorf("Expected no invalid entries, got %d", a.Invalid)
			}
			if a.KeySize.Min != 1 || a.KeySize.Max != 2 {
				t.Errorf("Unexpected key sizes %+v", a.KeySize)
			}
			if a.ValSize.Max < 1000 || a.ValSize.P99 < 256 {
				t.Errorf("Unexpected value sizes %+v", a.ValSize)
			}
			return nil
		})
	})
}

func TestSizeHistogram(t *testing.T) {
	h := newSizeHistogram()
	if s := h.stats(); s != (SizeStats{}) {
		t.Errorf("Expected zero stats for an empty histogram, got %+v", s)
	}
	for i := 0; i < 99; i++ {
		h.add(10)
	}
	h.add(5000)

	s := h.stats()
	if s.Min != 10 || s.Max != 5000 {
		t.Errorf("Unexpected bounds %+v", s)
	}
	if s.Median != 8 {
		t.Errorf("Expected the median in the first bucket, got %d", s.Median)
	}
	if s.P99 != 8 {
		t.Errorf("Expected p99 in the first bucket, got %d", s.P99)
	}
	if p := h.percentile(100); p != (4096+16384)/2 {
		t.Errorf("Expected p100 in the 16KiB bucket, got %d", p)
	}
}
