package store

import (
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/db"
	"math"
)

// --------------------------------------------------------------------------
// Store Analysis
// --------------------------------------------------------------------------

// SizeStats summarizes a distribution of encoded sizes in bytes
type SizeStats struct {
	Min          int     `json:"min"`
	Max          int     `json:"max"`
	Mean         float64 `json:"mean"`
	StdDeviation float64 `json:"std_deviation"`
	Median       int     `json:"median"` // estimated from the histogram
	P99          int     `json:"p99"`    // estimated from the histogram
}

// Analysis describes the content of a store as seen by one transaction
type Analysis struct {
	Store   string               `json:"store"`
	Kind    Kind                 `json:"kind"`
	Entries uint64               `json:"entries"`
	Keys    uint64               `json:"keys"` // distinct keys
	KeySize SizeStats            `json:"key_size"`
	ValSize SizeStats            `json:"value_size"`
	Tags    map[codec.Tag]uint64 `json:"tags"`    // entries per value type
	Invalid uint64               `json:"invalid"` // entries that do not decode
}

// Analyze scans every entry of s. Values are only inspected for their tag,
// entries whose encoding is broken are counted instead of failing the scan.
func Analyze(txn Txn, s *Store) (Analysis, error) {
	a := Analysis{Store: s.name, Kind: s.kind, Tags: make(map[codec.Tag]uint64)}
	raw, err := s.read(txn)
	if err != nil {
		return a, err
	}
	cur, err := raw.Cursor(s.dbi)
	if err != nil {
		return a, backendError("analyze", err)
	}
	defer cur.Close()

	keys, vals := newSizeHistogram(), newSizeHistogram()
	var last []byte
	k, v, err := cur.Get(nil, nil, db.OpFirst)
	for ; err == nil; k, v, err = cur.Get(nil, nil, db.OpNext) {
		a.Entries++
		if last == nil || string(k) != string(last) {
			a.Keys++
			keys.add(len(k))
			last = append(last[:0], k...)
		}
		vals.add(len(v))
		if tag, terr := codec.TagOf(v); terr == nil {
			a.Tags[tag]++
		} else {
			a.Invalid++
		}
	}
	if !IsNotFound(err) {
		return a, backendError("analyze", err)
	}
	a.KeySize = keys.stats()
	a.ValSize = vals.stats()
	return a, nil
}

// sizeHistogram counts sizes in exponential buckets from 16 bytes to 4 GiB
// and keeps the running moments for the exact statistics
type sizeHistogram struct {
	boundaries []int
	buckets    []uint64 // one more than boundaries for larger sizes
	count      uint64
	sum        float64
	sumSq      float64
	min, max   int
}

func newSizeHistogram() *sizeHistogram {
	boundaries := []int{
		16, 64, 256, 1 << 10, 4 << 10,
		16 << 10, 64 << 10, 256 << 10, 1 << 20,
		4 << 20, 16 << 20, 64 << 20,
		256 << 20, 1 << 30, 4 << 30,
	}
	return &sizeHistogram{
		boundaries: boundaries,
		buckets:    make([]uint64, len(boundaries)+1),
		min:        math.MaxInt,
	}
}

func (h *sizeHistogram) add(size int) {
	i := 0
	for i < len(h.boundaries) && size > h.boundaries[i] {
		i++
	}
	h.buckets[i]++
	h.count++
	h.sum += float64(size)
	h.sumSq += float64(size) * float64(size)
	h.min = min(h.min, size)
	h.max = max(h.max, size)
}

// percentile estimates the p-th percentile (0-100) as the middle of its bucket
func (h *sizeHistogram) percentile(p float64) int {
	if h.count == 0 {
		return 0
	}
	target := uint64(math.Ceil(float64(h.count) * p / 100))
	var cumulative uint64
	for i, n := range h.buckets {
		cumulative += n
		if cumulative < target {
			continue
		}
		switch {
		case i == 0:
			return h.boundaries[0] / 2
		case i < len(h.boundaries):
			return (h.boundaries[i-1] + h.boundaries[i]) / 2
		default:
			return h.boundaries[len(h.boundaries)-1] * 2
		}
	}
	return h.max
}

func (h *sizeHistogram) stats() SizeStats {
	if h.count == 0 {
		return SizeStats{}
	}
	mean := h.sum / float64(h.count)
	variance := math.Max(h.sumSq/float64(h.count)-mean*mean, 0)
	return SizeStats{
		Min:          h.min,
		Max:          h.max,
		Mean:         mean,
		StdDeviation: math.Sqrt(variance),
		Median:       h.percentile(50),
		P99:          h.percentile(99),
	}
}
