package maple

import (
	"github.com/ValentinKolb/rKV/lib/db"
	dbtesting "github.com/ValentinKolb/rKV/lib/db/testing"
	"testing"
)

func Test(t *testing.T) {
	dbtesting.RunBackendTests(t, "Maple", func() db.Backend {
		return NewBackend(nil)
	})
	dbtesting.RunBackendTests(t, "MapleInMemory", func() db.Backend {
		return NewBackend(&DBOptions{InMemory: true})
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunBackendBenchmarks(b, "MapleInMemory", func() db.Backend {
		return NewBackend(&DBOptions{InMemory: true})
	})
}
