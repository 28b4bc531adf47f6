package kv

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for rKV environments",
		Long:    "Runs benchmarks against a scratch store of the environment. The store is cleared afterwards.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfStoreName        = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfBatchSize        = 100
	perfSkip             = make([]string, 0)
)

// perfTest is one benchmark of the perf command
type perfTest struct {
	name    string
	prepare bool // write every key before the timer starts
	op      func(s *store.SingleStore[string], key string) error
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "batch"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many puts the put-batch test commits at once"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

// processPerfConfig reads the perf flags, which may also come from RKV_ variables
func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	perfLargeValueSizeKB = max(viper.GetInt("large-value-size"), 0)
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfBatchSize = max(viper.GetInt("batch"), 1)
	perfSkip = perfSkip[:0]
	for _, name := range strings.Split(viper.GetString("skip"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			perfSkip = append(perfSkip, name)
		}
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Printf("rKV perf on %s (store %s)\n\n", env.Path(), perfStoreName)
	fmt.Println(util.GetConfig().String())
	fmt.Printf("goroutines per test: %d, keys: %d, batch: %d\n\n", perfNumThreads, perfKeySpread, perfBatchSize)

	s, err := store.OpenSingle[string](env, perfStoreName, nil)
	if err != nil {
		return err
	}

	largeValue := codec.Blob(make([]byte, perfLargeValueSizeKB*1024))
	tests := []perfTest{
		{name: "put", op: func(s *store.SingleStore[string], key string) error {
			return env.Update(func(txn *store.WriteTxn) error {
				return s.Put(txn, key, codec.Str("test"))
			})
		}},
		{name: "put-large", op: func(s *store.SingleStore[string], key string) error {
			return env.Update(func(txn *store.WriteTxn) error {
				return s.Put(txn, key, largeValue)
			})
		}},
		{name: "put-batch", op: func(s *store.SingleStore[string], key string) error {
			return env.Update(func(txn *store.WriteTxn) error {
				for i := 0; i < perfBatchSize; i++ {
					if err := s.Put(txn, fmt.Sprintf("%s-%d", key, i), codec.U64(i)); err != nil {
						return err
					}
				}
				return nil
			})
		}},
		{name: "get", prepare: true, op: func(s *store.SingleStore[string], key string) error {
			return env.View(func(txn *store.ReadTxn) error {
				_, _, err := s.Get(txn, key)
				return err
			})
		}},
		{name: "scan", prepare: true, op: func(s *store.SingleStore[string], _ string) error {
			return env.View(func(txn *store.ReadTxn) error {
				return s.Iterate(txn, nil, func(string, codec.Value) error { return nil })
			})
		}},
		{name: "delete", prepare: true, op: func(s *store.SingleStore[string], key string) error {
			err := env.Update(func(txn *store.WriteTxn) error {
				return s.Delete(txn, key)
			})
			if store.IsNotFound(err) {
				return nil
			}
			return err
		}},
	}

	results := make([]perfResult, 0, len(tests))
	for _, test := range tests {
		if slices.Contains(perfSkip, test.name) {
			results = append(results, perfResult{name: test.name, skipped: true})
			fmt.Printf("%-12sskipped\n", test.name)
			continue
		}

		keys := perfKeys(test.name)
		bench := testing.Benchmark(func(b *testing.B) {
			if test.prepare {
				for _, k := range keys {
					if err := env.Update(func(txn *store.WriteTxn) error {
						return s.Put(txn, k, codec.Str("test"))
					}); err != nil {
						log.Printf("%s: preparing %s: %v", test.name, k, err)
					}
				}
			}
			b.Cleanup(func() {
				if err := env.Update(func(txn *store.WriteTxn) error { return s.Clear(txn) }); err != nil {
					log.Printf("%s: clearing %s: %v", test.name, perfStoreName, err)
				}
			})

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for i := 0; pb.Next(); i++ {
					if err := test.op(s, keys[i%len(keys)]); err != nil {
						log.Printf("%s: %v", test.name, err)
					}
				}
			})
		})

		res := perfResult{name: test.name, perOp: time.Duration(max(bench.NsPerOp(), 1))}
		results = append(results, res)
		fmt.Printf("%-12s%12s/op %14.0f ops/sec\n", res.name, res.perOp, res.opsPerSec())
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writePerfCSV(csvPath, results); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}
	return nil
}

// perfResult is the outcome of one benchmark
type perfResult struct {
	name    string
	skipped bool
	perOp   time.Duration
}

func (r perfResult) opsPerSec() float64 {
	if r.skipped || r.perOp <= 0 {
		return 0
	}
	return float64(time.Second) / float64(r.perOp)
}

// perfKeys returns the keys a benchmark cycles through
func perfKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = prefix + "-" + strconv.Itoa(i)
	}
	return keys
}

// writePerfCSV stores one row per benchmark together with the environment settings
func writePerfCSV(path string, results []perfResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	cfg := env.Config()
	w := csv.NewWriter(f)
	rows := [][]string{{
		"test", "ns_per_op", "ops_per_sec", "skipped",
		"backend", "writer_policy", "no_sync", "compression",
		"threads", "large_value_kb", "keys", "batch",
	}}
	for _, r := range results {
		rows = append(rows, []string{
			r.name,
			strconv.FormatInt(r.perOp.Nanoseconds(), 10),
			strconv.FormatFloat(r.opsPerSec(), 'f', 0, 64),
			strconv.FormatBool(r.skipped),
			string(cfg.Backend),
			string(cfg.WriterPolicy),
			strconv.FormatBool(cfg.NoSync),
			cfg.Compression,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfBatchSize),
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
