package kv

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"
)

var randCmd = &cobra.Command{
	Use:   "rand",
	Short: "Runs a random mix of reads and writes against the store",
	Long: `Runs a random mix of reads and writes against the store for a fixed
duration and reports the latency of every operation. Writers use
BeginWriteContext, so a writer that waits longer than --writer-timeout is
counted as unavailable.`,
	Args: cobra.NoArgs,
	RunE: runRand,
}

func init() {
	randCmd.Flags().Duration("duration", 10*time.Second, util.WrapString("How long to run"))
	randCmd.Flags().Int("readers", 4, util.WrapString("Number of reading goroutines"))
	randCmd.Flags().Int("writers", 1, util.WrapString("Number of writing goroutines"))
	randCmd.Flags().Int("keys", 1000, util.WrapString("Number of different keys"))
	randCmd.Flags().Float64("delete-ratio", 0.1, util.WrapString("Share of writes that delete instead of put"))
	randCmd.Flags().Duration("writer-timeout", time.Second, util.WrapString("Maximum wait for the writer"))
}

// randKey returns a random key fitting the kind of the store
func randKey(r *rand.Rand, keys int) []byte {
	n := r.IntN(keys)
	if kvStore.Kind().IntegerKeys() {
		return codec.EncodeIntKey(uint64(n))
	}
	return []byte("rand-" + strconv.Itoa(n))
}

func runRand(cmd *cobra.Command, _ []string) error {
	duration, _ := cmd.Flags().GetDuration("duration")
	readers, _ := cmd.Flags().GetInt("readers")
	writers, _ := cmd.Flags().GetInt("writers")
	keys, _ := cmd.Flags().GetInt("keys")
	deleteRatio, _ := cmd.Flags().GetFloat64("delete-ratio")
	writerTimeout, _ := cmd.Flags().GetDuration("writer-timeout")
	keys = max(keys, 1)

	registry := metrics.NewRegistry()
	getTimer := metrics.GetOrRegisterTimer("get", registry)
	putTimer := metrics.GetOrRegisterTimer("put", registry)
	delTimer := metrics.GetOrRegisterTimer("delete", registry)
	unavailable := metrics.GetOrRegisterCounter("writer-unavailable", registry)
	failed := metrics.GetOrRegisterCounter("errors", registry)

	ctx, cancel := context.WithTimeout(cmd.Context(), duration)
	defer cancel()

	fmt.Printf("running %d readers and %d writers on store %s for %s\n", readers, writers, kvStore.Name(), duration)

	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(seed, uint64(time.Now().UnixNano())))
			for ctx.Err() == nil {
				key := randKey(r, keys)
				start := time.Now()
				err := env.View(func(txn *store.ReadTxn) error {
					_, _, err := kvStore.Get(txn, key)
					return err
				})
				getTimer.UpdateSince(start)
				if err != nil {
					failed.Inc(1)
				}
			}
		}(uint64(i))
	}

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(seed, uint64(time.Now().UnixNano())))
			for ctx.Err() == nil {
				key := randKey(r, keys)
				del := r.Float64() < deleteRatio

				start := time.Now()
				waitCtx, cancelWait := context.WithTimeout(ctx, writerTimeout)
				txn, err := env.BeginWriteContext(waitCtx)
				cancelWait()
				if err != nil {
					if ctx.Err() == nil {
						unavailable.Inc(1)
					}
					continue
				}

				if del {
					err = kvStore.Delete(txn, key)
					if store.IsNotFound(err) {
						err = nil
					}
				} else {
					err = kvStore.Put(txn, key, codec.U64(r.Uint64()))
				}
				if err == nil {
					err = txn.Commit()
				}
				txn.Abort()

				if del {
					delTimer.UpdateSince(start)
				} else {
					putTimer.UpdateSince(start)
				}
				if err != nil {
					failed.Inc(1)
				}
			}
		}(uint64(readers + i))
	}
	wg.Wait()

	fmt.Println()
	fmt.Printf("%-10s%12s%14s%14s%14s%14s\n", "op", "count", "ops/sec", "mean", "p50", "p99")
	for _, name := range []string{"get", "put", "delete"} {
		t := registry.Get(name).(metrics.Timer)
		if t.Count() == 0 {
			fmt.Printf("%-10s%12d\n", name, 0)
			continue
		}
		ps := t.Percentiles([]float64{0.5, 0.99})
		fmt.Printf("%-10s%12d%14.0f%14s%14s%14s\n",
			name,
			t.Count(),
			float64(t.Count())/duration.Seconds(),
			time.Duration(t.Mean()),
			time.Duration(ps[0]),
			time.Duration(ps[1]),
		)
	}
	fmt.Printf("\nwriter unavailable: %d, errors: %d\n", unavailable.Count(), failed.Count())
	return nil
}
