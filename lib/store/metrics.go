package store

import (
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"io"
	"time"
)

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// envMetrics are the runtime metrics of one environment. They live in a
// metrics.Set of their own, so closing the environment drops them.
type envMetrics struct {
	set *metrics.Set

	readTxns     *metrics.Counter
	writeTxns    *metrics.Counter
	commits      *metrics.Counter
	aborts       *metrics.Counter
	failed       *metrics.Counter // failed commits
	unavailable  *metrics.Counter // writers rejected by the fail-fast policy or a cancelled context
	writerWait   *metrics.Histogram
	writeTxnTime *metrics.Histogram
}

func newEnvMetrics(path string, activeReaders func() float64) *envMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf("%s{path=%q}", metric, path)
	}
	m := &envMetrics{
		set:          set,
		readTxns:     set.NewCounter(name("rkv_read_txns_total")),
		writeTxns:    set.NewCounter(name("rkv_write_txns_total")),
		commits:      set.NewCounter(name("rkv_commits_total")),
		aborts:       set.NewCounter(name("rkv_aborts_total")),
		failed:       set.NewCounter(name("rkv_commit_errors_total")),
		unavailable:  set.NewCounter(name("rkv_writer_unavailable_total")),
		writerWait:   set.NewHistogram(name("rkv_writer_wait_seconds")),
		writeTxnTime: set.NewHistogram(name("rkv_write_txn_duration_seconds")),
	}
	set.NewGauge(name("rkv_active_readers"), activeReaders)
	return m
}

func (m *envMetrics) writerAcquired(start time.Time) {
	m.writeTxns.Inc()
	m.writerWait.UpdateDuration(start)
}

// WriteMetrics writes the metrics of the environment in Prometheus text format
func (e *Environment) WriteMetrics(w io.Writer) {
	e.metrics.set.WritePrometheus(w)
}
