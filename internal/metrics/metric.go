// Package metrics records cascade statistics per transaction and exports
// aggregate counters through a Prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tview"

var (
	Registry = prometheus.NewRegistry()

	RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_total",
		Help:      "Derived rows refreshed, by execution mode and outcome.",
	}, []string{"mode", "action"})

	CascadeIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cascade_iterations",
		Help:      "Fixed-point iterations per committed cascade.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 50, 100},
	})

	CascadeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cascade_duration_seconds",
		Help:      "Wall time spent running a cascade.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_requests_total",
		Help:      "Cache lookups, by cache and result.",
	}, []string{"cache", "result"})

	PreparedSnapshots = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prepared_snapshots_total",
		Help:      "Prepared-transaction queue snapshots, by operation.",
	}, []string{"op"})
)

func init() {
	Registry.MustRegister(
		RefreshTotal,
		CascadeIterations,
		CascadeDuration,
		CacheRequests,
		PreparedSnapshots,
	)
}

// Cache names used as the "cache" label.
const (
	CacheGraph  = "graph"
	CacheTable  = "table"
	CacheColumn = "key_column"
)

// Recorder forwards observations to the Prometheus collectors when enabled.
// The zero value records nothing.
type Recorder struct {
	Enabled bool
}

// Refresh counts one refreshed row.
func (r Recorder) Refresh(mode, action string) {
	if r.Enabled {
		RefreshTotal.WithLabelValues(mode, action).Inc()
	}
}

// Cascade records one completed cascade.
func (r Recorder) Cascade(iterations int, elapsed time.Duration) {
	if r.Enabled {
		CascadeIterations.Observe(float64(iterations))
		CascadeDuration.Observe(elapsed.Seconds())
	}
}

// Cache counts one cache lookup.
func (r Recorder) Cache(cache string, hit bool) {
	if !r.Enabled {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequests.WithLabelValues(cache, result).Inc()
}

// Prepared counts one snapshot operation (save, load, delete, discard).
func (r Recorder) Prepared(op string) {
	if r.Enabled {
		PreparedSnapshots.WithLabelValues(op).Inc()
	}
}
