package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_DisabledRecordsNothing(t *testing.T) {
	before := testutil.ToFloat64(RefreshTotal.WithLabelValues("individual", "patched"))

	Recorder{}.Refresh("individual", "patched")

	assert.Equal(t, before, testutil.ToFloat64(RefreshTotal.WithLabelValues("individual", "patched")))
}

func TestRecorder_Enabled(t *testing.T) {
	r := Recorder{Enabled: true}
	before := testutil.ToFloat64(CacheRequests.WithLabelValues(CacheGraph, "hit"))

	r.Cache(CacheGraph, true)
	r.Cache(CacheGraph, true)
	r.Cascade(3, time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(CacheRequests.WithLabelValues(CacheGraph, "hit")))
}

func TestTxStats_IterationAndMerge(t *testing.T) {
	var s TxStats
	s.Iteration(4)
	s.Iteration(2)
	assert.Equal(t, 2, s.Iterations)
	assert.Equal(t, 4, s.MaxIterationSize)

	s.Merge(TxStats{Iterations: 1, MaxIterationSize: 9, Refreshes: 3})
	assert.Equal(t, 3, s.Iterations)
	assert.Equal(t, 9, s.MaxIterationSize)
	assert.Equal(t, 3, s.Refreshes)
}
