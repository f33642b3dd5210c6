package metrics

import "time"

// TxStats accumulates the cascade statistics of one transaction.
type TxStats struct {
	Refreshes           int           `json:"refreshes"`
	Iterations          int           `json:"iterations"`
	MaxIterationSize    int           `json:"max_iteration_size"`
	BulkRefreshes       int           `json:"bulk_refreshes"`
	IndividualRefreshes int           `json:"individual_refreshes"`
	Patched             int           `json:"patched"`
	Replaced            int           `json:"replaced"`
	Deleted             int           `json:"deleted"`
	Unchanged           int           `json:"unchanged"`
	GraphCacheHits      int           `json:"graph_cache_hits"`
	GraphCacheMisses    int           `json:"graph_cache_misses"`
	TableCacheHits      int           `json:"table_cache_hits"`
	TableCacheMisses    int           `json:"table_cache_misses"`
	Duration            time.Duration `json:"duration_ns"`
	ParentsDiscovered   int           `json:"parents_discovered"`
}

// Iteration records the size of one fixed-point iteration.
func (s *TxStats) Iteration(size int) {
	s.Iterations++
	if size > s.MaxIterationSize {
		s.MaxIterationSize = size
	}
}

// Merge adds the counters of o into s.
func (s *TxStats) Merge(o TxStats) {
	s.Refreshes += o.Refreshes
	s.Iterations += o.Iterations
	if o.MaxIterationSize > s.MaxIterationSize {
		s.MaxIterationSize = o.MaxIterationSize
	}
	s.BulkRefreshes += o.BulkRefreshes
	s.IndividualRefreshes += o.IndividualRefreshes
	s.Patched += o.Patched
	s.Replaced += o.Replaced
	s.Deleted += o.Deleted
	s.Unchanged += o.Unchanged
	s.GraphCacheHits += o.GraphCacheHits
	s.GraphCacheMisses += o.GraphCacheMisses
	s.TableCacheHits += o.TableCacheHits
	s.TableCacheMisses += o.TableCacheMisses
	s.Duration += o.Duration
	s.ParentsDiscovered += o.ParentsDiscovered
}
