package engine

import "github.com/roach88/tview/internal/queue"

// processedSet records the keys refreshed by one cascade.
//
// Distinct from the queue: the queue holds what is still pending, the
// processed set what is already done. A key re-derived by a later
// propagation is skipped instead of refreshed twice.
//
// Owned by a single cascade; not safe for concurrent use.
type processedSet struct {
	keys map[queue.RefreshKey]struct{}
}

func newProcessedSet() *processedSet {
	return &processedSet{keys: make(map[queue.RefreshKey]struct{})}
}

// Add marks key processed. Returns false when it already was.
func (p *processedSet) Add(key queue.RefreshKey) bool {
	if _, ok := p.keys[key]; ok {
		return false
	}
	p.keys[key] = struct{}{}
	return true
}

func (p *processedSet) Has(key queue.RefreshKey) bool {
	_, ok := p.keys[key]
	return ok
}

func (p *processedSet) Len() int {
	return len(p.keys)
}
