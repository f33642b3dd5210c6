package graph

import (
	"slices"

	"github.com/roach88/tview/internal/metrics"
)

// Order is a topological order of the registered entities: every entity
// appears after all entities it depends on. Ties are broken by name.
type Order struct {
	Names []string
	rank  map[string]int
	level map[string]int
}

// Rank returns the position of name in the order, or -1.
func (o *Order) Rank(name string) int {
	if r, ok := o.rank[name]; ok {
		return r
	}
	return -1
}

// Level returns the dependency level of name, or 0.
func (o *Order) Level(name string) int {
	return o.level[name]
}

// TopologicalOrder returns the cached order, computing it on first use
// after a schema change.
func (g *Graph) TopologicalOrder() []string {
	o, _ := g.Order()
	return o.Names
}

// Order returns the topological order and whether it came from the cache.
func (g *Graph) Order() (*Order, bool) {
	if g.orderCacheEnabled {
		if o := g.order.Load(); o != nil {
			g.graphHits.Add(1)
			g.recorder.Cache(metrics.CacheGraph, true)
			return o, true
		}
	}
	g.graphMisses.Add(1)
	g.recorder.Cache(metrics.CacheGraph, false)

	o := kahn(g.st.Load())
	if g.orderCacheEnabled {
		g.order.CompareAndSwap(nil, o)
	}
	return o, false
}

// kahn orders nodes with Kahn's algorithm over the dependency edges.
func kahn(st *state) *Order {
	n := len(st.nodes)
	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, nd := range st.nodes {
		indegree[i] = len(nd.deps)
		for _, d := range nd.deps {
			dependents[d] = append(dependents[d], i)
		}
	}

	// Arena indexes follow name order, so a sorted ready list breaks ties
	// by name.
	var ready []int
	for i := range st.nodes {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	o := &Order{
		Names: make([]string, 0, n),
		rank:  make(map[string]int, n),
		level: make(map[string]int, n),
	}
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		name := st.nodes[i].entity.Name
		o.rank[name] = len(o.Names)
		o.level[name] = st.nodes[i].level
		o.Names = append(o.Names, name)
		for _, dep := range dependents[i] {
			indegree[dep]--
			if indegree[dep] == 0 {
				idx, _ := slices.BinarySearch(ready, dep)
				ready = slices.Insert(ready, idx, dep)
			}
		}
	}
	return o
}
