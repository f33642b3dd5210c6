package graph

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/roach88/tview/internal/catalog"
	"github.com/roach88/tview/internal/metrics"
)

// DefaultMaxDepth bounds the longest chain of derived entities.
const DefaultMaxDepth = 10

// Graph is the in-memory dependency model of all registered entities.
//
// The structural state (arena of nodes, dependency edges, levels, lineage
// index) is rebuilt and validated as a whole on every Register or Drop and
// swapped in only when valid, so a rejected registration leaves no trace.
// Readers never lock: they load the current state and the cached
// topological order atomically. Both caches are invalidated, never locked,
// on schema change.
type Graph struct {
	mu sync.Mutex // serializes writers

	maxDepth          int
	orderCacheEnabled bool
	tableCacheEnabled bool
	recorder          metrics.Recorder

	st     atomic.Pointer[state]
	order  atomic.Pointer[Order]
	tables *xsync.MapOf[string, []string]

	graphHits, graphMisses atomic.Int64
	tableHits, tableMisses atomic.Int64
}

// Option configures a Graph.
type Option func(*Graph)

// WithMaxDepth sets the maximum dependency depth.
func WithMaxDepth(n int) Option {
	return func(g *Graph) { g.maxDepth = n }
}

// WithOrderCache enables or disables caching of the topological order.
func WithOrderCache(enabled bool) Option {
	return func(g *Graph) { g.orderCacheEnabled = enabled }
}

// WithTableCache enables or disables caching of table lookups.
func WithTableCache(enabled bool) Option {
	return func(g *Graph) { g.tableCacheEnabled = enabled }
}

// WithRecorder exports cache hits and misses.
func WithRecorder(r metrics.Recorder) Option {
	return func(g *Graph) { g.recorder = r }
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		maxDepth:          DefaultMaxDepth,
		orderCacheEnabled: true,
		tableCacheEnabled: true,
		tables:            xsync.NewMapOf[string, []string](),
	}
	for _, opt := range opts {
		opt(g)
	}
	empty, _ := build(nil, g.maxDepth)
	g.st.Store(empty)
	return g
}

// MaxDepth returns the configured maximum dependency depth.
func (g *Graph) MaxDepth() int { return g.maxDepth }

// Load replaces the whole graph with entities, as read from the metadata
// store at startup.
func (g *Graph) Load(entities []*catalog.Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, err := build(entities, g.maxDepth)
	if err != nil {
		return err
	}
	g.swap(st)
	return nil
}

// Register validates e against the current graph and adds it. Fails with
// ErrExists, *catalog.ValidationError (unknown lineage child), *CycleError
// or *DepthError; on failure the graph is unchanged.
func (g *Graph) Register(e *catalog.Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.st.Load()
	if _, ok := cur.index[e.Name]; ok {
		return fmt.Errorf("register %s: %w", e.Name, ErrExists)
	}
	st, err := build(append(cur.entities(), e), g.maxDepth)
	if err != nil {
		return attribute(err, e.Name)
	}
	g.swap(st)
	return nil
}

// Check runs Register's validation without changing the graph.
func (g *Graph) Check(e *catalog.Entity) error {
	cur := g.st.Load()
	if _, ok := cur.index[e.Name]; ok {
		return fmt.Errorf("register %s: %w", e.Name, ErrExists)
	}
	_, err := build(append(cur.entities(), e), g.maxDepth)
	return attribute(err, e.Name)
}

// attribute names the registering entity in a cycle error.
func attribute(err error, name string) error {
	if ce, ok := err.(*CycleError); ok {
		ce.Entity = name
	}
	return err
}

// Drop removes an entity. Fails with ErrNotFound or *DependentsError.
func (g *Graph) Drop(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.st.Load()
	i, ok := cur.index[name]
	if !ok {
		return fmt.Errorf("drop %s: %w", name, ErrNotFound)
	}
	if deps := cur.dependents(i); len(deps) > 0 {
		return &DependentsError{Entity: name, Dependents: deps}
	}
	rest := slices.DeleteFunc(cur.entities(), func(e *catalog.Entity) bool { return e.Name == name })
	st, err := build(rest, g.maxDepth)
	if err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	g.swap(st)
	return nil
}

func (g *Graph) swap(st *state) {
	g.st.Store(st)
	g.order.Store(nil)
	g.tables.Clear()
}

// Entity returns the registered entity called name.
func (g *Graph) Entity(name string) (*catalog.Entity, bool) {
	st := g.st.Load()
	i, ok := st.index[name]
	if !ok {
		return nil, false
	}
	return st.nodes[i].entity, true
}

// Entities returns all registered entities sorted by name.
func (g *Graph) Entities() []*catalog.Entity {
	return g.st.Load().entities()
}

// Len returns the number of registered entities.
func (g *Graph) Len() int { return len(g.st.Load().nodes) }

// Level returns the 1-based dependency level of name: 1 for entities fed
// only by source tables, otherwise one more than the deepest dependency.
func (g *Graph) Level(name string) int {
	st := g.st.Load()
	if i, ok := st.index[name]; ok {
		return st.nodes[i].level
	}
	return 0
}

// Depth returns the deepest level in the graph.
func (g *Graph) Depth() int {
	d := 0
	for _, n := range g.st.Load().nodes {
		d = max(d, n.level)
	}
	return d
}

// ParentsOf returns the lineage paths whose child is name, i.e. the
// direct dependents that can be located row by row.
func (g *Graph) ParentsOf(name string) []catalog.LineagePath {
	return g.st.Load().parents[name]
}

// DependenciesOf returns the derived entities name depends on.
func (g *Graph) DependenciesOf(name string) []string {
	st := g.st.Load()
	i, ok := st.index[name]
	if !ok {
		return nil
	}
	out := make([]string, len(st.nodes[i].deps))
	for j, d := range st.nodes[i].deps {
		out[j] = st.nodes[d].entity.Name
	}
	return out
}

// EntitiesForTable returns the entities whose Source is table.
func (g *Graph) EntitiesForTable(table string) []string {
	names, _ := g.LookupTable(table)
	return names
}

// LookupTable is EntitiesForTable that also reports a cache hit.
func (g *Graph) LookupTable(table string) (names []string, hit bool) {
	if g.tableCacheEnabled {
		if names, ok := g.tables.Load(table); ok {
			g.tableHits.Add(1)
			g.recorder.Cache(metrics.CacheTable, true)
			return names, true
		}
	}
	g.tableMisses.Add(1)
	g.recorder.Cache(metrics.CacheTable, false)

	for _, n := range g.st.Load().nodes {
		if n.entity.Source == table {
			names = append(names, n.entity.Name)
		}
	}
	if g.tableCacheEnabled {
		g.tables.Store(table, names)
	}
	return names, false
}

// TableParents returns the lineage paths whose child is the plain table
// table. A captured row of table locates its parents through them.
func (g *Graph) TableParents(table string) []catalog.LineagePath {
	return g.st.Load().tableParents[table]
}

// Tables returns every table carrying capture triggers: entity sources and
// lineage tables.
func (g *Graph) Tables() []string {
	st := g.st.Load()
	seen := make(map[string]bool)
	var out []string
	for _, n := range st.nodes {
		if src := n.entity.Source; src != "" && !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	for table := range st.tableParents {
		if !seen[table] {
			seen[table] = true
			out = append(out, table)
		}
	}
	slices.Sort(out)
	return out
}

// UsesTable reports whether any registered entity reads table as its
// source or through a lineage path.
func (g *Graph) UsesTable(table string) bool {
	st := g.st.Load()
	if len(st.tableParents[table]) > 0 {
		return true
	}
	return slices.ContainsFunc(st.nodes, func(n node) bool { return n.entity.Source == table })
}

// CacheStats reports cache sizes and hit counts for health checks.
type CacheStats struct {
	OrderCached  bool  `json:"order_cached"`
	TableEntries int   `json:"table_entries"`
	GraphHits    int64 `json:"graph_hits"`
	GraphMisses  int64 `json:"graph_misses"`
	TableHits    int64 `json:"table_hits"`
	TableMisses  int64 `json:"table_misses"`
}

// CacheStats returns the current cache statistics.
func (g *Graph) CacheStats() CacheStats {
	return CacheStats{
		OrderCached:  g.order.Load() != nil,
		TableEntries: g.tables.Size(),
		GraphHits:    g.graphHits.Load(),
		GraphMisses:  g.graphMisses.Load(),
		TableHits:    g.tableHits.Load(),
		TableMisses:  g.tableMisses.Load(),
	}
}

// InvalidateCaches drops the cached order and table lookups.
func (g *Graph) InvalidateCaches() {
	g.order.Store(nil)
	g.tables.Clear()
}
