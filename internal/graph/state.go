package graph

import (
	"fmt"
	"slices"

	"github.com/roach88/tview/internal/catalog"
)

// state is an immutable, validated snapshot of the graph. Nodes live in an
// arena addressed by index; edges point from an entity to the derived
// entities it depends on.
type state struct {
	nodes   []node
	index   map[string]int
	parents map[string][]catalog.LineagePath
	// tableParents holds lineage paths whose child is a plain table named
	// in the parent's dependencies.
	tableParents map[string][]catalog.LineagePath
}

type node struct {
	entity *catalog.Entity
	deps   []int
	level  int
}

func (s *state) entities() []*catalog.Entity {
	out := make([]*catalog.Entity, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.entity
	}
	return out
}

// dependents returns the names of entities that depend on node i.
func (s *state) dependents(i int) []string {
	var out []string
	for _, n := range s.nodes {
		if slices.Contains(n.deps, i) {
			out = append(out, n.entity.Name)
		}
	}
	return out
}

// build validates entities as a whole and returns the resulting state.
func build(entities []*catalog.Entity, maxDepth int) (*state, error) {
	sorted := slices.Clone(entities)
	slices.SortFunc(sorted, func(a, b *catalog.Entity) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})

	st := &state{
		nodes:   make([]node, len(sorted)),
		index:   make(map[string]int, len(sorted)),
		parents:      make(map[string][]catalog.LineagePath),
		tableParents: make(map[string][]catalog.LineagePath),
	}
	for i, e := range sorted {
		if _, dup := st.index[e.Name]; dup {
			return nil, fmt.Errorf("register %s: %w", e.Name, ErrExists)
		}
		st.index[e.Name] = i
		st.nodes[i].entity = e
	}

	known := func(name string) bool { _, ok := st.index[name]; return ok }
	for i, e := range sorted {
		for _, l := range e.Lineage {
			if known(l.Child) {
				st.parents[l.Child] = append(st.parents[l.Child], l)
				continue
			}
			if err := checkTableLineage(e, l); err != nil {
				return nil, err
			}
			st.tableParents[l.Child] = append(st.tableParents[l.Child], l)
		}
		if err := checkTraced(e, known); err != nil {
			return nil, err
		}
		for _, d := range e.EntityDependencies(known) {
			st.nodes[i].deps = append(st.nodes[i].deps, st.index[d])
		}
		slices.Sort(st.nodes[i].deps)
	}

	if cyc := st.findCycle(); cyc != nil {
		return nil, cyc
	}
	if err := st.assignLevels(maxDepth); err != nil {
		return nil, err
	}
	return st, nil
}

// checkTableLineage accepts a lineage path to a plain table only when the
// table is a declared dependency and the parent document holds the key:
// a deleted table row cannot be read back to find its parent.
func checkTableLineage(e *catalog.Entity, l catalog.LineagePath) error {
	if !slices.Contains(e.Dependencies, l.Child) {
		return &catalog.ValidationError{
			Kind:   catalog.KindInvalidLineage,
			Entity: e.Name,
			Err:    fmt.Errorf("lineage child %q is neither a registered entity nor a declared dependency", l.Child),
		}
	}
	if l.EffectiveHolder() != catalog.HolderParent {
		return &catalog.ValidationError{
			Kind:   catalog.KindInvalidLineage,
			Entity: e.Name,
			Err:    fmt.Errorf("lineage to table %q must be held by the parent document", l.Child),
		}
	}
	return nil
}

// checkTraced requires every dependency of e to be a registered entity,
// its own source, or a table reached by one of its lineage paths. Writes
// to any other table would never reach e.
func checkTraced(e *catalog.Entity, known func(string) bool) error {
	for _, d := range e.Dependencies {
		if d == e.Source || known(d) {
			continue
		}
		traced := slices.ContainsFunc(e.Lineage, func(l catalog.LineagePath) bool { return l.Child == d })
		if !traced {
			return &catalog.ValidationError{
				Kind:   catalog.KindInvalidLineage,
				Entity: e.Name,
				Err:    fmt.Errorf("dependency table %q has no lineage path to %s", d, e.Name),
			}
		}
	}
	return nil
}

const (
	white = iota
	grey
	black
)

// findCycle runs a DFS with a white/grey/black coloring array. Reaching a
// grey node closes a cycle whose members are the grey stack suffix.
func (s *state) findCycle() *CycleError {
	color := make([]int, len(s.nodes))
	var stack []int
	var found *CycleError

	var visit func(i int) bool
	visit = func(i int) bool {
		color[i] = grey
		stack = append(stack, i)
		for _, d := range s.nodes[i].deps {
			switch color[d] {
			case grey:
				start := slices.Index(stack, d)
				path := make([]string, 0, len(stack)-start+1)
				for _, j := range stack[start:] {
					path = append(path, s.nodes[j].entity.Name)
				}
				path = append(path, s.nodes[d].entity.Name)
				found = &CycleError{Entity: s.nodes[i].entity.Name, Path: path}
				return true
			case white:
				if visit(d) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return false
	}

	for i := range s.nodes {
		if color[i] == white && visit(i) {
			return found
		}
	}
	return nil
}

// assignLevels computes 1-based levels; the graph is acyclic here.
func (s *state) assignLevels(maxDepth int) error {
	var level func(i int) int
	level = func(i int) int {
		if s.nodes[i].level > 0 {
			return s.nodes[i].level
		}
		l := 1
		for _, d := range s.nodes[i].deps {
			l = max(l, level(d)+1)
		}
		s.nodes[i].level = l
		return l
	}
	for i := range s.nodes {
		if l := level(i); maxDepth > 0 && l > maxDepth {
			return &DepthError{Entity: s.nodes[i].entity.Name, Depth: l, Max: maxDepth}
		}
	}
	return nil
}
