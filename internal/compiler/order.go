package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tview/internal/catalog"
)

// CycleError reports definitions that depend on each other in a loop.
// Path lists the loop with its first member repeated at the end.
type CycleError struct {
	Path []string `json:"path"`
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " → "))
}

// RegistrationOrder sorts entities so every entity comes after the
// entities it depends on, the order in which they must be registered.
// Only edges between the given entities count; dependencies on entities
// registered earlier are already satisfied.
//
// The algorithm:
//  1. Build entity → dependency graph from depends_on and lineage children
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Any SCC with size > 1 or a self-loop is a cycle
//
// Tarjan emits an SCC only after every SCC reachable from it, so with
// edges pointing at dependencies the emission order is already
// dependencies-first. Ties follow entity name order.
func RegistrationOrder(entities []*catalog.Entity) ([]*catalog.Entity, error) {
	byName := make(map[string]*catalog.Entity, len(entities))
	for _, e := range entities {
		byName[e.Name] = e
	}
	graph := buildDependencyGraph(entities, byName)

	sccs := tarjanSCC(graph)
	out := make([]*catalog.Entity, 0, len(entities))
	for _, scc := range sccs {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			return nil, &CycleError{Path: reconstructCyclePath(scc, graph)}
		}
		out = append(out, byName[scc[0]])
	}
	return out, nil
}

// dependencyGraph maps entity name → names of the entities it reads.
type dependencyGraph map[string][]string

func buildDependencyGraph(entities []*catalog.Entity, byName map[string]*catalog.Entity) dependencyGraph {
	graph := make(dependencyGraph, len(entities))
	for _, e := range entities {
		deps := e.EntityDependencies(func(name string) bool {
			_, ok := byName[name]
			return ok
		})
		slices.Sort(deps)
		graph[e.Name] = deps
	}
	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in name order so the result is deterministic.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop its component
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// reconstructCyclePath walks edges inside an SCC from its first member
// until it returns there.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 1 {
		return []string{scc[0], scc[0]}
	}
	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true
		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
