// Package graph analyzes the epic dependency graph: cycle detection
// over user-entered edges that are not guaranteed acyclic, and the
// critical (longest-weighted) path for planning queries.
package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/stitchtrace/stitch/internal/storage"
	"github.com/stitchtrace/stitch/internal/types"
)

// CycleError reports the cycle that stopped a computation requiring a
// DAG.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// PathResult is the critical path through the dependency graph.
type PathResult struct {
	Path            []string `json:"path"`
	TotalImpactDays float64  `json:"total_impact_days"`
}

type edge struct {
	to     int64
	weight float64
}

// Analyzer holds an in-memory view of the dependency graph. Nodes are
// epics (named by business key); edges are active, unresolved
// dependencies weighted by estimated impact days.
type Analyzer struct {
	keys  map[int64]string
	adj   map[int64][]edge
	nodes []int64
	edges int
}

// New builds an analyzer from epics and dependency rows. Resolved or
// inactive edges and edges naming unknown epics are ignored.
func New(epics []*types.Epic, deps []*types.EpicDependency) *Analyzer {
	a := &Analyzer{
		keys: make(map[int64]string, len(epics)),
		adj:  make(map[int64][]edge),
	}
	for _, e := range epics {
		a.keys[e.ID] = e.EpicID
		a.nodes = append(a.nodes, e.ID)
	}
	for _, d := range deps {
		if !d.IsActive || d.IsResolved {
			continue
		}
		if _, ok := a.keys[d.ParentEpicID]; !ok {
			continue
		}
		if _, ok := a.keys[d.DependentEpicID]; !ok {
			continue
		}
		a.adj[d.ParentEpicID] = append(a.adj[d.ParentEpicID], edge{
			to:     d.DependentEpicID,
			weight: d.EstimatedImpactDays,
		})
		a.edges++
	}

	// Sorted node and adjacency order keeps every traversal
	// deterministic.
	sort.Slice(a.nodes, func(i, j int) bool { return a.keys[a.nodes[i]] < a.keys[a.nodes[j]] })
	for _, adj := range a.adj {
		sort.Slice(adj, func(i, j int) bool { return a.keys[adj[i].to] < a.keys[adj[j].to] })
	}
	return a
}

// Load builds an analyzer from the store's current epics and active
// dependency edges.
func Load(ctx context.Context, store storage.Storage) (*Analyzer, error) {
	epics, err := store.ListEpics(ctx, types.EpicFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list epics: %w", err)
	}
	deps, err := store.ListEpicDependencies(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	return New(epics, deps), nil
}

// Size reports node and edge counts.
func (a *Analyzer) Size() (nodes, edges int) {
	return len(a.nodes), a.edges
}

// DFS coloring: white = unvisited, gray = on the current path, black =
// finished.
const (
	white = iota
	gray
	black
)

// DetectCycles returns every cycle found by DFS, each as the ordered
// list of epic business keys on it. Always succeeds; an acyclic graph
// yields an empty result.
func (a *Analyzer) DetectCycles() [][]string {
	color := make(map[int64]int, len(a.nodes))
	var stack []int64
	var cycles [][]string

	var visit func(u int64)
	visit = func(u int64) {
		color[u] = gray
		stack = append(stack, u)
		for _, e := range a.adj[u] {
			switch color[e.to] {
			case white:
				visit(e.to)
			case gray:
				// Back-edge: the cycle is the stack suffix starting at
				// the gray target.
				start := 0
				for i, id := range stack {
					if id == e.to {
						start = i
						break
					}
				}
				cycle := make([]string, 0, len(stack)-start)
				for _, id := range stack[start:] {
					cycle = append(cycle, a.keys[id])
				}
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
	}

	for _, u := range a.nodes {
		if color[u] == white {
			visit(u)
		}
	}
	return cycles
}

// CriticalPath computes the longest-weighted path. Fails fast with a
// CycleError naming the first cycle when the graph is not a DAG.
func (a *Analyzer) CriticalPath() (*PathResult, error) {
	if cycles := a.DetectCycles(); len(cycles) > 0 {
		return nil, &CycleError{Cycle: cycles[0]}
	}
	if len(a.nodes) == 0 {
		return &PathResult{}, nil
	}

	order := a.topoOrder()

	// Longest-path DP over the topological order, with predecessor
	// pointers for reconstruction.
	best := make(map[int64]float64, len(a.nodes))
	pred := make(map[int64]int64, len(a.nodes))
	hasPred := make(map[int64]bool, len(a.nodes))
	for _, u := range order {
		for _, e := range a.adj[u] {
			if cand := best[u] + e.weight; cand > best[e.to] {
				best[e.to] = cand
				pred[e.to] = u
				hasPred[e.to] = true
			}
		}
	}

	end := a.nodes[0]
	for _, u := range a.nodes {
		if best[u] > best[end] {
			end = u
		}
	}

	var path []string
	for u := end; ; {
		path = append([]string{a.keys[u]}, path...)
		if !hasPred[u] {
			break
		}
		u = pred[u]
	}
	return &PathResult{Path: path, TotalImpactDays: best[end]}, nil
}

// topoOrder is Kahn's algorithm with the ready set kept sorted, so the
// order (and therefore DP tie-breaking) is stable.
func (a *Analyzer) topoOrder() []int64 {
	indegree := make(map[int64]int, len(a.nodes))
	for _, u := range a.nodes {
		indegree[u] = 0
	}
	for _, adj := range a.adj {
		for _, e := range adj {
			indegree[e.to]++
		}
	}

	var ready []int64
	for _, u := range a.nodes {
		if indegree[u] == 0 {
			ready = append(ready, u)
		}
	}

	order := make([]int64, 0, len(a.nodes))
	for len(ready) > 0 {
		u := ready[0]
		ready = ready[1:]
		order = append(order, u)
		for _, e := range a.adj[u] {
			indegree[e.to]--
			if indegree[e.to] == 0 {
				ready = append(ready, e.to)
				sort.Slice(ready, func(i, j int) bool { return a.keys[ready[i]] < a.keys[ready[j]] })
			}
		}
	}
	return order
}
