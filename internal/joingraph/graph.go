// Package joingraph builds the undirected join graph of a compiled model and
// resolves deterministic join paths across it.
package joingraph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/evaluator"
)

// Edge is one join between two cubes, kept in the orientation it was first
// declared.
type Edge struct {
	Owner        string
	Target       string
	Relationship domain.Relationship
	Weight       int
	Join         *domain.Join
}

// Other returns the cube on the far side of the edge from cube.
func (e *Edge) Other(cube string) string {
	if cube == e.Owner {
		return e.Target
	}
	return e.Owner
}

type pairKey struct{ a, b string }

func keyOf(x, y string) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{x, y}
}

// Graph is immutable after Build and safe for concurrent use.
type Graph struct {
	nodes []string
	index map[string]int
	edges []*Edge
	pairs map[pairKey]*Edge
	adj   map[string][]*Edge

	mu    sync.Mutex
	trees map[string]*tree
}

// Build inserts one edge per declared join, in join declaration order. A
// second declaration for the same pair of cubes is dropped when it repeats
// the first or states its inverse; anything else is a JoinConflict. Joins to
// views or to undeclared cubes are left out.
func Build(model *evaluator.Model) (*Graph, []*domain.Diagnostic) {
	g := &Graph{
		index: make(map[string]int),
		pairs: make(map[pairKey]*Edge),
		adj:   make(map[string][]*Edge),
		trees: make(map[string]*tree),
	}
	var joins []*domain.Join
	for _, c := range model.Cubes() {
		if c.IsView() {
			continue
		}
		g.index[c.Name] = len(g.nodes)
		g.nodes = append(g.nodes, c.Name)
		joins = append(joins, c.Joins...)
	}
	sort.SliceStable(joins, func(i, j int) bool { return joins[i].Index < joins[j].Index })

	var diags domain.Diagnostics
	for _, j := range joins {
		if _, ok := g.index[j.Target]; !ok || j.Owner == j.Target {
			continue
		}
		k := keyOf(j.Owner, j.Target)
		if prev, ok := g.pairs[k]; ok {
			if !equivalent(prev, j) {
				d := domain.ErrJoinConflict(j.Owner, j.Target,
					"join %s -> %s (%s) conflicts with %s -> %s (%s) declared in %s",
					j.Owner, j.Target, j.Relationship, prev.Owner, prev.Target, prev.Relationship, prev.Join.File)
				diags.Report(d.WithFile(j.File, j.Line))
			}
			continue
		}
		e := &Edge{Owner: j.Owner, Target: j.Target, Relationship: j.Relationship, Weight: j.Weight, Join: j}
		if e.Weight < 0 {
			e.Weight = 1
		}
		g.pairs[k] = e
		g.edges = append(g.edges, e)
		g.adj[j.Owner] = append(g.adj[j.Owner], e)
		g.adj[j.Target] = append(g.adj[j.Target], e)
	}
	return g, diags.All()
}

// equivalent reports whether j restates prev, either in the same direction
// or as its inverse.
func equivalent(prev *Edge, j *domain.Join) bool {
	if prev.Owner == j.Owner {
		return prev.Relationship == j.Relationship
	}
	return prev.Relationship.Inverse() == j.Relationship
}

// Nodes returns the cubes of the graph in declaration order.
func (g *Graph) Nodes() []string { return append([]string(nil), g.nodes...) }

// Edges returns every edge in join declaration order.
func (g *Graph) Edges() []*Edge { return append([]*Edge(nil), g.edges...) }

// Neighbors returns the cubes adjacent to cube, ordered by join declaration.
func (g *Graph) Neighbors(cube string) []string {
	out := make([]string, 0, len(g.adj[cube]))
	for _, e := range g.adj[cube] {
		out = append(out, e.Other(cube))
	}
	return out
}

// HasEdge reports whether a and b are joined in either direction.
func (g *Graph) HasEdge(a, b string) bool {
	_, ok := g.pairs[keyOf(a, b)]
	return ok
}

// Edge returns the edge between a and b.
func (g *Graph) Edge(a, b string) (*Edge, bool) {
	e, ok := g.pairs[keyOf(a, b)]
	return e, ok
}

// ConnectedComponents assigns every cube a component id. Ids are numbered
// from 1 in the declaration order of each component's first cube.
func (g *Graph) ConnectedComponents() map[string]int {
	comp := make(map[string]int, len(g.nodes))
	next := 0
	for _, start := range g.nodes {
		if comp[start] != 0 {
			continue
		}
		next++
		comp[start] = next
		queue := []string{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, n := range g.Neighbors(cur) {
				if comp[n] == 0 {
					comp[n] = next
					queue = append(queue, n)
				}
			}
		}
	}
	return comp
}

func (g *Graph) String() string {
	return fmt.Sprintf("joingraph(%d cubes, %d edges)", len(g.nodes), len(g.edges))
}
