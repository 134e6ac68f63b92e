package joingraph

import (
	"container/heap"
	"sort"

	"github.com/zzzcdf/cube.js/internal/domain"
)

// Step is one join of a resolved path. From is already part of the query
// when the step is applied.
type Step struct {
	From string
	To   string
	// Reversed is set when the join is traversed from its target to its owner.
	Reversed bool
	Edge     *Edge
}

// Join returns the declared join the step follows.
func (s Step) Join() *domain.Join { return s.Edge.Join }

// tree is the shortest-path tree rooted at one cube.
type tree struct {
	parent map[string]*Edge
	order  map[string]int
}

type item struct {
	cube string
	dist int
	seq  int
}

type queue []item

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].seq < q[j].seq
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(item)) }
func (q *queue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// shortestTree runs a uniform-cost search from root. Ties are broken first by
// discovery order and then by the declaration order of the joins, so equal
// inputs always give the same tree.
func (g *Graph) shortestTree(root string) *tree {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.trees[root]; ok {
		return t
	}

	t := &tree{parent: make(map[string]*Edge), order: make(map[string]int)}
	dist := map[string]int{root: 0}
	seq := 0
	q := &queue{{cube: root}}
	for q.Len() > 0 {
		cur := heap.Pop(q).(item)
		if _, done := t.order[cur.cube]; done {
			continue
		}
		t.order[cur.cube] = len(t.order)
		for _, e := range g.adj[cur.cube] {
			next := e.Other(cur.cube)
			if _, done := t.order[next]; done {
				continue
			}
			nd := cur.dist + e.Weight
			if d, seen := dist[next]; seen && nd >= d {
				continue
			}
			dist[next] = nd
			t.parent[next] = e
			seq++
			heap.Push(q, item{cube: next, dist: nd, seq: seq})
		}
	}
	g.trees[root] = t
	return t
}

// ResolvePath returns the joins connecting root to every required cube. The
// steps form the union of the cheapest paths from root and are ordered so
// that each step starts from a cube already joined.
func (g *Graph) ResolvePath(root string, required ...string) ([]Step, error) {
	if _, ok := g.index[root]; !ok {
		return nil, domain.ErrUnknownCube("", "", root)
	}
	t := g.shortestTree(root)

	used := make(map[string]bool)
	for _, cube := range required {
		if _, ok := g.index[cube]; !ok {
			return nil, domain.ErrUnknownCube("", "", cube)
		}
		if _, ok := t.order[cube]; !ok {
			return nil, domain.ErrNoJoinPath(root, cube)
		}
		for cur := cube; cur != root && !used[cur]; {
			used[cur] = true
			cur = t.parent[cur].Other(cur)
		}
	}

	steps := make([]Step, 0, len(used))
	for cube := range used {
		e := t.parent[cube]
		from := e.Other(cube)
		steps = append(steps, Step{From: from, To: cube, Reversed: e.Owner != from, Edge: e})
	}
	sort.Slice(steps, func(i, j int) bool { return t.order[steps[i].To] < t.order[steps[j].To] })
	return steps, nil
}
