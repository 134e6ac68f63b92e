package validator

import (
	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/evaluator"
)

type memberNode struct {
	cube   *domain.Cube
	member domain.Member
	key    string
	refs   []string
}

// memberCycles reports every cycle of member references made through SQL
// templates and measure filters. Each cycle is reported once, at the member
// where the walk first closes it.
func memberCycles(model *evaluator.Model) []*domain.Diagnostic {
	nodes := make(map[string]*memberNode)
	var order []string
	for _, c := range model.Cubes() {
		for _, m := range c.Members() {
			b := m.Base()
			n := &memberNode{cube: c, member: m, key: memberKey(b) + ".sql"}
			n.refs = memberRefs(c, b.SQL, n.refs)
			if ms, ok := m.(*domain.Measure); ok {
				for _, f := range ms.Filters {
					n.refs = memberRefs(c, f, n.refs)
				}
			}
			name := b.QualifiedName()
			nodes[name] = n
			order = append(order, name)
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(nodes))
	var (
		stack []string
		out   []*domain.Diagnostic
	)
	var visit func(name string)
	visit = func(name string) {
		state[name] = visiting
		stack = append(stack, name)
		n := nodes[name]
		for _, ref := range n.refs {
			if _, ok := nodes[ref]; !ok {
				continue
			}
			switch state[ref] {
			case unvisited:
				visit(ref)
			case visiting:
				out = append(out, cycleDiagnostic(nodes, stack, ref, n))
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
	}
	for _, name := range order {
		if state[name] == unvisited {
			visit(name)
		}
	}
	return out
}

// cycleDiagnostic names the chain from the member first entered back to
// itself and locates it at the member that closes the loop.
func cycleDiagnostic(nodes map[string]*memberNode, stack []string, start string, closing *memberNode) *domain.Diagnostic {
	var chain []string
	for i, name := range stack {
		if name == start {
			chain = append(chain, stack[i:]...)
			break
		}
	}
	chain = append(chain, start)
	d := domain.ErrCircularReference(chain)
	d.Cube, d.Key = closing.cube.Name, closing.key
	return d.WithFile(closing.cube.File, closing.member.Base().Line)
}

// memberRefs appends the qualified members e references, resolving self
// references against c.
func memberRefs(c *domain.Cube, e domain.Expr, out []string) []string {
	for _, r := range e.Refs() {
		if r.Member == "" {
			continue
		}
		switch r.Kind {
		case ast.RefSymbol, ast.RefSelf, ast.RefMember:
			cube := r.Cube
			if cube == "" || r.Kind != ast.RefSymbol {
				cube = c.Name
			}
			out = append(out, cube+"."+r.Member)
		}
	}
	return out
}

func memberKey(b *domain.MemberBase) string {
	switch b.Kind {
	case domain.MemberMeasure:
		return "measures." + b.Name
	case domain.MemberSegment:
		return "segments." + b.Name
	default:
		return "dimensions." + b.Name
	}
}
