package evaluator

import (
	"strings"

	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/symbols"
)

// view builds a view: its own members plus one proxy member for every
// member it includes from the cubes along its join paths.
func (b *builder) view(s *symbols.Surface, cubes map[string]*domain.Cube) *domain.Cube {
	props := surfaceProps{s}
	v := b.common(s, props)

	taken := make(map[string]bool)
	for _, m := range v.Members() {
		taken[m.Base().Name] = true
	}

	seq, ok := b.node(props, "cubes").(*ast.Sequence)
	if !ok {
		return v
	}
	for _, item := range seq.Items {
		m, ok := b.resolve(item, "").(*ast.Mapping)
		if !ok {
			continue
		}
		inc := b.include(m)
		if inc == nil {
			continue
		}
		v.ViewIncludes = append(v.ViewIncludes, inc)

		target := inc.JoinPath[len(inc.JoinPath)-1]
		src, ok := cubes[target]
		if !ok || src.IsView() {
			b.report(domain.ErrUnknownCube(v.Name, "cubes."+strings.Join(inc.JoinPath, "."), target), inc.Line)
			continue
		}
		for _, sel := range b.selection(m, inc, src) {
			member, ok := src.Member(sel.name)
			if !ok {
				b.report(domain.ErrUnknownMember(v.Name, "cubes."+strings.Join(inc.JoinPath, "."), target+"."+sel.name), inc.Line)
				continue
			}
			name := sel.alias
			if name == "" {
				name = sel.name
				if inc.Prefix {
					prefix := inc.Alias
					if prefix == "" {
						prefix = target
					}
					name = prefix + "_" + sel.name
				}
			}
			if taken[name] {
				b.report(domain.ErrInvalidSchema(v.Name, name, "member %q is included more than once", name), inc.Line)
				continue
			}
			taken[name] = true
			addProxy(v, member, name)
		}
	}
	return v
}

func (b *builder) include(m *ast.Mapping) *domain.ViewInclude {
	jp := strings.TrimSpace(b.str(m, "join_path"))
	if jp == "" {
		// structural validation reports the missing join_path
		return nil
	}
	return &domain.ViewInclude{
		JoinPath: strings.Split(jp, "."),
		Prefix:   b.boolean(m, "prefix", false),
		Alias:    b.str(m, "alias"),
		Excludes: b.strings(m, "excludes"),
		Line:     m.Pos.Line,
	}
}

type selected struct {
	name  string
	alias string
}

// selection lists the members an include pulls in, filling inc.Includes and
// inc.All.
func (b *builder) selection(m *ast.Mapping, inc *domain.ViewInclude, src *domain.Cube) []selected {
	excluded := make(map[string]bool, len(inc.Excludes))
	for _, e := range inc.Excludes {
		excluded[e] = true
	}

	var out []selected
	switch n := b.node(m, "includes").(type) {
	case *ast.Scalar:
		if n.Value != "*" {
			out = append(out, selected{name: n.Value})
			break
		}
		inc.All = true
		for _, member := range src.Members() {
			out = append(out, selected{name: member.Base().Name})
		}
	case *ast.Sequence:
		for _, item := range n.Items {
			switch it := b.resolve(item, "").(type) {
			case *ast.Scalar:
				out = append(out, selected{name: it.Value})
			case *ast.Mapping:
				out = append(out, selected{name: b.str(it, "name"), alias: b.str(it, "alias")})
			}
		}
	}

	kept := out[:0]
	for _, sel := range out {
		if sel.name == "" || excluded[sel.name] {
			continue
		}
		inc.Includes = append(inc.Includes, sel.name)
		kept = append(kept, sel)
	}
	return kept
}

// addProxy appends a member of v that stands for member.
func addProxy(v *domain.Cube, member domain.Member, name string) {
	src := member.Base()
	base := *src
	base.Cube = v.Name
	base.Name = name
	base.AliasOf = src.QualifiedName()
	base.Deps = []string{src.Cube}
	base.SQL = domain.Expr{Template: &ast.Template{Parts: []ast.Part{{Ref: &ast.Ref{
		Path:   []string{src.Cube, src.Name},
		Kind:   ast.RefSymbol,
		Cube:   src.Cube,
		Member: src.Name,
	}}}}}

	switch m := member.(type) {
	case *domain.Measure:
		cp := *m
		cp.MemberBase = base
		cp.Filters = nil
		v.Measures = append(v.Measures, &cp)
	case *domain.Dimension:
		cp := *m
		cp.MemberBase = base
		v.Dimensions = append(v.Dimensions, &cp)
	case *domain.Segment:
		cp := *m
		cp.MemberBase = base
		v.Segments = append(v.Segments, &cp)
	}
}
