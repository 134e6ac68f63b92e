package symbols

import (
	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/transpile"
)

// SurfaceMember is a section entry together with the file it came from.
type SurfaceMember struct {
	ast.Named
	File      string
	Inherited bool
}

// Surface is the merged, still unevaluated shape of a cube or view: the
// properties and member sections of its own layers on top of everything it
// extends.
type Surface struct {
	Name    string
	Kind    domain.SymbolKind
	File    string
	Line    int
	Extends string
	Deps    []string

	props    []*ast.Entry
	sections map[string][]SurfaceMember
}

func newSurface(decl *Declaration) *Surface {
	return &Surface{
		Name:     decl.Name,
		Kind:     decl.Kind,
		File:     decl.File,
		Line:     decl.Line,
		sections: make(map[string][]SurfaceMember),
	}
}

// Prop returns the effective value of a non-section property.
func (s *Surface) Prop(key string) ast.Node {
	for _, e := range s.props {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

// PropKeys returns the effective property keys in first-seen order.
func (s *Surface) PropKeys() []string {
	keys := make([]string, len(s.props))
	for i, e := range s.props {
		keys[i] = e.Key
	}
	return keys
}

// Section returns the merged entries of a member section.
func (s *Surface) Section(name string) []SurfaceMember {
	return s.sections[name]
}

// Member finds a measure, dimension or segment by name.
func (s *Surface) Member(name string) (domain.MemberKind, SurfaceMember, bool) {
	for _, sec := range []struct {
		name string
		kind domain.MemberKind
	}{
		{"measures", domain.MemberMeasure},
		{"dimensions", domain.MemberDimension},
		{"segments", domain.MemberSegment},
	} {
		for _, m := range s.sections[sec.name] {
			if m.Name == name {
				return sec.kind, m, true
			}
		}
	}
	return "", SurfaceMember{}, false
}

func (s *Surface) inherit(parent *Surface) {
	for _, e := range parent.props {
		if e.Key == "name" || e.Key == "extends" {
			continue
		}
		s.props = append(s.props, e)
	}
	for name, members := range parent.sections {
		inherited := make([]SurfaceMember, len(members))
		for i, m := range members {
			m.Inherited = true
			inherited[i] = m
		}
		s.sections[name] = inherited
	}
	s.Deps = appendUnique(s.Deps, parent.Deps...)
}

// apply overlays a layer. Entries replace same-named ones in place, so the
// last declaration of a key wins.
func (s *Surface) apply(layer Layer) {
	for _, e := range layer.Body.Entries {
		if isSection(e.Key) {
			for _, m := range ast.Members(e.Value) {
				s.setMember(e.Key, SurfaceMember{Named: m, File: layer.File})
			}
			continue
		}
		s.setProp(e)
	}
	if layer.Body.Scope != nil {
		s.Deps = appendUnique(s.Deps, layer.Body.Scope.Deps...)
	}
}

func (s *Surface) setProp(e *ast.Entry) {
	for i, p := range s.props {
		if p.Key == e.Key {
			s.props[i] = e
			return
		}
	}
	s.props = append(s.props, e)
}

func (s *Surface) setMember(section string, m SurfaceMember) {
	members := s.sections[section]
	for i, existing := range members {
		if existing.Name == m.Name && m.Name != "" {
			members[i] = m
			return
		}
	}
	s.sections[section] = append(members, m)
}

func isSection(key string) bool {
	for _, s := range transpile.MemberSections {
		if s == key {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, names ...string) []string {
	for _, n := range names {
		dup := false
		for _, d := range dst {
			if d == n {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, n)
		}
	}
	return dst
}

// CreateCube is the factory every declaration is bound with. The returned
// function forces the parent through t when the base layer extends another
// definition, then overlays each layer of decl in order.
func CreateCube(t *Table, decl *Declaration) Factory {
	return func() (*Surface, error) {
		s := newSurface(decl)
		base := decl.Layers[0]
		if parent := base.Body.String("extends"); parent != "" {
			if parent == decl.Name {
				return nil, domain.ErrInvalidSchema(decl.Name, "extends", "%s cannot extend itself", decl.Name).WithFile(base.File, base.Body.Pos.Line)
			}
			if !t.Has(parent) {
				return nil, domain.ErrUnknownCube(decl.Name, "extends", parent).WithFile(base.File, base.Body.Pos.Line)
			}
			ps, err := t.Resolve(parent)
			if err != nil {
				return nil, err
			}
			if ps.Kind == domain.SymbolView && decl.Kind == domain.SymbolCube {
				return nil, domain.ErrInvalidSchema(decl.Name, "extends", "cube %s cannot extend view %s", decl.Name, parent).WithFile(base.File, base.Body.Pos.Line)
			}
			s.Extends = parent
			s.inherit(ps)
		}
		for _, layer := range decl.Layers {
			s.apply(layer)
		}
		return s, nil
	}
}

// Populate declares every dictionary entry in a fresh table bound to
// CreateCube.
func Populate(d *Dictionary) *Table {
	t := NewTable()
	for _, decl := range d.Declarations() {
		// names are unique in the dictionary, so Declare cannot fail here
		_ = t.Declare(decl.Name, decl.Kind, decl.File, CreateCube(t, decl))
	}
	return t
}
