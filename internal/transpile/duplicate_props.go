package transpile

import (
	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
)

// DuplicateProps reports keys repeated within one file, cube body, member
// section or member body.
type DuplicateProps struct{}

func (DuplicateProps) Name() string { return "duplicate_props" }

func (DuplicateProps) Transform(prog *ast.Program, cc *Context) (*ast.Program, error) {
	for _, f := range prog.Files {
		report := func(cube, section string, key string, pos ast.Pos) {
			cc.Report(domain.ErrDuplicateProperty(cube, section, key).WithFile(f.Path, pos.Line))
		}
		for _, d := range repeated(entriesOf(f.Root)) {
			report("", "", d.Name, d.Pos)
		}
		for _, section := range []string{"cubes", "views", "contexts"} {
			for _, def := range f.Definitions(section) {
				for _, d := range repeated(entriesOf(def.Body)) {
					report(def.Name, "", d.Name, d.Pos)
				}
				for _, name := range MemberSections {
					members := ast.Members(def.Body.Get(name))
					for _, d := range repeated(members) {
						report(def.Name, name, d.Name, d.Pos)
					}
					for _, m := range members {
						body, ok := m.Body.(*ast.Mapping)
						if !ok {
							continue
						}
						for _, d := range repeated(entriesOf(body)) {
							report(def.Name, name+"."+m.Name, d.Name, d.Pos)
						}
					}
				}
			}
		}
	}
	return prog, nil
}

func entriesOf(m *ast.Mapping) []ast.Named {
	return ast.Members(m)
}

// repeated returns every occurrence after the first of a name.
func repeated(items []ast.Named) []ast.Named {
	seen := make(map[string]bool, len(items))
	var out []ast.Named
	for _, it := range items {
		if it.Name == "" {
			continue
		}
		if seen[it.Name] {
			out = append(out, it)
			continue
		}
		seen[it.Name] = true
	}
	return out
}
