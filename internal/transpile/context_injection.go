package transpile

import (
	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
)

// MemberSections are the cube body keys that hold named members.
var MemberSections = []string{"measures", "dimensions", "segments", "joins", "pre_aggregations"}

const maxExportDepth = 16

// ContextInjection binds every cube and view body to its evaluation scope. It
// inlines imported fragments, classifies references and records which other
// cubes each member depends on.
type ContextInjection struct{}

func (ContextInjection) Name() string { return "context_injection" }

func (ContextInjection) Transform(prog *ast.Program, cc *Context) (*ast.Program, error) {
	for _, f := range prog.Files {
		for _, section := range []string{"cubes", "views"} {
			for _, def := range f.Definitions(section) {
				if def.Name == "" {
					continue
				}
				inj := &injector{cc: cc, file: f.Path, cube: def.Name}
				inj.body(def.Body)
			}
		}
	}
	return prog, nil
}

type injector struct {
	cc   *Context
	file string
	cube string
}

func (inj *injector) body(body *ast.Mapping) {
	var cubeDeps []string
	for _, e := range body.Entries {
		if isSection(e.Key) {
			for _, m := range ast.Members(e.Value) {
				deps := inj.node(m.Body)
				if mb, ok := m.Body.(*ast.Mapping); ok {
					mb.Scope = &ast.Scope{Cube: inj.cube, Deps: deps}
				}
				cubeDeps = appendUnique(cubeDeps, deps...)
			}
			continue
		}
		cubeDeps = appendUnique(cubeDeps, inj.node(e.Value)...)
	}
	body.Scope = &ast.Scope{Cube: inj.cube, Deps: cubeDeps}
}

// node binds scripts and classifies templates below n, returning the symbols
// referenced.
func (inj *injector) node(n ast.Node) []string {
	var deps []string
	ast.Walk(n, func(node ast.Node) bool {
		switch v := node.(type) {
		case *ast.Script:
			v.Cube = inj.cube
		case *ast.Template:
			inj.inline(v, 0)
			deps = appendUnique(deps, v.Classify(inj.cube, inj.cc.IsSymbol)...)
		}
		return true
	})
	return deps
}

// inline replaces export references with copies of the exported fragment.
func (inj *injector) inline(t *ast.Template, depth int) {
	if depth > maxExportDepth {
		inj.cc.Report(domain.ErrTranspile(inj.file, t.Pos.Line, "imported fragments nest deeper than %d levels", maxExportDepth))
		return
	}
	var parts []ast.Part
	changed := false
	for _, p := range t.Parts {
		if p.Ref == nil || p.Ref.Kind != ast.RefExport {
			parts = append(parts, p)
			continue
		}
		src, ok := inj.cc.Export(p.Ref.File, p.Ref.Name)
		if !ok {
			inj.cc.Report(domain.ErrTranspile(inj.file, t.Pos.Line, "unknown export %s#%s", p.Ref.File, p.Ref.Name))
			continue
		}
		frag := src.Clone()
		inj.inline(frag, depth+1)
		parts = append(parts, frag.Parts...)
		changed = true
	}
	if changed {
		t.Parts = parts
	}
}

func isSection(key string) bool {
	for _, s := range MemberSections {
		if s == key {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, names ...string) []string {
	for _, n := range names {
		found := false
		for _, d := range dst {
			if d == n {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, n)
		}
	}
	return dst
}
