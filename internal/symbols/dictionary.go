// Package symbols assigns canonical names to cubes and views and holds the
// lazily forced bindings that let definitions reference each other in any
// order.
package symbols

import (
	"strings"

	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/transpile"
)

// Layer is one source body contributing to a declaration.
type Layer struct {
	File string
	Body *ast.Mapping
}

// Declaration is a cube or view together with every body that defines it. The
// first layer is the base; later layers refine it and must extend it by name.
type Declaration struct {
	Name   string
	Kind   domain.SymbolKind
	File   string
	Line   int
	Layers []Layer
}

// ContextDeclaration is a named group of cubes.
type ContextDeclaration struct {
	Name string
	File string
	Line int
	Body *ast.Mapping
}

// Dictionary records the first declaration site of every name.
type Dictionary struct {
	decls    map[string]*Declaration
	order    []string
	contexts []*ContextDeclaration
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{decls: make(map[string]*Declaration)}
}

// Collect declares every cube, view and context of prog, registering cube and
// view names with cc so the transpile chain can classify references.
func (d *Dictionary) Collect(prog *ast.Program, cc *transpile.Context) {
	for _, f := range prog.Files {
		d.collect(f, "cubes", domain.SymbolCube, cc)
		d.collect(f, "views", domain.SymbolView, cc)
		d.collectContexts(f, cc)
	}
}

func (d *Dictionary) collect(f *ast.File, section string, kind domain.SymbolKind, cc *transpile.Context) {
	for _, def := range f.Definitions(section) {
		name, ok := canonicalName(def.Name)
		line := def.Body.Pos.Line
		if !ok {
			cc.Report(domain.ErrInvalidSchema(def.Name, "name", "%s name %q is not a valid identifier", kind, def.Name).WithFile(f.Path, line))
			continue
		}
		layer := Layer{File: f.Path, Body: def.Body}
		if prev, exists := d.decls[name]; exists {
			if def.Body.String("extends") == name && prev.Kind == kind {
				prev.Layers = append(prev.Layers, layer)
				continue
			}
			cc.Report(domain.ErrDuplicateSymbol(name, prev.File, f.Path).WithFile(f.Path, line))
			continue
		}
		decl := &Declaration{Name: name, Kind: kind, File: f.Path, Line: line, Layers: []Layer{layer}}
		d.decls[name] = decl
		d.order = append(d.order, name)
		cc.Declare(transpile.Decl{Name: name, Kind: kind, File: f.Path, Line: line})
	}
}

func (d *Dictionary) collectContexts(f *ast.File, cc *transpile.Context) {
	for _, def := range f.Definitions("contexts") {
		name, ok := canonicalName(def.Name)
		line := def.Body.Pos.Line
		if !ok {
			cc.Report(domain.ErrInvalidSchema(def.Name, "name", "context name %q is not a valid identifier", def.Name).WithFile(f.Path, line))
			continue
		}
		for _, prev := range d.contexts {
			if prev.Name == name {
				cc.Report(domain.ErrDuplicateSymbol(name, prev.File, f.Path).WithFile(f.Path, line))
				ok = false
				break
			}
		}
		if ok {
			d.contexts = append(d.contexts, &ContextDeclaration{Name: name, File: f.Path, Line: line, Body: def.Body})
		}
	}
}

func canonicalName(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	return name, ast.IsIdentifier(name)
}

// Declaration returns the declaration of name.
func (d *Dictionary) Declaration(name string) (*Declaration, bool) {
	decl, ok := d.decls[name]
	return decl, ok
}

// Declarations returns every cube and view in declaration order.
func (d *Dictionary) Declarations() []*Declaration {
	out := make([]*Declaration, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.decls[name])
	}
	return out
}

// Contexts returns the declared contexts in declaration order.
func (d *Dictionary) Contexts() []*ContextDeclaration { return d.contexts }

// Names implements domain.Catalog.
func (d *Dictionary) Names() []string {
	return append([]string(nil), d.order...)
}

// Kind implements domain.Catalog.
func (d *Dictionary) Kind(name string) (domain.SymbolKind, bool) {
	decl, ok := d.decls[name]
	if !ok {
		return "", false
	}
	return decl.Kind, true
}

var _ domain.Catalog = (*Dictionary)(nil)
