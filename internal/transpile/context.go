// Package transpile runs the ordered source-to-source rewrites applied to a
// parsed program before symbols are declared.
package transpile

import (
	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
)

// Decl is the declaration site of a cube or view.
type Decl struct {
	Name string
	Kind domain.SymbolKind
	File string
	Line int
}

// Context is the mutable state threaded through one transpile pass.
type Context struct {
	decls   map[string]Decl
	order   []string
	exports map[string]*ast.Template
	diags   domain.Diagnostics
}

// NewContext returns an empty compile context.
func NewContext() *Context {
	return &Context{
		decls:   make(map[string]Decl),
		exports: make(map[string]*ast.Template),
	}
}

// Declare records a declaration. When the name is already declared the
// existing declaration is returned with false.
func (c *Context) Declare(d Decl) (Decl, bool) {
	if prev, ok := c.decls[d.Name]; ok {
		return prev, false
	}
	c.decls[d.Name] = d
	c.order = append(c.order, d.Name)
	return d, true
}

// Lookup returns the declaration of name.
func (c *Context) Lookup(name string) (Decl, bool) {
	d, ok := c.decls[name]
	return d, ok
}

// IsSymbol reports whether name is a declared cube or view.
func (c *Context) IsSymbol(name string) bool {
	_, ok := c.decls[name]
	return ok
}

// Declarations returns every declaration in declaration order.
func (c *Context) Declarations() []Decl {
	out := make([]Decl, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.decls[name])
	}
	return out
}

func exportKey(file, name string) string { return file + "#" + name }

// AddExport records an exported template of file.
func (c *Context) AddExport(file, name string, value *ast.Template) {
	c.exports[exportKey(file, name)] = value
}

// Export returns the template exported by file under name.
func (c *Context) Export(file, name string) (*ast.Template, bool) {
	t, ok := c.exports[exportKey(file, name)]
	return t, ok
}

// Report records diagnostics.
func (c *Context) Report(diags ...*domain.Diagnostic) { c.diags.Report(diags...) }

// Diagnostics returns everything reported so far.
func (c *Context) Diagnostics() []*domain.Diagnostic { return c.diags.All() }

// HasErrors reports whether an error diagnostic was reported.
func (c *Context) HasErrors() bool { return c.diags.HasErrors() }

// Err returns the aggregated CompileError for stage, or nil.
func (c *Context) Err(stage string) error { return c.diags.Err(stage) }
