package transpile

import (
	"path"
	"strings"

	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
)

// ImportExport records file exports and rewrites references to imported names
// into fully-qualified export references.
type ImportExport struct{}

func (ImportExport) Name() string { return "import_export" }

func (ImportExport) Transform(prog *ast.Program, cc *Context) (*ast.Program, error) {
	files := make(map[string]bool, len(prog.Files))
	for _, f := range prog.Files {
		files[f.Path] = true
		for _, e := range f.Exports {
			cc.AddExport(f.Path, e.Name, e.Value)
		}
	}

	for _, f := range prog.Files {
		// a file's own exports are in scope without an import
		aliases := make(map[string]ast.Ref)
		for _, e := range f.Exports {
			if !cc.IsSymbol(e.Name) {
				aliases[e.Name] = ast.Ref{Kind: ast.RefExport, File: f.Path, Name: e.Name}
			}
		}
		for _, imp := range f.Imports {
			from := NormalizePath(imp.From)
			if !files[from] {
				cc.Report(domain.ErrTranspile(f.Path, imp.Pos.Line, "import from %q: file not found", imp.From))
				continue
			}
			for _, n := range imp.Names {
				if _, ok := cc.Export(from, n.Name); !ok {
					cc.Report(domain.ErrTranspile(f.Path, imp.Pos.Line, "import %q from %q: no such export", n.Name, imp.From))
					continue
				}
				if cc.IsSymbol(n.Alias) {
					cc.Report(domain.ErrTranspile(f.Path, imp.Pos.Line, "import alias %q shadows a cube or view", n.Alias))
					continue
				}
				if _, dup := aliases[n.Alias]; dup {
					cc.Report(domain.ErrTranspile(f.Path, imp.Pos.Line, "import alias %q is bound twice", n.Alias))
					continue
				}
				aliases[n.Alias] = ast.Ref{Kind: ast.RefExport, File: from, Name: n.Name}
			}
		}
		if len(aliases) == 0 {
			continue
		}
		for _, tmpl := range ast.Templates(f.Root) {
			for _, ref := range tmpl.Refs() {
				if ref.Kind != ast.RefUnresolved {
					continue
				}
				target, ok := aliases[ref.Path[0]]
				if !ok {
					continue
				}
				if len(ref.Path) > 1 {
					cc.Report(domain.ErrTranspile(f.Path, tmpl.Pos.Line, "imported name %q has no members", ref.Path[0]))
					continue
				}
				ref.Kind = target.Kind
				ref.File = target.File
				ref.Name = target.Name
			}
		}
	}
	return prog, nil
}

// NormalizePath cleans a repository-relative path.
func NormalizePath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
}
