// Package extensions provides the named helper values injected into the
// compile-time evaluation scope.
package extensions

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/zzzcdf/cube.js/internal/domain"
)

// Extension builds one named value of the evaluation scope. Built values are
// frozen before use and must not hold references to mutable compiler state.
type Extension interface {
	Name() string
	Build(catalog domain.Catalog) (starlark.Value, error)
}

// Defaults returns the extensions every compile gets.
func Defaults() []Extension {
	return []Extension{Funnels{}, RefreshKeys{}, Reflection{}}
}

// BuildAll builds and freezes every extension into a predeclared dict.
// Duplicate names are rejected.
func BuildAll(exts []Extension, catalog domain.Catalog) (starlark.StringDict, error) {
	out := make(starlark.StringDict, len(exts))
	for _, ext := range exts {
		name := ext.Name()
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("extension %q registered twice", name)
		}
		v, err := ext.Build(catalog)
		if err != nil {
			return nil, fmt.Errorf("build extension %q: %w", name, err)
		}
		v.Freeze()
		out[name] = v
	}
	return out, nil
}

func module(name string, members starlark.StringDict) *starlarkstruct.Module {
	return &starlarkstruct.Module{Name: name, Members: members}
}
