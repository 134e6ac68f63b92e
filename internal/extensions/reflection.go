package extensions

import (
	"go.starlark.net/starlark"

	"github.com/zzzcdf/cube.js/internal/domain"
)

// Reflection exposes a read-only view of the declared cubes and views.
type Reflection struct{}

func (Reflection) Name() string { return "Reflection" }

func (Reflection) Build(catalog domain.Catalog) (starlark.Value, error) {
	names := catalog.Names()
	list := make([]starlark.Value, len(names))
	kinds := make(map[string]domain.SymbolKind, len(names))
	for i, n := range names {
		list[i] = starlark.String(n)
		kinds[n], _ = catalog.Kind(n)
	}
	all := starlark.NewList(list)
	all.Freeze()

	return module("Reflection", starlark.StringDict{
		"cubes": starlark.NewBuiltin("cubes", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
				return nil, err
			}
			return all, nil
		}),
		"has_cube": starlark.NewBuiltin("has_cube", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			_, ok := kinds[name]
			return starlark.Bool(ok), nil
		}),
		"kind": starlark.NewBuiltin("kind", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			k, ok := kinds[name]
			if !ok {
				return starlark.None, nil
			}
			return starlark.String(k), nil
		}),
	}), nil
}
