package extensions

import (
	"go.starlark.net/starlark"

	"github.com/zzzcdf/cube.js/internal/domain"
)

// RefreshKeys builds refresh_key dicts.
//
//	RefreshKeys.every("1 hour")  -> {"every": "1 hour"}
//	RefreshKeys.sql("SELECT MAX(updated_at) FROM orders") -> {"sql": ...}
type RefreshKeys struct{}

func (RefreshKeys) Name() string { return "RefreshKeys" }

func (RefreshKeys) Build(domain.Catalog) (starlark.Value, error) {
	return module("RefreshKeys", starlark.StringDict{
		"every": starlark.NewBuiltin("every", refreshEvery),
		"sql":   starlark.NewBuiltin("sql", refreshSQL),
	}), nil
}

func refreshEvery(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var interval string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "interval", &interval); err != nil {
		return nil, err
	}
	if _, err := domain.ParseRefreshEvery(interval); err != nil {
		return nil, err
	}
	d := starlark.NewDict(1)
	_ = d.SetKey(starlark.String("every"), starlark.String(interval))
	return d, nil
}

func refreshSQL(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var query string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "query", &query); err != nil {
		return nil, err
	}
	d := starlark.NewDict(1)
	_ = d.SetKey(starlark.String("sql"), starlark.String(query))
	return d, nil
}
