package extensions

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/zzzcdf/cube.js/internal/domain"
)

// Funnels builds conversion funnel SQL.
//
//	Funnels.event_funnel(
//	    user_id = "user_id",
//	    time = "created_at",
//	    steps = [{"name": "view", "sql": "SELECT ..."}, {"name": "buy", "sql": "SELECT ..."}],
//	)
//
// Each step row carries the user and event time columns. A user reaches step
// n when it has an event in every step 0..n at non-decreasing times.
type Funnels struct{}

func (Funnels) Name() string { return "Funnels" }

func (Funnels) Build(domain.Catalog) (starlark.Value, error) {
	return module("Funnels", starlark.StringDict{
		"event_funnel": starlark.NewBuiltin("event_funnel", eventFunnel),
	}), nil
}

type funnelStep struct {
	name string
	sql  string
}

func eventFunnel(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var userID, timeCol string
	var steps *starlark.List
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "user_id", &userID, "time", &timeCol, "steps", &steps); err != nil {
		return nil, err
	}
	if steps.Len() == 0 {
		return nil, fmt.Errorf("%s: steps must not be empty", b.Name())
	}
	parsed := make([]funnelStep, 0, steps.Len())
	for i := 0; i < steps.Len(); i++ {
		step, err := unpackStep(steps.Index(i))
		if err != nil {
			return nil, fmt.Errorf("%s: step %d: %w", b.Name(), i, err)
		}
		parsed = append(parsed, step)
	}
	return starlark.String(funnelSQL(userID, timeCol, parsed)), nil
}

func unpackStep(v starlark.Value) (funnelStep, error) {
	d, ok := v.(*starlark.Dict)
	if !ok {
		return funnelStep{}, fmt.Errorf("want dict, got %s", v.Type())
	}
	get := func(key string) (string, error) {
		raw, found, err := d.Get(starlark.String(key))
		if err != nil {
			return "", err
		}
		if !found {
			return "", fmt.Errorf("missing %q", key)
		}
		s, ok := starlark.AsString(raw)
		if !ok || strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("%q must be a non-empty string", key)
		}
		return s, nil
	}
	name, err := get("name")
	if err != nil {
		return funnelStep{}, err
	}
	sql, err := get("sql")
	if err != nil {
		return funnelStep{}, err
	}
	return funnelStep{name: name, sql: sql}, nil
}

func funnelSQL(userID, timeCol string, steps []funnelStep) string {
	var b strings.Builder
	b.WriteString("SELECT user_id, first_step_time, step FROM (\n")
	for n := range steps {
		if n > 0 {
			b.WriteString("  UNION ALL\n")
		}
		fmt.Fprintf(&b, "  SELECT s0.%s AS user_id, s0.%s AS first_step_time, '%s' AS step\n",
			userID, timeCol, strings.ReplaceAll(steps[n].name, "'", "''"))
		fmt.Fprintf(&b, "  FROM (%s) s0\n", steps[0].sql)
		for i := 1; i <= n; i++ {
			fmt.Fprintf(&b, "  JOIN (%s) s%d ON s%d.%s = s%d.%s AND s%d.%s >= s%d.%s\n",
				steps[i].sql, i, i, userID, i-1, userID, i, timeCol, i-1, timeCol)
		}
	}
	b.WriteString(") funnel")
	return b.String()
}
