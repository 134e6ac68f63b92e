// Package evaluator forces the symbol table into the compiled model and
// evaluates request-scoped access policies against it.
package evaluator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/extensions"
)

const (
	defaultMaxSteps = uint64(100_000)
	defaultTimeout  = 2 * time.Second
	maxScriptBytes  = 64 * 1024

	compileContextName = "COMPILE_CONTEXT"
)

// Scope is the shared, frozen Starlark environment that compile-time scripts
// and access policy conditions run in.
type Scope struct {
	globals        starlark.StringDict
	compileContext map[string]any
	maxSteps       uint64
	timeout        time.Duration
}

// NewScope builds the scope from the caller's compile context and the
// extensions, all frozen.
func NewScope(compileContext map[string]any, exts []extensions.Extension, catalog domain.Catalog) (*Scope, error) {
	globals, err := extensions.BuildAll(exts, catalog)
	if err != nil {
		return nil, err
	}
	if _, clash := globals[compileContextName]; clash {
		return nil, fmt.Errorf("extension name %s is reserved", compileContextName)
	}
	cc, err := ToStarlark(compileContext)
	if err != nil {
		return nil, fmt.Errorf("compile context: %w", err)
	}
	cc.Freeze()
	globals[compileContextName] = cc

	return &Scope{
		globals:        globals,
		compileContext: compileContext,
		maxSteps:       defaultMaxSteps,
		timeout:        defaultTimeout,
	}, nil
}

// WithLimits returns a copy of s with different execution bounds.
func (s *Scope) WithLimits(maxSteps uint64, timeout time.Duration) *Scope {
	c := *s
	c.maxSteps = maxSteps
	c.timeout = timeout
	return &c
}

// CompileValue looks up a dotted path in the compile context.
func (s *Scope) CompileValue(path []string) (any, bool) {
	var cur any = s.compileContext
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Eval evaluates one expression. locals shadow the scope's globals.
func (s *Scope) Eval(name, src string, locals starlark.StringDict) (starlark.Value, error) {
	if len(src) > maxScriptBytes {
		return nil, fmt.Errorf("expression exceeds %d bytes", maxScriptBytes)
	}
	predeclared := make(starlark.StringDict, len(s.globals)+len(locals))
	for k, v := range s.globals {
		predeclared[k] = v
	}
	for k, v := range locals {
		predeclared[k] = v
	}

	thread := &starlark.Thread{Name: name}
	thread.SetMaxExecutionSteps(s.maxSteps)

	var result starlark.Value
	err := runWithTimeout(thread, s.timeout, func() error {
		v, err := starlark.EvalOptions(&syntax.FileOptions{}, thread, name, src, predeclared)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func runWithTimeout(thread *starlark.Thread, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		return fn()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		thread.Cancel("execution timed out")
		if err := <-done; err != nil {
			return fmt.Errorf("execution timed out after %s: %w", timeout, err)
		}
		return fmt.Errorf("execution timed out after %s", timeout)
	}
}

// ToStarlark converts JSON-like Go values into frozen-able Starlark values.
// Map keys are inserted in sorted order.
func ToStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return x, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return starlark.MakeInt64(int64(x)), nil
		}
		return starlark.Float(x), nil
	case []any:
		items := make([]starlark.Value, len(x))
		for i, item := range x {
			sv, err := ToStarlark(item)
			if err != nil {
				return nil, err
			}
			items[i] = sv
		}
		return starlark.NewList(items), nil
	case []string:
		items := make([]starlark.Value, len(x))
		for i, item := range x {
			items[i] = starlark.String(item)
		}
		return starlark.NewList(items), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(x))
		for _, k := range keys {
			sv, err := ToStarlark(x[k])
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("unsupported value of type %T", v)
}

// FromStarlark converts a Starlark value back into plain Go values.
func FromStarlark(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Int:
		n, ok := x.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", x)
		}
		return n, nil
	case starlark.Float:
		return float64(x), nil
	case *starlark.List:
		return fromIterable(x, x.Len())
	case starlark.Tuple:
		return fromIterable(x, x.Len())
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for _, item := range x.Items() {
			k, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0])
			}
			val, err := FromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported starlark value of type %s", v.Type())
}

func fromIterable(it starlark.Indexable, n int) (any, error) {
	out := make([]any, n)
	for i := 0; i < n; i++ {
		val, err := FromStarlark(it.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}
