package evaluator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.starlark.net/starlark"

	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
)

const securityContextName = "security_context"

// RowFilter is an access policy filter that applies to one request.
type RowFilter struct {
	Cube string
	// SQL is template text with security context values already substituted.
	SQL string
	// Policy is the index of the policy in the cube's access_policy list.
	Policy int
}

// ContextEvaluator answers request-scoped questions against a compiled model.
// It is safe for concurrent use.
type ContextEvaluator struct {
	model    *Model
	scope    *Scope
	contexts map[string]*domain.Context
}

// NewContextEvaluator binds a context evaluator to model. Conditions run in
// scope with security_context bound per call.
func NewContextEvaluator(model *Model, scope *Scope) *ContextEvaluator {
	ce := &ContextEvaluator{model: model, scope: scope, contexts: make(map[string]*domain.Context)}
	for _, c := range model.Contexts() {
		ce.contexts[c.Name] = c
	}
	return ce
}

// Contexts returns the declared context names in declaration order.
func (ce *ContextEvaluator) Contexts() []string {
	out := make([]string, 0, len(ce.contexts))
	for _, c := range ce.model.Contexts() {
		out = append(out, c.Name)
	}
	return out
}

// ContextMembers returns the cubes grouped under a context.
func (ce *ContextEvaluator) ContextMembers(name string) ([]string, error) {
	c, ok := ce.contexts[name]
	if !ok {
		return nil, domain.ErrInvalidSchema(name, "", "context %q does not exist", name)
	}
	return append([]string(nil), c.Members...), nil
}

// EvaluateCondition evaluates a Starlark condition with security_context
// bound and returns its truth value.
func (ce *ContextEvaluator) EvaluateCondition(expr string, securityContext map[string]any) (bool, error) {
	sc, err := ToStarlark(securityContext)
	if err != nil {
		return false, fmt.Errorf("security context: %w", err)
	}
	sc.Freeze()
	v, err := ce.scope.Eval("condition", expr, starlark.StringDict{securityContextName: sc})
	if err != nil {
		return false, err
	}
	return bool(v.Truth()), nil
}

// RowFilters returns the row filters that apply to cube for the given
// security context, in policy order. A policy applies when it has no
// condition or its condition is true.
func (ce *ContextEvaluator) RowFilters(cube string, securityContext map[string]any) ([]RowFilter, error) {
	c, ok := ce.model.Cube(cube)
	if !ok {
		return nil, domain.ErrUnknownCube("", "", cube)
	}
	var out []RowFilter
	for i, p := range c.AccessPolicies {
		if p.Condition != "" {
			applies, err := ce.EvaluateCondition(p.Condition, securityContext)
			if err != nil {
				return nil, domain.ErrEvaluation(cube, fmt.Sprintf("access_policy[%d].condition", i), "%v", err)
			}
			if !applies {
				continue
			}
		}
		if p.RowFilter.IsZero() {
			continue
		}
		sql, err := renderRowFilter(p.RowFilter.Template, securityContext)
		if err != nil {
			return nil, domain.ErrEvaluation(cube, fmt.Sprintf("access_policy[%d].row_filter", i), "%v", err)
		}
		out = append(out, RowFilter{Cube: cube, SQL: sql, Policy: i})
	}
	return out, nil
}

func renderRowFilter(t *ast.Template, sc map[string]any) (string, error) {
	escape := strings.NewReplacer("{", "{{", "}", "}}")
	var b strings.Builder
	for _, p := range t.Parts {
		switch {
		case p.Ref == nil:
			b.WriteString(escape.Replace(p.Text))
		case p.Ref.Kind == ast.RefSecurityContext:
			v, ok := lookupPath(sc, p.Ref.Path[1:])
			if !ok || len(p.Ref.Path) < 2 {
				return "", fmt.Errorf("security context key %q is missing", p.Ref.Key())
			}
			lit, err := sqlLiteral(v)
			if err != nil {
				return "", fmt.Errorf("security context key %q: %w", p.Ref.Key(), err)
			}
			b.WriteString(escape.Replace(lit))
		default:
			b.WriteByte('{')
			b.WriteString(p.Ref.String())
			b.WriteByte('}')
		}
	}
	return b.String(), nil
}

func lookupPath(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, p := range path {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = mm[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// sqlLiteral renders a security context value as a SQL literal. Lists become
// a parenthesized, comma separated list for use with IN.
func sqlLiteral(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case []string:
		items := make([]any, len(x))
		for i, s := range x {
			items[i] = s
		}
		return sqlLiteral(items)
	case []any:
		if len(x) == 0 {
			return "(NULL)", nil
		}
		parts := make([]string, len(x))
		for i, item := range x {
			switch item.(type) {
			case []any, []string:
				return "", fmt.Errorf("nested lists are not supported")
			}
			lit, err := sqlLiteral(item)
			if err != nil {
				return "", err
			}
			parts[i] = lit
		}
		return "(" + strings.Join(parts, ", ") + ")", nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", fmt.Errorf("object values (keys %s) cannot be used as SQL literals", strings.Join(keys, ", "))
	}
	return "", fmt.Errorf("unsupported value of type %T", v)
}
