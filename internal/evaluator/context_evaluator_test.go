package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzzcdf/cube.js/internal/domain"
)

func TestContextEvaluator_RowFilters(t *testing.T) {
	h := evaluate(t, map[string]any{"schema": "s"}, ordersSrc, customersSrc)
	ce := NewContextEvaluator(h.model, h.scope)

	filters, err := ce.RowFilters("Orders", map[string]any{
		"role":      "analyst",
		"tenant_id": "acme's",
		"regions":   []any{"eu", "us"},
	})
	require.NoError(t, err)
	require.Len(t, filters, 2)
	assert.Equal(t, "{CUBE}.tenant_id = 'acme''s'", filters[0].SQL)
	assert.Equal(t, 0, filters[0].Policy)
	assert.Equal(t, "{CUBE}.region IN ('eu', 'us')", filters[1].SQL)

	// admins skip the first policy
	filters, err = ce.RowFilters("Orders", map[string]any{"role": "admin", "regions": []any{"eu"}})
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.Equal(t, 1, filters[0].Policy)

	_, err = ce.RowFilters("Orders", map[string]any{"role": "analyst", "regions": []any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"tenant_id"`)

	_, err = ce.RowFilters("Nope", nil)
	assert.True(t, domain.IsKind(err, domain.KindUnknownCube))

	filters, err = ce.RowFilters("Customers", nil)
	require.NoError(t, err)
	assert.Empty(t, filters)
}

func TestContextEvaluator_Contexts(t *testing.T) {
	h := evaluate(t, map[string]any{"schema": "s"}, ordersSrc, customersSrc)
	ce := NewContextEvaluator(h.model, h.scope)

	assert.Equal(t, []string{"Sales"}, ce.Contexts())
	members, err := ce.ContextMembers("Sales")
	require.NoError(t, err)
	assert.Equal(t, []string{"Orders", "Customers"}, members)

	_, err = ce.ContextMembers("Marketing")
	assert.Error(t, err)
}

func TestContextEvaluator_EvaluateCondition(t *testing.T) {
	h := evaluate(t, nil, customersSrc)
	ce := NewContextEvaluator(h.model, h.scope)

	ok, err := ce.EvaluateCondition("security_context['level'] > 2", map[string]any{"level": 3})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ce.EvaluateCondition("'x' in security_context", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ce.EvaluateCondition("security_context[", nil)
	assert.Error(t, err)
}

func TestSQLLiteral(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{"o'k", "'o''k'"},
		{true, "TRUE"},
		{int64(7), "7"},
		{2.5, "2.5"},
		{[]string{"a", "b"}, "('a', 'b')"},
		{[]any{}, "(NULL)"},
	}
	for _, tc := range tests {
		got, err := sqlLiteral(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
	_, err := sqlLiteral(map[string]any{"a": 1})
	assert.Error(t, err)
	_, err = sqlLiteral([]any{[]any{1}})
	assert.Error(t, err)
	_, err = sqlLiteral([]any{"a", []string{"b", "c"}})
	assert.ErrorContains(t, err, "nested lists")
}
