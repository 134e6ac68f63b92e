package ast

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersYAML = `
imports:
  - from: shared/filters.yml
    names: [tenant_filter, "paid_only as paid"]
exports:
  big_order: "{CUBE}.amount > 100"
cubes:
  - name: Orders
    sql_table: public.orders
    public: true
    measures:
      count: {type: count}
      revenue: {type: sum, sql: "{CUBE}.amount"}
      revenue: {type: sum, sql: amount}
    dimensions:
      - name: id
        sql: id
        primary_key: true
    joins:
      Customers:
        relationship: many_to_one
        sql: "{CUBE}.customer_id = {Customers.id}"
    pre_aggregations:
      daily:
        refresh_key:
          every: !expr "'1 hour'"
`

func TestParse_KeepsStructureAndDuplicates(t *testing.T) {
	f, err := Parse("orders.yml", []byte(ordersYAML))
	require.NoError(t, err)

	require.Len(t, f.Imports, 1)
	assert.Equal(t, "shared/filters.yml", f.Imports[0].From)
	assert.Equal(t, []ImportName{
		{Name: "tenant_filter", Alias: "tenant_filter"},
		{Name: "paid_only", Alias: "paid"},
	}, f.Imports[0].Names)

	require.Len(t, f.Exports, 1)
	assert.Equal(t, "big_order", f.Exports[0].Name)
	assert.Equal(t, "{CUBE}.amount > 100", f.Exports[0].Value.String())

	defs := f.Definitions("cubes")
	require.Len(t, defs, 1)
	assert.Equal(t, "Orders", defs[0].Name)

	measures := Members(defs[0].Body.Get("measures"))
	require.Len(t, measures, 3)
	assert.Equal(t, "revenue", measures[1].Name)
	assert.Equal(t, "revenue", measures[2].Name)

	dims := Members(defs[0].Body.Get("dimensions"))
	require.Len(t, dims, 1)
	assert.Equal(t, "id", dims[0].Name)

	pk := dims[0].Body.(*Mapping).Get("primary_key").(*Scalar)
	assert.Equal(t, ScalarBool, pk.Kind)
	assert.True(t, pk.Bool())

	sqlTable, ok := defs[0].Body.Get("sql_table").(*Template)
	require.True(t, ok)
	assert.Equal(t, "public.orders", sqlTable.String())

	join := Members(defs[0].Body.Get("joins"))[0].Body.(*Mapping)
	tmpl := join.Get("sql").(*Template)
	refs := tmpl.Refs()
	require.Len(t, refs, 2)
	assert.Equal(t, []string{"CUBE"}, refs[0].Path)
	assert.Equal(t, []string{"Customers", "id"}, refs[1].Path)

	preAgg := Members(defs[0].Body.Get("pre_aggregations"))[0].Body.(*Mapping)
	every := preAgg.Get("refresh_key").(*Mapping).Get("every")
	script, ok := every.(*Script)
	require.True(t, ok)
	assert.Equal(t, "'1 hour'", script.Source)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"malformed yaml", "cubes: [\n  - name: a\n"},
		{"top level list", "- a\n- b\n"},
		{"bad template", "cubes:\n  - name: A\n    sql: \"SELECT {\"\n"},
		{"bad import", "imports:\n  - from: a.yml\n    names: [\"1x\"]\n"},
		{"import without names", "imports:\n  - from: a.yml\n"},
		{"export not string", "exports:\n  x: 1\n"},
		{"two documents", "cubes: []\n---\ncubes: []\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("bad.yml", []byte(tc.source))
			require.Error(t, err)
			var se *SyntaxError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "bad.yml", se.File)
		})
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	f, err := Parse("empty.yml", nil)
	require.NoError(t, err)
	assert.Empty(t, f.Root.Entries)
	assert.Empty(t, f.Definitions("cubes"))
}

func TestParse_MergeKeys(t *testing.T) {
	src := `
base: &base
  type: sum
cubes:
  - name: A
    measures:
      total:
        <<: *base
        sql: amount
`
	f, err := Parse("m.yml", []byte(src))
	require.NoError(t, err)
	total := Members(f.Definitions("cubes")[0].Body.Get("measures"))[0].Body.(*Mapping)
	assert.Equal(t, "sum", total.String("type"))
	assert.Equal(t, []string{"type", "sql"}, total.Keys())
}

func TestWalk_SkipsChildren(t *testing.T) {
	f, err := Parse("orders.yml", []byte(ordersYAML))
	require.NoError(t, err)

	all := Templates(f.Root)
	assert.NotEmpty(t, all)

	var visited int
	Walk(f.Root, func(n Node) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}
