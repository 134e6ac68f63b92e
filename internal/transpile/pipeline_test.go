package transpile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
)

func parseProgram(t *testing.T, files map[string]string, order ...string) *ast.Program {
	t.Helper()
	prog := &ast.Program{}
	for _, p := range order {
		f, err := ast.Parse(p, []byte(files[p]))
		require.NoError(t, err)
		prog.Files = append(prog.Files, f)
	}
	return prog
}

// declareAll mirrors what the dictionary does before the chain runs.
func declareAll(prog *ast.Program, cc *Context) {
	for _, f := range prog.Files {
		for _, def := range f.Definitions("cubes") {
			cc.Declare(Decl{Name: def.Name, Kind: domain.SymbolCube, File: f.Path})
		}
		for _, def := range f.Definitions("views") {
			cc.Declare(Decl{Name: def.Name, Kind: domain.SymbolView, File: f.Path})
		}
	}
}

const sharedYAML = `
exports:
  tenant_filter: "{CUBE}.tenant_id = {SECURITY_CONTEXT.tenant_id}"
  paid_only: "{CUBE}.status = 'paid' AND {tenant_filter}"
`

const ordersYAML = `
imports:
  - from: ./shared/../shared/filters.yml
    names: [paid_only]
cubes:
  - name: Orders
    sql_table: orders
    measures:
      paid:
        type: count
        filters:
          - sql: "{paid_only}"
    dimensions:
      customer:
        type: string
        sql: "{Customers.name}"
      status:
        type: string
        sql: "{CUBE}.status"
    joins:
      Customers:
        relationship: many_to_one
        sql: "{CUBE}.customer_id = {Customers.id}"
    pre_aggregations:
      main:
        refresh_key:
          every: !expr "RefreshKeys.every('1 hour')"
`

const customersYAML = `
cubes:
  - name: Customers
    sql_table: customers
    dimensions:
      id: {type: number, sql: id, primary_key: true}
      name: {type: string, sql: name}
`

func TestPipeline_ResolvesImportsAndClassifies(t *testing.T) {
	prog := parseProgram(t, map[string]string{
		"shared/filters.yml": sharedYAML,
		"orders.yml":         ordersYAML,
		"customers.yml":      customersYAML,
	}, "shared/filters.yml", "orders.yml", "customers.yml")

	cc := NewContext()
	declareAll(prog, cc)

	p := Default(false)
	assert.Equal(t, []string{"import_export", "context_injection", "duplicate_props"}, p.Stages())

	out, err := p.Run(prog, cc)
	require.NoError(t, err)

	orders := out.Files[1].Definitions("cubes")[0].Body
	require.NotNil(t, orders.Scope)
	assert.Equal(t, "Orders", orders.Scope.Cube)
	assert.Equal(t, []string{"Customers"}, orders.Scope.Deps)

	paid := ast.Members(orders.Get("measures"))[0].Body.(*ast.Mapping)
	filter := paid.Get("filters").(*ast.Sequence).Items[0].(*ast.Mapping).Get("sql").(*ast.Template)
	assert.Equal(t, "{CUBE}.status = 'paid' AND {CUBE}.tenant_id = {SECURITY_CONTEXT.tenant_id}", filter.String())
	for _, r := range filter.Refs() {
		assert.NotEqual(t, ast.RefExport, r.Kind)
		assert.NotEqual(t, ast.RefUnresolved, r.Kind)
	}

	customer := ast.Members(orders.Get("dimensions"))[0].Body.(*ast.Mapping)
	require.NotNil(t, customer.Scope)
	assert.Equal(t, []string{"Customers"}, customer.Scope.Deps)

	preAgg := ast.Members(orders.Get("pre_aggregations"))[0].Body.(*ast.Mapping)
	script := preAgg.Get("refresh_key").(*ast.Mapping).Get("every").(*ast.Script)
	assert.Equal(t, "Orders", script.Cube)

	// the exported fragment itself is untouched
	src, ok := cc.Export("shared/filters.yml", "paid_only")
	require.True(t, ok)
	assert.Equal(t, ast.RefUnresolved, src.Refs()[0].Kind)
	assert.Equal(t, ast.RefExport, src.Refs()[1].Kind)
}

func TestPipeline_ImportErrors(t *testing.T) {
	prog := parseProgram(t, map[string]string{
		"shared.yml": "exports:\n  x: \"1 = 1\"\n",
		"a.yml": `
imports:
  - from: missing.yml
    names: [x]
  - from: shared.yml
    names: [y, "x as Orders"]
cubes:
  - name: Orders
    sql: "SELECT 1"
`,
	}, "shared.yml", "a.yml")

	cc := NewContext()
	declareAll(prog, cc)
	_, err := Default(false).Run(prog, cc)
	require.Error(t, err)

	var ce *domain.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, StageName, ce.Stage)
	require.Len(t, ce.Diagnostics, 3)
	for _, d := range ce.Diagnostics {
		assert.Equal(t, domain.KindTranspile, d.Kind)
		assert.Equal(t, "a.yml", d.File)
	}
	assert.Contains(t, ce.Diagnostics[0].Message, "missing.yml")
	assert.Contains(t, ce.Diagnostics[1].Message, `"y"`)
	assert.Contains(t, ce.Diagnostics[2].Message, "shadows")
}

const duplicateYAML = `
cubes:
  - name: Orders
    sql_table: orders
    sql_table: orders_v2
    measures:
      revenue: {type: sum, sql: amount}
      revenue: {type: sum, sql: total}
    dimensions:
      - name: id
        sql: id
        type: number
        type: string
      - name: id
        sql: id
        type: number
`

func TestDuplicateProps(t *testing.T) {
	prog := parseProgram(t, map[string]string{"orders.yml": duplicateYAML}, "orders.yml")

	cc := NewContext()
	declareAll(prog, cc)
	_, err := Default(false).Run(prog, cc)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindDuplicateProperty))

	var keys []string
	for _, d := range cc.Diagnostics() {
		assert.Equal(t, "Orders", d.Cube)
		assert.Equal(t, "orders.yml", d.File)
		assert.Positive(t, d.Line)
		keys = append(keys, d.Key)
	}
	assert.ElementsMatch(t, []string{"sql_table", "measures.revenue", "dimensions.id", "dimensions.id.type"}, keys)
}

func TestDuplicateProps_Disabled(t *testing.T) {
	prog := parseProgram(t, map[string]string{"orders.yml": duplicateYAML}, "orders.yml")

	cc := NewContext()
	declareAll(prog, cc)
	p := Default(true)
	assert.NotContains(t, p.Stages(), "duplicate_props")
	_, err := p.Run(prog, cc)
	require.NoError(t, err)
}

type failingStage struct{}

func (failingStage) Name() string { return "failing" }
func (failingStage) Transform(*ast.Program, *Context) (*ast.Program, error) {
	return nil, errors.New("boom")
}

type countingStage struct{ calls *int }

func (countingStage) Name() string { return "counting" }
func (s countingStage) Transform(p *ast.Program, _ *Context) (*ast.Program, error) {
	*s.calls++
	return p, nil
}

func TestPipeline_StageErrorAborts(t *testing.T) {
	calls := 0
	_, err := Chain(failingStage{}, countingStage{calls: &calls}).Run(&ast.Program{}, NewContext())
	require.Error(t, err)
	assert.Zero(t, calls)
	assert.True(t, domain.IsKind(err, domain.KindTranspile))
	assert.Contains(t, err.Error(), "failing: boom")
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "shared/filters.yml", NormalizePath("./shared/../shared/filters.yml"))
	assert.Equal(t, "a.yml", NormalizePath("/a.yml"))
	assert.Equal(t, "dir/a.yml", NormalizePath(`dir\a.yml`))
}
