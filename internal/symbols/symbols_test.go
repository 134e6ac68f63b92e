package symbols

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/transpile"
)

func collect(t *testing.T, sources ...string) (*Dictionary, *transpile.Context) {
	t.Helper()
	prog := &ast.Program{}
	for i, src := range sources {
		f, err := ast.Parse(fileName(i), []byte(src))
		require.NoError(t, err)
		prog.Files = append(prog.Files, f)
	}
	d := NewDictionary()
	cc := transpile.NewContext()
	d.Collect(prog, cc)
	return d, cc
}

func fileName(i int) string {
	return string(rune('a'+i)) + ".yml"
}

func TestDictionary_CanonicalNamesAndDuplicates(t *testing.T) {
	d, cc := collect(t, `
cubes:
  - name: " Orders "
    sql_table: orders
  - name: "bad name"
    sql_table: x
views:
  - name: Overview
    cubes: [{join_path: Orders}]
contexts:
  - name: Sales
    members: [Orders]
`, `
cubes:
  - name: Orders
    sql_table: orders_v2
contexts:
  - name: Sales
    members: [Orders]
`)

	assert.Equal(t, []string{"Orders", "Overview"}, d.Names())
	kind, ok := d.Kind("Overview")
	require.True(t, ok)
	assert.Equal(t, domain.SymbolView, kind)

	decl, ok := cc.Lookup("Orders")
	require.True(t, ok)
	assert.Equal(t, "a.yml", decl.File)

	diags := cc.Diagnostics()
	require.Len(t, diags, 3)
	assert.Equal(t, domain.KindInvalidSchema, diags[0].Kind)
	assert.Equal(t, domain.KindDuplicateSymbol, diags[1].Kind)
	assert.Contains(t, diags[1].Message, "a.yml")
	assert.Contains(t, diags[1].Message, "b.yml")
	assert.Equal(t, domain.KindDuplicateSymbol, diags[2].Kind)
	assert.Equal(t, "Sales", diags[2].Cube)
	assert.Len(t, d.Contexts(), 1)
}

func TestDictionary_RefinementLayers(t *testing.T) {
	d, cc := collect(t, `
cubes:
  - name: Orders
    sql_table: orders
    measures:
      count: {type: count}
`, `
cubes:
  - name: Orders
    extends: Orders
    measures:
      total: {type: sum, sql: amount}
`)
	assert.Empty(t, cc.Diagnostics())
	decl, ok := d.Declaration("Orders")
	require.True(t, ok)
	assert.Len(t, decl.Layers, 2)

	s, err := Populate(d).Resolve("Orders")
	require.NoError(t, err)
	names := memberNames(s.Section("measures"))
	assert.Equal(t, []string{"count", "total"}, names)
}

func memberNames(ms []SurfaceMember) []string {
	var out []string
	for _, m := range ms {
		out = append(out, m.Name)
	}
	return out
}

func TestCreateCube_ExtendsMergesWithChildPrecedence(t *testing.T) {
	d, cc := collect(t, `
cubes:
  - name: Child
    extends: Parent
    measures:
      revenue: {type: sum, sql: net_amount}
      margin: {type: number, sql: "{revenue} - {cost}"}
  - name: Parent
    extends: Base
    sql_table: orders
    measures:
      revenue: {type: sum, sql: amount}
      cost: {type: sum, sql: cost}
  - name: Base
    sql_table: base
    title: Base title
    dimensions:
      id: {type: number, sql: id, primary_key: true}
`)
	require.Empty(t, cc.Diagnostics())

	tbl := Populate(d)
	child, err := tbl.Resolve("Child")
	require.NoError(t, err)

	assert.Equal(t, "Parent", child.Extends)
	assert.Equal(t, []string{"revenue", "cost", "margin"}, memberNames(child.Section("measures")))
	assert.Equal(t, []string{"id"}, memberNames(child.Section("dimensions")))

	rev := child.Section("measures")[0]
	assert.False(t, rev.Inherited)
	sqlTmpl := rev.Body.(*ast.Mapping).Get("sql").(*ast.Template)
	assert.Equal(t, "net_amount", sqlTmpl.String())
	assert.True(t, child.Section("measures")[1].Inherited)

	// sql_table from Parent overrides Base, title comes from Base
	assert.Equal(t, "orders", child.Prop("sql_table").(*ast.Template).String())
	assert.Equal(t, "Base title", child.Prop("title").(*ast.Scalar).Value)

	kind, m, ok := child.Member("id")
	require.True(t, ok)
	assert.Equal(t, domain.MemberDimension, kind)
	assert.Equal(t, "a.yml", m.File)

	// forcing Child forced its whole chain exactly once
	for _, name := range []string{"Parent", "Base"} {
		e, ok := tbl.Lookup(name)
		require.True(t, ok)
		assert.Equal(t, StateEvaluated, e.State())
	}
}

func TestTable_CircularReferenceIsLocal(t *testing.T) {
	d, cc := collect(t, `
cubes:
  - name: A
    extends: B
  - name: B
    extends: A
  - name: C
    sql_table: c
`)
	require.Empty(t, cc.Diagnostics())
	tbl := Populate(d)

	_, err := tbl.Resolve("A")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindCircularReference))
	var diag *domain.Diagnostic
	require.True(t, errors.As(err, &diag))
	assert.Contains(t, diag.Message, "A -> B -> A")
	assert.Equal(t, "a.yml", diag.File)

	// the failure is memoized, not re-evaluated
	_, err2 := tbl.Resolve("A")
	assert.Equal(t, err, err2)

	c, err := tbl.Resolve("C")
	require.NoError(t, err)
	assert.Equal(t, "C", c.Name)
}

func TestTable_DeclareAndLookup(t *testing.T) {
	tbl := NewTable()
	calls := 0
	factory := func() (*Surface, error) {
		calls++
		return &Surface{Name: "X"}, nil
	}
	require.NoError(t, tbl.Declare("X", domain.SymbolCube, "x.yml", factory))
	err := tbl.Declare("X", domain.SymbolCube, "y.yml", factory)
	assert.True(t, domain.IsKind(err, domain.KindDuplicateSymbol))

	e, ok := tbl.Lookup("X")
	require.True(t, ok)
	assert.Equal(t, StatePending, e.State())

	for i := 0; i < 3; i++ {
		s, err := tbl.Resolve("X")
		require.NoError(t, err)
		assert.Equal(t, "X", s.Name)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"X"}, tbl.Names())

	_, err = tbl.Resolve("Missing")
	assert.True(t, domain.IsKind(err, domain.KindUnknownCube))
}

func TestCreateCube_InvalidExtends(t *testing.T) {
	d, _ := collect(t, `
cubes:
  - name: Self
    extends: Self
  - name: Orphan
    extends: Nowhere
  - name: FromView
    extends: V
views:
  - name: V
    cubes: []
`)
	tbl := Populate(d)

	_, err := tbl.Resolve("Self")
	assert.True(t, domain.IsKind(err, domain.KindInvalidSchema))
	_, err = tbl.Resolve("Orphan")
	assert.True(t, domain.IsKind(err, domain.KindUnknownCube))
	_, err = tbl.Resolve("FromView")
	assert.True(t, domain.IsKind(err, domain.KindInvalidSchema))
}
