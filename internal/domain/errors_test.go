package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnostic_Error(t *testing.T) {
	d := ErrDuplicateProperty("Orders", "measures", "revenue").WithFile("orders.yml", 12)
	assert.Equal(t, `orders.yml:12: DuplicateProperty in Orders.measures.revenue: duplicate property "revenue"`, d.Error())

	d = ErrNoJoinPath("A", "B")
	assert.Equal(t, `NoJoinPath in B: no join path from "A" to "B"`, d.Error())
}

func TestDiagnostics_Err(t *testing.T) {
	var ds Diagnostics
	assert.NoError(t, ds.Err("validate"))

	ds.Report(nil, &Diagnostic{Kind: KindInvalidSchema, Severity: SeverityWarning, Message: "w"})
	assert.False(t, ds.HasErrors())
	assert.NoError(t, ds.Err("validate"))

	ds.Report(ErrUnknownCube("Orders", "joins.Nope", "Nope"), ErrInvalidSchema("Orders", "sql", "missing"))
	require.True(t, ds.HasErrors())
	assert.Len(t, ds.All(), 3)

	err := ds.Err("validate")
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "validate", ce.Stage)
	assert.Len(t, ce.Diagnostics, 2)
	assert.Contains(t, err.Error(), "validate: 2 errors")
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("compile: %w", &CompileError{Stage: "transpile", Diagnostics: []*Diagnostic{
		ErrTranspile("a.yml", 3, "bad"),
	}})
	assert.True(t, IsKind(err, KindTranspile))
	assert.False(t, IsKind(err, KindNoJoinPath))
	assert.True(t, IsKind(ErrCircularReference([]string{"A", "B", "A"}), KindCircularReference))
	assert.False(t, IsKind(errors.New("plain"), KindTranspile))
}

func TestCircularReferenceMessage(t *testing.T) {
	d := ErrCircularReference([]string{"A", "B", "A"})
	assert.Equal(t, "A", d.Cube)
	assert.Contains(t, d.Message, "A -> B -> A")
}
