package joingraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/evaluator"
)

type joinDecl struct {
	owner, target string
	rel           domain.Relationship
	weight        int
}

// model builds cubes in the given order and declares joins in slice order.
func model(cubes []string, joins ...joinDecl) *evaluator.Model {
	byName := make(map[string]*domain.Cube)
	var out []*domain.Cube
	for _, name := range cubes {
		c := &domain.Cube{Name: name, Kind: domain.SymbolCube, File: name + ".yml"}
		byName[name] = c
		out = append(out, c)
	}
	for i, j := range joins {
		w := j.weight
		if w == 0 {
			w = 1
		}
		c := byName[j.owner]
		c.Joins = append(c.Joins, &domain.Join{
			Owner: j.owner, Target: j.target, Relationship: j.rel,
			Weight: w, Index: i, File: c.File, Line: i + 1,
		})
	}
	return evaluator.NewModel(out, nil)
}

func path(steps []Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.From+">"+s.To)
	}
	return out
}

func TestBuild_Dedup(t *testing.T) {
	g, diags := Build(model([]string{"Orders", "Customers"},
		joinDecl{"Orders", "Customers", domain.ManyToOne, 0},
		joinDecl{"Customers", "Orders", domain.OneToMany, 0},
		joinDecl{"Orders", "Customers", domain.ManyToOne, 0},
	))
	assert.Empty(t, diags)
	require.Len(t, g.Edges(), 1)
	e := g.Edges()[0]
	assert.Equal(t, "Orders", e.Owner)
	assert.Equal(t, 0, e.Join.Index)
	assert.True(t, g.HasEdge("Customers", "Orders"))
	assert.Equal(t, []string{"Orders"}, g.Neighbors("Customers"))
}

func TestBuild_Conflict(t *testing.T) {
	tests := []struct {
		name   string
		second joinDecl
	}{
		{"same direction different relationship", joinDecl{"Orders", "Customers", domain.OneToOne, 0}},
		{"reverse direction not inverse", joinDecl{"Customers", "Orders", domain.ManyToOne, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, diags := Build(model([]string{"Orders", "Customers"},
				joinDecl{"Orders", "Customers", domain.ManyToOne, 0},
				tc.second,
			))
			require.Len(t, diags, 1)
			assert.Equal(t, domain.KindJoinConflict, diags[0].Kind)
			assert.Equal(t, tc.second.owner, diags[0].Cube)
			assert.Equal(t, 2, diags[0].Line)
			assert.Len(t, g.Edges(), 1)
		})
	}
}

func TestBuild_OneToOneInverse(t *testing.T) {
	_, diags := Build(model([]string{"A", "B"},
		joinDecl{"A", "B", domain.OneToOne, 0},
		joinDecl{"B", "A", domain.OneToOne, 0},
	))
	assert.Empty(t, diags)
}

func TestBuild_SkipsViews(t *testing.T) {
	orders := &domain.Cube{Name: "Orders", Kind: domain.SymbolCube}
	view := &domain.Cube{Name: "Overview", Kind: domain.SymbolView}
	orders.Joins = []*domain.Join{{Owner: "Orders", Target: "Overview", Relationship: domain.OneToOne, Weight: 1}}
	g, diags := Build(evaluator.NewModel([]*domain.Cube{orders, view}, nil))
	assert.Empty(t, diags)
	assert.Empty(t, g.Edges())
	assert.Equal(t, []string{"Orders"}, g.Nodes())
}

func TestResolvePath_CycleIsDeterministic(t *testing.T) {
	// A-B-D and A-C-D cost the same; the first declared join decides
	m := model([]string{"A", "B", "C", "D"},
		joinDecl{"A", "B", domain.ManyToOne, 0},
		joinDecl{"A", "C", domain.ManyToOne, 0},
		joinDecl{"B", "D", domain.ManyToOne, 0},
		joinDecl{"C", "D", domain.ManyToOne, 0},
	)
	for i := 0; i < 5; i++ {
		g, _ := Build(m)
		steps, err := g.ResolvePath("A", "D")
		require.NoError(t, err)
		assert.Equal(t, []string{"A>B", "B>D"}, path(steps))
	}

	swapped := model([]string{"A", "B", "C", "D"},
		joinDecl{"A", "C", domain.ManyToOne, 0},
		joinDecl{"A", "B", domain.ManyToOne, 0},
		joinDecl{"C", "D", domain.ManyToOne, 0},
		joinDecl{"B", "D", domain.ManyToOne, 0},
	)
	g, _ := Build(swapped)
	steps, err := g.ResolvePath("A", "D")
	require.NoError(t, err)
	assert.Equal(t, []string{"A>C", "C>D"}, path(steps))
}

func TestResolvePath_Triangle(t *testing.T) {
	g, _ := Build(model([]string{"A", "B", "C"},
		joinDecl{"A", "B", domain.ManyToOne, 0},
		joinDecl{"B", "C", domain.ManyToOne, 0},
		joinDecl{"C", "A", domain.ManyToOne, 0},
	))
	steps, err := g.ResolvePath("A", "B", "C")
	require.NoError(t, err)
	assert.Equal(t, []string{"A>B", "A>C"}, path(steps))
	assert.False(t, steps[0].Reversed)
	assert.True(t, steps[1].Reversed, "C owns the join to A")
	assert.Equal(t, 2, steps[1].Join().Index)
}

func TestResolvePath_Weights(t *testing.T) {
	g, _ := Build(model([]string{"A", "B", "C"},
		joinDecl{"A", "B", domain.ManyToOne, 5},
		joinDecl{"A", "C", domain.ManyToOne, 1},
		joinDecl{"C", "B", domain.ManyToOne, 1},
	))
	steps, err := g.ResolvePath("A", "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"A>C", "C>B"}, path(steps))
}

func TestResolvePath_SharedPrefix(t *testing.T) {
	g, _ := Build(model([]string{"Orders", "Customers", "Regions", "Items"},
		joinDecl{"Orders", "Customers", domain.ManyToOne, 0},
		joinDecl{"Customers", "Regions", domain.ManyToOne, 0},
		joinDecl{"Items", "Orders", domain.ManyToOne, 0},
	))
	steps, err := g.ResolvePath("Orders", "Regions", "Customers", "Items", "Orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"Orders>Customers", "Orders>Items", "Customers>Regions"}, path(steps))

	steps, err = g.ResolvePath("Orders")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestResolvePath_Errors(t *testing.T) {
	g, _ := Build(model([]string{"A", "B", "Island"},
		joinDecl{"A", "B", domain.ManyToOne, 0},
	))

	_, err := g.ResolvePath("A", "Island")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNoJoinPath))
	assert.Contains(t, err.Error(), "Island")

	_, err = g.ResolvePath("Nope", "A")
	assert.True(t, domain.IsKind(err, domain.KindUnknownCube))

	_, err = g.ResolvePath("A", "Nope")
	assert.True(t, domain.IsKind(err, domain.KindUnknownCube))
}

func TestConnectedComponents(t *testing.T) {
	g, _ := Build(model([]string{"Solo", "A", "B", "C", "D"},
		joinDecl{"A", "B", domain.ManyToOne, 0},
		joinDecl{"D", "C", domain.ManyToOne, 0},
	))
	assert.Equal(t, map[string]int{"Solo": 1, "A": 2, "B": 2, "C": 3, "D": 3}, g.ConnectedComponents())
}
