// Package meta projects a compiled model into a read-only, JSON-serializable
// view for UI and API consumers.
package meta

import (
	"github.com/go-openapi/inflect"

	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/evaluator"
	"github.com/zzzcdf/cube.js/internal/joingraph"
)

// View is the public projection of a model.
type View struct {
	Cubes []Cube `json:"cubes"`
}

// Cube is the projection of one public cube or view.
type Cube struct {
	Name            string      `json:"name"`
	Type            string      `json:"type"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	DataSource      string      `json:"dataSource,omitempty"`
	Component       int         `json:"connectedComponent,omitempty"`
	Measures        []Measure   `json:"measures"`
	Dimensions      []Dimension `json:"dimensions"`
	Segments        []Segment   `json:"segments"`
	Joins           []Join      `json:"joins,omitempty"`
	PreAggregations []string    `json:"preAggregations,omitempty"`
	Meta            any         `json:"meta,omitempty"`
}

// Measure is the projection of a measure.
type Measure struct {
	Name         string   `json:"name"`
	Title        string   `json:"title"`
	ShortTitle   string   `json:"shortTitle"`
	Description  string   `json:"description,omitempty"`
	Type         string   `json:"type"`
	AggType      string   `json:"aggType"`
	Format       string   `json:"format,omitempty"`
	DrillMembers []string `json:"drillMembers,omitempty"`
	AliasOf      string   `json:"aliasMember,omitempty"`
	Meta         any      `json:"meta,omitempty"`
}

// Dimension is the projection of a dimension.
type Dimension struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	ShortTitle  string `json:"shortTitle"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Format      string `json:"format,omitempty"`
	PrimaryKey  bool   `json:"primaryKey,omitempty"`
	AliasOf     string `json:"aliasMember,omitempty"`
	Meta        any    `json:"meta,omitempty"`
}

// Segment is the projection of a segment.
type Segment struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	ShortTitle  string `json:"shortTitle"`
	Description string `json:"description,omitempty"`
	AliasOf     string `json:"aliasMember,omitempty"`
}

// Join is an edge as seen from the owning cube.
type Join struct {
	Target       string `json:"target"`
	Relationship string `json:"relationship"`
}

// measureValueTypes are the measure types that are not aggregations.
var measureValueTypes = map[string]bool{
	"number":  true,
	"string":  true,
	"time":    true,
	"boolean": true,
}

// Project builds the public view of model. Private cubes and members are
// left out. graph may be nil, in which case no component ids are set.
func Project(model *evaluator.Model, graph *joingraph.Graph) *View {
	var components map[string]int
	if graph != nil {
		components = graph.ConnectedComponents()
	}
	v := &View{Cubes: make([]Cube, 0)}
	for _, c := range model.Cubes() {
		if !c.Public {
			continue
		}
		v.Cubes = append(v.Cubes, projectCube(c, components[c.Name]))
	}
	return v
}

// Cube returns the projection of name.
func (v *View) Cube(name string) (Cube, bool) {
	for _, c := range v.Cubes {
		if c.Name == name {
			return c, true
		}
	}
	return Cube{}, false
}

func projectCube(c *domain.Cube, component int) Cube {
	out := Cube{
		Name:        c.Name,
		Type:        string(c.Kind),
		Title:       titleOr(c.Title, c.Name),
		Description: c.Description,
		DataSource:  c.DataSource,
		Component:   component,
		Measures:    make([]Measure, 0, len(c.Measures)),
		Dimensions:  make([]Dimension, 0, len(c.Dimensions)),
		Segments:    make([]Segment, 0, len(c.Segments)),
	}
	if len(c.Meta) > 0 {
		out.Meta = c.Meta
	}

	for _, m := range c.Measures {
		if !m.Public {
			continue
		}
		pm := Measure{
			Name:         m.QualifiedName(),
			Description:  m.Description,
			Type:         "number",
			AggType:      m.Type,
			Format:       m.Format,
			DrillMembers: m.DrillMembers,
			AliasOf:      m.AliasOf,
		}
		if measureValueTypes[m.Type] {
			pm.Type = m.Type
		}
		pm.Title, pm.ShortTitle = titles(out.Title, m.Title, m.Name)
		if len(m.Meta) > 0 {
			pm.Meta = m.Meta
		}
		out.Measures = append(out.Measures, pm)
	}
	for _, d := range c.Dimensions {
		if !d.Public {
			continue
		}
		pd := Dimension{
			Name:        d.QualifiedName(),
			Description: d.Description,
			Type:        d.Type,
			Format:      d.Format,
			PrimaryKey:  d.PrimaryKey,
			AliasOf:     d.AliasOf,
		}
		pd.Title, pd.ShortTitle = titles(out.Title, d.Title, d.Name)
		if len(d.Meta) > 0 {
			pd.Meta = d.Meta
		}
		out.Dimensions = append(out.Dimensions, pd)
	}
	for _, s := range c.Segments {
		if !s.Public {
			continue
		}
		ps := Segment{Name: s.QualifiedName(), Description: s.Description, AliasOf: s.AliasOf}
		ps.Title, ps.ShortTitle = titles(out.Title, s.Title, s.Name)
		out.Segments = append(out.Segments, ps)
	}
	for _, j := range c.Joins {
		out.Joins = append(out.Joins, Join{Target: j.Target, Relationship: string(j.Relationship)})
	}
	for _, p := range c.PreAggregations {
		out.PreAggregations = append(out.PreAggregations, p.Name)
	}
	return out
}

func titleOr(title, name string) string {
	if title != "" {
		return title
	}
	return inflect.Titleize(name)
}

// titles returns the full title, prefixed with the cube title, and the short
// member title.
func titles(cubeTitle, title, name string) (string, string) {
	short := titleOr(title, name)
	return cubeTitle + " " + short, short
}
