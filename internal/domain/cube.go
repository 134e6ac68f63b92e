package domain

import (
	"strings"

	"github.com/zzzcdf/cube.js/internal/ast"
)

// SchemaFile is one (path, source) pair supplied by a repository.
type SchemaFile struct {
	Path    string
	Content []byte
}

// SymbolKind distinguishes cubes from views.
type SymbolKind string

// Symbol kinds.
const (
	SymbolCube SymbolKind = "cube"
	SymbolView SymbolKind = "view"
)

// Catalog is a read-only listing of the declared cubes and views.
type Catalog interface {
	Names() []string
	Kind(name string) (SymbolKind, bool)
}

// MemberKind tags the variant of a cube member.
type MemberKind string

// Member kinds.
const (
	MemberMeasure   MemberKind = "measure"
	MemberDimension MemberKind = "dimension"
	MemberSegment   MemberKind = "segment"
)

// Valid measure types.
var MeasureTypes = map[string]bool{
	"count":                 true,
	"count_distinct":        true,
	"count_distinct_approx": true,
	"sum":                   true,
	"avg":                   true,
	"min":                   true,
	"max":                   true,
	"number":                true,
	"running_total":         true,
	"string":                true,
	"time":                  true,
	"boolean":               true,
}

// Valid dimension types.
var DimensionTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"time":    true,
	"boolean": true,
	"geo":     true,
}

// Valid member formats.
var Formats = map[string]bool{
	"percent":  true,
	"currency": true,
	"number":   true,
	"id":       true,
	"imageUrl": true,
	"link":     true,
}

// Valid time granularities.
var Granularities = map[string]bool{
	"second":  true,
	"minute":  true,
	"hour":    true,
	"day":     true,
	"week":    true,
	"month":   true,
	"quarter": true,
	"year":    true,
}

// Valid pre-aggregation types.
var PreAggregationTypes = map[string]bool{
	"rollup":       true,
	"original_sql": true,
	"rollup_join":  true,
}

// Relationship is the cardinality of a join, read from owner to target.
type Relationship string

// Join relationships.
const (
	OneToOne  Relationship = "one_to_one"
	OneToMany Relationship = "one_to_many"
	ManyToOne Relationship = "many_to_one"
)

var relationshipAliases = map[string]Relationship{
	"one_to_one":  OneToOne,
	"oneToOne":    OneToOne,
	"has_one":     OneToOne,
	"hasOne":      OneToOne,
	"one_to_many": OneToMany,
	"oneToMany":   OneToMany,
	"has_many":    OneToMany,
	"hasMany":     OneToMany,
	"many_to_one": ManyToOne,
	"manyToOne":   ManyToOne,
	"belongs_to":  ManyToOne,
	"belongsTo":   ManyToOne,
}

// ParseRelationship normalizes a relationship spelling.
func ParseRelationship(s string) (Relationship, bool) {
	r, ok := relationshipAliases[s]
	return r, ok
}

// Inverse returns the relationship read from target to owner.
func (r Relationship) Inverse() Relationship {
	switch r {
	case OneToMany:
		return ManyToOne
	case ManyToOne:
		return OneToMany
	}
	return r
}

// Expr is an unevaluated SQL expression body.
type Expr struct {
	Template *ast.Template
}

// IsZero reports whether no expression was declared.
func (e Expr) IsZero() bool { return e.Template == nil }

// SQL returns the canonical template text.
func (e Expr) SQL() string {
	if e.Template == nil {
		return ""
	}
	return e.Template.String()
}

// Refs returns the template references.
func (e Expr) Refs() []*ast.Ref { return e.Template.Refs() }

// Member is implemented by Measure, Dimension and Segment.
type Member interface {
	Base() *MemberBase
}

// MemberBase holds the fields every member variant carries.
type MemberBase struct {
	Kind        MemberKind
	Cube        string
	Name        string
	Title       string
	Description string
	Public      bool
	SQL         Expr
	Meta        map[string]any
	Line        int

	// AliasOf is the qualified source member of a view proxy member.
	AliasOf string
	// Deps lists the other cubes the body references.
	Deps []string
}

func (b *MemberBase) Base() *MemberBase { return b }

// QualifiedName returns "Cube.member".
func (b *MemberBase) QualifiedName() string { return b.Cube + "." + b.Name }

// Measure is an aggregate.
type Measure struct {
	MemberBase
	Type         string
	Format       string
	Filters      []Expr
	DrillMembers []string
}

// Dimension is a groupable attribute.
type Dimension struct {
	MemberBase
	Type       string
	Format     string
	PrimaryKey bool
}

// Segment is a named boolean filter.
type Segment struct {
	MemberBase
}

// Join is a declared relationship from Owner to Target.
type Join struct {
	Owner        string
	Target       string
	Relationship Relationship
	SQL          Expr
	Weight       int
	// Index is the global declaration order of the join.
	Index int
	File  string
	Line  int
}

// RefreshKey describes when pre-aggregated data is rebuilt.
type RefreshKey struct {
	Every string
	SQL   Expr
}

// PreAggregation is a materialization rule.
type PreAggregation struct {
	Cube          string
	Name          string
	Type          string
	Measures      []string
	Dimensions    []string
	Segments      []string
	TimeDimension string
	Granularity   string
	RefreshKey    *RefreshKey
	Line          int
}

// AccessPolicy is a row-level security rule. Condition is a Starlark
// expression over security_context; an empty condition always applies.
type AccessPolicy struct {
	Condition string
	RowFilter Expr
	Line      int
}

// ViewInclude is one `cubes` item of a view.
type ViewInclude struct {
	JoinPath []string
	Prefix   bool
	Alias    string
	Includes []string
	Excludes []string
	All      bool
	Line     int
}

// Cube is a compiled cube or view.
type Cube struct {
	Name        string
	Kind        SymbolKind
	File        string
	Line        int
	Extends     string
	SQL         Expr
	SQLTable    Expr
	Title       string
	Description string
	Public      bool
	DataSource  string
	RefreshKey  *RefreshKey
	Meta        map[string]any

	Measures        []*Measure
	Dimensions      []*Dimension
	Segments        []*Segment
	Joins           []*Join
	PreAggregations []*PreAggregation
	AccessPolicies  []*AccessPolicy
	ViewIncludes    []*ViewInclude

	members map[string]Member
}

// IsView reports whether the cube is a view.
func (c *Cube) IsView() bool { return c.Kind == SymbolView }

// Index rebuilds the member lookup table. It must be called after the member
// slices are final.
func (c *Cube) Index() {
	c.members = make(map[string]Member, len(c.Measures)+len(c.Dimensions)+len(c.Segments))
	for _, m := range c.Measures {
		c.members[m.Name] = m
	}
	for _, d := range c.Dimensions {
		c.members[d.Name] = d
	}
	for _, s := range c.Segments {
		c.members[s.Name] = s
	}
}

// Member looks up a member by its short name.
func (c *Cube) Member(name string) (Member, bool) {
	m, ok := c.members[name]
	return m, ok
}

// Members returns measures, then dimensions, then segments.
func (c *Cube) Members() []Member {
	out := make([]Member, 0, len(c.Measures)+len(c.Dimensions)+len(c.Segments))
	for _, m := range c.Measures {
		out = append(out, m)
	}
	for _, d := range c.Dimensions {
		out = append(out, d)
	}
	for _, s := range c.Segments {
		out = append(out, s)
	}
	return out
}

// Join returns the join declared towards target.
func (c *Cube) Join(target string) (*Join, bool) {
	for _, j := range c.Joins {
		if j.Target == target {
			return j, true
		}
	}
	return nil, false
}

// PrimaryKeys returns the names of primary key dimensions.
func (c *Cube) PrimaryKeys() []string {
	var out []string
	for _, d := range c.Dimensions {
		if d.PrimaryKey {
			out = append(out, d.Name)
		}
	}
	return out
}

// Context is a named group of cubes.
type Context struct {
	Name    string
	Members []string
	File    string
	Line    int
}

// SplitMemberPath splits "Cube.member" into its two halves.
func SplitMemberPath(path string) (cube, member string, ok bool) {
	cube, member, ok = strings.Cut(path, ".")
	if !ok || cube == "" || member == "" || strings.Contains(member, ".") {
		return "", "", false
	}
	return cube, member, true
}
