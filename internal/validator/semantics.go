package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/evaluator"
)

// semantics checks one compiled cube against the whole model.
type semantics struct {
	model *evaluator.Model
	cube  *domain.Cube
	diags []*domain.Diagnostic
}

func (s *semantics) add(d *domain.Diagnostic, line int) {
	s.diags = append(s.diags, d.WithFile(s.cube.File, line))
}

func (s *semantics) addErr(key string, line int, msg string, args ...any) {
	s.add(domain.ErrInvalidSchema(s.cube.Name, key, msg, args...), line)
}

// ValidateSemantics checks the compiled model: enumerated values, template
// references, member reference cycles, join targets, pre-aggregation members,
// view join paths and context members. Warnings are returned alongside errors.
func ValidateSemantics(model *evaluator.Model) []*domain.Diagnostic {
	var out []*domain.Diagnostic
	for _, c := range model.Cubes() {
		s := &semantics{model: model, cube: c}
		s.validate()
		out = append(out, s.diags...)
	}
	out = append(out, memberCycles(model)...)
	for _, ctx := range model.Contexts() {
		for _, name := range ctx.Members {
			if _, ok := model.Cube(name); !ok {
				d := domain.ErrUnknownCube(ctx.Name, "members", name)
				out = append(out, d.WithFile(ctx.File, ctx.Line))
			}
		}
	}
	return out
}

func (s *semantics) validate() {
	c := s.cube
	s.refs("sql", c.Line, c.SQL)
	s.refs("sql_table", c.Line, c.SQLTable)
	if c.RefreshKey != nil {
		s.refreshKey("refresh_key", c.Line, c.RefreshKey)
	}

	for _, m := range c.Measures {
		key := "measures." + m.Name
		if !domain.MeasureTypes[m.Type] {
			s.addErr(key+".type", m.Line, "unknown measure type %q", m.Type)
		}
		s.format(key, m.Line, m.Format)
		s.refs(key+".sql", m.Line, m.SQL)
		for _, f := range m.Filters {
			s.refs(key+".filters", m.Line, f)
		}
		for _, dm := range m.DrillMembers {
			s.member(key+".drill_members", m.Line, dm)
		}
	}
	for _, d := range c.Dimensions {
		key := "dimensions." + d.Name
		if !domain.DimensionTypes[d.Type] {
			s.addErr(key+".type", d.Line, "unknown dimension type %q", d.Type)
		}
		s.format(key, d.Line, d.Format)
		s.refs(key+".sql", d.Line, d.SQL)
	}
	for _, seg := range c.Segments {
		s.refs("segments."+seg.Name+".sql", seg.Line, seg.SQL)
	}

	for _, j := range c.Joins {
		s.join(j)
	}
	if len(c.Joins) > 0 && len(c.PrimaryKeys()) == 0 {
		w := domain.ErrInvalidSchema(c.Name, "joins", "cube has joins but no primary key dimension")
		w.Severity = domain.SeverityWarning
		s.add(w, c.Line)
	}

	for _, p := range c.PreAggregations {
		s.preAggregation(p)
	}
	for i, p := range c.AccessPolicies {
		s.refs(fmt.Sprintf("access_policy[%d].row_filter", i), p.Line, p.RowFilter)
	}
	for _, inc := range c.ViewIncludes {
		s.joinPath(inc)
	}
}

func (s *semantics) format(key string, line int, format string) {
	if format != "" && !domain.Formats[format] {
		s.addErr(key+".format", line, "unknown format %q", format)
	}
}

// refs checks that every cube and member a template names exists.
func (s *semantics) refs(key string, line int, e domain.Expr) {
	if e.IsZero() {
		return
	}
	for _, r := range e.Refs() {
		switch r.Kind {
		case ast.RefSymbol:
			target, ok := s.model.Cube(r.Cube)
			if !ok {
				s.add(domain.ErrUnknownCube(s.cube.Name, key, r.Cube), line)
				continue
			}
			if r.Member != "" {
				if _, ok := target.Member(r.Member); !ok {
					s.add(domain.ErrUnknownMember(s.cube.Name, key, r.Cube+"."+r.Member), line)
				}
			}
		case ast.RefSelf, ast.RefMember:
			if r.Member == "" {
				continue
			}
			if _, ok := s.cube.Member(r.Member); !ok {
				s.add(domain.ErrUnknownMember(s.cube.Name, key, s.cube.Name+"."+r.Member), line)
			}
		case ast.RefUnresolved, ast.RefExport:
			s.add(domain.ErrUnknownCube(s.cube.Name, key, r.Path[0]), line)
		}
	}
}

// member checks a qualified member reference.
func (s *semantics) member(key string, line int, path string) domain.Member {
	m, err := s.model.ResolveMember(path)
	if err != nil {
		var d *domain.Diagnostic
		if errors.As(err, &d) {
			c := *d
			c.Cube, c.Key = s.cube.Name, key
			s.add(&c, line)
		}
		return nil
	}
	return m
}

func (s *semantics) join(j *domain.Join) {
	key := "joins." + j.Target
	if _, ok := domain.ParseRelationship(string(j.Relationship)); !ok {
		s.addErr(key+".relationship", j.Line, "unknown relationship %q", j.Relationship)
	}
	target, ok := s.model.Cube(j.Target)
	switch {
	case !ok:
		s.add(domain.ErrUnknownCube(s.cube.Name, key, j.Target), j.Line)
	case target.IsView():
		s.addErr(key, j.Line, "join target %q is a view", j.Target)
	}
	if j.Weight < 0 {
		s.addErr(key+".weight", j.Line, "weight must not be negative")
	}
	s.refs(key+".sql", j.Line, j.SQL)
}

func (s *semantics) preAggregation(p *domain.PreAggregation) {
	key := "pre_aggregations." + p.Name
	if !domain.PreAggregationTypes[p.Type] {
		s.addErr(key+".type", p.Line, "unknown pre-aggregation type %q", p.Type)
	}
	s.memberKinds(key+".measures", p.Line, p.Measures, domain.MemberMeasure)
	s.memberKinds(key+".dimensions", p.Line, p.Dimensions, domain.MemberDimension)
	s.memberKinds(key+".segments", p.Line, p.Segments, domain.MemberSegment)

	if p.TimeDimension != "" {
		if m := s.member(key+".time_dimension", p.Line, p.TimeDimension); m != nil {
			if d, ok := m.(*domain.Dimension); !ok || d.Type != "time" {
				s.addErr(key+".time_dimension", p.Line, "%s is not a time dimension", p.TimeDimension)
			}
		}
		if p.Granularity == "" {
			s.addErr(key+".granularity", p.Line, "granularity is required with time_dimension")
		}
	}
	if p.Granularity != "" && !domain.Granularities[p.Granularity] {
		s.addErr(key+".granularity", p.Line, "unknown granularity %q", p.Granularity)
	}
	if p.RefreshKey != nil {
		s.refreshKey(key+".refresh_key", p.Line, p.RefreshKey)
	}
}

func (s *semantics) memberKinds(key string, line int, paths []string, kind domain.MemberKind) {
	for _, path := range paths {
		m := s.member(key, line, path)
		if m != nil && m.Base().Kind != kind {
			s.addErr(key, line, "%s is a %s, not a %s", path, m.Base().Kind, kind)
		}
	}
}

func (s *semantics) refreshKey(key string, line int, rk *domain.RefreshKey) {
	if rk.Every != "" {
		if _, err := domain.ParseRefreshEvery(rk.Every); err != nil {
			s.addErr(key+".every", line, "%v", err)
		}
	}
	s.refs(key+".sql", line, rk.SQL)
}

// joinPath checks that every hop of a view include follows a declared join
// in either direction.
func (s *semantics) joinPath(inc *domain.ViewInclude) {
	key := "cubes." + strings.Join(inc.JoinPath, ".")
	for i, name := range inc.JoinPath {
		from, ok := s.model.Cube(name)
		if !ok {
			s.add(domain.ErrUnknownCube(s.cube.Name, key, name), inc.Line)
			return
		}
		if i == len(inc.JoinPath)-1 {
			return
		}
		next := inc.JoinPath[i+1]
		if _, ok := from.Join(next); ok {
			continue
		}
		if to, ok := s.model.Cube(next); ok {
			if _, ok := to.Join(name); ok {
				continue
			}
		}
		d := domain.ErrNoJoinPath(name, next)
		d.Cube, d.Key = s.cube.Name, key
		s.add(d, inc.Line)
		return
	}
}
