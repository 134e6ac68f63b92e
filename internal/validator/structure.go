// Package validator checks schema definitions. Structural checks run on the
// parsed tree before evaluation; semantic checks run on the compiled model.
// Both return every problem found rather than stopping at the first.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
)

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// Allowed keys per level.
var (
	fileKeys = keySet("imports", "exports", "cubes", "views", "contexts")
	cubeKeys = keySet("name", "sql", "sql_table", "extends", "title", "description", "public",
		"data_source", "refresh_key", "measures", "dimensions", "segments", "joins",
		"pre_aggregations", "access_policy", "meta")
	viewKeys = keySet("name", "extends", "title", "description", "public", "cubes",
		"measures", "dimensions", "segments", "access_policy", "meta")
	viewCubeKeys     = keySet("join_path", "includes", "excludes", "prefix", "alias")
	contextKeys      = keySet("name", "members", "title", "description")
	measureKeys      = keySet("name", "type", "sql", "title", "description", "public", "format", "filters", "drill_members", "meta")
	dimensionKeys    = keySet("name", "type", "sql", "title", "description", "public", "format", "primary_key", "meta")
	segmentKeys      = keySet("name", "sql", "title", "description", "public", "meta")
	joinKeys         = keySet("name", "relationship", "sql", "weight")
	preAggKeys       = keySet("name", "type", "measures", "dimensions", "segments", "time_dimension", "granularity", "refresh_key")
	accessPolicyKeys = keySet("condition", "row_filter")
	refreshKeyKeys   = keySet("every", "sql")
	filterKeys       = keySet("sql")
)

// Literal field types checked wherever the key appears.
var (
	boolFields   = keySet("public", "primary_key", "prefix")
	stringFields = keySet("title", "description", "format", "type", "relationship", "data_source",
		"extends", "granularity", "time_dimension", "join_path", "condition", "every", "alias")
	intFields = keySet("weight")
)

// structure walks one file, collecting diagnostics located in that file.
type structure struct {
	file  string
	diags []*domain.Diagnostic
}

func (s *structure) addErr(cube, key string, pos ast.Pos, msg string, args ...any) {
	d := domain.ErrInvalidSchema(cube, key, msg, args...)
	s.diags = append(s.diags, d.WithFile(s.file, pos.Line))
}

// ValidateStructure checks required fields, literal field types and unknown
// keys across every file of prog.
func ValidateStructure(prog *ast.Program) []*domain.Diagnostic {
	var out []*domain.Diagnostic
	for _, f := range prog.Files {
		s := &structure{file: f.Path}
		s.validateFile(f)
		out = append(out, s.diags...)
	}
	return out
}

func (s *structure) validateFile(f *ast.File) {
	s.unknownKeys("", "", f.Root, fileKeys)
	for _, section := range []string{"cubes", "views", "contexts"} {
		n := f.Root.Get(section)
		if n == nil {
			continue
		}
		seq, ok := n.(*ast.Sequence)
		if !ok {
			s.addErr("", section, n.Position(), "%s must be a list", section)
			continue
		}
		for i, item := range seq.Items {
			body, ok := item.(*ast.Mapping)
			if !ok {
				s.addErr("", fmt.Sprintf("%s[%d]", section, i), item.Position(), "definition must be a mapping")
				continue
			}
			name := body.String("name")
			if strings.TrimSpace(name) == "" {
				s.addErr("", fmt.Sprintf("%s[%d]", section, i), body.Pos, "name is required")
			}
			switch section {
			case "cubes":
				s.validateCube(name, body)
			case "views":
				s.validateView(name, body)
			default:
				s.validateContext(name, body)
			}
		}
	}
}

func (s *structure) validateCube(name string, body *ast.Mapping) {
	s.unknownKeys(name, "", body, cubeKeys)
	s.literalTypes(name, "", body)
	if !body.Has("sql") && !body.Has("sql_table") && !body.Has("extends") {
		s.addErr(name, "sql", body.Pos, "cube needs sql or sql_table")
	}
	s.refreshKey(name, "refresh_key", body.Get("refresh_key"))
	s.section(name, body, "measures", measureKeys, s.measure)
	s.section(name, body, "dimensions", dimensionKeys, s.dimension)
	s.section(name, body, "segments", segmentKeys, s.requireSQL)
	s.section(name, body, "joins", joinKeys, s.join)
	s.section(name, body, "pre_aggregations", preAggKeys, s.preAggregation)
	s.accessPolicies(name, body.Get("access_policy"))
}

func (s *structure) validateView(name string, body *ast.Mapping) {
	s.unknownKeys(name, "", body, viewKeys)
	s.literalTypes(name, "", body)
	s.section(name, body, "measures", measureKeys, s.measure)
	s.section(name, body, "dimensions", dimensionKeys, s.dimension)
	s.section(name, body, "segments", segmentKeys, s.requireSQL)
	s.accessPolicies(name, body.Get("access_policy"))

	n := body.Get("cubes")
	if n == nil {
		if !body.Has("extends") {
			s.addErr(name, "cubes", body.Pos, "view needs cubes")
		}
		return
	}
	if _, ok := n.(*ast.Script); ok {
		return
	}
	seq, ok := n.(*ast.Sequence)
	if !ok {
		s.addErr(name, "cubes", n.Position(), "cubes must be a list")
		return
	}
	for i, item := range seq.Items {
		key := fmt.Sprintf("cubes[%d]", i)
		m, ok := item.(*ast.Mapping)
		if !ok {
			s.addErr(name, key, item.Position(), "view cube must be a mapping")
			continue
		}
		s.unknownKeys(name, key, m, viewCubeKeys)
		s.literalTypes(name, key, m)
		if strings.TrimSpace(m.String("join_path")) == "" {
			s.addErr(name, key+".join_path", m.Pos, "join_path is required")
		}
		switch inc := m.Get("includes").(type) {
		case nil, *ast.Sequence, *ast.Script:
		case *ast.Scalar:
			if inc.Kind != ast.ScalarString || strings.TrimSpace(inc.Value) == "" {
				s.addErr(name, key+".includes", inc.Pos, "includes must be \"*\" or a list")
			}
		default:
			s.addErr(name, key+".includes", inc.Position(), "includes must be \"*\" or a list")
		}
		if n := m.Get("excludes"); n != nil {
			if _, ok := n.(*ast.Sequence); !ok {
				s.addErr(name, key+".excludes", n.Position(), "excludes must be a list")
			}
		}
	}
}

func (s *structure) validateContext(name string, body *ast.Mapping) {
	s.unknownKeys(name, "", body, contextKeys)
	s.literalTypes(name, "", body)
	members, ok := body.Get("members").(*ast.Sequence)
	if !ok {
		s.addErr(name, "members", body.Pos, "context needs a members list")
		return
	}
	for _, item := range members.Items {
		if sc, ok := item.(*ast.Scalar); !ok || sc.Kind != ast.ScalarString {
			s.addErr(name, "members", item.Position(), "context members must be cube names")
		}
	}
}

// memberCheck validates one member body of a section.
type memberCheck func(cube, key string, body *ast.Mapping)

func (s *structure) section(cube string, body *ast.Mapping, name string, allowed map[string]bool, check memberCheck) {
	n := body.Get(name)
	if n == nil {
		return
	}
	switch n.(type) {
	case *ast.Mapping, *ast.Sequence:
	case *ast.Script:
		return
	default:
		s.addErr(cube, name, n.Position(), "%s must be a mapping or a list", name)
		return
	}
	for _, m := range ast.Members(n) {
		if m.Name == "" {
			s.addErr(cube, name, m.Pos, "%s entry needs a name", strings.TrimSuffix(name, "s"))
			continue
		}
		key := name + "." + m.Name
		if _, ok := m.Body.(*ast.Script); ok {
			continue
		}
		mb, ok := m.Body.(*ast.Mapping)
		if !ok {
			s.addErr(cube, key, m.Pos, "must be a mapping")
			continue
		}
		s.unknownKeys(cube, key, mb, allowed)
		s.literalTypes(cube, key, mb)
		check(cube, key, mb)
	}
}

func (s *structure) measure(cube, key string, body *ast.Mapping) {
	if !body.Has("type") {
		s.addErr(cube, key, body.Pos, "type is required")
	}
	if typ := body.String("type"); typ != "count" && typ != "" && !body.Has("sql") {
		s.addErr(cube, key, body.Pos, "sql is required for %s measures", typ)
	}
	if n := body.Get("filters"); n != nil {
		seq, ok := n.(*ast.Sequence)
		if !ok {
			s.addErr(cube, key+".filters", n.Position(), "filters must be a list")
			return
		}
		for _, item := range seq.Items {
			fm, ok := item.(*ast.Mapping)
			if !ok || !fm.Has("sql") {
				s.addErr(cube, key+".filters", item.Position(), "filter needs sql")
				continue
			}
			s.unknownKeys(cube, key+".filters", fm, filterKeys)
		}
	}
}

func (s *structure) dimension(cube, key string, body *ast.Mapping) {
	if !body.Has("type") {
		s.addErr(cube, key, body.Pos, "type is required")
	}
	s.requireSQL(cube, key, body)
}

func (s *structure) requireSQL(cube, key string, body *ast.Mapping) {
	if !body.Has("sql") {
		s.addErr(cube, key, body.Pos, "sql is required")
	}
}

func (s *structure) join(cube, key string, body *ast.Mapping) {
	if !body.Has("relationship") {
		s.addErr(cube, key, body.Pos, "relationship is required")
	}
	s.requireSQL(cube, key, body)
}

func (s *structure) preAggregation(cube, key string, body *ast.Mapping) {
	typ := body.String("type")
	if (typ == "" || typ == "rollup") && !body.Has("measures") && !body.Has("dimensions") {
		s.addErr(cube, key, body.Pos, "rollup needs measures or dimensions")
	}
	for _, list := range []string{"measures", "dimensions", "segments"} {
		if n := body.Get(list); n != nil {
			if _, ok := n.(*ast.Sequence); !ok {
				if _, script := n.(*ast.Script); !script {
					s.addErr(cube, key+"."+list, n.Position(), "%s must be a list", list)
				}
			}
		}
	}
	s.refreshKey(cube, key+".refresh_key", body.Get("refresh_key"))
}

func (s *structure) refreshKey(cube, key string, n ast.Node) {
	if n == nil {
		return
	}
	switch v := n.(type) {
	case *ast.Script:
	case *ast.Mapping:
		s.unknownKeys(cube, key, v, refreshKeyKeys)
		s.literalTypes(cube, key, v)
		if !v.Has("every") && !v.Has("sql") {
			s.addErr(cube, key, v.Pos, "refresh_key needs every or sql")
		}
	default:
		s.addErr(cube, key, n.Position(), "refresh_key must be a mapping")
	}
}

func (s *structure) accessPolicies(cube string, n ast.Node) {
	if n == nil {
		return
	}
	seq, ok := n.(*ast.Sequence)
	if !ok {
		if _, script := n.(*ast.Script); !script {
			s.addErr(cube, "access_policy", n.Position(), "access_policy must be a list")
		}
		return
	}
	for i, item := range seq.Items {
		key := fmt.Sprintf("access_policy[%d]", i)
		m, ok := item.(*ast.Mapping)
		if !ok {
			s.addErr(cube, key, item.Position(), "policy must be a mapping")
			continue
		}
		s.unknownKeys(cube, key, m, accessPolicyKeys)
		s.literalTypes(cube, key, m)
		if !m.Has("row_filter") {
			s.addErr(cube, key, m.Pos, "row_filter is required")
		}
	}
}

// unknownKeys reports keys of m outside allowed, in sorted order.
func (s *structure) unknownKeys(cube, prefix string, m *ast.Mapping, allowed map[string]bool) {
	var unknown []*ast.Entry
	for _, e := range m.Entries {
		if !allowed[e.Key] {
			unknown = append(unknown, e)
		}
	}
	sort.SliceStable(unknown, func(i, j int) bool { return unknown[i].Key < unknown[j].Key })
	for _, e := range unknown {
		s.addErr(cube, joinKey(prefix, e.Key), e.KeyPos, "unknown key %q", e.Key)
	}
}

// literalTypes checks the literal type of well-known scalar fields. Script
// values are checked after evaluation instead.
func (s *structure) literalTypes(cube, prefix string, m *ast.Mapping) {
	for _, e := range m.Entries {
		if _, ok := e.Value.(*ast.Script); ok {
			continue
		}
		sc, isScalar := e.Value.(*ast.Scalar)
		switch {
		case boolFields[e.Key]:
			if !isScalar || sc.Kind != ast.ScalarBool {
				s.addErr(cube, joinKey(prefix, e.Key), e.KeyPos, "%s must be a boolean", e.Key)
			}
		case stringFields[e.Key]:
			if !isScalar || sc.Kind != ast.ScalarString {
				s.addErr(cube, joinKey(prefix, e.Key), e.KeyPos, "%s must be a string", e.Key)
			}
		case intFields[e.Key]:
			if !isScalar || sc.Kind != ast.ScalarInt {
				s.addErr(cube, joinKey(prefix, e.Key), e.KeyPos, "%s must be an integer", e.Key)
			}
		}
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
