package evaluator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/symbols"
)

const defaultDataSource = "default"

// CubeEvaluator forces every declared symbol and normalizes it into typed
// cube records.
type CubeEvaluator struct {
	scope    *Scope
	contexts []*symbols.ContextDeclaration
	joinSeq  int
}

// NewCubeEvaluator returns an evaluator running scripts in scope. contexts are
// normalized alongside the cubes.
func NewCubeEvaluator(scope *Scope, contexts []*symbols.ContextDeclaration) *CubeEvaluator {
	return &CubeEvaluator{scope: scope, contexts: contexts}
}

// Evaluate forces every symbol of t in declaration order. A symbol that fails
// to force is reported and left out of the model; the rest still evaluate.
// Cubes are built before views so view members can proxy them.
func (e *CubeEvaluator) Evaluate(t *symbols.Table) (*Model, []*domain.Diagnostic) {
	e.joinSeq = 0
	var diags domain.Diagnostics
	reported := make(map[*domain.Diagnostic]bool)
	report := func(d *domain.Diagnostic) {
		if !reported[d] {
			reported[d] = true
			diags.Report(d)
		}
	}

	surfaces := make(map[string]*symbols.Surface)
	built := make(map[string]*domain.Cube)
	for _, name := range t.Names() {
		s, err := t.Resolve(name)
		if err != nil {
			report(asDiagnostic(err, name))
			continue
		}
		surfaces[name] = s
		if s.Kind == domain.SymbolCube {
			b := e.builder(t, s, &diags)
			built[name] = b.cube(s)
		}
	}
	for _, name := range t.Names() {
		s, ok := surfaces[name]
		if !ok || s.Kind != domain.SymbolView {
			continue
		}
		b := e.builder(t, s, &diags)
		built[name] = b.view(s, built)
	}

	cubes := make([]*domain.Cube, 0, len(built))
	for _, name := range t.Names() {
		if c, ok := built[name]; ok {
			cubes = append(cubes, c)
		}
	}
	contexts := e.evaluateContexts(t, &diags)
	return NewModel(cubes, contexts), diags.All()
}

func (e *CubeEvaluator) evaluateContexts(t *symbols.Table, diags *domain.Diagnostics) []*domain.Context {
	out := make([]*domain.Context, 0, len(e.contexts))
	for _, cd := range e.contexts {
		b := &builder{e: e, t: t, file: cd.File, diags: diags}
		out = append(out, &domain.Context{
			Name:    cd.Name,
			Members: b.strings(cd.Body, "members"),
			File:    cd.File,
			Line:    cd.Line,
		})
	}
	return out
}

func asDiagnostic(err error, name string) *domain.Diagnostic {
	var d *domain.Diagnostic
	if errors.As(err, &d) {
		return d
	}
	return domain.ErrEvaluation(name, "", "%v", err)
}

func (e *CubeEvaluator) builder(t *symbols.Table, s *symbols.Surface, diags *domain.Diagnostics) *builder {
	return &builder{e: e, t: t, name: s.Name, file: s.File, diags: diags}
}

// getter is satisfied by *ast.Mapping and surfaceProps.
type getter interface {
	Get(key string) ast.Node
}

type surfaceProps struct{ s *symbols.Surface }

func (p surfaceProps) Get(key string) ast.Node { return p.s.Prop(key) }

// builder normalizes one cube or view. file tracks the source of the body
// currently being read so diagnostics point at the right layer.
type builder struct {
	e     *CubeEvaluator
	t     *symbols.Table
	name  string
	file  string
	diags *domain.Diagnostics
}

func (b *builder) report(d *domain.Diagnostic, line int) {
	b.diags.Report(d.WithFile(b.file, line))
}

func (b *builder) cube(s *symbols.Surface) *domain.Cube {
	props := surfaceProps{s}
	c := b.common(s, props)
	c.SQL = b.expr(props, "sql")
	c.SQLTable = b.expr(props, "sql_table")
	c.DataSource = b.str(props, "data_source")
	if c.DataSource == "" {
		c.DataSource = defaultDataSource
	}
	c.RefreshKey = b.refreshKey(props)
	c.Joins = b.joins(s)
	c.PreAggregations = b.preAggregations(s)
	c.Index()
	return c
}

// common fills what cubes and views share.
func (b *builder) common(s *symbols.Surface, props getter) *domain.Cube {
	c := &domain.Cube{
		Name:        s.Name,
		Kind:        s.Kind,
		File:        s.File,
		Line:        s.Line,
		Extends:     s.Extends,
		Title:       b.str(props, "title"),
		Description: b.str(props, "description"),
		Public:      b.boolean(props, "public", true),
		Meta:        b.meta(props),
	}
	for _, sm := range s.Section("measures") {
		if body, ok := b.memberBody(sm); ok {
			c.Measures = append(c.Measures, b.measure(sm, body))
		}
	}
	for _, sm := range s.Section("dimensions") {
		if body, ok := b.memberBody(sm); ok {
			c.Dimensions = append(c.Dimensions, b.dimension(sm, body))
		}
	}
	for _, sm := range s.Section("segments") {
		if body, ok := b.memberBody(sm); ok {
			c.Segments = append(c.Segments, &domain.Segment{MemberBase: b.base(domain.MemberSegment, sm, body)})
		}
	}
	b.file = s.File
	c.AccessPolicies = b.accessPolicies(props)
	return c
}

// memberBody returns the mapping body of a section entry, evaluating a
// script body. Literal non-mapping bodies are left to structural validation.
func (b *builder) memberBody(sm symbols.SurfaceMember) (*ast.Mapping, bool) {
	b.file = sm.File
	if sm.Name == "" {
		return nil, false
	}
	n := sm.Body
	if _, ok := n.(*ast.Script); ok {
		n = b.resolve(n, "")
	}
	m, ok := n.(*ast.Mapping)
	return m, ok
}

func (b *builder) base(kind domain.MemberKind, sm symbols.SurfaceMember, body *ast.Mapping) domain.MemberBase {
	mb := domain.MemberBase{
		Kind:        kind,
		Cube:        b.name,
		Name:        sm.Name,
		Title:       b.str(body, "title"),
		Description: b.str(body, "description"),
		Public:      b.boolean(body, "public", true),
		SQL:         b.expr(body, "sql"),
		Meta:        b.meta(body),
		Line:        sm.Pos.Line,
	}
	if body.Scope != nil {
		mb.Deps = body.Scope.Deps
	}
	return mb
}

func (b *builder) measure(sm symbols.SurfaceMember, body *ast.Mapping) *domain.Measure {
	m := &domain.Measure{
		MemberBase:   b.base(domain.MemberMeasure, sm, body),
		Type:         b.str(body, "type"),
		Format:       b.str(body, "format"),
		DrillMembers: b.qualifyAll(b.strings(body, "drill_members")),
	}
	if seq, ok := b.node(body, "filters").(*ast.Sequence); ok {
		for _, item := range seq.Items {
			if fm, ok := b.resolve(item, "").(*ast.Mapping); ok {
				if f := b.expr(fm, "sql"); !f.IsZero() {
					m.Filters = append(m.Filters, f)
				}
			}
		}
	}
	return m
}

func (b *builder) dimension(sm symbols.SurfaceMember, body *ast.Mapping) *domain.Dimension {
	return &domain.Dimension{
		MemberBase: b.base(domain.MemberDimension, sm, body),
		Type:       b.str(body, "type"),
		Format:     b.str(body, "format"),
		PrimaryKey: b.boolean(body, "primary_key", false),
	}
}

func (b *builder) joins(s *symbols.Surface) []*domain.Join {
	var out []*domain.Join
	for _, sm := range s.Section("joins") {
		body, ok := b.memberBody(sm)
		if !ok {
			continue
		}
		target := sm.Name
		if !b.t.Has(target) {
			b.report(domain.ErrUnknownCube(b.name, "joins."+target, target), sm.Pos.Line)
			continue
		}
		raw := b.str(body, "relationship")
		rel, ok := domain.ParseRelationship(raw)
		if !ok {
			rel = domain.Relationship(raw)
		}
		out = append(out, &domain.Join{
			Owner:        b.name,
			Target:       target,
			Relationship: rel,
			SQL:          b.expr(body, "sql"),
			Weight:       b.integer(body, "weight", 1),
			Index:        b.e.nextJoin(),
			File:         sm.File,
			Line:         sm.Pos.Line,
		})
	}
	b.file = s.File
	return out
}

func (e *CubeEvaluator) nextJoin() int {
	e.joinSeq++
	return e.joinSeq - 1
}

func (b *builder) preAggregations(s *symbols.Surface) []*domain.PreAggregation {
	var out []*domain.PreAggregation
	for _, sm := range s.Section("pre_aggregations") {
		body, ok := b.memberBody(sm)
		if !ok {
			continue
		}
		p := &domain.PreAggregation{
			Cube:        b.name,
			Name:        sm.Name,
			Type:        b.str(body, "type"),
			Measures:    b.qualifyAll(b.strings(body, "measures")),
			Dimensions:  b.qualifyAll(b.strings(body, "dimensions")),
			Segments:    b.qualifyAll(b.strings(body, "segments")),
			Granularity: b.str(body, "granularity"),
			RefreshKey:  b.refreshKey(body),
			Line:        sm.Pos.Line,
		}
		if p.Type == "" {
			p.Type = "rollup"
		}
		if td := b.str(body, "time_dimension"); td != "" {
			p.TimeDimension = b.qualify(td)
		}
		out = append(out, p)
	}
	b.file = s.File
	return out
}

func (b *builder) refreshKey(props getter) *domain.RefreshKey {
	m, ok := b.node(props, "refresh_key").(*ast.Mapping)
	if !ok {
		return nil
	}
	return &domain.RefreshKey{Every: b.str(m, "every"), SQL: b.expr(m, "sql")}
}

func (b *builder) accessPolicies(props getter) []*domain.AccessPolicy {
	seq, ok := b.node(props, "access_policy").(*ast.Sequence)
	if !ok {
		return nil
	}
	var out []*domain.AccessPolicy
	for _, item := range seq.Items {
		m, ok := b.resolve(item, "").(*ast.Mapping)
		if !ok {
			continue
		}
		p := &domain.AccessPolicy{
			Condition: strings.TrimSpace(b.str(m, "condition")),
			RowFilter: b.expr(m, "row_filter"),
			Line:      m.Pos.Line,
		}
		if p.Condition != "" {
			if _, err := (&syntax.FileOptions{}).ParseExpr(b.name, p.Condition, 0); err != nil {
				b.report(domain.ErrEvaluation(b.name, "access_policy.condition", "%v", err), m.Pos.Line)
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// qualify turns a member reference from a cube body into "Cube.member".
func (b *builder) qualify(ref string) string {
	ref = strings.TrimSpace(ref)
	head, rest, ok := strings.Cut(ref, ".")
	switch {
	case !ok:
		return b.name + "." + ref
	case head == ast.HeadCube || head == ast.HeadTable:
		return b.name + "." + rest
	}
	return ref
}

func (b *builder) qualifyAll(refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = b.qualify(r)
	}
	return out
}

// node returns the value of key with scripts evaluated.
func (b *builder) node(props getter, key string) ast.Node {
	return b.resolve(props.Get(key), key)
}

// resolve evaluates a script node into plain nodes. Other nodes pass through.
func (b *builder) resolve(n ast.Node, key string) ast.Node {
	script, ok := n.(*ast.Script)
	if !ok {
		return n
	}
	cube := script.Cube
	if cube == "" {
		cube = b.name
	}
	v, err := b.e.scope.Eval(b.file, script.Source, starlark.StringDict{
		ast.HeadCube: starlark.String(cube),
	})
	if err != nil {
		b.report(domain.ErrEvaluation(b.name, key, "%v", err), script.Pos.Line)
		return nil
	}
	node, err := b.toNode(v, key, script.Pos)
	if err != nil {
		b.report(domain.ErrEvaluation(b.name, key, "%v", err), script.Pos.Line)
		return nil
	}
	return node
}

// toNode converts a script result into tree nodes as if it had been written
// literally at pos.
func (b *builder) toNode(v starlark.Value, key string, pos ast.Pos) (ast.Node, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return &ast.Scalar{Kind: ast.ScalarNull, Pos: pos}, nil
	case starlark.Bool:
		return &ast.Scalar{Kind: ast.ScalarBool, Value: strconv.FormatBool(bool(x)), Pos: pos}, nil
	case starlark.Int:
		return &ast.Scalar{Kind: ast.ScalarInt, Value: x.String(), Pos: pos}, nil
	case starlark.Float:
		return &ast.Scalar{Kind: ast.ScalarFloat, Value: strconv.FormatFloat(float64(x), 'g', -1, 64), Pos: pos}, nil
	case starlark.String:
		if !ast.IsTemplateKey(key) {
			return &ast.Scalar{Kind: ast.ScalarString, Value: string(x), Pos: pos}, nil
		}
		t, err := ast.ParseTemplate(string(x))
		if err != nil {
			return nil, err
		}
		t.Pos = pos
		t.Classify(b.name, b.t.Has)
		return t, nil
	case *starlark.List, starlark.Tuple:
		it := x.(starlark.Indexable)
		seq := &ast.Sequence{Pos: pos}
		for i := 0; i < it.Len(); i++ {
			item, err := b.toNode(it.Index(i), "", pos)
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, item)
		}
		return seq, nil
	case *starlark.Dict:
		m := &ast.Mapping{Pos: pos}
		for _, kv := range x.Items() {
			k, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", kv[0])
			}
			val, err := b.toNode(kv[1], k, pos)
			if err != nil {
				return nil, err
			}
			m.Entries = append(m.Entries, &ast.Entry{Key: k, KeyPos: pos, Value: val})
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported result type %s", v.Type())
}

func (b *builder) str(props getter, key string) string {
	switch v := b.node(props, key).(type) {
	case *ast.Scalar:
		return v.Value
	case *ast.Template:
		return v.String()
	}
	return ""
}

func (b *builder) boolean(props getter, key string, def bool) bool {
	if s, ok := b.node(props, key).(*ast.Scalar); ok && s.Kind == ast.ScalarBool {
		return s.Bool()
	}
	return def
}

func (b *builder) integer(props getter, key string, def int) int {
	if s, ok := b.node(props, key).(*ast.Scalar); ok && s.Kind == ast.ScalarInt {
		return s.Int()
	}
	return def
}

func (b *builder) strings(props getter, key string) []string {
	switch v := b.node(props, key).(type) {
	case *ast.Scalar:
		if v.Kind == ast.ScalarString {
			return []string{v.Value}
		}
	case *ast.Sequence:
		out := make([]string, 0, len(v.Items))
		for _, item := range v.Items {
			if s, ok := b.resolve(item, "").(*ast.Scalar); ok && s.Kind != ast.ScalarNull {
				out = append(out, s.Value)
			}
		}
		return out
	}
	return nil
}

func (b *builder) expr(props getter, key string) domain.Expr {
	var t *ast.Template
	switch v := b.node(props, key).(type) {
	case *ast.Template:
		t = v
	case *ast.Scalar:
		if v.Kind == ast.ScalarNull {
			return domain.Expr{}
		}
		parsed, err := ast.ParseTemplate(v.Value)
		if err != nil {
			b.report(domain.ErrEvaluation(b.name, key, "%v", err), v.Pos.Line)
			return domain.Expr{}
		}
		parsed.Pos = v.Pos
		parsed.Classify(b.name, b.t.Has)
		t = parsed
	default:
		return domain.Expr{}
	}
	return domain.Expr{Template: b.bindCompileContext(t, key)}
}

// bindCompileContext substitutes COMPILE_CONTEXT references with their values.
// The input template is shared with other surfaces and is never modified.
func (b *builder) bindCompileContext(t *ast.Template, key string) *ast.Template {
	needed := false
	for _, r := range t.Refs() {
		if r.Kind == ast.RefCompileContext {
			needed = true
			break
		}
	}
	if !needed {
		return t
	}
	out := &ast.Template{Pos: t.Pos}
	for _, p := range t.Parts {
		if p.Ref == nil || p.Ref.Kind != ast.RefCompileContext {
			out.Parts = append(out.Parts, p)
			continue
		}
		v, ok := b.e.scope.CompileValue(p.Ref.Path[1:])
		if !ok || len(p.Ref.Path) < 2 {
			b.report(domain.ErrEvaluation(b.name, key, "compile context key %q is not set", p.Ref.Key()), t.Pos.Line)
			out.Parts = append(out.Parts, p)
			continue
		}
		out.Parts = append(out.Parts, ast.Part{Text: fmt.Sprint(v)})
	}
	return out
}

func (b *builder) meta(props getter) map[string]any {
	m, ok := b.node(props, "meta").(*ast.Mapping)
	if !ok {
		return nil
	}
	v, _ := nodeValue(m).(map[string]any)
	return v
}

// nodeValue converts literal nodes into plain Go values.
func nodeValue(n ast.Node) any {
	switch v := n.(type) {
	case *ast.Scalar:
		switch v.Kind {
		case ast.ScalarBool:
			return v.Bool()
		case ast.ScalarInt:
			if i, err := strconv.ParseInt(v.Value, 0, 64); err == nil {
				return i
			}
		case ast.ScalarFloat:
			if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
				return f
			}
		case ast.ScalarNull:
			return nil
		}
		return v.Value
	case *ast.Template:
		return v.String()
	case *ast.Script:
		return v.Source
	case *ast.Sequence:
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			out[i] = nodeValue(item)
		}
		return out
	case *ast.Mapping:
		out := make(map[string]any, len(v.Entries))
		for _, e := range v.Entries {
			out[e.Key] = nodeValue(e.Value)
		}
		return out
	}
	return nil
}
