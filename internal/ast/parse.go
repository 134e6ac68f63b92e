package ast

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExprTag marks a scalar as a compile-time Starlark expression.
const ExprTag = "!expr"

// templateKeys are the keys whose string values are parsed as templates.
var templateKeys = map[string]bool{
	"sql":        true,
	"sql_table":  true,
	"row_filter": true,
}

// IsTemplateKey reports whether string values under key are templates.
func IsTemplateKey(key string) bool { return templateKeys[key] }

// SyntaxError reports malformed source or a malformed template.
type SyntaxError struct {
	File    string
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

type parser struct {
	path string
}

func (p *parser) errorf(pos Pos, format string, args ...interface{}) error {
	return &SyntaxError{File: p.path, Line: pos.Line, Message: fmt.Sprintf(format, args...)}
}

// Parse converts one YAML schema document into a File. The YAML node tree is
// walked directly rather than decoded into structs so repeated keys survive.
func Parse(path string, source []byte) (*File, error) {
	p := &parser{path: path}
	file := &File{Path: path, Root: &Mapping{Pos: Pos{Line: 1, Column: 1}}}

	dec := yaml.NewDecoder(bytes.NewReader(source))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return file, nil
		}
		return nil, &SyntaxError{File: path, Message: strings.TrimPrefix(err.Error(), "yaml: ")}
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); err == nil {
		return nil, p.errorf(nodePos(&extra), "multiple YAML documents are not supported")
	}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return file, nil
	}
	top := doc.Content[0]
	if top.Kind == yaml.ScalarNode && top.Tag == "!!null" {
		return file, nil
	}
	if top.Kind != yaml.MappingNode {
		return nil, p.errorf(nodePos(top), "top level must be a mapping")
	}

	root, err := p.node(top, "")
	if err != nil {
		return nil, err
	}
	file.Root = root.(*Mapping)

	if file.Imports, err = p.imports(file.Root.Get("imports")); err != nil {
		return nil, err
	}
	if file.Exports, err = p.exports(file.Root.Entry("exports")); err != nil {
		return nil, err
	}
	return file, nil
}

func nodePos(n *yaml.Node) Pos {
	return Pos{Line: n.Line, Column: n.Column}
}

// node converts a YAML node. key is the mapping key the value sits under and
// decides whether a string becomes a template.
func (p *parser) node(n *yaml.Node, key string) (Node, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return p.node(n.Alias, key)
	case yaml.MappingNode:
		m := &Mapping{Pos: nodePos(n)}
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, p.errorf(nodePos(k), "mapping keys must be scalars")
			}
			if k.Value == "<<" && k.Tag == "!!merge" {
				merged, err := p.merge(v)
				if err != nil {
					return nil, err
				}
				m.Entries = append(m.Entries, merged...)
				continue
			}
			val, err := p.node(v, k.Value)
			if err != nil {
				return nil, err
			}
			m.Entries = append(m.Entries, &Entry{Key: k.Value, KeyPos: nodePos(k), Value: val})
		}
		return m, nil
	case yaml.SequenceNode:
		s := &Sequence{Pos: nodePos(n)}
		for _, item := range n.Content {
			// scalars directly in a list are never templates
			v, err := p.node(item, "")
			if err != nil {
				return nil, err
			}
			s.Items = append(s.Items, v)
		}
		return s, nil
	case yaml.ScalarNode:
		return p.scalar(n, key)
	}
	return nil, p.errorf(nodePos(n), "unsupported YAML node")
}

func (p *parser) merge(v *yaml.Node) ([]*Entry, error) {
	var sources []*yaml.Node
	switch v.Kind {
	case yaml.SequenceNode:
		sources = v.Content
	default:
		sources = []*yaml.Node{v}
	}
	var out []*Entry
	for _, src := range sources {
		n, err := p.node(src, "")
		if err != nil {
			return nil, err
		}
		m, ok := n.(*Mapping)
		if !ok {
			return nil, p.errorf(nodePos(src), "merge key requires a mapping")
		}
		out = append(out, m.Entries...)
	}
	return out, nil
}

func (p *parser) scalar(n *yaml.Node, key string) (Node, error) {
	pos := nodePos(n)
	if n.Tag == ExprTag {
		if strings.TrimSpace(n.Value) == "" {
			return nil, p.errorf(pos, "empty %s expression", ExprTag)
		}
		return &Script{Source: n.Value, Pos: pos}, nil
	}
	switch n.ShortTag() {
	case "!!str":
		if templateKeys[key] {
			return p.template(n.Value, pos)
		}
		return &Scalar{Kind: ScalarString, Value: n.Value, Pos: pos}, nil
	case "!!int":
		return &Scalar{Kind: ScalarInt, Value: n.Value, Pos: pos}, nil
	case "!!float":
		return &Scalar{Kind: ScalarFloat, Value: n.Value, Pos: pos}, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, p.errorf(pos, "invalid boolean %q", n.Value)
		}
		return &Scalar{Kind: ScalarBool, Value: fmt.Sprint(b), Pos: pos}, nil
	case "!!null":
		return &Scalar{Kind: ScalarNull, Pos: pos}, nil
	}
	return nil, p.errorf(pos, "unsupported tag %s", n.Tag)
}

func (p *parser) template(text string, pos Pos) (*Template, error) {
	t, err := ParseTemplate(text)
	if err != nil {
		return nil, p.errorf(pos, "%v", err)
	}
	t.Pos = pos
	return t, nil
}

func (p *parser) imports(n Node) ([]*Import, error) {
	if n == nil {
		return nil, nil
	}
	seq, ok := n.(*Sequence)
	if !ok {
		return nil, p.errorf(n.Position(), "imports must be a list")
	}
	var out []*Import
	for _, item := range seq.Items {
		m, ok := item.(*Mapping)
		if !ok {
			return nil, p.errorf(item.Position(), "import must be a mapping with from and names")
		}
		imp := &Import{From: m.String("from"), Pos: m.Pos}
		if imp.From == "" {
			return nil, p.errorf(m.Pos, "import is missing from")
		}
		names, ok := m.Get("names").(*Sequence)
		if !ok || len(names.Items) == 0 {
			return nil, p.errorf(m.Pos, "import from %s must list names", imp.From)
		}
		for _, nn := range names.Items {
			s, ok := nn.(*Scalar)
			if !ok || s.Kind != ScalarString {
				return nil, p.errorf(nn.Position(), "import names must be strings")
			}
			name, err := parseImportName(s.Value)
			if err != nil {
				return nil, p.errorf(s.Pos, "%v", err)
			}
			imp.Names = append(imp.Names, name)
		}
		out = append(out, imp)
	}
	return out, nil
}

// parseImportName accepts "name" or "name as alias".
func parseImportName(s string) (ImportName, error) {
	fields := strings.Fields(s)
	switch {
	case len(fields) == 1 && IsIdentifier(fields[0]):
		return ImportName{Name: fields[0], Alias: fields[0]}, nil
	case len(fields) == 3 && fields[1] == "as" && IsIdentifier(fields[0]) && IsIdentifier(fields[2]):
		return ImportName{Name: fields[0], Alias: fields[2]}, nil
	}
	return ImportName{}, fmt.Errorf("invalid import name %q", s)
}

func (p *parser) exports(e *Entry) ([]*Export, error) {
	if e == nil {
		return nil, nil
	}
	m, ok := e.Value.(*Mapping)
	if !ok {
		return nil, p.errorf(e.KeyPos, "exports must be a mapping")
	}
	var out []*Export
	for _, entry := range m.Entries {
		if !IsIdentifier(entry.Key) {
			return nil, p.errorf(entry.KeyPos, "invalid export name %q", entry.Key)
		}
		var tmpl *Template
		switch v := entry.Value.(type) {
		case *Template:
			tmpl = v
		case *Scalar:
			if v.Kind != ScalarString {
				return nil, p.errorf(v.Pos, "export %s must be a string", entry.Key)
			}
			t, err := p.template(v.Value, v.Pos)
			if err != nil {
				return nil, err
			}
			tmpl = t
			entry.Value = t
		default:
			return nil, p.errorf(entry.KeyPos, "export %s must be a string", entry.Key)
		}
		out = append(out, &Export{Name: entry.Key, Value: tmpl, Pos: entry.KeyPos})
	}
	return out, nil
}
