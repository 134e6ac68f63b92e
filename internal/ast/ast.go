// Package ast is the record/expression tree that schema files are parsed into.
// Every transpile stage consumes and produces this tree.
package ast

import (
	"fmt"
	"strconv"
)

// Pos is a 1-based source position.
type Pos struct {
	Line   int
	Column int
}

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Column) }

// Node is implemented by every tree node.
type Node interface {
	Position() Pos
	node()
}

// Program is the set of files compiled together.
type Program struct {
	Files []*File
}

// File is one parsed schema file.
type File struct {
	Path    string
	Root    *Mapping
	Imports []*Import
	Exports []*Export
}

// Import pulls exported names from another file of the same program.
type Import struct {
	From  string
	Names []ImportName
	Pos   Pos
}

// ImportName binds the export Name under the local Alias.
type ImportName struct {
	Name  string
	Alias string
}

// Export is a named template fragment other files may import.
type Export struct {
	Name  string
	Value *Template
	Pos   Pos
}

// Entry is one key/value pair of a Mapping.
type Entry struct {
	Key    string
	KeyPos Pos
	Value  Node
}

// Mapping keeps entries in source order. Repeated keys are kept so later
// passes can report or resolve them.
type Mapping struct {
	Entries []*Entry
	Pos     Pos

	// Scope is attached to cube, view and member bodies by context injection.
	Scope *Scope
}

// Scope describes the evaluation scope a body runs in.
type Scope struct {
	Cube string
	Deps []string
}

func (m *Mapping) Position() Pos { return m.Pos }
func (*Mapping) node()           {}

// Get returns the value of the last entry named key.
func (m *Mapping) Get(key string) Node {
	if m == nil {
		return nil
	}
	for i := len(m.Entries) - 1; i >= 0; i-- {
		if m.Entries[i].Key == key {
			return m.Entries[i].Value
		}
	}
	return nil
}

// Entry returns the last entry named key.
func (m *Mapping) Entry(key string) *Entry {
	if m == nil {
		return nil
	}
	for i := len(m.Entries) - 1; i >= 0; i-- {
		if m.Entries[i].Key == key {
			return m.Entries[i]
		}
	}
	return nil
}

// Has reports whether key is present.
func (m *Mapping) Has(key string) bool { return m.Entry(key) != nil }

// String returns the scalar string value of key, or "" when absent or not a
// plain scalar.
func (m *Mapping) String(key string) string {
	if s, ok := m.Get(key).(*Scalar); ok {
		return s.Value
	}
	return ""
}

// Keys returns the distinct keys in first-seen order.
func (m *Mapping) Keys() []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]bool, len(m.Entries))
	var keys []string
	for _, e := range m.Entries {
		if !seen[e.Key] {
			seen[e.Key] = true
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// Sequence is a YAML list.
type Sequence struct {
	Items []Node
	Pos   Pos
}

func (s *Sequence) Position() Pos { return s.Pos }
func (*Sequence) node()           {}

// ScalarKind tags the literal type of a Scalar.
type ScalarKind int

// Scalar kinds.
const (
	ScalarString ScalarKind = iota
	ScalarInt
	ScalarFloat
	ScalarBool
	ScalarNull
)

func (k ScalarKind) String() string {
	switch k {
	case ScalarString:
		return "string"
	case ScalarInt:
		return "int"
	case ScalarFloat:
		return "float"
	case ScalarBool:
		return "bool"
	default:
		return "null"
	}
}

// Scalar is a literal value kept in its source text form.
type Scalar struct {
	Kind  ScalarKind
	Value string
	Pos   Pos
}

func (s *Scalar) Position() Pos { return s.Pos }
func (*Scalar) node()           {}

// Bool returns the boolean value of a ScalarBool.
func (s *Scalar) Bool() bool {
	b, _ := strconv.ParseBool(s.Value)
	return b
}

// Int returns the integer value of a ScalarInt.
func (s *Scalar) Int() int {
	n, _ := strconv.Atoi(s.Value)
	return n
}

// Template is SQL text with embedded references.
type Template struct {
	Parts []Part
	Pos   Pos
}

// Part is either literal text or a reference.
type Part struct {
	Text string
	Ref  *Ref
}

func (t *Template) Position() Pos { return t.Pos }
func (*Template) node()           {}

// Script is a compile-time Starlark expression (a scalar tagged !expr).
type Script struct {
	Source string
	Pos    Pos

	// Cube is the enclosing cube or view, bound by context injection.
	Cube string
}

func (s *Script) Position() Pos { return s.Pos }
func (*Script) node()           {}

// Named is one member of a section, whichever form the section was written in.
type Named struct {
	Name string
	Pos  Pos
	Body Node
}

// Members flattens a section written either as a mapping of name to body or
// as a list of bodies carrying a `name` key. Order and repeats are kept. List
// items without a name get an empty Name.
func Members(n Node) []Named {
	switch v := n.(type) {
	case *Mapping:
		out := make([]Named, 0, len(v.Entries))
		for _, e := range v.Entries {
			out = append(out, Named{Name: e.Key, Pos: e.KeyPos, Body: e.Value})
		}
		return out
	case *Sequence:
		out := make([]Named, 0, len(v.Items))
		for _, item := range v.Items {
			named := Named{Pos: item.Position(), Body: item}
			if m, ok := item.(*Mapping); ok {
				named.Name = m.String("name")
			}
			out = append(out, named)
		}
		return out
	}
	return nil
}

// Definition is a cube, view or context body found at the top of a file.
type Definition struct {
	Section string
	Name    string
	Body    *Mapping
}

// Definitions returns the mapping bodies listed under section ("cubes",
// "views" or "contexts"). Non-mapping items are skipped.
func (f *File) Definitions(section string) []Definition {
	seq, ok := f.Root.Get(section).(*Sequence)
	if !ok {
		return nil
	}
	var out []Definition
	for _, item := range seq.Items {
		if m, ok := item.(*Mapping); ok {
			out = append(out, Definition{Section: section, Name: m.String("name"), Body: m})
		}
	}
	return out
}
