package ast

import (
	"fmt"
	"strings"
)

// RefKind classifies what a template reference points at.
type RefKind int

// Reference kinds.
const (
	RefUnresolved RefKind = iota
	RefSelf
	RefMember
	RefSymbol
	RefSecurityContext
	RefCompileContext
	RefExport
)

func (k RefKind) String() string {
	switch k {
	case RefSelf:
		return "self"
	case RefMember:
		return "member"
	case RefSymbol:
		return "symbol"
	case RefSecurityContext:
		return "security_context"
	case RefCompileContext:
		return "compile_context"
	case RefExport:
		return "export"
	default:
		return "unresolved"
	}
}

// Reserved reference heads.
const (
	HeadCube            = "CUBE"
	HeadTable           = "TABLE"
	HeadSecurityContext = "SECURITY_CONTEXT"
	HeadCompileContext  = "COMPILE_CONTEXT"
)

// Ref is a `{path}` placeholder inside a template.
type Ref struct {
	Path []string
	Kind RefKind

	// Cube and Member are set for Self, Member and Symbol refs.
	Cube   string
	Member string

	// File and Name identify the export an Export ref points at.
	File string
	Name string
}

// Key returns the context key of a SecurityContext or CompileContext ref.
func (r *Ref) Key() string {
	return strings.Join(r.Path[1:], ".")
}

// String renders the canonical placeholder text, without braces.
func (r *Ref) String() string {
	switch r.Kind {
	case RefSelf:
		if r.Member == "" {
			return HeadCube
		}
		return HeadCube + "." + r.Member
	case RefMember:
		return HeadCube + "." + r.Member
	case RefSymbol:
		if r.Member == "" {
			return r.Cube
		}
		return r.Cube + "." + r.Member
	case RefExport:
		return r.File + "#" + r.Name
	}
	return strings.Join(r.Path, ".")
}

// ParseTemplate parses text with `{path}` placeholders. `{{` and `}}` stand
// for literal braces.
func ParseTemplate(text string) (*Template, error) {
	t := &Template{}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.Parts = append(t.Parts, Part{Text: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated reference at offset %d", i)
			}
			raw := strings.TrimSpace(text[i+1 : i+1+end])
			path, err := parsePath(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid reference {%s}: %w", raw, err)
			}
			flush()
			t.Parts = append(t.Parts, Part{Ref: &Ref{Path: path}})
			i += end + 1
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("unmatched '}' at offset %d", i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

func parsePath(raw string) ([]string, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if !IsIdentifier(p) {
			return nil, fmt.Errorf("%q is not an identifier", p)
		}
	}
	return parts, nil
}

// IsIdentifier reports whether s matches [A-Za-z_][A-Za-z0-9_]*.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// String renders the template back to source form with canonical refs.
func (t *Template) String() string {
	var b strings.Builder
	for _, p := range t.Parts {
		if p.Ref != nil {
			b.WriteByte('{')
			b.WriteString(p.Ref.String())
			b.WriteByte('}')
			continue
		}
		b.WriteString(strings.NewReplacer("{", "{{", "}", "}}").Replace(p.Text))
	}
	return b.String()
}

// Refs returns every reference in order of appearance.
func (t *Template) Refs() []*Ref {
	if t == nil {
		return nil
	}
	var refs []*Ref
	for _, p := range t.Parts {
		if p.Ref != nil {
			refs = append(refs, p.Ref)
		}
	}
	return refs
}

// Clone returns a deep copy.
func (t *Template) Clone() *Template {
	c := &Template{Pos: t.Pos, Parts: make([]Part, len(t.Parts))}
	for i, p := range t.Parts {
		c.Parts[i] = Part{Text: p.Text}
		if p.Ref != nil {
			r := *p.Ref
			r.Path = append([]string(nil), p.Ref.Path...)
			c.Parts[i].Ref = &r
		}
	}
	return c
}

// Classify assigns a kind to every unclassified reference of t as seen from
// the enclosing cube. isSymbol reports whether a name is a declared cube or
// view. It returns the distinct symbols referenced, in order.
func (t *Template) Classify(cube string, isSymbol func(string) bool) []string {
	var deps []string
	seen := make(map[string]bool)
	for _, r := range t.Refs() {
		if r.Kind == RefUnresolved {
			classify(r, cube, isSymbol)
		}
		if r.Kind == RefSymbol && r.Cube != cube && !seen[r.Cube] {
			seen[r.Cube] = true
			deps = append(deps, r.Cube)
		}
	}
	return deps
}

func classify(r *Ref, cube string, isSymbol func(string) bool) {
	head := r.Path[0]
	switch {
	case head == HeadCube || head == HeadTable:
		r.Kind = RefSelf
		r.Cube = cube
		if len(r.Path) > 1 {
			r.Member = r.Path[1]
		}
	case head == HeadSecurityContext:
		r.Kind = RefSecurityContext
	case head == HeadCompileContext:
		r.Kind = RefCompileContext
	case isSymbol(head):
		r.Kind = RefSymbol
		r.Cube = head
		if len(r.Path) > 1 {
			r.Member = r.Path[1]
		}
	default:
		r.Kind = RefMember
		r.Cube = cube
		r.Member = head
	}
}
