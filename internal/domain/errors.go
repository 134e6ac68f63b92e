// Package domain defines the compiled model types, diagnostics, and errors
// shared by every stage of the schema compiler.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DiagnosticKind classifies a compile problem.
type DiagnosticKind string

// Diagnostic kinds reported by the compiler.
const (
	KindTranspile         DiagnosticKind = "TranspileError"
	KindInvalidSchema     DiagnosticKind = "InvalidSchema"
	KindDuplicateSymbol   DiagnosticKind = "DuplicateSymbol"
	KindDuplicateProperty DiagnosticKind = "DuplicateProperty"
	KindCircularReference DiagnosticKind = "CircularReference"
	KindUnknownCube       DiagnosticKind = "UnknownCube"
	KindUnknownMember     DiagnosticKind = "UnknownMember"
	KindNoJoinPath        DiagnosticKind = "NoJoinPath"
	KindJoinConflict      DiagnosticKind = "JoinConflict"
	KindEvaluation        DiagnosticKind = "EvaluationError"
)

// Severity of a diagnostic. Only errors fail a compile.
type Severity int

// Severity levels.
const (
	SeverityError Severity = iota
	SeverityWarning
)

// Diagnostic is a single problem found while compiling. It carries the
// offending file, cube, and key so that aggregated reports stay actionable.
type Diagnostic struct {
	Kind     DiagnosticKind
	Severity Severity
	File     string
	Line     int
	Cube     string
	Key      string
	Message  string
}

func (d *Diagnostic) Error() string {
	var b strings.Builder
	if d.File != "" {
		b.WriteString(d.File)
		if d.Line > 0 {
			fmt.Fprintf(&b, ":%d", d.Line)
		}
		b.WriteString(": ")
	}
	b.WriteString(string(d.Kind))
	if d.Cube != "" {
		b.WriteString(" in ")
		b.WriteString(d.Cube)
		if d.Key != "" {
			b.WriteString(".")
			b.WriteString(d.Key)
		}
	} else if d.Key != "" {
		b.WriteString(" at ")
		b.WriteString(d.Key)
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// IsError reports whether the diagnostic fails a compile.
func (d *Diagnostic) IsError() bool { return d.Severity == SeverityError }

// WithFile returns a copy of d located in file at line.
func (d *Diagnostic) WithFile(file string, line int) *Diagnostic {
	c := *d
	c.File = file
	c.Line = line
	return &c
}

// newDiag builds an error-severity diagnostic with a formatted message.
func newDiag(kind DiagnosticKind, cube, key, format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{
		Kind:     kind,
		Severity: SeverityError,
		Cube:     cube,
		Key:      key,
		Message:  fmt.Sprintf(format, args...),
	}
}

// ErrTranspile creates a TranspileError diagnostic.
func ErrTranspile(file string, line int, format string, args ...interface{}) *Diagnostic {
	return newDiag(KindTranspile, "", "", format, args...).WithFile(file, line)
}

// ErrInvalidSchema creates an InvalidSchema diagnostic.
func ErrInvalidSchema(cube, key, format string, args ...interface{}) *Diagnostic {
	return newDiag(KindInvalidSchema, cube, key, format, args...)
}

// ErrDuplicateSymbol creates a DuplicateSymbol diagnostic.
func ErrDuplicateSymbol(name, firstFile, secondFile string) *Diagnostic {
	return newDiag(KindDuplicateSymbol, name, "", "%q is declared in both %s and %s", name, firstFile, secondFile)
}

// ErrDuplicateProperty creates a DuplicateProperty diagnostic.
func ErrDuplicateProperty(cube, section, key string) *Diagnostic {
	path := key
	if section != "" {
		path = section + "." + key
	}
	return newDiag(KindDuplicateProperty, cube, path, "duplicate property %q", key)
}

// ErrCircularReference creates a CircularReference diagnostic for the chain of
// symbols being forced.
func ErrCircularReference(chain []string) *Diagnostic {
	name := ""
	if len(chain) > 0 {
		name = chain[0]
	}
	return newDiag(KindCircularReference, name, "", "circular reference: %s", strings.Join(chain, " -> "))
}

// ErrUnknownCube creates an UnknownCube diagnostic.
func ErrUnknownCube(cube, key, target string) *Diagnostic {
	return newDiag(KindUnknownCube, cube, key, "cube %q does not exist", target)
}

// ErrUnknownMember creates an UnknownMember diagnostic.
func ErrUnknownMember(cube, key, member string) *Diagnostic {
	return newDiag(KindUnknownMember, cube, key, "member %q does not exist", member)
}

// ErrNoJoinPath creates a NoJoinPath diagnostic naming the unreachable cube.
func ErrNoJoinPath(root, unreachable string) *Diagnostic {
	return newDiag(KindNoJoinPath, unreachable, "", "no join path from %q to %q", root, unreachable)
}

// ErrJoinConflict creates a JoinConflict diagnostic.
func ErrJoinConflict(owner, target, format string, args ...interface{}) *Diagnostic {
	return newDiag(KindJoinConflict, owner, "joins."+target, format, args...)
}

// ErrEvaluation creates an EvaluationError diagnostic.
func ErrEvaluation(cube, key, format string, args ...interface{}) *Diagnostic {
	return newDiag(KindEvaluation, cube, key, format, args...)
}

// IsKind reports whether err (or any error in its chain) is a diagnostic of
// the given kind, or a CompileError containing one.
func IsKind(err error, kind DiagnosticKind) bool {
	var d *Diagnostic
	if errors.As(err, &d) && d.Kind == kind {
		return true
	}
	var ce *CompileError
	if errors.As(err, &ce) {
		for _, diag := range ce.Diagnostics {
			if diag.Kind == kind {
				return true
			}
		}
	}
	return false
}

// CompileError aggregates every error diagnostic of the pass that failed.
type CompileError struct {
	Stage       string
	Diagnostics []*Diagnostic
}

func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 1 {
		return fmt.Sprintf("%s: %s", e.Stage, e.Diagnostics[0].Error())
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d errors", e.Stage, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		b.WriteString("\n  - ")
		b.WriteString(d.Error())
	}
	return b.String()
}

// Unwrap exposes the individual diagnostics to errors.Is / errors.As.
func (e *CompileError) Unwrap() []error {
	errs := make([]error, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		errs[i] = d
	}
	return errs
}

// Diagnostics is an append-only collection used by every pass.
type Diagnostics struct {
	items []*Diagnostic
}

// Report appends diagnostics, skipping nil entries.
func (ds *Diagnostics) Report(diags ...*Diagnostic) {
	for _, d := range diags {
		if d != nil {
			ds.items = append(ds.items, d)
		}
	}
}

// All returns every reported diagnostic in report order.
func (ds *Diagnostics) All() []*Diagnostic { return ds.items }

// Errors returns only the error-severity diagnostics.
func (ds *Diagnostics) Errors() []*Diagnostic {
	var out []*Diagnostic
	for _, d := range ds.items {
		if d.IsError() {
			out = append(out, d)
		}
	}
	return out
}

// HasErrors reports whether any error-severity diagnostic was reported.
func (ds *Diagnostics) HasErrors() bool {
	for _, d := range ds.items {
		if d.IsError() {
			return true
		}
	}
	return false
}

// Err returns a CompileError for stage when errors were reported, else nil.
func (ds *Diagnostics) Err(stage string) error {
	errs := ds.Errors()
	if len(errs) == 0 {
		return nil
	}
	return &CompileError{Stage: stage, Diagnostics: errs}
}
