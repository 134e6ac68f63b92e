package transpile

import (
	"errors"
	"fmt"

	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/domain"
)

// StageName is the CompileError stage used for transpile failures.
const StageName = "transpile"

// Stage is one rewrite of the program. Stages rewrite the tree in place and
// must not evaluate expression bodies.
type Stage interface {
	Name() string
	Transform(prog *ast.Program, cc *Context) (*ast.Program, error)
}

// Pipeline applies stages in a fixed order.
type Pipeline struct {
	stages []Stage
}

// Chain builds a pipeline from stages.
func Chain(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Default returns the standard chain. Duplicate property detection is left
// out when allowDuplicateProps is set.
func Default(allowDuplicateProps bool) *Pipeline {
	stages := []Stage{ImportExport{}, ContextInjection{}}
	if !allowDuplicateProps {
		stages = append(stages, DuplicateProps{})
	}
	return Chain(stages...)
}

// Stages returns the stage names in run order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run applies every stage. A stage error aborts immediately; otherwise all
// stages run and every reported error is returned together.
func (p *Pipeline) Run(prog *ast.Program, cc *Context) (*ast.Program, error) {
	for _, s := range p.stages {
		out, err := s.Transform(prog, cc)
		if err != nil {
			cc.Report(asDiagnostic(err, s.Name()))
			return nil, cc.Err(StageName)
		}
		prog = out
	}
	if err := cc.Err(StageName); err != nil {
		return nil, err
	}
	return prog, nil
}

func asDiagnostic(err error, stage string) *domain.Diagnostic {
	var d *domain.Diagnostic
	if errors.As(err, &d) {
		return d
	}
	var se *ast.SyntaxError
	if errors.As(err, &se) {
		return FromSyntaxError(se)
	}
	return &domain.Diagnostic{
		Kind:     domain.KindTranspile,
		Severity: domain.SeverityError,
		Message:  fmt.Sprintf("%s: %v", stage, err),
	}
}

// FromSyntaxError converts a parse failure into a TranspileError diagnostic.
func FromSyntaxError(se *ast.SyntaxError) *domain.Diagnostic {
	return domain.ErrTranspile(se.File, se.Line, "%s", se.Message)
}
