package compiler

import (
	"time"

	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/evaluator"
	"github.com/zzzcdf/cube.js/internal/joingraph"
	"github.com/zzzcdf/cube.js/internal/meta"
)

// Bundle is the immutable result of one compile, shared by every reader of
// the same fingerprint.
type Bundle struct {
	ID           string
	Fingerprint  string
	HeadCommitID string
	CompiledAt   time.Time

	Model            *evaluator.Model
	JoinGraph        *joingraph.Graph
	Meta             *meta.View
	ContextEvaluator *evaluator.ContextEvaluator

	// Warnings are the non-fatal diagnostics of the compile.
	Warnings []*domain.Diagnostic
}

// ResolvePath resolves the joins connecting root to required.
func (b *Bundle) ResolvePath(root string, required ...string) ([]joingraph.Step, error) {
	return b.JoinGraph.ResolvePath(root, required...)
}

// RowFilters returns the access policy filters of cube for securityContext.
func (b *Bundle) RowFilters(cube string, securityContext map[string]any) ([]evaluator.RowFilter, error) {
	return b.ContextEvaluator.RowFilters(cube, securityContext)
}
