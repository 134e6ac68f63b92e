// Package compiler runs the schema compile pipeline and memoizes its
// bundles by source fingerprint.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/zzzcdf/cube.js/internal/ast"
	"github.com/zzzcdf/cube.js/internal/cache"
	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/evaluator"
	"github.com/zzzcdf/cube.js/internal/extensions"
	"github.com/zzzcdf/cube.js/internal/joingraph"
	"github.com/zzzcdf/cube.js/internal/meta"
	"github.com/zzzcdf/cube.js/internal/symbols"
	"github.com/zzzcdf/cube.js/internal/transpile"
	"github.com/zzzcdf/cube.js/internal/validator"
)

// Compile pass names, used as CompileError stages.
const (
	StageRead      = "read"
	StageParse     = "parse"
	StageTranspile = transpile.StageName
	StageStructure = "validate_structure"
	StageEvaluate  = "evaluate"
	StageSemantics = "validate_semantics"
	StageJoins     = "join_graph"
)

const (
	defaultCacheSize    = 100
	defaultCacheAge     = 10 * time.Minute
	defaultParseWorkers = 8
)

// Repository supplies the schema files to compile.
type Repository interface {
	Files(ctx context.Context) ([]domain.SchemaFile, error)
}

// Options configures a Compiler.
type Options struct {
	// MaxQueryCacheSize bounds the number of cached bundles. Zero uses 100;
	// a negative value disables the bound.
	MaxQueryCacheSize int
	// MaxQueryCacheAge bounds the age of a cached bundle. Zero uses 10m; a
	// negative value disables expiry.
	MaxQueryCacheAge time.Duration

	AllowDuplicateProps bool
	CompileContext      map[string]any
	HeadCommitID        string

	// Extensions replace the default extension set when non-nil.
	Extensions []extensions.Extension

	// MaxScriptSteps and ScriptTimeout bound each compile-time script. Zero
	// keeps the evaluator defaults.
	MaxScriptSteps uint64
	ScriptTimeout  time.Duration

	// ParseWorkers bounds parallel file parsing. Zero uses 8.
	ParseWorkers int

	Logger     *slog.Logger
	Registerer prometheus.Registerer

	// OnBuild is called after every compile that ran, successful or not.
	// Cache hits do not call it.
	OnBuild func(BuildResult)
}

// BuildResult describes one compile run.
type BuildResult struct {
	Fingerprint  string
	HeadCommitID string
	StartedAt    time.Time
	Duration     time.Duration
	// Bundle is nil when the compile failed.
	Bundle *Bundle
	Err    error
}

// Stage returns the failing pass, or "" for a successful or cancelled
// compile.
func (r BuildResult) Stage() string {
	var ce *domain.CompileError
	if errors.As(r.Err, &ce) {
		return ce.Stage
	}
	return ""
}

// Diagnostics returns the errors of a failed compile, or the warnings of a
// successful one.
func (r BuildResult) Diagnostics() []*domain.Diagnostic {
	if r.Bundle != nil {
		return r.Bundle.Warnings
	}
	var ce *domain.CompileError
	if errors.As(r.Err, &ce) {
		return ce.Diagnostics
	}
	return nil
}

// Compiler compiles one repository. It is safe for concurrent use; calls
// with unchanged sources share the cached bundle.
type Compiler struct {
	repo   Repository
	opts   Options
	logger *slog.Logger
	cache  *cache.Cache[*Bundle]
	now    func() time.Time
}

// New creates a Compiler for repo.
func New(repo Repository, opts Options) *Compiler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.MaxQueryCacheSize
	switch {
	case size == 0:
		size = defaultCacheSize
	case size < 0:
		size = 0
	}
	age := opts.MaxQueryCacheAge
	switch {
	case age == 0:
		age = defaultCacheAge
	case age < 0:
		age = 0
	}
	if opts.Extensions == nil {
		opts.Extensions = extensions.Defaults()
	}
	if opts.ParseWorkers <= 0 {
		opts.ParseWorkers = defaultParseWorkers
	}
	return &Compiler{
		repo:   repo,
		opts:   opts,
		logger: logger,
		cache:  cache.New[*Bundle](cache.Options{MaxSize: size, MaxAge: age, Registerer: opts.Registerer}),
		now:    time.Now,
	}
}

// Compile reads the repository and returns the bundle for its current
// contents, compiling only when no bundle for the same fingerprint is cached.
func Compile(ctx context.Context, repo Repository, opts Options) (*Bundle, error) {
	return New(repo, opts).Compile(ctx)
}

// Compile reads the repository and returns the bundle for its current
// contents.
func (c *Compiler) Compile(ctx context.Context) (*Bundle, error) {
	listed, err := c.repo.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageRead, err)
	}
	// declaration order follows path order whatever order the repository uses
	files := append([]domain.SchemaFile(nil), listed...)
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	fp, err := cache.Fingerprint(files, cache.FingerprintOptions{
		HeadCommitID:        c.opts.HeadCommitID,
		AllowDuplicateProps: c.opts.AllowDuplicateProps,
		CompileContext:      c.opts.CompileContext,
	})
	if err != nil {
		return nil, err
	}
	return c.cache.GetOrCompile(ctx, fp, func(ctx context.Context) (*Bundle, error) {
		started := c.now()
		b, err := c.build(ctx, files, fp)
		if c.opts.OnBuild != nil {
			c.opts.OnBuild(BuildResult{
				Fingerprint:  fp,
				HeadCommitID: c.opts.HeadCommitID,
				StartedAt:    started,
				Duration:     c.now().Sub(started),
				Bundle:       b,
				Err:          err,
			})
		}
		return b, err
	})
}

// CacheStats reports the bundle cache counters.
func (c *Compiler) CacheStats() cache.Stats { return c.cache.Stats() }

// Invalidate drops every cached bundle.
func (c *Compiler) Invalidate() { c.cache.Purge() }

// build runs every pass over files. Each pass reports all of its problems
// before the compile stops; the passes over the evaluated model run together.
func (c *Compiler) build(ctx context.Context, files []domain.SchemaFile, fp string) (*Bundle, error) {
	start := c.now()
	logger := c.logger.With("fingerprint", shortID(fp))

	var warnings []*domain.Diagnostic
	pass := func(stage string, diags []*domain.Diagnostic, began time.Time) error {
		var set domain.Diagnostics
		set.Report(diags...)
		for _, d := range diags {
			if !d.IsError() {
				warnings = append(warnings, d)
			}
		}
		logger.Debug("compile pass", "stage", stage, "diagnostics", len(diags), "duration", c.now().Sub(began))
		return set.Err(stage)
	}

	began := c.now()
	prog, diags, err := c.parse(ctx, files)
	if err != nil {
		return nil, err
	}
	if err := pass(StageParse, diags, began); err != nil {
		return nil, err
	}

	began = c.now()
	dict := symbols.NewDictionary()
	cc := transpile.NewContext()
	dict.Collect(prog, cc)
	// transpile problems are reported into cc and surface through pass
	if out, err := transpile.Default(c.opts.AllowDuplicateProps).Run(prog, cc); err == nil {
		prog = out
	}
	if err := pass(StageTranspile, cc.Diagnostics(), began); err != nil {
		return nil, err
	}

	began = c.now()
	if err := pass(StageStructure, validator.ValidateStructure(prog), began); err != nil {
		return nil, err
	}

	began = c.now()
	scope, err := evaluator.NewScope(c.opts.CompileContext, c.opts.Extensions, dict)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageEvaluate, err)
	}
	if c.opts.MaxScriptSteps > 0 || c.opts.ScriptTimeout > 0 {
		scope = scope.WithLimits(c.opts.MaxScriptSteps, c.opts.ScriptTimeout)
	}
	model, diags := evaluator.NewCubeEvaluator(scope, dict.Contexts()).Evaluate(symbols.Populate(dict))
	// a cycle drops whole cubes, leaving later passes only its echoes
	if hasKind(diags, domain.KindCircularReference) {
		return nil, pass(StageEvaluate, diags, began)
	}

	// evaluation, semantics and the join graph fail together, under the
	// first stage that found an error
	var (
		found    domain.Diagnostics
		failedAt string
	)
	collect := func(stage string, diags []*domain.Diagnostic, began time.Time) {
		if err := pass(stage, diags, began); err != nil && failedAt == "" {
			failedAt = stage
		}
		found.Report(diags...)
	}
	collect(StageEvaluate, diags, began)

	began = c.now()
	collect(StageSemantics, validator.ValidateSemantics(model), began)

	began = c.now()
	graph, diags := joingraph.Build(model)
	collect(StageJoins, diags, began)
	if failedAt != "" {
		return nil, found.Err(failedAt)
	}

	b := &Bundle{
		ID:               domain.NewID(),
		Fingerprint:      fp,
		HeadCommitID:     c.opts.HeadCommitID,
		CompiledAt:       c.now().UTC(),
		Model:            model,
		JoinGraph:        graph,
		Meta:             meta.Project(model, graph),
		ContextEvaluator: evaluator.NewContextEvaluator(model, scope),
		Warnings:         warnings,
	}
	logger.Debug("compile complete",
		"bundle", b.ID,
		"files", len(files),
		"cubes", len(model.Cubes()),
		"warnings", len(warnings),
		"duration", c.now().Sub(start))
	return b, nil
}

// parse parses files in parallel. Syntax errors are returned as diagnostics;
// only cancellation aborts.
func (c *Compiler) parse(ctx context.Context, files []domain.SchemaFile) (*ast.Program, []*domain.Diagnostic, error) {
	parsed := make([]*ast.File, len(files))
	failed := make([]*domain.Diagnostic, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.ParseWorkers)
	for i := range files {
		f := files[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			file, err := ast.Parse(transpile.NormalizePath(f.Path), f.Content)
			if err != nil {
				var se *ast.SyntaxError
				if errors.As(err, &se) {
					failed[i] = transpile.FromSyntaxError(se)
					return nil
				}
				failed[i] = domain.ErrTranspile(f.Path, 0, "%v", err)
				return nil
			}
			parsed[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", StageParse, err)
	}

	prog := &ast.Program{}
	var diags []*domain.Diagnostic
	for i := range files {
		if failed[i] != nil {
			diags = append(diags, failed[i])
			continue
		}
		prog.Files = append(prog.Files, parsed[i])
	}
	return prog, diags, nil
}

func shortID(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func hasKind(diags []*domain.Diagnostic, kind domain.DiagnosticKind) bool {
	for _, d := range diags {
		if d.Kind == kind {
			return true
		}
	}
	return false
}
