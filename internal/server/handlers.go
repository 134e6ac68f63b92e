package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zzzcdf/cube.js/internal/db"
	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/joingraph"
	"github.com/zzzcdf/cube.js/internal/middleware"
)

type diagnosticJSON struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Cube     string `json:"cube,omitempty"`
	Key      string `json:"key,omitempty"`
	Message  string `json:"message"`
}

func toDiagnostics(diags []*domain.Diagnostic) []diagnosticJSON {
	out := make([]diagnosticJSON, 0, len(diags))
	for _, d := range diags {
		sev := "error"
		if d.Severity == domain.SeverityWarning {
			sev = "warning"
		}
		out = append(out, diagnosticJSON{
			Kind:     string(d.Kind),
			Severity: sev,
			File:     d.File,
			Line:     d.Line,
			Cube:     d.Cube,
			Key:      d.Key,
			Message:  d.Message,
		})
	}
	return out
}

type errorJSON struct {
	Error       string           `json:"error"`
	Stage       string           `json:"stage,omitempty"`
	Diagnostics []diagnosticJSON `json:"diagnostics,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps compiler and storage errors onto HTTP statuses.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ce *domain.CompileError
		d  *domain.Diagnostic
	)
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusUnprocessableEntity, errorJSON{
			Error:       "schema does not compile",
			Stage:       ce.Stage,
			Diagnostics: toDiagnostics(ce.Diagnostics),
		})
	case errors.As(err, &d):
		status := http.StatusBadRequest
		if d.Kind == domain.KindUnknownCube {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorJSON{Error: d.Error(), Diagnostics: toDiagnostics([]*domain.Diagnostic{d})})
	case errors.Is(err, db.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.RequestIDFromContext(r.Context()), "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getMeta(w http.ResponseWriter, r *http.Request) {
	b, err := s.opts.Compiler.Compile(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b.Meta)
}

func (s *Server) getMetaCube(w http.ResponseWriter, r *http.Request) {
	b, err := s.opts.Compiler.Compile(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	name := chi.URLParam(r, "cube")
	c, ok := b.Meta.Cube(name)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "cube "+strconv.Quote(name)+" is not public or does not exist")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type validateJSON struct {
	Valid    bool             `json:"valid"`
	Bundle   string           `json:"bundle,omitempty"`
	Stage    string           `json:"stage,omitempty"`
	Errors   []diagnosticJSON `json:"errors,omitempty"`
	Warnings []diagnosticJSON `json:"warnings"`
}

// validate reports schema problems with 200; only read failures are errors.
func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	b, err := s.opts.Compiler.Compile(r.Context())
	var ce *domain.CompileError
	switch {
	case errors.As(err, &ce):
		writeJSON(w, http.StatusOK, validateJSON{
			Stage:    ce.Stage,
			Errors:   toDiagnostics(ce.Diagnostics),
			Warnings: []diagnosticJSON{},
		})
	case err != nil:
		s.writeErr(w, r, err)
	default:
		writeJSON(w, http.StatusOK, validateJSON{Valid: true, Bundle: b.ID, Warnings: toDiagnostics(b.Warnings)})
	}
}

type contextJSON struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (s *Server) listContexts(w http.ResponseWriter, r *http.Request) {
	b, err := s.opts.Compiler.Compile(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := make([]contextJSON, 0)
	for _, name := range b.ContextEvaluator.Contexts() {
		members, err := b.ContextEvaluator.ContextMembers(name)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		out = append(out, contextJSON{Name: name, Members: members})
	}
	writeJSON(w, http.StatusOK, out)
}

type stepJSON struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Owner        string `json:"owner"`
	Relationship string `json:"relationship"`
	SQL          string `json:"sql"`
}

func toSteps(steps []joingraph.Step) []stepJSON {
	out := make([]stepJSON, 0, len(steps))
	for _, st := range steps {
		rel := st.Edge.Relationship
		if st.Reversed {
			rel = rel.Inverse()
		}
		out = append(out, stepJSON{
			From:         st.From,
			To:           st.To,
			Owner:        st.Edge.Owner,
			Relationship: string(rel),
			SQL:          st.Join().SQL.SQL(),
		})
	}
	return out
}

// joinPath answers GET /v1/join-path?root=A&cube=B&cube=C.
func (s *Server) joinPath(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	root, cubes := q.Get("root"), q["cube"]
	if root == "" || len(cubes) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "root and at least one cube are required")
		return
	}
	b, err := s.opts.Compiler.Compile(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	steps, err := b.ResolvePath(root, cubes...)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSteps(steps))
}

type rowFilterJSON struct {
	Cube   string `json:"cube"`
	SQL    string `json:"sql"`
	Policy int    `json:"policy"`
}

// rowFilters evaluates the cube's access policies against the caller's
// security context.
func (s *Server) rowFilters(w http.ResponseWriter, r *http.Request) {
	b, err := s.opts.Compiler.Compile(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	sc, _ := domain.SecurityContextFromContext(r.Context())
	filters, err := b.RowFilters(chi.URLParam(r, "cube"), sc)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := make([]rowFilterJSON, 0, len(filters))
	for _, f := range filters {
		out = append(out, rowFilterJSON{Cube: f.Cube, SQL: f.SQL, Policy: f.Policy})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) invalidate(w http.ResponseWriter, _ *http.Request) {
	s.opts.Compiler.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

type compileJSON struct {
	ID           int64            `json:"id"`
	Fingerprint  string           `json:"fingerprint"`
	HeadCommitID string           `json:"headCommitId,omitempty"`
	BundleID     string           `json:"bundleId,omitempty"`
	Status       string           `json:"status"`
	Stage        string           `json:"stage,omitempty"`
	Error        string           `json:"error,omitempty"`
	Cubes        int              `json:"cubes"`
	Warnings     int              `json:"warnings"`
	StartedAt    time.Time        `json:"startedAt"`
	DurationMS   int64            `json:"durationMs"`
	Diagnostics  []diagnosticJSON `json:"diagnostics,omitempty"`
}

func toCompileJSON(rec db.CompileRecord) compileJSON {
	out := compileJSON{
		ID:           rec.ID,
		Fingerprint:  rec.Fingerprint,
		HeadCommitID: rec.HeadCommitID,
		BundleID:     rec.BundleID,
		Status:       rec.Status,
		Stage:        rec.Stage,
		Error:        rec.Error,
		Cubes:        rec.Cubes,
		Warnings:     rec.Warnings,
		StartedAt:    rec.StartedAt,
		DurationMS:   rec.Duration.Milliseconds(),
	}
	for _, d := range rec.Diagnostics {
		out.Diagnostics = append(out.Diagnostics, diagnosticJSON(d))
	}
	return out
}

func (s *Server) listCompiles(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		middleware.WriteError(w, http.StatusNotFound, "compile history is disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := s.opts.History.List(r.Context(), limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := make([]compileJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toCompileJSON(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getCompile(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		middleware.WriteError(w, http.StatusNotFound, "compile history is disabled")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	rec, err := s.opts.History.Get(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompileJSON(*rec))
}
