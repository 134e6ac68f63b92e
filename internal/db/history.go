package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zzzcdf/cube.js/internal/compiler"
	"github.com/zzzcdf/cube.js/internal/domain"
)

// CompileRecord is one row of the compile history.
type CompileRecord struct {
	ID           int64
	Fingerprint  string
	HeadCommitID string
	BundleID     string
	Status       string
	Stage        string
	Error        string
	Cubes        int
	Warnings     int
	StartedAt    time.Time
	Duration     time.Duration
	Diagnostics  []DiagnosticRecord
}

// DiagnosticRecord is a stored diagnostic of a compile.
type DiagnosticRecord struct {
	Kind     string
	Severity string
	File     string
	Line     int
	Cube     string
	Key      string
	Message  string
}

// Compile statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// ErrNotFound is returned when a compile does not exist.
var ErrNotFound = errors.New("not found")

// HistoryRepo records compile runs.
type HistoryRepo struct {
	db *sql.DB
}

// NewHistoryRepo creates a HistoryRepo over a migrated database.
func NewHistoryRepo(db *sql.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// Record stores one compile run with its diagnostics.
func (r *HistoryRepo) Record(ctx context.Context, res compiler.BuildResult) (int64, error) {
	rec := CompileRecord{
		Fingerprint:  res.Fingerprint,
		HeadCommitID: res.HeadCommitID,
		Status:       StatusOK,
		Stage:        res.Stage(),
		StartedAt:    res.StartedAt,
		Duration:     res.Duration,
	}
	if res.Err != nil {
		rec.Status = StatusFailed
		rec.Error = res.Err.Error()
	}
	if res.Bundle != nil {
		rec.BundleID = res.Bundle.ID
		rec.Cubes = len(res.Bundle.Model.Cubes())
		rec.Warnings = len(res.Bundle.Warnings)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out, err := tx.ExecContext(ctx, `INSERT INTO compile_history
		(fingerprint, head_commit_id, bundle_id, status, stage, error, cubes, warnings, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Fingerprint, rec.HeadCommitID, rec.BundleID, rec.Status, rec.Stage, rec.Error,
		rec.Cubes, rec.Warnings, rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.Duration.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("insert compile: %w", err)
	}
	id, err := out.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	for _, d := range res.Diagnostics() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO compile_diagnostics
			(compile_id, kind, severity, file, line, cube, key, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, string(d.Kind), severityName(d.Severity), d.File, d.Line, d.Cube, d.Key, d.Message); err != nil {
			return 0, fmt.Errorf("insert diagnostic: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// Recorder returns a compiler.Options.OnBuild hook that records every build.
// Storage failures are logged and never fail the compile.
func (r *HistoryRepo) Recorder(logger *slog.Logger) func(compiler.BuildResult) {
	return func(res compiler.BuildResult) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := r.Record(ctx, res); err != nil {
			logger.Warn("record compile", "fingerprint", res.Fingerprint, "error", err)
		}
	}
}

// List returns the most recent compiles first, without diagnostics.
func (r *HistoryRepo) List(ctx context.Context, limit int) ([]CompileRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, fingerprint, head_commit_id, bundle_id, status, stage, error,
		cubes, warnings, started_at, duration_ms
		FROM compile_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list compiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CompileRecord
	for rows.Next() {
		rec, err := scanCompile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns one compile with its diagnostics.
func (r *HistoryRepo) Get(ctx context.Context, id int64) (*CompileRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, fingerprint, head_commit_id, bundle_id, status, stage, error,
		cubes, warnings, started_at, duration_ms
		FROM compile_history WHERE id = ?`, id)
	rec, err := scanCompile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("compile %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT kind, severity, file, line, cube, key, message
		FROM compile_diagnostics WHERE compile_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("list diagnostics: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var d DiagnosticRecord
		if err := rows.Scan(&d.Kind, &d.Severity, &d.File, &d.Line, &d.Cube, &d.Key, &d.Message); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		rec.Diagnostics = append(rec.Diagnostics, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCompile(s scanner) (CompileRecord, error) {
	var (
		rec       CompileRecord
		started   string
		durations int64
	)
	err := s.Scan(&rec.ID, &rec.Fingerprint, &rec.HeadCommitID, &rec.BundleID, &rec.Status, &rec.Stage,
		&rec.Error, &rec.Cubes, &rec.Warnings, &started, &durations)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("scan compile: %w", err)
	}
	rec.StartedAt, err = time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return rec, fmt.Errorf("parse started_at: %w", err)
	}
	rec.Duration = time.Duration(durations) * time.Millisecond
	return rec, nil
}

func severityName(s domain.Severity) string {
	if s == domain.SeverityWarning {
		return "warning"
	}
	return "error"
}
