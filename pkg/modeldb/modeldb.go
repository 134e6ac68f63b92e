// Package modeldb indexes a compiled bundle into DuckDB tables so the model
// can be explored with SQL.
package modeldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Register DuckDB SQL driver.
	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/zzzcdf/cube.js/internal/compiler"
	"github.com/zzzcdf/cube.js/internal/domain"
)

// Result summarizes indexing output.
type Result struct {
	Cubes    int
	Members  int
	Joins    int
	Contexts int
}

// Row is a generic row map returned by ad-hoc query execution.
type Row map[string]any

// Open opens the DuckDB database at path; an empty path is in-memory.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bundles (
  bundle_id TEXT NOT NULL,
  fingerprint TEXT NOT NULL,
  head_commit_id TEXT,
  compiled_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS cubes (
  name TEXT NOT NULL,
  kind TEXT NOT NULL,
  file TEXT,
  line INTEGER,
  title TEXT,
  public BOOLEAN NOT NULL,
  data_source TEXT,
  component INTEGER
)`,
	`CREATE TABLE IF NOT EXISTS members (
  cube TEXT NOT NULL,
  name TEXT NOT NULL,
  kind TEXT NOT NULL,
  type TEXT,
  title TEXT,
  public BOOLEAN NOT NULL,
  primary_key BOOLEAN NOT NULL,
  sql TEXT,
  alias_of TEXT
)`,
	`CREATE TABLE IF NOT EXISTS joins (
  owner TEXT NOT NULL,
  target TEXT NOT NULL,
  relationship TEXT NOT NULL,
  weight INTEGER NOT NULL,
  sql TEXT
)`,
	`CREATE TABLE IF NOT EXISTS context_members (
  context TEXT NOT NULL,
  cube TEXT NOT NULL
)`,
}

var tables = []string{"bundles", "cubes", "members", "joins", "context_members"}

// Index replaces the indexed model with the contents of b in one
// transaction.
func Index(ctx context.Context, db *sql.DB, b *compiler.Bundle) (*Result, error) {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return nil, fmt.Errorf("clear %s: %w", t, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bundles (bundle_id, fingerprint, head_commit_id, compiled_at) VALUES (?, ?, ?, ?)`,
		b.ID, b.Fingerprint, b.HeadCommitID, b.CompiledAt); err != nil {
		return nil, fmt.Errorf("insert bundle: %w", err)
	}

	res := &Result{}
	components := b.JoinGraph.ConnectedComponents()
	for _, c := range b.Model.Cubes() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cubes (name, kind, file, line, title, public, data_source, component) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.Name, string(c.Kind), c.File, c.Line, c.Title, c.Public, c.DataSource, nullInt(components[c.Name])); err != nil {
			return nil, fmt.Errorf("insert cube %s: %w", c.Name, err)
		}
		res.Cubes++

		for _, m := range c.Members() {
			base := m.Base()
			typ, pk := memberType(m)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO members (cube, name, kind, type, title, public, primary_key, sql, alias_of) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.Name, base.Name, string(base.Kind), typ, base.Title, base.Public, pk, base.SQL.SQL(), base.AliasOf); err != nil {
				return nil, fmt.Errorf("insert member %s: %w", base.QualifiedName(), err)
			}
			res.Members++
		}
	}

	for _, e := range b.JoinGraph.Edges() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO joins (owner, target, relationship, weight, sql) VALUES (?, ?, ?, ?, ?)`,
			e.Owner, e.Target, string(e.Relationship), e.Weight, e.Join.SQL.SQL()); err != nil {
			return nil, fmt.Errorf("insert join %s -> %s: %w", e.Owner, e.Target, err)
		}
		res.Joins++
	}

	for _, cx := range b.Model.Contexts() {
		for _, cube := range cx.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO context_members (context, cube) VALUES (?, ?)`, cx.Name, cube); err != nil {
				return nil, fmt.Errorf("insert context %s: %w", cx.Name, err)
			}
		}
		res.Contexts++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// Query runs a read-only statement and returns its columns and rows.
func Query(ctx context.Context, db *sql.DB, query string) ([]string, []Row, error) {
	if !isReadOnly(query) {
		return nil, nil, fmt.Errorf("only read-only statements are allowed")
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("columns: %w", err)
	}
	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}

func isReadOnly(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "DESCRIBE", "SHOW", "FROM":
		return true
	}
	return false
}

func memberType(m domain.Member) (string, bool) {
	switch v := m.(type) {
	case *domain.Measure:
		return v.Type, false
	case *domain.Dimension:
		return v.Type, v.PrimaryKey
	}
	return "", false
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}
