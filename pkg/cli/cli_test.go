package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzzcdf/cube.js/internal/compiler"
	"github.com/zzzcdf/cube.js/internal/config"
	"github.com/zzzcdf/cube.js/internal/db"
)

const ordersYAML = `
cubes:
  - name: Orders
    sql_table: orders
    measures:
      count: {type: count}
    dimensions:
      id: {type: number, sql: id, primary_key: true}
      status: {type: string, sql: status}
    joins:
      Customers: {relationship: many_to_one, sql: "{CUBE}.customer_id = {Customers.id}"}
`

const customersYAML = `
cubes:
  - name: Customers
    sql_table: customers
    dimensions:
      id: {type: number, sql: id, primary_key: true}
`

// syncBuffer is a bytes.Buffer safe for a writer and a poller.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// schemaDir writes files into a fresh directory and returns it.
func schemaDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for p, c := range files {
		full := filepath.Join(dir, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(c), 0o644))
	}
	return dir
}

// run executes the CLI with an isolated environment and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{
		"CUBE_SCHEMA_PATH", "CUBE_MAX_QUERY_CACHE_SIZE", "CUBE_MAX_QUERY_CACHE_AGE",
		"CUBE_ALLOW_DUPLICATE_PROPS", "CUBE_HEAD_COMMIT_ID", "CUBE_COMPILE_CONTEXT", "LOG_LEVEL",
		"HISTORY_DB_PATH", "JWT_SECRET", "AUTH_ISSUER_URL", "AUTH_JWKS_URL", "LISTEN_ADDR",
	} {
		t.Setenv(k, "")
	}
	envFile := filepath.Join(t.TempDir(), ".env")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--env-file", envFile}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cubec version dev")

	out, err = run(t, "version", "-o", "json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "dev", info["version"])
	assert.Equal(t, "none", info["commit"])
	assert.Equal(t, runtime.Version(), info["goVersion"])
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info["platform"])
}

func TestUnsupportedOutput(t *testing.T) {
	_, err := run(t, "version", "-o", "yaml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestCompile(t *testing.T) {
	dir := schemaDir(t, map[string]string{"orders.yml": ordersYAML, "customers.yml": customersYAML})

	out, err := run(t, "compile", "--schema", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Compiled bundle")
	assert.Contains(t, out, "Orders")
	assert.Contains(t, out, "customers.yml")

	out, err = run(t, "compile", "--schema", dir, "-o", "json")
	require.NoError(t, err)
	var summary bundleSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.Cubes)
	assert.Equal(t, 0, summary.Views)
	assert.Equal(t, 1, summary.Joins)
	assert.Len(t, summary.Fingerprint, 64)
	assert.Empty(t, summary.Warnings)
}

func TestCompile_SchemaFromEnv(t *testing.T) {
	dir := schemaDir(t, map[string]string{"customers.yml": customersYAML})
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CUBE_SCHEMA_PATH="+dir+"\n"), 0o644))
	t.Setenv("CUBE_SCHEMA_PATH", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--env-file", envFile, "compile"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Customers")
}

func TestValidate(t *testing.T) {
	valid := schemaDir(t, map[string]string{"orders.yml": ordersYAML, "customers.yml": customersYAML})
	out, err := run(t, "validate", "--schema", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "Schema is valid.")

	invalid := schemaDir(t, map[string]string{"orders.yml": ordersYAML})
	out, err = run(t, "validate", "--schema", invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error(s)")
	assert.Contains(t, out, "UnknownCube")

	out, err = run(t, "validate", "--schema", invalid, "-o", "json")
	require.ErrorIs(t, err, errReported)
	var res struct {
		Valid  bool             `json:"valid"`
		Stage  string           `json:"stage"`
		Errors []diagnosticJSON `json:"errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "error", res.Errors[0].Severity)
	assert.Equal(t, "orders.yml", res.Errors[0].File)
}

func TestMeta(t *testing.T) {
	dir := schemaDir(t, map[string]string{"orders.yml": ordersYAML, "customers.yml": customersYAML})

	out, err := run(t, "meta", "--schema", dir, "-o", "json")
	require.NoError(t, err)
	var view struct {
		Cubes []struct {
			Name string `json:"name"`
		} `json:"cubes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Len(t, view.Cubes, 2)
	assert.Equal(t, "Customers", view.Cubes[0].Name)

	out, err = run(t, "meta", "--schema", dir, "--cube", "Orders")
	require.NoError(t, err)
	assert.Contains(t, out, "Orders.count")
	assert.Contains(t, out, "Orders.status")

	_, err = run(t, "meta", "--schema", dir, "--cube", "Nope")
	assert.ErrorContains(t, err, `"Nope"`)
}

func TestJoinPath(t *testing.T) {
	dir := schemaDir(t, map[string]string{"orders.yml": ordersYAML, "customers.yml": customersYAML})

	out, err := run(t, "join-path", "--schema", dir, "Customers", "Orders", "-o", "json")
	require.NoError(t, err)
	var steps []stepJSON
	require.NoError(t, json.Unmarshal([]byte(out), &steps))
	require.Len(t, steps, 1)
	assert.Equal(t, stepJSON{
		From:         "Customers",
		To:           "Orders",
		Owner:        "Orders",
		Relationship: "one_to_many",
		SQL:          "{CUBE}.customer_id = {Customers.id}",
	}, steps[0])

	_, err = run(t, "join-path", "--schema", dir, "Orders")
	assert.Error(t, err, "needs at least one target")

	_, err = run(t, "join-path", "--schema", dir, "Orders", "Missing")
	assert.ErrorContains(t, err, "Missing")
}

func TestWatch_RequiresLocalDirectory(t *testing.T) {
	_, err := run(t, "watch", "--schema", "s3://bucket/model")
	assert.ErrorContains(t, err, "local schema directory")
}

func TestWatch_StopsWithContext(t *testing.T) {
	dir := schemaDir(t, map[string]string{"customers.yml": customersYAML})
	t.Setenv("CUBE_SCHEMA_PATH", "")

	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), ".env"), "watch", "--schema", dir, "--debounce", "10ms"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return bytes.Contains(out.Bytes(), []byte("compiled bundle")) }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestIndexAndQuery(t *testing.T) {
	dir := schemaDir(t, map[string]string{"orders.yml": ordersYAML, "customers.yml": customersYAML})
	db := filepath.Join(t.TempDir(), "model.duckdb")

	out, err := run(t, "index", "--schema", dir, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 2 cubes")

	out, err = run(t, "query", "--db", db, "SELECT name FROM cubes ORDER BY name", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"Customers"},{"name":"Orders"}]`, out)

	_, err = run(t, "query", "--db", db, "DELETE FROM cubes")
	assert.ErrorContains(t, err, "read-only")
}

func TestHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.sqlite")
	sqlDB, err := db.Open(context.Background(), path)
	require.NoError(t, err)
	h := db.NewHistoryRepo(sqlDB)
	_, err = h.Record(context.Background(), compiler.BuildResult{Fingerprint: "0123456789abcdef", StartedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	out, err := run(t, "history", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abcdef")

	out, err = run(t, "history", "--db", path, "-o", "json")
	require.NoError(t, err)
	var recs []compileRecordJSON
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, db.StatusOK, recs[0].Status)

	_, err = run(t, "history")
	assert.ErrorContains(t, err, "HISTORY_DB_PATH")
}

func TestTokenValidator(t *testing.T) {
	v, err := tokenValidator(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = tokenValidator(context.Background(), &config.Config{JWTSecret: "s"})
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestServe_StopsWithContext(t *testing.T) {
	dir := schemaDir(t, map[string]string{"customers.yml": customersYAML})
	t.Setenv("CUBE_SCHEMA_PATH", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_ISSUER_URL", "")
	t.Setenv("HISTORY_DB_PATH", "")

	ctx, cancel := context.WithCancel(context.Background())
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), ".env"), "serve", "--schema", dir, "--listen", "127.0.0.1:0"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
