package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"CUBE_SCHEMA_PATH", "CUBE_MAX_QUERY_CACHE_SIZE", "CUBE_MAX_QUERY_CACHE_AGE",
	"CUBE_ALLOW_DUPLICATE_PROPS", "CUBE_HEAD_COMMIT_ID", "CUBE_COMPILE_CONTEXT",
	"CUBE_MAX_SCRIPT_STEPS", "CUBE_SCRIPT_TIMEOUT", "LOG_LEVEL",
	"KEY_ID", "SECRET", "ENDPOINT", "REGION",
	"GCS_KEY_FILE", "AZURE_ACCOUNT_NAME", "AZURE_ACCOUNT_KEY",
	"LISTEN_ADDR", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ALLOWED_ORIGINS", "HISTORY_DB_PATH",
	"JWT_SECRET", "AUTH_ISSUER_URL", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "model", cfg.SchemaPath)
	assert.Equal(t, 100, cfg.MaxQueryCacheSize)
	assert.Equal(t, 10*time.Minute, cfg.MaxQueryCacheAge)
	assert.False(t, cfg.AllowDuplicateProps)
	assert.Nil(t, cfg.CompileContext)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.HasS3Config())
	assert.False(t, cfg.HasAzureConfig())
	assert.Equal(t, ":4000", cfg.ListenAddr)
	assert.InDelta(t, 100.0, cfg.RateLimitRPS, 0.001)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.HistoryDBPath)
	assert.Len(t, cfg.Warnings, 1, "missing head commit id is reported")
}

func TestLoadFromEnv_Server(t *testing.T) {
	clearEnv(t)
	t.Setenv("CUBE_HEAD_COMMIT_ID", "abc123")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "0")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")
	t.Setenv("HISTORY_DB_PATH", "/var/lib/cubec/history.sqlite")
	t.Setenv("AUTH_ISSUER_URL", "https://issuer.example.com")
	t.Setenv("AUTH_JWKS_URL", "https://issuer.example.com/jwks")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.001)
	assert.Equal(t, 0, cfg.RateLimitBurst)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "/var/lib/cubec/history.sqlite", cfg.HistoryDBPath)
	assert.Equal(t, "https://issuer.example.com/jwks", cfg.AuthJWKSURL)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("CUBE_SCHEMA_PATH", "s3://schemas/prod")
	t.Setenv("CUBE_MAX_QUERY_CACHE_SIZE", "5")
	t.Setenv("CUBE_MAX_QUERY_CACHE_AGE", "30s")
	t.Setenv("CUBE_ALLOW_DUPLICATE_PROPS", "yes")
	t.Setenv("CUBE_HEAD_COMMIT_ID", "abc123")
	t.Setenv("CUBE_COMPILE_CONTEXT", `{"schema":"analytics","tenants":[1,2]}`)
	t.Setenv("CUBE_MAX_SCRIPT_STEPS", "5000")
	t.Setenv("CUBE_SCRIPT_TIMEOUT", "2s")
	t.Setenv("KEY_ID", "testkey")
	t.Setenv("SECRET", "testsecret")
	t.Setenv("ENDPOINT", "s3.example.com")
	t.Setenv("REGION", "us-east-1")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "s3://schemas/prod", cfg.SchemaPath)
	assert.Equal(t, 5, cfg.MaxQueryCacheSize)
	assert.Equal(t, 30*time.Second, cfg.MaxQueryCacheAge)
	assert.True(t, cfg.AllowDuplicateProps)
	assert.Equal(t, "abc123", cfg.HeadCommitID)
	assert.Equal(t, "analytics", cfg.CompileContext["schema"])
	assert.Equal(t, []any{1.0, 2.0}, cfg.CompileContext["tenants"])
	assert.Equal(t, uint64(5000), cfg.MaxScriptSteps)
	assert.Equal(t, 2*time.Second, cfg.ScriptTimeout)
	assert.True(t, cfg.HasS3Config())
	require.NotNil(t, cfg.S3KeyID)
	assert.Equal(t, "testkey", *cfg.S3KeyID)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_InvalidNumbersWarn(t *testing.T) {
	clearEnv(t)
	t.Setenv("CUBE_HEAD_COMMIT_ID", "abc123")
	t.Setenv("CUBE_MAX_QUERY_CACHE_SIZE", "lots")
	t.Setenv("CUBE_MAX_QUERY_CACHE_AGE", "forever")
	t.Setenv("RATE_LIMIT_RPS", "fast")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.MaxQueryCacheSize)
	assert.Equal(t, 10*time.Minute, cfg.MaxQueryCacheAge)
	assert.InDelta(t, 100.0, cfg.RateLimitRPS, 0.001)
	assert.Len(t, cfg.Warnings, 3)
}

func TestLoadFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"compile context is not json", map[string]string{"CUBE_COMPILE_CONTEXT": "{schema"}},
		{"compile context is not an object", map[string]string{"CUBE_COMPILE_CONTEXT": "[1]"}},
		{"azure key without account", map[string]string{"AZURE_ACCOUNT_KEY": "k"}},
		{"two auth modes", map[string]string{"JWT_SECRET": "s", "AUTH_ISSUER_URL": "https://issuer"}},
		{"jwks without issuer", map[string]string{"AUTH_JWKS_URL": "https://issuer/jwks"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestHasS3Config_PartialConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("KEY_ID", "testkey")
	t.Setenv("ENDPOINT", "s3.example.com")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.HasS3Config(), "partial S3 config should return false")
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	} {
		assert.Equal(t, want, (&Config{LogLevel: in}).SlogLevel(), in)
	}
}

func TestCompilerOptions(t *testing.T) {
	cfg := &Config{
		MaxQueryCacheSize: 3,
		MaxQueryCacheAge:  time.Minute,
		HeadCommitID:      "abc",
		CompileContext:    map[string]any{"a": 1},
		MaxScriptSteps:    10,
	}
	logger := slog.New(slog.DiscardHandler)
	reg := prometheus.NewRegistry()

	opts := cfg.CompilerOptions(logger, reg)
	assert.Equal(t, 3, opts.MaxQueryCacheSize)
	assert.Equal(t, time.Minute, opts.MaxQueryCacheAge)
	assert.Equal(t, "abc", opts.HeadCommitID)
	assert.Equal(t, cfg.CompileContext, opts.CompileContext)
	assert.Equal(t, uint64(10), opts.MaxScriptSteps)
	assert.Same(t, logger, opts.Logger)
	assert.Equal(t, prometheus.Registerer(reg), opts.Registerer)
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	assert.NoError(t, LoadDotEnv("/nonexistent/.env"))
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("TEST_PRECEDENCE_KEY", "from_env")
	t.Setenv("TEST_KEY", "")
	t.Setenv("TEST_QUOTED_KEY", "")

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "# comment\n\nTEST_KEY=test_value\nTEST_QUOTED_KEY='quoted value'\nTEST_PRECEDENCE_KEY=from_file\nnot a pair\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "test_value", os.Getenv("TEST_KEY"))
	assert.Equal(t, "quoted value", os.Getenv("TEST_QUOTED_KEY"))
	assert.Equal(t, "from_env", os.Getenv("TEST_PRECEDENCE_KEY"), "environment wins over the file")
}
