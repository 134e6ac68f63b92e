// Package config handles compiler configuration and environment loading.
package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zzzcdf/cube.js/internal/compiler"
)

const (
	defaultSchemaPath        = "model"
	defaultMaxQueryCacheSize = 100
	defaultMaxQueryCacheAge  = 10 * time.Minute
	defaultListenAddr        = ":4000"
	defaultRateLimitRPS      = 100
	defaultRateLimitBurst    = 200
)

// Config holds the schema source, compile options and object store
// credentials.
type Config struct {
	SchemaPath string // local directory or s3://, gs://, az:// URI (default "model")

	MaxQueryCacheSize   int           // cached bundles (default 100, negative disables the bound)
	MaxQueryCacheAge    time.Duration // bundle lifetime (default 10m, negative disables expiry)
	AllowDuplicateProps bool
	HeadCommitID        string
	CompileContext      map[string]any

	// Script limits; zero keeps the evaluator defaults.
	MaxScriptSteps uint64
	ScriptTimeout  time.Duration

	LogLevel string // debug, info, warn, error (default "info")

	// S3 fields are nil when not configured.
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string

	GCSKeyFile string // service account key; empty uses application default credentials

	AzureAccountName string
	AzureAccountKey  string

	// Server settings used by "cubec serve".
	ListenAddr         string   // default ":4000"
	RateLimitRPS       float64  // per client; zero disables limiting
	RateLimitBurst     int
	CORSAllowedOrigins []string // default ["*"]
	HistoryDBPath      string   // SQLite compile history; empty disables it

	// Authentication: JWT_SECRET selects HS256, AUTH_ISSUER_URL selects
	// OIDC. Neither leaves the API unauthenticated.
	JWTSecret     string
	AuthIssuerURL string
	AuthJWKSURL   string
	AuthAudience  string

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HasS3Config returns true if all required S3 fields are set.
func (c *Config) HasS3Config() bool {
	return c.S3KeyID != nil && c.S3Secret != nil &&
		c.S3Endpoint != nil && c.S3Region != nil
}

// HasAzureConfig returns true if the shared key pair is set.
func (c *Config) HasAzureConfig() bool {
	return c.AzureAccountName != "" && c.AzureAccountKey != ""
}

// CompilerOptions builds the compiler options this configuration describes.
func (c *Config) CompilerOptions(logger *slog.Logger, reg prometheus.Registerer) compiler.Options {
	return compiler.Options{
		MaxQueryCacheSize:   c.MaxQueryCacheSize,
		MaxQueryCacheAge:    c.MaxQueryCacheAge,
		AllowDuplicateProps: c.AllowDuplicateProps,
		CompileContext:      c.CompileContext,
		HeadCommitID:        c.HeadCommitID,
		MaxScriptSteps:      c.MaxScriptSteps,
		ScriptTimeout:       c.ScriptTimeout,
		Logger:              logger,
		Registerer:          reg,
	}
}

// LoadFromEnv loads configuration from environment variables.
// Object store variables are optional; only the store named by
// CUBE_SCHEMA_PATH needs them.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		SchemaPath:          os.Getenv("CUBE_SCHEMA_PATH"),
		AllowDuplicateProps: parseBoolEnvDefault("CUBE_ALLOW_DUPLICATE_PROPS", false),
		HeadCommitID:        os.Getenv("CUBE_HEAD_COMMIT_ID"),
		LogLevel:            os.Getenv("LOG_LEVEL"),
		GCSKeyFile:          os.Getenv("GCS_KEY_FILE"),
		AzureAccountName:    os.Getenv("AZURE_ACCOUNT_NAME"),
		AzureAccountKey:     os.Getenv("AZURE_ACCOUNT_KEY"),
		ListenAddr:          os.Getenv("LISTEN_ADDR"),
		HistoryDBPath:       os.Getenv("HISTORY_DB_PATH"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		AuthIssuerURL:       os.Getenv("AUTH_ISSUER_URL"),
		AuthJWKSURL:         os.Getenv("AUTH_JWKS_URL"),
		AuthAudience:        os.Getenv("AUTH_AUDIENCE"),
	}

	cfg.MaxQueryCacheSize = cfg.intEnv("CUBE_MAX_QUERY_CACHE_SIZE", defaultMaxQueryCacheSize)
	cfg.MaxQueryCacheAge = cfg.durationEnv("CUBE_MAX_QUERY_CACHE_AGE", defaultMaxQueryCacheAge)
	cfg.ScriptTimeout = cfg.durationEnv("CUBE_SCRIPT_TIMEOUT", 0)
	cfg.RateLimitRPS = cfg.floatEnv("RATE_LIMIT_RPS", defaultRateLimitRPS)
	cfg.RateLimitBurst = cfg.intEnv("RATE_LIMIT_BURST", defaultRateLimitBurst)
	cfg.CORSAllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if v := os.Getenv("CUBE_MAX_SCRIPT_STEPS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("CUBE_MAX_SCRIPT_STEPS=%q is not a number, using the default", v))
		} else {
			cfg.MaxScriptSteps = n
		}
	}

	if v := os.Getenv("CUBE_COMPILE_CONTEXT"); v != "" {
		if err := json.Unmarshal([]byte(v), &cfg.CompileContext); err != nil {
			return nil, fmt.Errorf("CUBE_COMPILE_CONTEXT must be a JSON object: %w", err)
		}
	}

	if v := os.Getenv("KEY_ID"); v != "" {
		cfg.S3KeyID = &v
	}
	if v := os.Getenv("SECRET"); v != "" {
		cfg.S3Secret = &v
	}
	if v := os.Getenv("ENDPOINT"); v != "" {
		cfg.S3Endpoint = &v
	}
	if v := os.Getenv("REGION"); v != "" {
		cfg.S3Region = &v
	}

	// Defaults
	if cfg.SchemaPath == "" {
		cfg.SchemaPath = defaultSchemaPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.HeadCommitID == "" {
		cfg.Warnings = append(cfg.Warnings, "CUBE_HEAD_COMMIT_ID not set, bundles carry no commit id")
	}
	if (cfg.AzureAccountName == "") != (cfg.AzureAccountKey == "") {
		return nil, fmt.Errorf("both AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY must be set together")
	}
	if cfg.JWTSecret != "" && cfg.AuthIssuerURL != "" {
		return nil, fmt.Errorf("JWT_SECRET and AUTH_ISSUER_URL are mutually exclusive")
	}
	if cfg.AuthJWKSURL != "" && cfg.AuthIssuerURL == "" {
		return nil, fmt.Errorf("AUTH_JWKS_URL requires AUTH_ISSUER_URL")
	}

	return cfg, nil
}

func (c *Config) intEnv(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a number, using %d", key, v, defaultVal))
		return defaultVal
	}
	return n
}

func (c *Config) durationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a duration, using %s", key, v, defaultVal))
		return defaultVal
	}
	return d
}

func (c *Config) floatEnv(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a number, using %g", key, v, defaultVal))
		return defaultVal
	}
	return f
}

// splitList splits a comma separated value, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes matching surrounding quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
