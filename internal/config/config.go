// Package config loads API server settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the resolved server configuration.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database; empty selects in-memory repositories
	DatabaseURL string `koanf:"database_url"`

	// JWT Authentication
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"` // accepted during rotation

	// Redis; enables distributed project locks and rate limiting
	RedisURL string `koanf:"redis_url"`

	// Analysis engine
	EngineURL              string `koanf:"engine_url"`
	EngineAPIKey           string `koanf:"engine_api_key"`
	EngineModel            string `koanf:"engine_model"`
	EngineMaxTokens        int    `koanf:"engine_max_tokens"`
	EngineTimeoutSeconds   int    `koanf:"engine_timeout_seconds"`
	EngineMaxResponseBytes int    `koanf:"engine_max_response_bytes"`
	EngineJSONMode         bool   `koanf:"engine_json_mode"`

	// GitHub OAuth (all or nothing)
	GitHubClientID     string `koanf:"github_client_id"`
	GitHubClientSecret string `koanf:"github_client_secret"`
	GitHubRedirectURL  string `koanf:"github_redirect_url"`
	FrontendURL        string `koanf:"frontend_url"`

	// Clone workspaces
	WorkspaceDir        string `koanf:"workspace_dir"`
	CleanupRetries      int    `koanf:"cleanup_retries"`
	CleanupBackoffMS    int    `koanf:"cleanup_backoff_ms"`
	CloneTimeoutSeconds int    `koanf:"clone_timeout_seconds"`

	// Doublestar patterns, relative to the repository root, skipped by the walker
	WalkExcludeGlobs []string `koanf:"walk_exclude_globs"`

	// Raw response archive, S3 compatible (all or nothing)
	ArchiveBucket          string `koanf:"archive_bucket"`
	ArchiveAccessKeyID     string `koanf:"archive_access_key_id"`
	ArchiveSecretAccessKey string `koanf:"archive_secret_access_key"`
	ArchiveEndpoint        string `koanf:"archive_endpoint"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"` // otlp-http or otlp-grpc
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`

	// HTTP edge
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
	RateLimitPerMinute int      `koanf:"rate_limit_per_minute"`
}

var (
	ErrMissingJWTSecret             = errors.New("JWT_SECRET is required")
	ErrMissingEngineAPIKey          = errors.New("ENGINE_API_KEY is required")
	ErrMissingGitHubClientID        = errors.New("GITHUB_CLIENT_ID is required")
	ErrMissingGitHubClientSecret    = errors.New("GITHUB_CLIENT_SECRET is required")
	ErrMissingGitHubRedirectURL     = errors.New("GITHUB_REDIRECT_URL is required")
	ErrMissingArchiveBucket         = errors.New("ARCHIVE_BUCKET is required")
	ErrMissingArchiveAccessKeyID    = errors.New("ARCHIVE_ACCESS_KEY_ID is required")
	ErrMissingArchiveSecretKey      = errors.New("ARCHIVE_SECRET_ACCESS_KEY is required")
	ErrMissingArchiveEndpoint       = errors.New("ARCHIVE_ENDPOINT is required")
	ErrInvalidPort                  = errors.New("PORT must be a valid integer")
	ErrInvalidInteger               = errors.New("must be a valid integer")
	ErrInvalidSampleRate            = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrUnsupportedDatabaseURLScheme = errors.New("DATABASE_URL must start with postgres://, postgresql://, sqlite: or file:")
	ErrInvalidWalkExcludeGlob       = errors.New("WALK_EXCLUDE_GLOBS contains an invalid pattern")
)

const (
	DefaultPort                   = 8080
	DefaultEnv                    = "development"
	DefaultEngineURL              = "https://api.openai.com/v1"
	DefaultEngineModel            = "gpt-4o-mini"
	DefaultEngineMaxTokens        = 8000
	DefaultEngineTimeoutSeconds   = 180
	DefaultEngineMaxResponseBytes = 10 * 1024 * 1024
	DefaultFrontendURL            = "http://localhost:5173"
	DefaultCleanupRetries         = 3
	DefaultCleanupBackoffMS       = 500
	DefaultCloneTimeoutSeconds    = 120
	DefaultTracingExporter        = "otlp-http"
	DefaultTracingSampleRate      = 0.1
	DefaultRateLimitPerMinute     = 120
)

// Load builds a Config from an optional YAML file overlaid by environment
// variables. A file that cannot be read is reported alone; otherwise parse
// and validation problems are returned together.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	src := &source{k: k}
	cfg := &Config{
		Port:                   src.intOf("port", DefaultPort, ErrInvalidPort, "SCANARA_PORT", "PORT"),
		Env:                    src.str("env", DefaultEnv, "SCANARA_ENV", "ENV", "GO_ENV"),
		DatabaseURL:            src.str("database_url", "", "DATABASE_URL"),
		JWTSecret:              src.str("jwt_secret", "", "JWT_SECRET"),
		JWTPreviousSecret:      src.str("jwt_previous_secret", "", "JWT_PREVIOUS_SECRET"),
		RedisURL:               src.str("redis_url", "", "REDIS_URL"),
		EngineURL:              src.str("engine_url", DefaultEngineURL, "ENGINE_URL"),
		EngineAPIKey:           src.str("engine_api_key", "", "ENGINE_API_KEY"),
		EngineModel:            src.str("engine_model", DefaultEngineModel, "ENGINE_MODEL"),
		EngineMaxTokens:        src.integer("engine_max_tokens", DefaultEngineMaxTokens, "ENGINE_MAX_TOKENS"),
		EngineTimeoutSeconds:   src.integer("engine_timeout_seconds", DefaultEngineTimeoutSeconds, "ENGINE_TIMEOUT_SECONDS"),
		EngineMaxResponseBytes: src.integer("engine_max_response_bytes", DefaultEngineMaxResponseBytes, "ENGINE_MAX_RESPONSE_BYTES"),
		EngineJSONMode:         src.boolean("engine_json_mode", "ENGINE_JSON_MODE"),
		GitHubClientID:         src.str("github_client_id", "", "GITHUB_CLIENT_ID"),
		GitHubClientSecret:     src.str("github_client_secret", "", "GITHUB_CLIENT_SECRET"),
		GitHubRedirectURL:      src.str("github_redirect_url", "", "GITHUB_REDIRECT_URL"),
		FrontendURL:            src.str("frontend_url", DefaultFrontendURL, "FRONTEND_URL"),
		WorkspaceDir:           src.str("workspace_dir", "", "WORKSPACE_DIR"),
		CleanupRetries:         src.integer("cleanup_retries", DefaultCleanupRetries, "CLEANUP_RETRIES"),
		CleanupBackoffMS:       src.integer("cleanup_backoff_ms", DefaultCleanupBackoffMS, "CLEANUP_BACKOFF_MS"),
		CloneTimeoutSeconds:    src.integer("clone_timeout_seconds", DefaultCloneTimeoutSeconds, "CLONE_TIMEOUT_SECONDS"),
		WalkExcludeGlobs:       src.list("walk_exclude_globs", "WALK_EXCLUDE_GLOBS"),
		ArchiveBucket:          src.str("archive_bucket", "", "ARCHIVE_BUCKET"),
		ArchiveAccessKeyID:     src.str("archive_access_key_id", "", "ARCHIVE_ACCESS_KEY_ID"),
		ArchiveSecretAccessKey: src.str("archive_secret_access_key", "", "ARCHIVE_SECRET_ACCESS_KEY"),
		ArchiveEndpoint:        src.str("archive_endpoint", "", "ARCHIVE_ENDPOINT"),
		TracingEnabled:         src.boolean("tracing_enabled", "TRACING_ENABLED"),
		TracingExporter:        src.str("tracing_exporter", DefaultTracingExporter, "TRACING_EXPORTER"),
		OTLPEndpoint:           src.str("otlp_endpoint", "", "OTLP_ENDPOINT"),
		TracingSampleRate:      src.fraction("tracing_sample_rate", DefaultTracingSampleRate, "TRACING_SAMPLE_RATE"),
		CORSAllowedOrigins:     src.list("cors_allowed_origins", "CORS_ALLOWED_ORIGINS"),
		RateLimitPerMinute:     src.integer("rate_limit_per_minute", DefaultRateLimitPerMinute, "RATE_LIMIT_PER_MINUTE"),
	}

	return cfg, append(src.errs, cfg.Validate()...)
}

// source resolves one setting at a time: the first non-empty environment
// variable wins, then a non-zero file value, then the default. Parse
// failures accumulate in errs.
type source struct {
	k    *koanf.Koanf
	errs []error
}

func (s *source) env(names []string) (name, value string) {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return n, v
		}
	}
	return "", ""
}

func (s *source) str(key, def string, envs ...string) string {
	if _, v := s.env(envs); v != "" {
		return v
	}
	if v := s.k.String(key); v != "" {
		return v
	}
	return def
}

func (s *source) integer(key string, def int, envs ...string) int {
	return s.intOf(key, def, ErrInvalidInteger, envs...)
}

func (s *source) intOf(key string, def int, invalid error, envs ...string) int {
	if name, v := s.env(envs); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.errs = append(s.errs, fmt.Errorf("%s=%q: %w", name, v, invalid))
			return def
		}
		return n
	}
	if n := s.k.Int(key); n != 0 {
		return n
	}
	return def
}

func (s *source) fraction(key string, def float64, envs ...string) float64 {
	if name, v := s.env(envs); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.errs = append(s.errs, fmt.Errorf("%s must be a number: %w", name, err))
			return def
		}
		return f
	}
	if f := s.k.Float64(key); f != 0 {
		return f
	}
	return def
}

// boolean accepts true/1/yes/on and false/0/no/off; other values leave the
// file setting in place.
func (s *source) boolean(key string, envs ...string) bool {
	b := s.k.Bool(key)
	if _, v := s.env(envs); v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			b = true
		case "false", "0", "no", "off":
			b = false
		}
	}
	return b
}

// list splits a comma separated variable, or reads a YAML list.
func (s *source) list(key string, envs ...string) []string {
	_, v := s.env(envs)
	if v == "" {
		return s.k.Strings(key)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports missing required settings, half-configured optional
// groups and out-of-range values.
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.EngineAPIKey == "" {
		errs = append(errs, ErrMissingEngineAPIKey)
	}
	if c.DatabaseURL != "" && !supportedDatabaseURL(c.DatabaseURL) {
		errs = append(errs, ErrUnsupportedDatabaseURLScheme)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}
	for _, g := range c.WalkExcludeGlobs {
		if !doublestar.ValidatePattern(g) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidWalkExcludeGlob, g))
			break
		}
	}

	// Optional groups are all or nothing.
	if c.GitHubClientID != "" || c.GitHubClientSecret != "" || c.GitHubRedirectURL != "" {
		if c.GitHubClientID == "" {
			errs = append(errs, ErrMissingGitHubClientID)
		}
		if c.GitHubClientSecret == "" {
			errs = append(errs, ErrMissingGitHubClientSecret)
		}
		if c.GitHubRedirectURL == "" {
			errs = append(errs, ErrMissingGitHubRedirectURL)
		}
	}

	if c.ArchiveBucket != "" || c.ArchiveAccessKeyID != "" || c.ArchiveSecretAccessKey != "" || c.ArchiveEndpoint != "" {
		if c.ArchiveBucket == "" {
			errs = append(errs, ErrMissingArchiveBucket)
		}
		if c.ArchiveAccessKeyID == "" {
			errs = append(errs, ErrMissingArchiveAccessKeyID)
		}
		if c.ArchiveSecretAccessKey == "" {
			errs = append(errs, ErrMissingArchiveSecretKey)
		}
		if c.ArchiveEndpoint == "" {
			errs = append(errs, ErrMissingArchiveEndpoint)
		}
	}

	return errs
}

func supportedDatabaseURL(s string) bool {
	for _, prefix := range []string{"postgres://", "postgresql://", "sqlite:", "file:"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// GitHubEnabled reports whether the OAuth group is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != "" && c.GitHubRedirectURL != ""
}

// ArchiveEnabled reports whether the archive group is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveBucket != "" && c.ArchiveAccessKeyID != "" && c.ArchiveSecretAccessKey != "" && c.ArchiveEndpoint != ""
}

// LogSummary returns the settings as strings with every secret masked.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                      fmt.Sprintf("%d", c.Port),
		"env":                       c.Env,
		"database_url":              maskDatabaseURL(c.DatabaseURL),
		"jwt_secret":                maskSecret(c.JWTSecret),
		"jwt_previous_secret":       maskSecret(c.JWTPreviousSecret),
		"redis_url":                 maskDatabaseURL(c.RedisURL),
		"engine_url":                c.EngineURL,
		"engine_api_key":            maskAPIKey(c.EngineAPIKey),
		"engine_model":              c.EngineModel,
		"engine_max_tokens":         fmt.Sprintf("%d", c.EngineMaxTokens),
		"engine_timeout_seconds":    fmt.Sprintf("%d", c.EngineTimeoutSeconds),
		"engine_max_response_bytes": fmt.Sprintf("%d", c.EngineMaxResponseBytes),
		"github_client_id":          c.GitHubClientID,
		"github_client_secret":      maskSecret(c.GitHubClientSecret),
		"github_redirect_url":       c.GitHubRedirectURL,
		"frontend_url":              c.FrontendURL,
		"workspace_dir":             c.WorkspaceDir,
		"cleanup_retries":           fmt.Sprintf("%d", c.CleanupRetries),
		"walk_exclude_globs":        strings.Join(c.WalkExcludeGlobs, ","),
		"archive_bucket":            c.ArchiveBucket,
		"archive_access_key_id":     maskSecret(c.ArchiveAccessKeyID),
		"archive_secret_access_key": maskSecret(c.ArchiveSecretAccessKey),
		"archive_endpoint":          c.ArchiveEndpoint,
		"tracing_enabled":           fmt.Sprintf("%t", c.TracingEnabled),
		"otlp_endpoint":             c.OTLPEndpoint,
		"rate_limit_per_minute":     fmt.Sprintf("%d", c.RateLimitPerMinute),
	}
}

// maskSecret keeps the first four characters of secrets of eight or more.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskAPIKey keeps a vendor prefix such as "sk-" or "sk-proj-".
func maskAPIKey(s string) string {
	if s == "" {
		return "<not set>"
	}

	if i := strings.LastIndex(s, "-"); i > 0 && i < 12 {
		return s[:i+1] + "****"
	}

	return maskSecret(s)
}

// maskDatabaseURL hides the password of a URL with user info. Values that
// do not parse as URLs are hidden entirely.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}
	u, err := url.Parse(s)
	if err != nil {
		return "****"
	}
	if _, ok := u.User.Password(); !ok {
		return s
	}
	// Built by hand: url.UserPassword would percent-encode the mask.
	masked := u.Scheme + "://" + u.User.Username() + ":****@" + u.Host + u.EscapedPath()
	if u.RawQuery != "" {
		masked += "?" + u.RawQuery
	}
	return masked
}
