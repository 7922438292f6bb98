// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// AzureConfig holds credentials for cloud-blob sources.
type AzureConfig struct {
	AccountName string
	AccountKey  string
}

// Configured reports whether Azure credentials are present.
func (a *AzureConfig) Configured() bool {
	return a.AccountName != "" && a.AccountKey != ""
}

// S3Config holds credentials for S3-backed blob sources.
type S3Config struct {
	KeyID    string
	Secret   string
	Region   string
	Endpoint string // optional, for S3-compatible stores
}

// Configured reports whether S3 credentials are present.
func (s *S3Config) Configured() bool {
	return s.KeyID != "" && s.Secret != "" && s.Region != ""
}

// Config holds the configuration for the reporting backend.
type Config struct {
	ListenAddr  string // HTTP listen address (default ":8080")
	LogLevel    string // log level: debug, info, warn, error (default "info")
	Env         string // environment: "development" (default) or "production"
	SourcesFile string // path to the YAML source registry (default "sources.yaml")

	CacheDir        string // persistent cache directory (default ".flexreport/cache")
	StateDir        string // small state files, e.g. column preferences (default ".flexreport/state")
	CacheMaxAgeDays int    // age after which a cache entry expires (default 30)

	FetchTimeout      time.Duration // per-fetch timeout for remote sources (default 5m)
	ProbeTimeout      time.Duration // staleness-check timeout, kept short (default 10s)
	LoadWorkers       int           // concurrent load slots (default 1)
	FilterOptionLimit int           // distinct-value ceiling per filter column (default 5000)

	// SharedDocToken authenticates shared-document GETs when set.
	SharedDocToken string

	Azure AzureConfig
	S3    S3Config

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

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

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// CacheMaxAge returns the expiry age as a duration.
func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.CacheMaxAgeDays) * 24 * time.Hour
}

// LoadFromEnv loads configuration from environment variables.
// Cloud credentials are optional — the app can start without them and serve
// local and partitioned sources only.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:     os.Getenv("LISTEN_ADDR"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Env:            os.Getenv("ENV"),
		SourcesFile:    os.Getenv("SOURCES_FILE"),
		CacheDir:       os.Getenv("CACHE_DIR"),
		StateDir:       os.Getenv("STATE_DIR"),
		SharedDocToken: os.Getenv("SHARED_DOC_TOKEN"),
	}

	cfg.Azure = AzureConfig{
		AccountName: os.Getenv("AZURE_ACCOUNT_NAME"),
		AccountKey:  os.Getenv("AZURE_ACCOUNT_KEY"),
	}
	cfg.S3 = S3Config{
		KeyID:    os.Getenv("S3_KEY_ID"),
		Secret:   os.Getenv("S3_SECRET"),
		Region:   os.Getenv("S3_REGION"),
		Endpoint: os.Getenv("S3_ENDPOINT"),
	}

	if v := os.Getenv("CACHE_MAX_AGE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxAgeDays = n
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid CACHE_MAX_AGE_DAYS %q — using default", v))
		}
	}
	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FetchTimeout = d
		}
	}
	if v := os.Getenv("PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ProbeTimeout = d
		}
	}
	if v := os.Getenv("LOAD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LoadWorkers = n
		}
	}
	if v := os.Getenv("FILTER_OPTION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FilterOptionLimit = n
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SourcesFile == "" {
		cfg.SourcesFile = "sources.yaml"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = ".flexreport/cache"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = ".flexreport/state"
	}
	if cfg.CacheMaxAgeDays == 0 {
		cfg.CacheMaxAgeDays = 30
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 5 * time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.LoadWorkers == 0 {
		cfg.LoadWorkers = 1
	}
	if cfg.FilterOptionLimit == 0 {
		cfg.FilterOptionLimit = 5000
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if !cfg.Azure.Configured() {
		cfg.Warnings = append(cfg.Warnings, "Azure credentials not set — cloud-blob sources on Azure will fail to fetch")
	}

	// Production mode: wildcard CORS is a fatal error.
	if cfg.IsProduction() {
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
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
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
