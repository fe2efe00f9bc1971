// Package config loads users-insights configuration. Layers, lowest first:
// built-in defaults, the YAML config file, bare environment variables shared
// with other GitHub tooling (GITHUB_TOKEN, GITHUB_API_URL...), prefixed
// environment variables (USERS_INSIGHTS_*), and runtime overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names config, data and cache directories.
	AppName = "users-insights"

	// EnvPrefix prefixes every application environment variable.
	EnvPrefix = "USERS_INSIGHTS_"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvVarSpec defines environment variable mappings for config fields
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load loads configuration from the default config file location.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", runtimeOverrides...)
}

// LoadFile loads configuration using path as the config file. An empty path
// uses DefaultConfigPath when that file exists.
func LoadFile(ctx context.Context, path string, runtimeOverrides ...map[string]any) (*Config, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	SetDefaults(v)

	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	for _, specs := range [][]EnvVarSpec{getBareEnvSpecs(), getEnvSpecs()} {
		overrides, err := gfconfig.LoadEnvOverrides(specs)
		if err != nil {
			return nil, fmt.Errorf("failed to load environment overrides: %w", err)
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to merge environment overrides: %w", err)
		}
	}

	if value := strings.TrimSpace(os.Getenv(EnvPrefix + "RATE_LIMIT_MARGIN")); value != "" {
		margin, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate limit margin: %w", err)
		}
		if err := v.MergeConfigMap(map[string]any{"rate_limit_margin": margin}); err != nil {
			return nil, fmt.Errorf("failed to merge environment overrides: %w", err)
		}
	}

	for _, overrides := range runtimeOverrides {
		if len(overrides) == 0 {
			continue
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to merge runtime overrides: %w", err)
		}
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)

	return cfg, nil
}

// keyDelimiter keeps dotted endpoint names under rate_limits intact.
const keyDelimiter = "::"

// Defaults returns the built-in configuration as a nested map.
func Defaults() map[string]any {
	return map[string]any{
		"github": map[string]any{
			"base_url":            "https://api.github.com",
			"token":               "",
			"max_retries":         5,
			"timeout":             10 * time.Second,
			"requests_per_second": 0.0,
			"burst":               1,
		},
		"pagination": map[string]any{
			"max_results_per_page": 30,
			"max_pages":            3,
		},
		"insights": map[string]any{
			"run_timeout":   60 * time.Second,
			"concurrency":   1,
			"fetch_workers": 4,
			"months":        6,
			"top_n":         3,
		},
		"server": map[string]any{
			"host":             "localhost",
			"port":             8080,
			"read_timeout":     30 * time.Second,
			"write_timeout":    120 * time.Second,
			"idle_timeout":     120 * time.Second,
			"shutdown_timeout": 10 * time.Second,
		},
		"store": map[string]any{
			"driver":     "memory",
			"path":       "",
			"url":        "",
			"auth_token": "",
		},
		"logging": map[string]any{
			"level":   "info",
			"profile": "STRUCTURED",
		},
		"metrics": map[string]any{
			"enabled": true,
			"port":    9090,
		},
		"health": map[string]any{
			"enabled": true,
		},
		"workers":           4,
		"rate_limits":       map[string]any{},
		"rate_limit_margin": 1.0,
	}
}

// SetDefaults registers Defaults on v.
func SetDefaults(v *viper.Viper) {
	setDefaults(v, "", Defaults())
}

func setDefaults(v *viper.Viper, prefix string, values map[string]any) {
	for name, value := range values {
		key := name
		if prefix != "" {
			key = prefix + keyDelimiter + name
		}
		if nested, ok := value.(map[string]any); ok && len(nested) > 0 {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, value)
	}
}

func readConfigFile(v *viper.Viper, path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultConfigPath()
		if path == "" {
			return nil
		}
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}

	parsed, err := url.Parse(strings.TrimSpace(c.GitHub.BaseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: github.base_url must be an absolute URL, got %q", ErrInvalid, c.GitHub.BaseURL)
	}

	checks := []struct {
		ok  bool
		msg string
	}{
		{c.GitHub.MaxRetries >= 1, "github.max_retries must be at least 1"},
		{c.GitHub.RequestsPerSecond >= 0, "github.requests_per_second must not be negative"},
		{c.Pagination.MaxResultsPerPage >= 1 && c.Pagination.MaxResultsPerPage <= 100, "pagination.max_results_per_page must be between 1 and 100"},
		{c.Pagination.MaxPages >= 1, "pagination.max_pages must be at least 1"},
		{c.Insights.Concurrency >= 1, "insights.concurrency must be at least 1"},
		{c.Insights.FetchWorkers >= 1, "insights.fetch_workers must be at least 1"},
		{c.Insights.Months >= 1, "insights.months must be at least 1"},
		{c.Insights.TopN >= 1, "insights.top_n must be at least 1"},
		{c.Insights.RunTimeout >= 0, "insights.run_timeout must not be negative"},
		{c.RateLimitMargin > 0 && c.RateLimitMargin <= 1, "rate_limit_margin must be in (0, 1]"},
	}
	for _, check := range checks {
		if !check.ok {
			return fmt.Errorf("%w: %s", ErrInvalid, check.msg)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "memory", "libsql":
	default:
		return fmt.Errorf("%w: store.driver must be memory or libsql, got %q", ErrInvalid, c.Store.Driver)
	}

	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// getBareEnvSpecs maps the unprefixed variables shared with other GitHub
// tooling. Prefixed variables take precedence.
func getBareEnvSpecs() []EnvVarSpec {
	return []EnvVarSpec{
		{Name: "GITHUB_API_URL", Path: []string{"github", "base_url"}, Type: EnvString},
		{Name: "GITHUB_TOKEN", Path: []string{"github", "token"}, Type: EnvString},
		{Name: "MAX_RESULTS_PER_PAGE", Path: []string{"pagination", "max_results_per_page"}, Type: EnvInt},
		{Name: "MAX_PAGES", Path: []string{"pagination", "max_pages"}, Type: EnvInt},
		{Name: "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
	}
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := EnvPrefix

	return []EnvVarSpec{
		// Upstream
		{Name: prefix + "GITHUB_API_URL", Path: []string{"github", "base_url"}, Type: EnvString},
		{Name: prefix + "GITHUB_TOKEN", Path: []string{"github", "token"}, Type: EnvString},
		{Name: prefix + "MAX_RETRIES", Path: []string{"github", "max_retries"}, Type: EnvInt},
		{Name: prefix + "GITHUB_TIMEOUT", Path: []string{"github", "timeout"}, Type: EnvString},
		{Name: prefix + "REQUESTS_PER_SECOND", Path: []string{"github", "requests_per_second"}, Type: EnvString},
		{Name: prefix + "BURST", Path: []string{"github", "burst"}, Type: EnvInt},

		// Pagination
		{Name: prefix + "MAX_RESULTS_PER_PAGE", Path: []string{"pagination", "max_results_per_page"}, Type: EnvInt},
		{Name: prefix + "MAX_PAGES", Path: []string{"pagination", "max_pages"}, Type: EnvInt},

		// Orchestration
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "RUN_TIMEOUT", Path: []string{"insights", "run_timeout"}, Type: EnvString},
		{Name: prefix + "CONCURRENCY", Path: []string{"insights", "concurrency"}, Type: EnvInt},
		{Name: prefix + "FETCH_WORKERS", Path: []string{"insights", "fetch_workers"}, Type: EnvInt},
		{Name: prefix + "MONTHS", Path: []string{"insights", "months"}, Type: EnvInt},
		{Name: prefix + "TOP_N", Path: []string{"insights", "top_n"}, Type: EnvInt},

		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Workers
		{Name: prefix + "WORKERS", Path: []string{"workers"}, Type: EnvInt},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
