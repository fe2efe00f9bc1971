package config

import "time"

// Config represents the complete application configuration. Values are
// layered: built-in defaults, an optional YAML file, environment variables,
// then runtime overrides.
type Config struct {
	GitHub     GitHubConfig     `mapstructure:"github"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Insights   InsightsConfig   `mapstructure:"insights"`
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Health     HealthConfig     `mapstructure:"health"`
	Workers    int              `mapstructure:"workers"`

	RateLimits      map[string]int `mapstructure:"rate_limits"`
	RateLimitMargin float64        `mapstructure:"rate_limit_margin"`
}

// GitHubConfig describes the upstream REST API and its credential.
type GitHubConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Token      string        `mapstructure:"token"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// PaginationConfig bounds every paginated upstream query.
type PaginationConfig struct {
	MaxResultsPerPage int `mapstructure:"max_results_per_page"`
	MaxPages          int `mapstructure:"max_pages"`
}

// InsightsConfig tunes an orchestration run.
type InsightsConfig struct {
	RunTimeout   time.Duration `mapstructure:"run_timeout"`
	Concurrency  int           `mapstructure:"concurrency"`
	FetchWorkers int           `mapstructure:"fetch_workers"`
	Months       int           `mapstructure:"months"`
	TopN         int           `mapstructure:"top_n"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects where shared rate limit state lives. The memory driver
// keeps it in process; libsql shares it between processes.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
