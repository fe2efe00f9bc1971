package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points XDG directories at temp dirs so a developer's own config
// file never leaks into a test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	for _, name := range []string{"GITHUB_TOKEN", "GITHUB_API_URL", "MAX_RESULTS_PER_PAGE", "MAX_PAGES", "LOG_LEVEL"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	// Test basic config loading with defaults
	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify upstream defaults
		assert.Equal(t, "https://api.github.com", cfg.GitHub.BaseURL)
		assert.Equal(t, "", cfg.GitHub.Token)
		assert.Equal(t, 5, cfg.GitHub.MaxRetries)
		assert.Equal(t, 10*time.Second, cfg.GitHub.Timeout)
		assert.Equal(t, 0.0, cfg.GitHub.RequestsPerSecond)
		assert.Equal(t, 1, cfg.GitHub.Burst)

		assert.Equal(t, 30, cfg.Pagination.MaxResultsPerPage)
		assert.Equal(t, 3, cfg.Pagination.MaxPages)

		assert.Equal(t, 60*time.Second, cfg.Insights.RunTimeout)
		assert.Equal(t, 1, cfg.Insights.Concurrency)
		assert.Equal(t, 4, cfg.Insights.FetchWorkers)
		assert.Equal(t, 6, cfg.Insights.Months)
		assert.Equal(t, 3, cfg.Insights.TopN)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		// Verify store defaults
		assert.Equal(t, "memory", cfg.Store.Driver)
		expectedStorePath := filepath.Join(gfconfig.GetAppDataDir(AppName), AppName+".db")
		assert.Equal(t, expectedStorePath, cfg.Store.Path)
		assert.Equal(t, "", cfg.Store.URL)

		assert.Equal(t, 1.0, cfg.RateLimitMargin)
		assert.Empty(t, cfg.RateLimits)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
		assert.Equal(t, 4, cfg.Workers)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)

		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Verify non-overridden values remain default
		assert.Equal(t, "STRUCTURED", cfg.Logging.Profile)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	t.Run("BareEnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("GITHUB_API_URL", "http://localhost:9999")
		t.Setenv("GITHUB_TOKEN", "ghp_example")
		t.Setenv("MAX_RESULTS_PER_PAGE", "50")
		t.Setenv("MAX_PAGES", "7")
		t.Setenv("LOG_LEVEL", "warn")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "http://localhost:9999", cfg.GitHub.BaseURL)
		assert.Equal(t, "ghp_example", cfg.GitHub.Token)
		assert.Equal(t, 50, cfg.Pagination.MaxResultsPerPage)
		assert.Equal(t, 7, cfg.Pagination.MaxPages)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})

	t.Run("PrefixedEnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("USERS_INSIGHTS_PORT", "3000")
		t.Setenv("USERS_INSIGHTS_LOG_LEVEL", "warn")
		t.Setenv("USERS_INSIGHTS_METRICS_ENABLED", "false")
		t.Setenv("USERS_INSIGHTS_RATE_LIMIT_MARGIN", "0.8")
		t.Setenv("USERS_INSIGHTS_CONCURRENCY", "4")
		t.Setenv("USERS_INSIGHTS_DB_DRIVER", "libsql")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, 0.8, cfg.RateLimitMargin)
		assert.Equal(t, 4, cfg.Insights.Concurrency)
		assert.Equal(t, "libsql", cfg.Store.Driver)
	})

	t.Run("PrefixedEnvWinsOverBare", func(t *testing.T) {
		isolate(t)
		t.Setenv("MAX_PAGES", "7")
		t.Setenv("USERS_INSIGHTS_MAX_PAGES", "9")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 9, cfg.Pagination.MaxPages)
	})

	// Test config precedence: runtime > env > defaults
	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("USERS_INSIGHTS_PORT", "4000")

		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("InvalidMargin", func(t *testing.T) {
		isolate(t)
		t.Setenv("USERS_INSIGHTS_RATE_LIMIT_MARGIN", "lots")

		_, err := Load(ctx)
		require.Error(t, err)
	})
}

func TestLoadFile(t *testing.T) {
	ctx := context.Background()
	isolate(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `github:
  base_url: https://ghe.example.com/api/v3
  max_retries: 2
pagination:
  max_results_per_page: 100
insights:
  run_timeout: 15s
  concurrency: 3
rate_limits:
  api.github.com: 1000
  api.github.com/search: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Run("FileValues", func(t *testing.T) {
		cfg, err := LoadFile(ctx, path)
		require.NoError(t, err)

		assert.Equal(t, "https://ghe.example.com/api/v3", cfg.GitHub.BaseURL)
		assert.Equal(t, 2, cfg.GitHub.MaxRetries)
		assert.Equal(t, 100, cfg.Pagination.MaxResultsPerPage)
		assert.Equal(t, 15*time.Second, cfg.Insights.RunTimeout)
		assert.Equal(t, 3, cfg.Insights.Concurrency)
		assert.Equal(t, map[string]int{
			"api.github.com":        1000,
			"api.github.com/search": 10,
		}, cfg.RateLimits)

		// Untouched keys keep their defaults
		assert.Equal(t, 3, cfg.Pagination.MaxPages)
	})

	t.Run("EnvBeatsFile", func(t *testing.T) {
		t.Setenv("USERS_INSIGHTS_MAX_RETRIES", "8")

		cfg, err := LoadFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.GitHub.MaxRetries)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := LoadFile(ctx, filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("DefaultLocation", func(t *testing.T) {
		dir := gfconfig.GetAppConfigDir(AppName)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("pagination:\n  max_pages: 11\n"), 0o600))

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 11, cfg.Pagination.MaxPages)
	})
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name      string
		overrides map[string]any
	}{
		{"ZeroRetries", map[string]any{"github": map[string]any{"max_retries": 0}}},
		{"RelativeBaseURL", map[string]any{"github": map[string]any{"base_url": "api.github.com"}}},
		{"PerPageTooLarge", map[string]any{"pagination": map[string]any{"max_results_per_page": 101}}},
		{"PerPageZero", map[string]any{"pagination": map[string]any{"max_results_per_page": 0}}},
		{"ZeroPages", map[string]any{"pagination": map[string]any{"max_pages": 0}}},
		{"ZeroConcurrency", map[string]any{"insights": map[string]any{"concurrency": 0}}},
		{"UnknownDriver", map[string]any{"store": map[string]any{"driver": "postgres"}}},
		{"MarginAboveOne", map[string]any{"rate_limit_margin": 1.5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			_, err := Load(ctx, tc.overrides)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestGetConfig(t *testing.T) {
	ctx := context.Background()
	isolate(t)

	cfg, err := Load(ctx)
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
}

func TestEnvSpecs(t *testing.T) {
	specs := getEnvSpecs()
	assert.NotEmpty(t, specs)

	envVarNames := make(map[string]bool)
	for _, spec := range specs {
		envVarNames[spec.Name] = true
	}

	for _, name := range []string{"LOG_LEVEL", "PORT", "HOST", "METRICS_PORT", "DB_PATH", "GITHUB_TOKEN", "MAX_PAGES", "CONCURRENCY"} {
		assert.True(t, envVarNames[EnvPrefix+name], "%s env var must be mapped", name)
	}

	bare := getBareEnvSpecs()
	require.Len(t, bare, 5)
}

func TestDurationParsing(t *testing.T) {
	ctx := context.Background()
	isolate(t)
	t.Setenv("USERS_INSIGHTS_READ_TIMEOUT", "45s")
	t.Setenv("USERS_INSIGHTS_SHUTDOWN_TIMEOUT", "5m")
	t.Setenv("USERS_INSIGHTS_RUN_TIMEOUT", "90s")

	cfg, err := Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 90*time.Second, cfg.Insights.RunTimeout)
}

func TestConfigReload(t *testing.T) {
	ctx := context.Background()
	isolate(t)

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	initialPort := cfg1.Server.Port

	cfg2, err := Load(ctx, map[string]any{
		"server": map[string]any{"port": initialPort + 1000},
	})
	require.NoError(t, err)

	assert.Equal(t, initialPort+1000, cfg2.Server.Port)
	assert.Equal(t, cfg2.Server.Port, GetConfig().Server.Port)
}
