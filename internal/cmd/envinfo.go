package cmd

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daniel-caso-github/users-insights/internal/config"
	"github.com/daniel-caso-github/users-insights/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()

		observability.CLILogger.Info("=== Users Insights Environment Information ===")
		observability.CLILogger.Info("")

		observability.CLILogger.Info("Application:")
		observability.CLILogger.Info("  Name:       " + config.AppName)
		observability.CLILogger.Info("  Version:    " + versionInfo.Version)
		observability.CLILogger.Info("  Commit:     " + versionInfo.Commit)
		observability.CLILogger.Info("  Built:      " + versionInfo.BuildDate)
		observability.CLILogger.Info("")

		observability.CLILogger.Info("SSOT:")
		observability.CLILogger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		observability.CLILogger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		observability.CLILogger.Info("")

		observability.CLILogger.Info("Runtime:")
		observability.CLILogger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		observability.CLILogger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		observability.CLILogger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		observability.CLILogger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		observability.CLILogger.Info("")

		cfg, err := loadedConfig(cmd)
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return
		}

		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info("  Config File:    "+configFileUsed(), zap.String("config_file", configFileUsed()))
		observability.CLILogger.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		observability.CLILogger.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		observability.CLILogger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		observability.CLILogger.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		observability.CLILogger.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		observability.CLILogger.Info("")

		observability.CLILogger.Info("GitHub:")
		observability.CLILogger.Info("  Base URL:       "+cfg.GitHub.BaseURL, zap.String("base_url", cfg.GitHub.BaseURL))
		observability.CLILogger.Info("  Token:          "+maskSecret(cfg.GitHub.Token))
		observability.CLILogger.Info(fmt.Sprintf("  Max Retries:    %d", cfg.GitHub.MaxRetries), zap.Int("max_retries", cfg.GitHub.MaxRetries))
		observability.CLILogger.Info("  Timeout:        " + cfg.GitHub.Timeout.String())
		if cfg.GitHub.RequestsPerSecond > 0 {
			observability.CLILogger.Info(fmt.Sprintf("  Pacing:         %.2f req/s (burst %d)", cfg.GitHub.RequestsPerSecond, cfg.GitHub.Burst))
		}
		observability.CLILogger.Info(fmt.Sprintf("  Results/Page:   %d", cfg.Pagination.MaxResultsPerPage))
		observability.CLILogger.Info(fmt.Sprintf("  Max Pages:      %d", cfg.Pagination.MaxPages))
		observability.CLILogger.Info("")

		observability.CLILogger.Info("Insights:")
		observability.CLILogger.Info("  Run Timeout:    " + cfg.Insights.RunTimeout.String())
		observability.CLILogger.Info(fmt.Sprintf("  Concurrency:    %d", cfg.Insights.Concurrency))
		observability.CLILogger.Info(fmt.Sprintf("  Fetch Workers:  %d", cfg.Insights.FetchWorkers))
		observability.CLILogger.Info(fmt.Sprintf("  Months:         %d", cfg.Insights.Months))
		observability.CLILogger.Info(fmt.Sprintf("  Top N:          %d", cfg.Insights.TopN))
		observability.CLILogger.Info("")

		observability.CLILogger.Info("Rate Limits:")
		observability.CLILogger.Info("  DB Driver:      "+cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
		if strings.TrimSpace(cfg.Store.URL) != "" {
			observability.CLILogger.Info("  DB URL:         "+cfg.Store.URL, zap.String("db_url", cfg.Store.URL))
		} else if cfg.Store.Driver == "libsql" {
			observability.CLILogger.Info("  DB Path:        "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		observability.CLILogger.Info(fmt.Sprintf("  Safety Margin:  %.2f", cfg.RateLimitMargin))
		endpoints := make([]string, 0, len(cfg.RateLimits))
		for endpoint := range cfg.RateLimits {
			endpoints = append(endpoints, endpoint)
		}
		sort.Strings(endpoints)
		for _, endpoint := range endpoints {
			observability.CLILogger.Info(fmt.Sprintf("  %s: %d/min", endpoint, cfg.RateLimits[endpoint]))
		}
		observability.CLILogger.Info("")

		observability.CLILogger.Info("=== End Environment Information ===")
	},
}

// maskSecret hides all but the last four characters.
func maskSecret(value string) string {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "(not set)"
	case len(value) <= 8:
		return "****"
	default:
		return "****" + value[len(value)-4:]
	}
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
