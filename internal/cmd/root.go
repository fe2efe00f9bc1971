package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daniel-caso-github/users-insights/internal/config"
	"github.com/daniel-caso-github/users-insights/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "GitHub user activity insights",
	Long: `users-insights aggregates activity analytics for a GitHub user: most used
languages, repositories with the most merged pull requests, monthly
contributions and the time of day the user is most active.

Rate limits are waited out and retried; a metric that still fails is left
out of the result instead of failing the whole report.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early so CLI runs never emit metrics to stdout.
	// Server mode initializes the Prometheus exporter later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/"+config.AppName+"/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

// initConfig loads configuration and the CLI logger before any command runs.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)

	cfg, err := config.LoadFile(rootCmd.Context(), cfgFile)
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
		return
	}

	observability.ApplyCLILevel(verbose, cfg.Logging.Level)

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("config_file", configFileUsed()),
		zap.String("base_url", cfg.GitHub.BaseURL),
		zap.Bool("token_set", cfg.GitHub.Token != ""),
		zap.String("store_driver", cfg.Store.Driver))
}

func configFileUsed() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadedConfig returns the configuration loaded by initConfig, loading it
// again when a command runs outside cobra's initialization.
func loadedConfig(cmd *cobra.Command) (*config.Config, error) {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg, nil
	}
	return config.LoadFile(cmd.Context(), cfgFile)
}
