package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/daniel-caso-github/users-insights/internal/config"
	"github.com/daniel-caso-github/users-insights/internal/core/upstream"
	errwrap "github.com/daniel-caso-github/users-insights/internal/errors"
	"github.com/daniel-caso-github/users-insights/internal/observability"
)

var doctorOffline bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the system and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		observability.CLILogger.Info("=== " + config.AppName + " doctor ===")
		observability.CLILogger.Info("")
		observability.CLILogger.Info("Running diagnostic checks...")
		observability.CLILogger.Info("")

		allChecks := true
		totalChecks := 7

		// Check 1: Go version
		goVersion := runtime.Version()
		if goVersion >= "go1.23" {
			observability.CLILogger.Info(fmt.Sprintf("[1/%d] Checking Go version... ✅ %s", totalChecks, goVersion), zap.String("go_version", goVersion))
		} else {
			observability.CLILogger.Warn(fmt.Sprintf("[1/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", totalChecks, goVersion), zap.String("go_version", goVersion))
			allChecks = false
		}

		// Check 2: Crucible access
		version := crucible.GetVersion()
		if version.Crucible != "" {
			observability.CLILogger.Info(fmt.Sprintf("[2/%d] Checking Crucible access... ✅ v%s", totalChecks, version.Crucible), zap.String("crucible_version", version.Crucible))
		} else {
			observability.CLILogger.Error(fmt.Sprintf("[2/%d] Checking Crucible access... ❌ Cannot access Crucible", totalChecks))
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible", errwrap.NewExternalServiceError("Crucible service unavailable"))
			allChecks = false
		}

		// Check 3: Config directory
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			observability.CLILogger.Error(fmt.Sprintf("[3/%d] Checking config directory... ❌ Cannot resolve config directory", totalChecks))
			ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot resolve config directory", errwrap.NewInternalError("config directory not resolved"))
			allChecks = false
		} else {
			configDir := filepath.Dir(configPath)
			observability.CLILogger.Info(fmt.Sprintf("[3/%d] Checking config directory... ✅ %s", totalChecks, configDir), zap.String("config_dir", configDir))
		}

		// Check 4: Environment
		observability.CLILogger.Info(fmt.Sprintf("[4/%d] Checking environment... ✅ %s/%s", totalChecks, runtime.GOOS, runtime.GOARCH),
			zap.String("os", runtime.GOOS),
			zap.String("arch", runtime.GOARCH))

		// Check 5: Configuration
		cfg, cfgErr := loadedConfig(cmd)
		if cfgErr != nil {
			observability.CLILogger.Warn(fmt.Sprintf("[5/%d] Checking configuration... ⚠️  not loaded", totalChecks), zap.Error(cfgErr))
			allChecks = false
		} else {
			observability.CLILogger.Info(fmt.Sprintf("[5/%d] Checking configuration... ✅ %s", totalChecks, describeConfigSource()))
		}

		// Check 6: Rate limit store
		switch {
		case cfgErr != nil:
			observability.CLILogger.Warn(fmt.Sprintf("[6/%d] Checking rate limit store... ⚠️  skipped (config not loaded)", totalChecks))
		case cfg.Store.Driver != "libsql":
			observability.CLILogger.Info(fmt.Sprintf("[6/%d] Checking rate limit store... ✅ in-memory", totalChecks))
		default:
			if ok := checkStore(ctx, cfg.Store, totalChecks); !ok {
				allChecks = false
			}
		}

		// Check 7: GitHub API
		switch {
		case cfgErr != nil:
			observability.CLILogger.Warn(fmt.Sprintf("[7/%d] Checking GitHub API... ⚠️  skipped (config not loaded)", totalChecks))
		case doctorOffline:
			observability.CLILogger.Info(fmt.Sprintf("[7/%d] Checking GitHub API... skipped (--offline)", totalChecks))
		default:
			quota, err := checkUpstream(ctx, cfg.GitHub)
			if err != nil {
				observability.CLILogger.Warn(fmt.Sprintf("[7/%d] Checking GitHub API... ⚠️  %s unreachable", totalChecks, cfg.GitHub.BaseURL), zap.Error(err))
				allChecks = false
			} else {
				observability.CLILogger.Info(fmt.Sprintf("[7/%d] Checking GitHub API... ✅ %d/%d requests left (token %s)",
					totalChecks, quota.Remaining, quota.Limit, tokenStatus(cfg.GitHub.Token)),
					zap.Int("remaining", quota.Remaining),
					zap.Int("limit", quota.Limit))
				if strings.TrimSpace(cfg.GitHub.Token) == "" {
					observability.CLILogger.Info("       Unauthenticated requests have a much lower quota; set GITHUB_TOKEN.")
				}
			}
		}

		observability.CLILogger.Info("")
		if allChecks {
			observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", config.AppName))
		} else {
			observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		observability.CLILogger.Info("")
		observability.CLILogger.Info("=== End Diagnostics ===")
	},
}

func checkStore(ctx context.Context, cfg config.StoreConfig, totalChecks int) bool {
	if cfg.URL == "" {
		dbPath := cfg.Path
		if dbPath == "" {
			dbPath = config.DefaultStorePath()
		}
		absPath, _ := filepath.Abs(dbPath)
		if info, statErr := os.Stat(absPath); statErr == nil {
			observability.CLILogger.Info(fmt.Sprintf("[6/%d] Checking rate limit store... ✅ %s (%s, modified %s)",
				totalChecks, absPath, formatFileSize(info.Size()), formatTimeAgo(info.ModTime())),
				zap.String("db_path", absPath),
				zap.Int64("db_size", info.Size()))
		} else if os.IsNotExist(statErr) {
			observability.CLILogger.Warn(fmt.Sprintf("[6/%d] Checking rate limit store... ⚠️  %s (not created yet)", totalChecks, absPath),
				zap.String("db_path", absPath))
			return true
		}
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		observability.CLILogger.Warn(fmt.Sprintf("[6/%d] Checking rate limit store... ⚠️  cannot open store", totalChecks), zap.Error(err))
		return false
	}
	defer db.Close() //nolint:errcheck

	if err := db.CheckHealth(ctx); err != nil {
		observability.CLILogger.Warn(fmt.Sprintf("[6/%d] Checking rate limit store... ⚠️  ping failed", totalChecks), zap.Error(err))
		return false
	}
	if cfg.URL != "" {
		observability.CLILogger.Info(fmt.Sprintf("[6/%d] Checking rate limit store... ✅ %s (remote)", totalChecks, cfg.URL))
	}
	return true
}

type upstreamQuota struct {
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// checkUpstream makes one request against the rate limit endpoint, which does
// not count against the quota.
func checkUpstream(ctx context.Context, cfg config.GitHubConfig) (upstreamQuota, error) {
	client, err := upstream.New(upstream.Options{
		BaseURL:    cfg.BaseURL,
		Token:      cfg.Token,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		MaxRetries: 1,
		Logger:     observability.CLILogger,
	})
	if err != nil {
		return upstreamQuota{}, err
	}

	var payload struct {
		Resources struct {
			Core upstreamQuota `json:"core"`
		} `json:"resources"`
	}
	ok, err := client.Get(ctx, "/rate_limit", &payload)
	if err != nil {
		return upstreamQuota{}, err
	}
	if !ok {
		return upstreamQuota{}, fmt.Errorf("no usable response from %s/rate_limit", strings.TrimRight(cfg.BaseURL, "/"))
	}
	return payload.Resources.Core, nil
}

var (
	doctorInitForce   bool
	doctorInitToken   string
	doctorResetConfig bool
	doctorResetData   bool
	doctorResetAll    bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		token := strings.TrimSpace(doctorInitToken)
		if strings.EqualFold(token, "prompt") {
			value, err := promptForValue("Enter GitHub token (leave blank to skip): ")
			if err != nil {
				return err
			}
			token = value
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}

		mode := os.FileMode(0644)
		if token != "" {
			mode = 0600
		}

		content, err := buildInitConfig(token)
		if err != nil {
			return err
		}
		if err := os.WriteFile(configPath, content, mode); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		dataDir := config.DefaultDataDir()

		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info(fmt.Sprintf("  Config file:    %s (%s)", configPath, existenceStatus(fileExists(configPath))))
		if dataDir != "" {
			observability.CLILogger.Info(fmt.Sprintf("  Data directory: %s (%s)", dataDir, existenceStatus(fileExists(dataDir))))
		} else {
			observability.CLILogger.Info("  Data directory: (not resolved)")
		}

		cfg, err := loadedConfig(cmd)
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return nil
		}

		if cfg.Store.URL != "" {
			observability.CLILogger.Info(fmt.Sprintf("  Database:       %s (remote)", cfg.Store.URL))
		} else if cfg.Store.Driver == "libsql" {
			absPath, _ := filepath.Abs(cfg.Store.Path)
			if info, statErr := os.Stat(absPath); statErr == nil {
				observability.CLILogger.Info(fmt.Sprintf("  Database:       %s (%s)", absPath, formatFileSize(info.Size())))
			} else {
				observability.CLILogger.Info(fmt.Sprintf("  Database:       %s (not created yet)", absPath))
			}
		} else {
			observability.CLILogger.Info("  Database:       (in-memory rate limit state)")
		}

		observability.CLILogger.Info("")
		observability.CLILogger.Info("Environment:")
		for _, name := range []string{"GITHUB_TOKEN", config.EnvPrefix + "GITHUB_TOKEN", "GITHUB_API_URL"} {
			observability.CLILogger.Info(fmt.Sprintf("  %s: %s", name, envStatus(name)))
		}

		observability.CLILogger.Info("")
		observability.CLILogger.Info("Effective Settings:")
		observability.CLILogger.Info(fmt.Sprintf("  github.base_url: %s", cfg.GitHub.BaseURL))
		observability.CLILogger.Info(fmt.Sprintf("  github.max_retries: %d", cfg.GitHub.MaxRetries))
		observability.CLILogger.Info(fmt.Sprintf("  pagination.max_results_per_page: %d", cfg.Pagination.MaxResultsPerPage))
		observability.CLILogger.Info(fmt.Sprintf("  pagination.max_pages: %d", cfg.Pagination.MaxPages))
		observability.CLILogger.Info(fmt.Sprintf("  insights.concurrency: %d", cfg.Insights.Concurrency))
		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}

		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		if doctorResetConfig {
			configPath := config.DefaultConfigPath()
			if configPath == "" {
				observability.CLILogger.Warn("Config path not resolved; skipping config reset")
			} else if err := os.Remove(configPath); err == nil {
				observability.CLILogger.Info("Config removed", zap.String("path", configPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Config already removed", zap.String("path", configPath))
			} else {
				return fmt.Errorf("remove config file: %w", err)
			}
		}

		if doctorResetData {
			cfg, err := loadedConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Store.URL != "" {
				return fmt.Errorf("remote store configured; database reset is not supported")
			}

			dbPath := cfg.Store.Path
			if dbPath == "" {
				dbPath = config.DefaultStorePath()
			}
			absPath, _ := filepath.Abs(dbPath)
			if err := os.Remove(absPath); err == nil {
				observability.CLILogger.Info("Database removed", zap.String("path", absPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Database already removed", zap.String("path", absPath))
			} else {
				return fmt.Errorf("remove database: %w", err)
			}
		}

		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := configFileUsed()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}

		if _, err := config.LoadFile(cmd.Context(), configPath); err != nil {
			return err
		}

		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "skip the GitHub API check")

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorInitCmd.Flags().StringVar(&doctorInitToken, "token", "", "set github token or use 'prompt' to enter")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local database")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// formatTimeAgo returns a human-readable relative time
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// buildInitConfig renders the user-facing subset of the defaults.
func buildInitConfig(token string) ([]byte, error) {
	defaults := config.Defaults()
	github, _ := defaults["github"].(map[string]any)
	if github == nil {
		github = map[string]any{}
	}
	if strings.TrimSpace(token) != "" {
		github["token"] = token
	}

	doc := map[string]any{
		"github":     github,
		"pagination": defaults["pagination"],
		"insights":   defaults["insights"],
		"store":      defaults["store"],
	}
	body, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}

	header := fmt.Sprintf("# %s config - created by '%s doctor init'\n", config.AppName, config.AppName)
	if strings.TrimSpace(token) == "" {
		header += "# github.token unset; export GITHUB_TOKEN or " + config.EnvPrefix + "GITHUB_TOKEN instead\n"
	}
	return append([]byte(header), body...), nil
}

func describeConfigSource() string {
	if path := configFileUsed(); path != "" && fileExists(path) {
		return path
	}
	return "defaults + environment"
}

func tokenStatus(token string) string {
	if strings.TrimSpace(token) == "" {
		return "not set"
	}
	return "set"
}

func promptForValue(prompt string) (string, error) {
	if _, err := fmt.Fprint(os.Stdout, prompt); err != nil {
		return "", err
	}
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}
