package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"

	"github.com/daniel-caso-github/users-insights/internal/config"
)

var (
	// CLILogger writes human-oriented output for one-shot commands.
	CLILogger *logging.Logger

	// ServerLogger writes JSON records for the insights service.
	ServerLogger *logging.Logger
)

// InitCLILogger builds CLILogger. Debug output is enabled by --verbose or by
// a configured debug/trace level; see ApplyCLILevel.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}
	CLILogger = logger
	ApplyCLILevel(verbose, "")
}

// ApplyCLILevel raises CLILogger to DEBUG when the run asks for it.
func ApplyCLILevel(verbose bool, configured string) {
	if CLILogger != nil && cliDebug(verbose, configured) {
		CLILogger.SetLevel(logging.DEBUG)
	}
}

func cliDebug(verbose bool, configured string) bool {
	if verbose {
		return true
	}
	switch ParseLevel(configured) {
	case "DEBUG", "TRACE":
		return true
	}
	return false
}

// InitServerLogger builds ServerLogger from the logging section of the
// loaded configuration.
func InitServerLogger(serviceName string, cfg config.LoggingConfig) {
	logger, err := logging.New(ServerLoggerConfig(serviceName, cfg))
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}
	ServerLogger = logger
}

// ServerLoggerConfig maps the configured level and profile onto a gofulmen
// logger. Every record carries the service name as its namespace.
func ServerLoggerConfig(serviceName string, cfg config.LoggingConfig) *logging.LoggerConfig {
	profile := logging.ProfileStructured
	format := "json"
	middleware := []logging.MiddlewareConfig{{
		Name:    "correlation",
		Enabled: true,
		Order:   100,
		Config:  map[string]any{},
	}}
	if strings.EqualFold(strings.TrimSpace(cfg.Profile), "simple") {
		profile = logging.ProfileSimple
		format = "console"
		middleware = nil
	}

	return &logging.LoggerConfig{
		Profile:      profile,
		DefaultLevel: ParseLevel(cfg.Level),
		Service:      serviceName,
		Environment:  environment(),
		StaticFields: map[string]any{"namespace": serviceName},
		Middleware:   middleware,
		Sinks: []logging.SinkConfig{{
			Type:   "console",
			Format: format,
			Console: &logging.ConsoleSinkConfig{
				Stream:   "stderr",
				Colorize: false,
			},
		}},
		EnableCaller:     true,
		EnableStacktrace: profile == logging.ProfileStructured,
	}
}

// ParseLevel normalizes LOG_LEVEL style input to a gofulmen severity name.
// Unknown or empty input is INFO.
func ParseLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

func environment() string {
	if env := strings.TrimSpace(os.Getenv(config.EnvPrefix + "ENV")); env != "" {
		return env
	}
	return "production"
}

// exitWithCodeStderr reports a logger setup failure before any logger exists.
func exitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	os.Exit(int(exitCode))
}
