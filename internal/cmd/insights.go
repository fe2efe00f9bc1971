package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daniel-caso-github/users-insights/internal/core"
	"github.com/daniel-caso-github/users-insights/internal/metrics"
	"github.com/daniel-caso-github/users-insights/internal/observability"
	"github.com/daniel-caso-github/users-insights/internal/output"
)

var insightsCmd = &cobra.Command{
	Use:   "insights <username>",
	Short: "Compute activity insights for a GitHub user",
	Long: `Compute activity insights for a GitHub user.

Metrics that fail (for example because rate limit retries ran out) are left
out of the result; use --show-outcomes to see what happened to each one.

Examples:
  users-insights insights octocat
  users-insights insights octocat --output-format json
  GITHUB_TOKEN=ghp_... users-insights insights octocat --show-outcomes`,
	Args: cobra.ExactArgs(1),
	RunE: runInsights,
}

func init() {
	rootCmd.AddCommand(insightsCmd)

	insightsCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table, json, markdown, yaml")
	insightsCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	insightsCmd.Flags().String("out-dir", "", "Write output to <dir>/<username>.insights.<ext>")
	insightsCmd.Flags().Bool("show-outcomes", false, "Include per-metric outcomes (status, duration, error)")
	insightsCmd.Flags().Duration("timeout", 0, "Bound the whole run (overrides insights.run_timeout)")
	insightsCmd.Flags().Int("concurrency", 0, "Metrics computed at once (overrides insights.concurrency)")
}

func runInsights(cmd *cobra.Command, args []string) error {
	subject := core.Subject(args[0])
	if subject.String() == "" {
		return errors.New("username is required")
	}

	dest, err := resolveDestination(cmd, subject.String()+".insights")
	if err != nil {
		return err
	}
	showOutcomes, err := cmd.Flags().GetBool("show-outcomes")
	if err != nil {
		return err
	}

	cfg, err := loadedConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, cfg, observability.CLILogger)
	if err != nil {
		return err
	}
	defer rt.Close() // nolint:errcheck // best-effort cleanup

	if err := applyRunFlags(cmd, rt); err != nil {
		return err
	}

	startedAt := time.Now()
	report, err := rt.Orchestrator.Run(ctx, subject)
	metrics.RecordOperation("insights", err == nil)
	if err != nil {
		metrics.RecordOperationError("insights", runErrorType(err))
		if errors.Is(err, core.ErrSubjectNotFound) {
			return fmt.Errorf("user %q not found: %w", subject.String(), err)
		}
		return err
	}

	rendered, err := output.NewFormatter(dest.format, output.Options{ShowOutcomes: showOutcomes}).FormatReport(report)
	if err != nil {
		return err
	}
	written, err := dest.write(rendered)
	if err != nil {
		return err
	}
	if written != stdoutPath {
		observability.CLILogger.Info("Wrote insights", zap.String("path", written))
	}

	if failed := report.Failed(); len(failed) > 0 {
		observability.CLILogger.Warn("Some metrics were left out",
			zap.Strings("units", outcomeUnits(failed)))
	}
	logThroughput(1, startedAt)
	return nil
}

// applyRunFlags lets per-invocation flags override the configured run bounds.
func applyRunFlags(cmd *cobra.Command, rt *insightsRuntime) error {
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}
	if timeout > 0 {
		rt.Orchestrator.Timeout = timeout
	}

	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return err
	}
	if concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	if concurrency > 0 {
		rt.Orchestrator.Concurrency = concurrency
	}
	return nil
}

func runErrorType(err error) string {
	switch {
	case errors.Is(err, core.ErrSubjectNotFound):
		return "subject_not_found"
	case errors.Is(err, core.ErrRetriesExhausted):
		return "upstream_exhausted"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

func outcomeUnits(outcomes []core.UnitOutcome) []string {
	units := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		units = append(units, outcome.Unit+"="+string(outcome.Status))
	}
	return units
}

func logThroughput(count int, startedAt time.Time) {
	if count <= 0 || observability.CLILogger == nil {
		return
	}
	elapsed := time.Since(startedAt)
	if elapsed <= 0 {
		return
	}
	observability.CLILogger.Info(
		"Insights throughput",
		zap.Int("subjects", count),
		zap.Duration("elapsed", elapsed),
		zap.Float64("rate_per_sec", float64(count)/elapsed.Seconds()),
	)
}
