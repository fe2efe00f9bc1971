package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daniel-caso-github/users-insights/internal/core/store"
	"github.com/daniel-caso-github/users-insights/internal/observability"
	"github.com/daniel-caso-github/users-insights/internal/output"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect or clear the persisted GitHub rate-limit state",
	Long: `The insights client remembers, per GitHub endpoint, how many requests it
sent in the current window and how long it must back off after a 403/429.
These commands read and clear that state in the configured store.`,
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear stored rate-limit state so endpoints are retried immediately",
	Example: `  users-insights rate-limit reset --endpoint /users/octocat/repos --yes
  users-insights rate-limit reset --prefix /users/ --dry-run
  users-insights rate-limit reset --stale 24h --yes`,
	RunE: runRateLimitReset,
}

func init() {
	flags := rateLimitResetCmd.Flags()
	flags.Bool("all", false, "Select every stored endpoint")
	flags.String("endpoint", "", "Select one endpoint (exact match)")
	flags.String("prefix", "", "Select endpoints starting with this prefix")
	flags.Duration("stale", 0, "Select endpoints whose window opened longer ago than this and are not backing off")
	flags.Bool("yes", false, "Confirm deletion")
	flags.Bool("dry-run", false, "Report what would be cleared without deleting")
	flags.String("output-format", string(output.FormatTable), "Output format: table|json")
	flags.String("out", "", "Write output to a file (default stdout)")
	flags.String("out-dir", "", "Write output to <dir>/rate-limit.reset.<ext>")

	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}

// resetOutcome is what a reset selected and removed.
type resetOutcome struct {
	Selector string `json:"selector"`
	Matched  int    `json:"matched"`
	Cleared  int64  `json:"cleared"`
	DryRun   bool   `json:"dry_run"`
}

func runRateLimitReset(cmd *cobra.Command, _ []string) error {
	dest, err := resolveDestination(cmd, "rate-limit.reset", output.FormatTable, output.FormatJSON)
	if err != nil {
		return err
	}
	query, err := resetQuery(cmd, time.Now())
	if err != nil {
		return err
	}
	yes, _ := cmd.Flags().GetBool("yes")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if !yes && !dryRun {
		return errors.New("reset deletes stored state: pass --yes to confirm or --dry-run to preview")
	}

	cfg, err := loadedConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	db, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	outcome := resetOutcome{Selector: describeQuery(query), DryRun: dryRun}
	if outcome.Matched, err = db.CountRateLimits(ctx, query); err != nil {
		return err
	}
	if !dryRun && outcome.Matched > 0 {
		if outcome.Cleared, err = db.ResetRateLimits(ctx, query); err != nil {
			return err
		}
		observability.CLILogger.Info("Cleared rate-limit state",
			zap.String("selector", outcome.Selector),
			zap.Int64("cleared", outcome.Cleared))
	}

	rendered, err := renderResetOutcome(dest.format, outcome)
	if err != nil {
		return err
	}
	_, err = dest.write(rendered)
	return err
}

// resetQuery turns the selector flags into a store query. --stale is
// measured back from now.
func resetQuery(cmd *cobra.Command, now time.Time) (store.RateLimitQuery, error) {
	all, _ := cmd.Flags().GetBool("all")
	stale, _ := cmd.Flags().GetDuration("stale")
	if stale < 0 {
		return store.RateLimitQuery{}, errors.New("--stale must not be negative")
	}

	query := store.RateLimitQuery{
		All:      all,
		Endpoint: flagValue(cmd, "endpoint"),
		Prefix:   flagValue(cmd, "prefix"),
	}
	if stale > 0 {
		query.StaleBefore = now.Add(-stale)
	}
	if query.All && (query.Endpoint != "" || query.Prefix != "" || stale > 0) {
		return store.RateLimitQuery{}, errors.New("--all cannot be combined with other selectors")
	}
	return query, query.Validate()
}

// describeQuery renders a query the way it was asked for on the command line.
func describeQuery(q store.RateLimitQuery) string {
	if q.All {
		return "all"
	}
	var parts []string
	if q.Endpoint != "" {
		parts = append(parts, "endpoint="+q.Endpoint)
	}
	if q.Prefix != "" {
		parts = append(parts, "prefix="+q.Prefix)
	}
	if !q.StaleBefore.IsZero() {
		parts = append(parts, "stale-before="+q.StaleBefore.UTC().Format(time.RFC3339))
	}
	if !q.ActiveAt.IsZero() {
		parts = append(parts, "active")
	}
	return strings.Join(parts, " ")
}

func renderResetOutcome(format output.Format, outcome resetOutcome) (string, error) {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(outcome, "", "  ")
		return string(payload), err
	}
	switch {
	case outcome.Matched == 0:
		return fmt.Sprintf("No stored rate-limit state matches %s", outcome.Selector), nil
	case outcome.DryRun:
		return fmt.Sprintf("Would clear %d endpoint(s) matching %s", outcome.Matched, outcome.Selector), nil
	default:
		return fmt.Sprintf("Cleared %d of %d endpoint(s) matching %s", outcome.Cleared, outcome.Matched, outcome.Selector), nil
	}
}
