package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/daniel-caso-github/users-insights/internal/core/store"
	"github.com/daniel-caso-github/users-insights/internal/output"
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show stored per-endpoint request counts and backoff deadlines",
	RunE:  runRateLimitList,
}

func runRateLimitList(cmd *cobra.Command, _ []string) error {
	dest, err := resolveDestination(cmd, "rate-limit.list", output.FormatTable, output.FormatJSON)
	if err != nil {
		return err
	}

	now := time.Now()
	query := store.RateLimitQuery{All: true, Prefix: flagValue(cmd, "prefix")}
	if query.Prefix != "" {
		query.All = false
	}
	if active, _ := cmd.Flags().GetBool("active"); active {
		query.ActiveAt = now
	}

	cfg, err := loadedConfig(cmd)
	if err != nil {
		return err
	}
	db, err := openStore(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	entries, err := db.ListRateLimits(cmd.Context(), query)
	if err != nil {
		return err
	}

	var buf strings.Builder
	if dest.format == output.FormatJSON {
		payload, err := json.MarshalIndent(rateLimitRows(entries, now), "", "  ")
		if err != nil {
			return err
		}
		buf.Write(payload)
	} else if err := writeRateLimitTable(&buf, entries, now); err != nil {
		return err
	}
	_, err = dest.write(buf.String())
	return err
}

type rateLimitRow struct {
	Endpoint      string `json:"endpoint"`
	RequestCount  int    `json:"request_count"`
	WindowStart   string `json:"window_start,omitempty"`
	BackoffUntil  string `json:"backoff_until,omitempty"`
	LastLimitedAt string `json:"last_limited_at,omitempty"`
	Active        bool   `json:"active"`
}

func rateLimitRows(entries []store.RateLimitEntry, now time.Time) []rateLimitRow {
	rows := make([]rateLimitRow, 0, len(entries))
	for _, entry := range entries {
		row := rateLimitRow{
			Endpoint:     entry.Endpoint,
			RequestCount: entry.State.RequestCount,
			Active:       entry.Active(now),
		}
		if !entry.State.WindowStart.IsZero() {
			row.WindowStart = entry.State.WindowStart.UTC().Format(time.RFC3339)
		}
		if entry.State.BackoffUntil != nil {
			row.BackoffUntil = entry.State.BackoffUntil.UTC().Format(time.RFC3339)
		}
		if entry.State.LastLimitedAt != nil {
			row.LastLimitedAt = entry.State.LastLimitedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, row)
	}
	return rows
}

func writeRateLimitTable(w io.Writer, entries []store.RateLimitEntry, now time.Time) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "(no stored rate limit state)")
		return err
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("Rate Limits")
	tw.AppendHeader(table.Row{"Endpoint", "Count", "Window Start", "Backoff Until", "Last Limited", "Active"})
	for _, row := range rateLimitRows(entries, now) {
		tw.AppendRow(table.Row{
			row.Endpoint,
			row.RequestCount,
			dashIfEmpty(row.WindowStart),
			dashIfEmpty(row.BackoffUntil),
			dashIfEmpty(row.LastLimitedAt),
			row.Active,
		})
	}
	_, err := fmt.Fprintln(w, tw.Render())
	return err
}

func dashIfEmpty(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func init() {
	flags := rateLimitListCmd.Flags()
	flags.String("prefix", "", "Only endpoints starting with this prefix")
	flags.Bool("active", false, "Only endpoints currently backing off")
	flags.String("output-format", string(output.FormatTable), "Output format: table|json")
	flags.String("out", "", "Write output to a file (default stdout)")
	flags.String("out-dir", "", "Write output to <dir>/rate-limit.list.<ext>")
}
