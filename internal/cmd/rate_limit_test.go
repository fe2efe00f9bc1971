package cmd

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniel-caso-github/users-insights/internal/core/store"
	"github.com/daniel-caso-github/users-insights/internal/output"
)

func resetCommand(t *testing.T, values map[string]string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "reset"}
	cmd.Flags().Bool("all", false, "")
	cmd.Flags().String("endpoint", "", "")
	cmd.Flags().String("prefix", "", "")
	cmd.Flags().Duration("stale", 0, "")
	for name, value := range values {
		require.NoError(t, cmd.Flags().Set(name, value))
	}
	return cmd
}

func TestResetQueryStale(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	query, err := resetQuery(resetCommand(t, map[string]string{"stale": "24h", "prefix": " /users/ "}), now)
	require.NoError(t, err)
	assert.Equal(t, "/users/", query.Prefix)
	assert.Equal(t, now.Add(-24*time.Hour), query.StaleBefore)
	assert.Equal(t, "prefix=/users/ stale-before=2026-10-15T12:00:00Z", describeQuery(query))
}

func TestResetQueryRejections(t *testing.T) {
	now := time.Now()

	_, err := resetQuery(resetCommand(t, nil), now)
	assert.ErrorIs(t, err, store.ErrEmptyRateLimitQuery)

	_, err = resetQuery(resetCommand(t, map[string]string{"all": "true", "endpoint": "/users/octocat"}), now)
	assert.ErrorContains(t, err, "cannot be combined")

	_, err = resetQuery(resetCommand(t, map[string]string{"stale": "-1h"}), now)
	assert.ErrorContains(t, err, "must not be negative")
}

func TestDescribeQuery(t *testing.T) {
	assert.Equal(t, "all", describeQuery(store.RateLimitQuery{All: true}))
	assert.Equal(t, "endpoint=/users/octocat active",
		describeQuery(store.RateLimitQuery{Endpoint: "/users/octocat", ActiveAt: time.Now()}))
}

func TestRenderResetOutcome(t *testing.T) {
	text, err := renderResetOutcome(output.FormatTable, resetOutcome{Selector: "prefix=/users/", Matched: 3, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "Would clear 3 endpoint(s) matching prefix=/users/", text)

	text, err = renderResetOutcome(output.FormatTable, resetOutcome{Selector: "all", Matched: 2, Cleared: 2})
	require.NoError(t, err)
	assert.Equal(t, "Cleared 2 of 2 endpoint(s) matching all", text)

	text, err = renderResetOutcome(output.FormatTable, resetOutcome{Selector: "endpoint=/rate_limit"})
	require.NoError(t, err)
	assert.Contains(t, text, "No stored rate-limit state")

	text, err = renderResetOutcome(output.FormatJSON, resetOutcome{Selector: "all", Matched: 4, Cleared: 4})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &decoded))
	assert.Equal(t, "all", decoded["selector"])
	assert.EqualValues(t, 4, decoded["cleared"])
	assert.Equal(t, false, decoded["dry_run"])
}
