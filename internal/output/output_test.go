package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/daniel-caso-github/users-insights/internal/core"
)

type languageRow struct {
	Language string `json:"language"`
	Count    int64  `json:"count"`
}

type monthRow struct {
	Month        string `json:"month"`
	PullRequests int    `json:"pull_requests"`
	Issues       int    `json:"issues"`
	Commits      int    `json:"commits"`
}

func sampleReport() *core.RunReport {
	return &core.RunReport{
		Subject: "octocat",
		Insights: core.AggregateInsights{
			"monthly_contributions": []monthRow{
				{Month: "2025-03", PullRequests: 2, Issues: 1, Commits: 7},
			},
			"most_used_languages": []languageRow{
				{Language: "Go", Count: 1200},
				{Language: "C|C++", Count: 300},
			},
		},
		Outcomes: []core.UnitOutcome{
			{Unit: "most_used_languages", Priority: 1, Status: core.OutcomeSucceeded, Duration: 12 * time.Millisecond},
			{Unit: "repos_with_more_prs", Priority: 2, Status: core.OutcomeFailed, Error: "retries exhausted"},
			{Unit: "monthly_contributions", Priority: 3, Status: core.OutcomeSucceeded, Duration: 40 * time.Millisecond},
		},
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("yml")
	require.NoError(t, err)
	require.Equal(t, FormatYAML, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestTabulateKeepsFieldOrder(t *testing.T) {
	columns, rows, err := tabulate([]monthRow{{Month: "2025-02", Commits: 3}})
	require.NoError(t, err)
	assert.Equal(t, []string{"month", "pull_requests", "issues", "commits"}, columns)
	assert.Equal(t, [][]string{{"2025-02", "0", "0", "3"}}, rows)

	columns, rows, err = tabulate("plain")
	require.NoError(t, err)
	assert.Equal(t, []string{"value"}, columns)
	assert.Equal(t, [][]string{{"plain"}}, rows)

	columns, rows, err = tabulate([]monthRow{})
	require.NoError(t, err)
	assert.Equal(t, []string{"value"}, columns)
	assert.Empty(t, rows)
}

func TestSectionsFollowUnitPriority(t *testing.T) {
	parts, err := sections(sampleReport())
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "most_used_languages", parts[0].Key)
	assert.Equal(t, "monthly_contributions", parts[1].Key)
}

func TestTableFormatter(t *testing.T) {
	rendered, err := NewFormatter(FormatTable, Options{}).FormatReport(sampleReport())
	require.NoError(t, err)
	assert.Contains(t, rendered, "Insights for octocat")
	assert.Contains(t, rendered, "most_used_languages")
	assert.Contains(t, rendered, "Go")
	assert.Less(t, strings.Index(rendered, "most_used_languages"), strings.Index(rendered, "monthly_contributions"))
	assert.NotContains(t, rendered, "retries exhausted")

	rendered, err = NewFormatter(FormatTable, Options{ShowOutcomes: true}).FormatReport(sampleReport())
	require.NoError(t, err)
	assert.Contains(t, rendered, "retries exhausted")
	assert.Contains(t, rendered, "12ms")
}

func TestMarkdownFormatter(t *testing.T) {
	rendered, err := NewFormatter(FormatMarkdown, Options{ShowOutcomes: true}).FormatReport(sampleReport())
	require.NoError(t, err)
	assert.Contains(t, rendered, "## Insights for octocat")
	assert.Contains(t, rendered, "### most_used_languages")
	assert.Contains(t, rendered, "| language | count |")
	assert.Contains(t, rendered, "C\\|C++")
	assert.Contains(t, rendered, "### Outcomes")
}

func TestJSONFormatter(t *testing.T) {
	rendered, err := NewFormatter(FormatJSON, Options{}).FormatReport(sampleReport())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &doc))
	assert.Equal(t, "octocat", doc["subject"])
	assert.NotContains(t, doc, "outcomes")

	insights, ok := doc["insights"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, insights, "most_used_languages")
}

func TestYAMLFormatter(t *testing.T) {
	rendered, err := NewFormatter(FormatYAML, Options{ShowOutcomes: true}).FormatReport(sampleReport())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(rendered), &doc))
	assert.Equal(t, "octocat", doc["subject"])
	assert.Contains(t, rendered, "pull_requests: 2")
	assert.Contains(t, doc, "outcomes")
}

func TestFormatBatchList(t *testing.T) {
	results := []*core.BatchResult{
		{Subject: "octocat", Report: sampleReport()},
		{Subject: "ghost", NotFound: true, Error: "subject not found"},
		nil,
	}

	t.Run("json", func(t *testing.T) {
		rendered, err := FormatBatchList(FormatJSON, Options{}, results)
		require.NoError(t, err)

		var docs []map[string]any
		require.NoError(t, json.Unmarshal([]byte(rendered), &docs))
		require.Len(t, docs, 2)
		assert.Equal(t, true, docs[1]["not_found"])
	})

	t.Run("table", func(t *testing.T) {
		rendered, err := FormatBatchList(FormatTable, Options{}, results)
		require.NoError(t, err)
		assert.Contains(t, rendered, "Insights for octocat")
		assert.Contains(t, rendered, "ghost: user not found")
	})

	t.Run("markdown", func(t *testing.T) {
		rendered, err := FormatBatchList(FormatMarkdown, Options{}, results)
		require.NoError(t, err)
		assert.Contains(t, rendered, "## ghost")
	})
}
