package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/daniel-caso-github/users-insights/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatYAML     Format = "yaml"
)

// Options tunes rendering.
type Options struct {
	// ShowOutcomes appends per-unit outcomes (status, duration, error).
	ShowOutcomes bool
}

// Formatter renders run reports.
type Formatter interface {
	FormatReport(report *core.RunReport) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format, opts Options) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true, Options: opts}
	case FormatMarkdown:
		return &MarkdownFormatter{Options: opts}
	case FormatYAML:
		return &YAMLFormatter{Options: opts}
	default:
		return &TableFormatter{Options: opts}
	}
}

// FormatBatchList renders multiple batch results using the requested format.
func FormatBatchList(format Format, opts Options, results []*core.BatchResult) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(batchDocuments(results, opts), "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case FormatYAML:
		return marshalYAML(batchDocuments(results, opts))
	}

	formatter := NewFormatter(format, opts)
	rendered := make([]string, 0, len(results))
	for _, result := range results {
		if result == nil {
			continue
		}
		if result.Report == nil {
			rendered = append(rendered, failureLine(format, result))
			continue
		}
		value, err := formatter.FormatReport(result.Report)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		rendered = append(rendered, value)
	}

	return strings.Join(rendered, "\n\n"), nil
}

func failureLine(format Format, result *core.BatchResult) string {
	reason := result.Error
	if result.NotFound {
		reason = "user not found"
	}
	if format == FormatMarkdown {
		return fmt.Sprintf("## %s\n\n**Error**: %s\n", escapeMarkdownCell(result.Subject.String()), reason)
	}
	return fmt.Sprintf("%s: %s", result.Subject, reason)
}

// reportDocument is the serialized shape of a report. Outcomes are omitted
// unless requested.
type reportDocument struct {
	Subject  string                 `json:"subject" yaml:"subject"`
	Insights core.AggregateInsights `json:"insights" yaml:"insights"`
	Outcomes []core.UnitOutcome     `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
}

func documentFor(report *core.RunReport, opts Options) reportDocument {
	doc := reportDocument{
		Subject:  report.Subject.String(),
		Insights: report.Insights,
	}
	if doc.Insights == nil {
		doc.Insights = core.AggregateInsights{}
	}
	if opts.ShowOutcomes {
		doc.Outcomes = report.Outcomes
	}
	return doc
}

type batchDocument struct {
	Subject  string                 `json:"subject" yaml:"subject"`
	Insights core.AggregateInsights `json:"insights,omitempty" yaml:"insights,omitempty"`
	Outcomes []core.UnitOutcome     `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
	Error    string                 `json:"error,omitempty" yaml:"error,omitempty"`
	NotFound bool                   `json:"not_found,omitempty" yaml:"not_found,omitempty"`
}

func batchDocuments(results []*core.BatchResult, opts Options) []batchDocument {
	docs := make([]batchDocument, 0, len(results))
	for _, result := range results {
		if result == nil {
			continue
		}
		doc := batchDocument{
			Subject:  result.Subject.String(),
			Error:    result.Error,
			NotFound: result.NotFound,
		}
		if result.Report != nil {
			report := documentFor(result.Report, opts)
			doc.Insights = report.Insights
			doc.Outcomes = report.Outcomes
		}
		docs = append(docs, doc)
	}
	return docs
}
