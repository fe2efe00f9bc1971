package output

import (
	"fmt"
	"strings"

	"github.com/daniel-caso-github/users-insights/internal/core"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct {
	Options
}

// FormatReport renders a run report as Markdown.
func (f *MarkdownFormatter) FormatReport(report *core.RunReport) (string, error) {
	if report == nil {
		return "", nil
	}

	parts, err := sections(report)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Insights for %s\n", escapeMarkdownCell(report.Subject.String())))
	if len(parts) == 0 {
		sb.WriteString("\n_No insights._\n")
	}

	for _, part := range parts {
		sb.WriteString(fmt.Sprintf("\n### %s\n\n", escapeMarkdownCell(part.Key)))
		writeMarkdownTable(&sb, part.Columns, part.Rows)
	}

	if f.ShowOutcomes && len(report.Outcomes) > 0 {
		rows := make([][]string, 0, len(report.Outcomes))
		for _, outcome := range report.Outcomes {
			rows = append(rows, outcomeRow(outcome))
		}
		sb.WriteString("\n### Outcomes\n\n")
		writeMarkdownTable(&sb, outcomeColumns, rows)
	}

	return sb.String(), nil
}

func writeMarkdownTable(sb *strings.Builder, columns []string, rows [][]string) {
	header := make([]string, len(columns))
	rule := make([]string, len(columns))
	for i, column := range columns {
		header[i] = escapeMarkdownCell(column)
		rule[i] = strings.Repeat("-", max(3, len(column)))
	}
	sb.WriteString("| " + strings.Join(header, " | ") + " |\n")
	sb.WriteString("|" + strings.Join(rule, "|") + "|\n")

	for _, row := range rows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = escapeMarkdownCell(value)
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
