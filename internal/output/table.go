package output

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/daniel-caso-github/users-insights/internal/core"
)

// TableFormatter renders results as ASCII tables, one per insight.
type TableFormatter struct {
	Options
}

// FormatReport renders a run report as tables.
func (f *TableFormatter) FormatReport(report *core.RunReport) (string, error) {
	if report == nil {
		return "", nil
	}

	parts, err := sections(report)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Insights for " + report.Subject.String() + "\n")
	if len(parts) == 0 {
		sb.WriteString("(no insights)\n")
	}

	for _, part := range parts {
		sb.WriteString("\n")
		sb.WriteString(renderTable(part.Key, part.Columns, part.Rows))
		sb.WriteString("\n")
	}

	if f.ShowOutcomes && len(report.Outcomes) > 0 {
		rows := make([][]string, 0, len(report.Outcomes))
		for _, outcome := range report.Outcomes {
			rows = append(rows, outcomeRow(outcome))
		}
		sb.WriteString("\n")
		sb.WriteString(renderTable("outcomes", outcomeColumns, rows))
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

func renderTable(title string, columns []string, rows [][]string) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatDefault
	t.Style().Title.Format = text.FormatDefault
	t.SetTitle(title)

	header := make(table.Row, len(columns))
	for i, column := range columns {
		header[i] = column
	}
	t.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(row))
		for i, value := range row {
			r[i] = value
		}
		t.AppendRow(r)
	}

	return t.Render()
}
