package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/daniel-caso-github/users-insights/internal/core"
)

// section is one insights key flattened into rows.
type section struct {
	Key     string
	Columns []string
	Rows    [][]string
}

// sections orders insight keys by unit priority, then by name for keys no
// outcome accounts for.
func sections(report *core.RunReport) ([]section, error) {
	if report == nil || len(report.Insights) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(report.Insights))
	keys := make([]string, 0, len(report.Insights))
	for _, outcome := range report.Outcomes {
		if _, ok := report.Insights[outcome.Unit]; ok && !seen[outcome.Unit] {
			seen[outcome.Unit] = true
			keys = append(keys, outcome.Unit)
		}
	}
	var rest []string
	for _, key := range report.Insights.Keys() {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	out := make([]section, 0, len(keys))
	for _, key := range keys {
		columns, rows, err := tabulate(report.Insights[key])
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", key, err)
		}
		out = append(out, section{Key: key, Columns: columns, Rows: rows})
	}
	return out, nil
}

// tabulate flattens a metric value into columns and rows. Lists of objects
// become one row per element with columns in field order; anything else is a
// single value cell.
func tabulate(value any) ([]string, [][]string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return []string{"value"}, [][]string{{cell(data)}}, nil
	}
	if len(items) == 0 {
		return []string{"value"}, nil, nil
	}

	var columns []string
	index := make(map[string]int)
	records := make([]map[string]string, 0, len(items))

	for _, item := range items {
		fields, order, ok := decodeObject(item)
		if !ok {
			fields = map[string]string{"value": cell(item)}
			order = []string{"value"}
		}
		for _, name := range order {
			if _, known := index[name]; !known {
				index[name] = len(columns)
				columns = append(columns, name)
			}
		}
		records = append(records, fields)
	}

	rows := make([][]string, 0, len(records))
	for _, record := range records {
		row := make([]string, len(columns))
		for name, value := range record {
			row[index[name]] = value
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

// decodeObject returns the fields of a JSON object in document order.
func decodeObject(raw json.RawMessage) (map[string]string, []string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, false
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, false
	}

	fields := make(map[string]string)
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, false
		}
		name, ok := tok.(string)
		if !ok {
			return nil, nil, false
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, nil, false
		}
		fields[name] = cell(value)
		order = append(order, name)
	}
	return fields, order, true
}

func cell(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

func outcomeRow(outcome core.UnitOutcome) []string {
	return []string{
		outcome.Unit,
		fmt.Sprintf("%d", outcome.Priority),
		string(outcome.Status),
		outcome.Duration.Round(time.Millisecond).String(),
		outcome.Error,
	}
}

var outcomeColumns = []string{"unit", "priority", "status", "duration", "error"}
