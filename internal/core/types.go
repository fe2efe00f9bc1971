package core

import (
	"strings"
	"time"
)

// Subject identifies the user being analyzed. The core never validates its
// format; existence is checked upstream.
type Subject string

// String returns the trimmed subject identifier.
func (s Subject) String() string {
	return strings.TrimSpace(string(s))
}

// MetricResult maps a unique result key to a structured value.
type MetricResult map[string]any

// AggregateInsights is the union of all metric results produced in one run.
type AggregateInsights map[string]any

// Merge folds a metric result into the aggregate. Existing keys are
// overwritten.
func (a AggregateInsights) Merge(result MetricResult) {
	for key, value := range result {
		a[key] = value
	}
}

// Keys returns the aggregate keys in no particular order.
func (a AggregateInsights) Keys() []string {
	keys := make([]string, 0, len(a))
	for key := range a {
		keys = append(keys, key)
	}
	return keys
}

// OutcomeStatus reports how a metric unit finished within a run.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// UnitOutcome is the tagged result of a single metric unit execution.
type UnitOutcome struct {
	Unit     string        `json:"unit"`
	Priority int           `json:"priority"`
	Status   OutcomeStatus `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Result   MetricResult  `json:"-"`
}

// Succeeded reports whether the unit produced a result.
func (o UnitOutcome) Succeeded() bool {
	return o.Status == OutcomeSucceeded
}

// RunReport describes one orchestration run.
type RunReport struct {
	Subject     Subject           `json:"subject"`
	Insights    AggregateInsights `json:"insights"`
	Outcomes    []UnitOutcome     `json:"outcomes"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Failed returns the outcomes of units that failed or were skipped.
func (r *RunReport) Failed() []UnitOutcome {
	if r == nil {
		return nil
	}
	var failed []UnitOutcome
	for _, outcome := range r.Outcomes {
		if !outcome.Succeeded() {
			failed = append(failed, outcome)
		}
	}
	return failed
}
