package metrics

import (
	"strconv"
	"time"
)

// Insights metric names.
const (
	UpstreamRequestsTotal    = "upstream_requests_total"
	UpstreamRateLimitedTotal = "upstream_rate_limited_total"
	UpstreamRateLimitWait    = "upstream_rate_limit_wait_ms"
	UnitOutcomesTotal        = "insights_unit_outcomes_total"
	UnitDuration             = "insights_unit_duration_ms"
	RunsTotal                = "insights_runs_total"
	RunDuration              = "insights_run_duration_ms"
)

// RecordUpstreamRequest records one upstream response by endpoint and status.
// Status 0 marks a transport failure.
func RecordUpstreamRequest(endpoint string, status int) {
	count(UpstreamRequestsTotal, Labels{"endpoint": endpoint, "status": strconv.Itoa(status)})
}

// RecordRateLimitWait records a suspension caused by upstream quota.
func RecordRateLimitWait(endpoint string, wait time.Duration) {
	labels := Labels{"endpoint": endpoint}
	count(UpstreamRateLimitedTotal, labels)
	observe(UpstreamRateLimitWait, wait, labels)
}

// RecordUnitOutcome records how a metric unit finished.
func RecordUnitOutcome(unit string, status string, duration time.Duration) {
	count(UnitOutcomesTotal, Labels{"unit": unit, "status": status})
	observe(UnitDuration, duration, Labels{"unit": unit})
}

// RecordRun records a whole orchestration run. Result is one of "ok",
// "partial", "not_found" or "error".
func RecordRun(result string, duration time.Duration) {
	count(RunsTotal, Labels{"result": result})
	observe(RunDuration, duration, nil)
}
