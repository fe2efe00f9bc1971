package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daniel-caso-github/users-insights/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func TestInsightsMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordUpstreamRequest("api.github.com", 200)
	RecordRateLimitWait("api.github.com/search", 2*time.Second)
	RecordUnitOutcome("most_used_languages", "succeeded", 30*time.Millisecond)
	RecordRun("partial", time.Second)

	for _, name := range []string{
		UpstreamRequestsTotal,
		UpstreamRateLimitedTotal,
		UpstreamRateLimitWait,
		UnitOutcomesTotal,
		UnitDuration,
		RunsTotal,
		RunDuration,
	} {
		assert.Greater(t, collector.CountMetricsByName(name), 0, name)
	}
}

func TestAppMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordOperation("insights", true)
	RecordOperationError("insights", "timeout")
	RecordHealthCheck("config", false, time.Millisecond)
	SetActiveConnections(3)
	SetServerStartTime(time.Now().Unix())

	assert.Greater(t, collector.CountMetricsByName(OperationsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(OperationsErrorsTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(HealthCheckTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(HealthCheckDuration), 0)
	assert.Greater(t, collector.CountMetricsByName(ActiveConnections), 0)
	assert.Greater(t, collector.CountMetricsByName(ServerStartTime), 0)
}

func TestMetricsWithTelemetryDisabled(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	assert.NotPanics(t, func() {
		RecordUpstreamRequest("api.github.com", 0)
		RecordRun("error", 0)
		RecordError("INTERNAL_ERROR", 500)
		RecordPanic()
	})
}

func TestErrorMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordError("SUBJECT_NOT_FOUND", 404)
	RecordErrorByEndpoint("/user-insights/{username}", "SUBJECT_NOT_FOUND")
	RecordPanic()

	assert.Greater(t, collector.CountMetricsByName(ErrorsTotalName), 0)
	assert.Greater(t, collector.CountMetricsByName(ErrorsByEndpointName), 0)
	assert.Greater(t, collector.CountMetricsByName(PanicsTotalName), 0)
}

func TestChoose(t *testing.T) {
	assert.Equal(t, "success", choose(true, "success", "failure"))
	assert.Equal(t, "unhealthy", choose(false, "healthy", "unhealthy"))
}
