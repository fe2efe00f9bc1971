package metrics

import (
	"time"
)

// Service metric names.
const (
	OperationsTotal       = "app_operations_total"
	OperationsErrorsTotal = "app_operations_errors_total"
	ActiveConnections     = "app_active_connections"
	HealthCheckTotal      = "app_health_check_total"
	HealthCheckDuration   = "app_health_check_duration_ms"
	ServerStartTime       = "app_server_start_time_seconds"
)

// RecordOperation counts one CLI operation ("insights", "batch") by outcome.
func RecordOperation(operation string, success bool) {
	count(OperationsTotal, Labels{
		"operation": operation,
		"status":    choose(success, "success", "failure"),
	})
}

// RecordOperationError counts a failed operation by classified cause, e.g.
// subject_not_found or upstream_exhausted.
func RecordOperationError(operation string, errorType string) {
	count(OperationsErrorsTotal, Labels{"operation": operation, "error_type": errorType})
}

// SetActiveConnections publishes the number of open HTTP connections.
func SetActiveConnections(n int64) {
	gauge(ActiveConnections, float64(n), nil)
}

// RecordHealthCheck counts and times one health checker run.
func RecordHealthCheck(check string, healthy bool, duration time.Duration) {
	count(HealthCheckTotal, Labels{"check": check, "status": choose(healthy, "healthy", "unhealthy")})
	observe(HealthCheckDuration, duration, Labels{"check": check})
}

// SetServerStartTime publishes when serve started, as Unix seconds.
func SetServerStartTime(unix int64) {
	gauge(ServerStartTime, float64(unix), nil)
}
