package metrics

import (
	"strconv"
)

// Error metric names.
const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

// RecordError counts an error envelope sent to a client.
func RecordError(errorCode string, httpStatus int) {
	count(ErrorsTotalName, Labels{"error_code": errorCode, "http_status": strconv.Itoa(httpStatus)})
}

// RecordPanic counts a handler panic turned into a 500.
func RecordPanic() {
	count(PanicsTotalName, nil)
}

// RecordErrorByEndpoint counts an error envelope by route pattern, so
// /user-insights/{username} stays one series regardless of subject.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	count(ErrorsByEndpointName, Labels{"endpoint": endpoint, "error_code": errorCode})
}
