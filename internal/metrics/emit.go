package metrics

import (
	"time"

	"github.com/daniel-caso-github/users-insights/internal/observability"
)

// Labels names the dimensions of one sample.
type Labels = map[string]string

// count, gauge and observe write to the active telemetry system and do
// nothing while telemetry is off.
func count(name string, labels Labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Counter(name, 1, labels)
	}
}

func gauge(name string, value float64, labels Labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Gauge(name, value, labels)
	}
}

func observe(name string, d time.Duration, labels Labels) {
	if sys := observability.TelemetrySystem; sys != nil {
		_ = sys.Histogram(name, d, labels)
	}
}

func choose(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
