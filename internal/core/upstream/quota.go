package upstream

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerRetryAfter = "Retry-After"
)

// Quota is the rate limit signal derived from a single response. It is never
// stored; every response is parsed afresh.
type Quota struct {
	// Present is true when the response carried remaining-quota metadata.
	Present   bool
	Remaining int
	// Reset is when the quota refills. It defaults to the response time.
	Reset time.Time
}

// Exhausted reports whether the response announced zero remaining requests.
func (q Quota) Exhausted() bool {
	return q.Present && q.Remaining <= 0
}

func parseQuota(resp *http.Response, now time.Time) Quota {
	quota := Quota{Reset: now}
	if resp == nil || resp.Header == nil {
		return quota
	}

	remaining, ok := resp.Header[http.CanonicalHeaderKey(headerRemaining)]
	if !ok || len(remaining) == 0 {
		return quota
	}
	quota.Present = true
	quota.Remaining = -1
	if value, err := strconv.Atoi(strings.TrimSpace(remaining[0])); err == nil {
		quota.Remaining = value
	}

	if reset := strings.TrimSpace(resp.Header.Get(headerReset)); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			quota.Reset = time.Unix(epoch, 0).UTC()
			return quota
		}
	}
	if wait := retryAfter(resp, now); wait > 0 {
		quota.Reset = now.Add(wait)
	}
	return quota
}

func retryAfter(resp *http.Response, now time.Time) time.Duration {
	retry := strings.TrimSpace(resp.Header.Get(headerRetryAfter))
	if retry == "" {
		return 0
	}
	if seconds, err := time.ParseDuration(retry + "s"); err == nil {
		return seconds
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		return parsed.Sub(now)
	}
	return 0
}

// waitUntil returns how long to suspend before retrying, never less than
// MinRateLimitWait.
func waitUntil(reset time.Time, now time.Time) time.Duration {
	wait := reset.Sub(now)
	if wait < MinRateLimitWait {
		return MinRateLimitWait
	}
	return wait
}
