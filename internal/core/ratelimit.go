package core

import "time"

// RateLimitState captures shared rate limiting state for one upstream endpoint.
type RateLimitState struct {
	RequestCount  int
	WindowStart   time.Time
	BackoffUntil  *time.Time
	LastLimitedAt *time.Time
}
