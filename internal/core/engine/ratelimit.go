package engine

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/daniel-caso-github/users-insights/internal/core"
)

// RateLimiter coordinates upstream quota across every caller sharing a
// credential. A reset instant observed by one goroutine is honored by all of
// them through the shared store.
type RateLimiter struct {
	Store  RateLimitStore
	Limits map[string]RateLimit
	Clock  func() time.Time
	Margin float64

	mu sync.Mutex
}

// RateLimit represents a rate limit window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// RateLimitStore stores rate limit state.
type RateLimitStore interface {
	GetRateLimit(ctx context.Context, endpoint string) (*core.RateLimitState, error)
	UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error
}

// DefaultLimits mirrors the documented authenticated GitHub quotas. Search has
// its own bucket.
var DefaultLimits = map[string]RateLimit{
	"api.github.com":        {RequestsPerWindow: 5000, WindowDuration: time.Hour},
	"api.github.com/search": {RequestsPerWindow: 30, WindowDuration: time.Minute},
}

// NewRateLimiter returns a limiter backed by store, or by an in-memory store
// when store is nil.
func NewRateLimiter(store RateLimitStore) *RateLimiter {
	if store == nil {
		store = NewMemoryRateStore()
	}
	return &RateLimiter{Store: store}
}

// Allow checks if a request is allowed and returns wait duration if not.
func (r *RateLimiter) Allow(ctx context.Context, endpoint string) (bool, time.Duration, error) {
	if r == nil || r.Store == nil {
		return true, 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.Store.GetRateLimit(ctx, endpoint)
	if err != nil {
		return true, 0, err
	}
	if state == nil {
		state = &core.RateLimitState{WindowStart: r.now()}
	}

	now := r.now()
	if state.BackoffUntil != nil && now.Before(*state.BackoffUntil) {
		return false, state.BackoffUntil.Sub(now), nil
	}

	limit, ok := r.getLimit(endpoint)
	if !ok {
		return true, 0, nil
	}

	windowEnd := state.WindowStart.Add(limit.WindowDuration)
	if now.After(windowEnd) {
		return true, 0, nil
	}

	if state.RequestCount >= limit.RequestsPerWindow {
		return false, windowEnd.Sub(now), nil
	}

	return true, 0, nil
}

// Record increments the request count for an endpoint.
func (r *RateLimiter) Record(ctx context.Context, endpoint string) error {
	if r == nil || r.Store == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.Store.GetRateLimit(ctx, endpoint)
	if err != nil {
		return err
	}
	if state == nil {
		state = &core.RateLimitState{WindowStart: r.now()}
	}

	now := r.now()
	if limit, ok := r.getLimit(endpoint); ok && now.After(state.WindowStart.Add(limit.WindowDuration)) {
		state.RequestCount = 0
		state.WindowStart = now
	}

	state.RequestCount++
	if state.WindowStart.IsZero() {
		state.WindowStart = now
	}

	return r.Store.UpdateRateLimit(ctx, endpoint, state)
}

// RecordReset applies a backoff until the reset instant reported upstream.
// An earlier instant never shortens a backoff already in place.
func (r *RateLimiter) RecordReset(ctx context.Context, endpoint string, until time.Time) error {
	if r == nil || r.Store == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.Store.GetRateLimit(ctx, endpoint)
	if err != nil {
		return err
	}
	if state == nil {
		state = &core.RateLimitState{WindowStart: r.now()}
	}

	now := r.now()
	state.LastLimitedAt = &now
	if until.After(now) && (state.BackoffUntil == nil || until.After(*state.BackoffUntil)) {
		until = until.UTC()
		state.BackoffUntil = &until
	}

	return r.Store.UpdateRateLimit(ctx, endpoint, state)
}

// ApplyOverrides merges per-endpoint request overrides (per minute).
func (r *RateLimiter) ApplyOverrides(overrides map[string]int) {
	if r == nil || len(overrides) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Limits == nil {
		r.Limits = make(map[string]RateLimit, len(DefaultLimits))
		for key, limit := range DefaultLimits {
			r.Limits[key] = limit
		}
	}

	for endpoint, value := range overrides {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" || value <= 0 {
			continue
		}
		r.Limits[endpoint] = RateLimit{
			RequestsPerWindow: value,
			WindowDuration:    time.Minute,
		}
	}
}

// ApplySafetyMargin adjusts the effective request limits by a ratio (0-1].
func (r *RateLimiter) ApplySafetyMargin(margin float64) {
	if r == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		return
	}
	r.mu.Lock()
	r.Margin = margin
	r.mu.Unlock()
}

// getLimit reports the window for endpoint. Endpoints without a configured
// window are governed by upstream reset instants alone.
func (r *RateLimiter) getLimit(endpoint string) (RateLimit, bool) {
	limits := r.Limits
	if limits == nil {
		limits = DefaultLimits
	}

	limit, ok := limits[endpoint]
	if !ok {
		return RateLimit{}, false
	}
	return r.applyMargin(limit), true
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *RateLimiter) applyMargin(limit RateLimit) RateLimit {
	if r == nil || r.Margin <= 0 || r.Margin > 1 {
		return limit
	}
	adjusted := int(math.Floor(float64(limit.RequestsPerWindow) * r.Margin))
	if adjusted < 1 {
		adjusted = 1
	}
	limit.RequestsPerWindow = adjusted
	return limit
}

// MemoryRateStore keeps rate limit state in process memory.
type MemoryRateStore struct {
	mu    sync.Mutex
	state map[string]core.RateLimitState
}

// NewMemoryRateStore returns an empty in-memory store.
func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{state: make(map[string]core.RateLimitState)}
}

// GetRateLimit returns a copy of the stored state, or nil when none exists.
func (m *MemoryRateStore) GetRateLimit(_ context.Context, endpoint string) (*core.RateLimitState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.state[endpoint]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// UpdateRateLimit replaces the stored state for endpoint.
func (m *MemoryRateStore) UpdateRateLimit(_ context.Context, endpoint string, state *core.RateLimitState) error {
	if state == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		m.state = make(map[string]core.RateLimitState)
	}
	m.state[endpoint] = *state
	return nil
}
