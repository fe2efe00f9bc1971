package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterWindow(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := &RateLimiter{
		Store: NewMemoryRateStore(),
		Limits: map[string]RateLimit{
			"api.example": {RequestsPerWindow: 1, WindowDuration: time.Minute},
		},
		Clock: func() time.Time { return clock },
	}

	allowed, _, err := limiter.Allow(context.Background(), "api.example")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, limiter.Record(context.Background(), "api.example"))

	allowed, wait, err := limiter.Allow(context.Background(), "api.example")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, time.Minute, wait)

	clock = clock.Add(61 * time.Second)
	allowed, _, err = limiter.Allow(context.Background(), "api.example")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRateLimiterUnknownEndpointHasNoWindow(t *testing.T) {
	limiter := NewRateLimiter(nil)
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Record(context.Background(), "ghe.internal"))
	}

	allowed, wait, err := limiter.Allow(context.Background(), "ghe.internal")
	require.NoError(t, err)
	require.True(t, allowed)
	require.Zero(t, wait)
}

func TestRateLimiterRecordReset(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := &RateLimiter{
		Store: NewMemoryRateStore(),
		Clock: func() time.Time { return now },
	}

	require.NoError(t, limiter.RecordReset(context.Background(), "api.example", now.Add(30*time.Second)))

	allowed, wait, err := limiter.Allow(context.Background(), "api.example")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 30*time.Second, wait)

	// An earlier reset reported by another caller must not shorten the backoff.
	require.NoError(t, limiter.RecordReset(context.Background(), "api.example", now.Add(5*time.Second)))
	_, wait, err = limiter.Allow(context.Background(), "api.example")
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, wait)

	now = now.Add(31 * time.Second)
	allowed, _, err = limiter.Allow(context.Background(), "api.example")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRateLimiterSharedAcrossGoroutines(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := &RateLimiter{
		Store: NewMemoryRateStore(),
		Clock: func() time.Time { return now },
	}

	require.NoError(t, limiter.RecordReset(context.Background(), "api.example", now.Add(time.Minute)))

	var wg sync.WaitGroup
	waits := make([]time.Duration, 8)
	for i := range waits {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, wait, err := limiter.Allow(context.Background(), "api.example")
			require.NoError(t, err)
			waits[i] = wait
		}(i)
	}
	wg.Wait()

	for _, wait := range waits {
		require.Equal(t, time.Minute, wait)
	}
}

func TestRateLimiterMargin(t *testing.T) {
	limiter := &RateLimiter{
		Store: NewMemoryRateStore(),
		Limits: map[string]RateLimit{
			"api.example": {RequestsPerWindow: 10, WindowDuration: time.Minute},
		},
		Clock: func() time.Time { return time.Now().UTC() },
	}

	limiter.ApplySafetyMargin(0.9)
	limit, ok := limiter.getLimit("api.example")
	require.True(t, ok)
	require.Equal(t, 9, limit.RequestsPerWindow)
}

func TestRateLimiterOverrides(t *testing.T) {
	limiter := NewRateLimiter(nil)
	limiter.ApplyOverrides(map[string]int{"api.github.com/search": 10, " ": 5, "bad": 0})

	limit, ok := limiter.getLimit("api.github.com/search")
	require.True(t, ok)
	require.Equal(t, 10, limit.RequestsPerWindow)
	require.Equal(t, time.Minute, limit.WindowDuration)

	_, ok = limiter.getLimit("bad")
	require.False(t, ok)

	limit, ok = limiter.getLimit("api.github.com")
	require.True(t, ok)
	require.Equal(t, 5000, limit.RequestsPerWindow)
}
