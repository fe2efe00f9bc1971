package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daniel-caso-github/users-insights/internal/core"
)

// GetRateLimit returns stored rate limit state for an endpoint.
func (s *Store) GetRateLimit(ctx context.Context, endpoint string) (*core.RateLimitState, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	var row rateLimitRow
	err = s.DB.QueryRowContext(ctx, `
		SELECT request_count, window_start, backoff_until, last_limited_at
		FROM rate_limits
		WHERE endpoint = ?
	`, endpoint).Scan(&row.requestCount, &row.windowStart, &row.backoffUntil, &row.lastLimitedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}

	state := row.state()
	return &state, nil
}

// UpdateRateLimit persists rate limit state for an endpoint.
func (s *Store) UpdateRateLimit(ctx context.Context, endpoint string, state *core.RateLimitState) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errors.New("endpoint is required")
	}
	if state == nil {
		return errors.New("rate limit state is required")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO rate_limits (endpoint, request_count, window_start, backoff_until, last_limited_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			request_count = excluded.request_count,
			window_start = excluded.window_start,
			backoff_until = excluded.backoff_until,
			last_limited_at = excluded.last_limited_at
	`, endpoint, state.RequestCount, state.WindowStart.UTC().UnixMilli(), nullMillis(state.BackoffUntil), nullMillis(state.LastLimitedAt))
	if err != nil {
		return fmt.Errorf("store rate limit: %w", err)
	}

	return nil
}

// ErrNotOpen is returned by operations on a store that was never opened or
// has been closed.
var ErrNotOpen = errors.New("store is not initialized")

// ready checks the store is usable and defaults a nil context.
func (s *Store) ready(ctx context.Context) (context.Context, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotOpen
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, nil
}

type rateLimitRow struct {
	requestCount  int
	windowStart   int64
	backoffUntil  sql.NullInt64
	lastLimitedAt sql.NullInt64
}

func (r rateLimitRow) state() core.RateLimitState {
	return core.RateLimitState{
		RequestCount:  r.requestCount,
		WindowStart:   time.UnixMilli(r.windowStart).UTC(),
		BackoffUntil:  timeFromMillis(r.backoffUntil),
		LastLimitedAt: timeFromMillis(r.lastLimitedAt),
	}
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: value.UTC().UnixMilli(), Valid: true}
}

func timeFromMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := time.UnixMilli(value.Int64).UTC()
	return &t
}
