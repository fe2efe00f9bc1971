package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daniel-caso-github/users-insights/internal/core"
)

// RateLimitEntry is the stored state of one endpoint.
type RateLimitEntry struct {
	Endpoint string
	State    core.RateLimitState
}

// Active reports whether the entry is backing off at now.
func (e RateLimitEntry) Active(now time.Time) bool {
	return e.State.BackoffUntil != nil && now.Before(*e.State.BackoffUntil)
}

// RateLimitQuery selects endpoints for the rate-limit admin commands. At
// least one of All, Endpoint, Prefix or StaleBefore must be set; ActiveAt
// narrows any of them.
type RateLimitQuery struct {
	All      bool
	Endpoint string
	Prefix   string

	// ActiveAt keeps endpoints still backing off at this instant.
	ActiveAt time.Time

	// StaleBefore keeps endpoints whose window opened before this instant
	// and that are not backing off at it.
	StaleBefore time.Time
}

// ErrEmptyRateLimitQuery is returned for a query that selects nothing.
var ErrEmptyRateLimitQuery = errors.New("must specify --all, --endpoint, --prefix, or --stale")

func (q RateLimitQuery) Validate() error {
	if q.All || strings.TrimSpace(q.Endpoint) != "" || strings.TrimSpace(q.Prefix) != "" || !q.StaleBefore.IsZero() {
		return nil
	}
	return ErrEmptyRateLimitQuery
}

// likeEscaper protects LIKE wildcards that appear in endpoint names.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (q RateLimitQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var (
		conds []string
		args  []any
	)
	if endpoint := strings.TrimSpace(q.Endpoint); endpoint != "" {
		conds = append(conds, "endpoint = ?")
		args = append(args, endpoint)
	}
	if prefix := strings.TrimSpace(q.Prefix); prefix != "" {
		conds = append(conds, `endpoint LIKE ? ESCAPE '\'`)
		args = append(args, likeEscaper.Replace(prefix)+"%")
	}
	if !q.ActiveAt.IsZero() {
		conds = append(conds, "backoff_until > ?")
		args = append(args, q.ActiveAt.UTC().UnixMilli())
	}
	if !q.StaleBefore.IsZero() {
		cutoff := q.StaleBefore.UTC().UnixMilli()
		conds = append(conds, "window_start < ? AND (backoff_until IS NULL OR backoff_until <= ?)")
		args = append(args, cutoff, cutoff)
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

// ListRateLimits returns the matching entries ordered by endpoint.
func (s *Store) ListRateLimits(ctx context.Context, q RateLimitQuery) ([]RateLimitEntry, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT endpoint, request_count, window_start, backoff_until, last_limited_at
		FROM rate_limits `+where+` ORDER BY endpoint`, args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []RateLimitEntry{}
	for rows.Next() {
		var (
			endpoint string
			row      rateLimitRow
		)
		if err := rows.Scan(&endpoint, &row.requestCount, &row.windowStart, &row.backoffUntil, &row.lastLimitedAt); err != nil {
			return nil, fmt.Errorf("scan rate limits: %w", err)
		}
		entries = append(entries, RateLimitEntry{Endpoint: endpoint, State: row.state()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	return entries, nil
}

// CountRateLimits returns how many entries match.
func (s *Store) CountRateLimits(ctx context.Context, q RateLimitQuery) (int, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM rate_limits `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limits: %w", err)
	}
	return count, nil
}

// ResetRateLimits deletes the matching entries. Limiters then treat those
// endpoints as fresh windows.
func (s *Store) ResetRateLimits(ctx context.Context, q RateLimitQuery) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM rate_limits `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset rate limits: %w", err)
	}
	return affected, nil
}
