// Package metric holds the production analytics units run by the insights
// orchestrator. Every unit emits its key even when upstream has no data.
package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daniel-caso-github/users-insights/internal/core"
	"github.com/daniel-caso-github/users-insights/internal/core/engine"
)

// Defaults applied when Options leave a field at zero.
const (
	DefaultPerPage  = 30
	DefaultMaxPages = 3
	DefaultMonths   = 6
	DefaultTopN     = 3
	DefaultWorkers  = 4
)

// Options tunes pagination and fan-out for every unit.
type Options struct {
	PerPage  int
	MaxPages int
	Months   int
	TopN     int
	Workers  int

	Logger *logging.Logger
	Clock  func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PerPage <= 0 {
		o.PerPage = DefaultPerPage
	}
	if o.PerPage > 100 {
		o.PerPage = 100
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.Months <= 0 {
		o.Months = DefaultMonths
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// base carries what every unit shares.
type base struct {
	key      string
	priority int
	client   engine.Fetcher
	opts     Options
}

func newBase(key string, priority Priority, client engine.Fetcher, opts Options) base {
	return base{key: key, priority: int(priority), client: client, opts: opts.withDefaults()}
}

func (b *base) Key() string {
	return b.key
}

func (b *base) Priority() int {
	return b.priority
}

func (b *base) now() time.Time {
	if b.opts.Clock != nil {
		return b.opts.Clock().UTC()
	}
	return time.Now().UTC()
}

func (b *base) debug(msg string, fields ...zap.Field) {
	if b.opts.Logger != nil {
		b.opts.Logger.Debug(msg, append([]zap.Field{zap.String("unit", b.key)}, fields...)...)
	}
}

func (b *base) warn(msg string, fields ...zap.Field) {
	if b.opts.Logger != nil {
		b.opts.Logger.Warn(msg, append([]zap.Field{zap.String("unit", b.key)}, fields...)...)
	}
}

type repository struct {
	Name     string    `json:"name"`
	PushedAt timestamp `json:"pushed_at"`
}

// timestamp decodes an RFC 3339 string. Null, empty and malformed values
// leave it zero instead of failing the surrounding document.
type timestamp struct {
	time.Time
}

func (t *timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil || raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t.Time = parsed
	return nil
}

type searchPage[T any] struct {
	TotalCount int `json:"total_count"`
	Items      []T `json:"items"`
}

// listPages walks a paginated list endpoint until a short page, an empty
// page, or MaxPages.
func listPages[T any](ctx context.Context, b *base, path string) ([]T, error) {
	var all []T
	for page := 1; page <= b.opts.MaxPages; page++ {
		var batch []T
		found, err := b.client.Get(ctx, withPage(path, b.opts.PerPage, page), &batch)
		if err != nil {
			return all, err
		}
		if !found || len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		if len(batch) < b.opts.PerPage {
			break
		}
	}
	return all, nil
}

// searchPages walks a paginated search endpoint the same way as listPages.
func searchPages[T any](ctx context.Context, b *base, path string) ([]T, error) {
	var all []T
	for page := 1; page <= b.opts.MaxPages; page++ {
		var batch searchPage[T]
		found, err := b.client.Get(ctx, withPage(path, b.opts.PerPage, page), &batch)
		if err != nil {
			return all, err
		}
		if !found || len(batch.Items) == 0 {
			break
		}
		all = append(all, batch.Items...)
		if len(batch.Items) < b.opts.PerPage {
			break
		}
	}
	return all, nil
}

// searchTotal returns the total_count of a search query, zero when absent.
func searchTotal(ctx context.Context, b *base, qualifiers ...string) (int, error) {
	var page searchPage[struct{}]
	found, err := b.client.Get(ctx, searchPath(qualifiers...)+"&per_page=1", &page)
	if err != nil || !found {
		return 0, err
	}
	return page.TotalCount, nil
}

// forEach runs fn for every item with at most Workers calls in flight. The
// first error cancels the remaining calls.
func forEach[T any](ctx context.Context, b *base, items []T, fn func(ctx context.Context, item T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			return fn(ctx, item)
		})
	}
	return g.Wait()
}

func userPath(subject core.Subject, rest string) string {
	return "/users/" + url.PathEscape(subject.String()) + rest
}

func repoPath(subject core.Subject, repo string, rest string) string {
	return "/repos/" + url.PathEscape(subject.String()) + "/" + url.PathEscape(repo) + rest
}

// searchPath builds an issue search from qualifiers. They are joined with
// '+', which the search API reads as a space.
func searchPath(qualifiers ...string) string {
	return "/search/issues?q=" + strings.Join(qualifiers, "+")
}

// qualifier formats key:value with the value query-escaped.
func qualifier(key, value string) string {
	return key + ":" + url.QueryEscape(value)
}

func withPage(path string, perPage, page int) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sper_page=%d&page=%d", path, sep, perPage, page)
}

// counter accumulates counts safely across workers.
type counter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int64)}
}

func (c *counter) add(key string, n int64) {
	c.mu.Lock()
	c.counts[key] += n
	c.mu.Unlock()
}

type ranked struct {
	name  string
	count int64
}

// top returns the n largest counts, ties broken by name.
func (c *counter) top(n int) []ranked {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ranked, 0, len(c.counts))
	for name, count := range c.counts {
		out = append(out, ranked{name: name, count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
