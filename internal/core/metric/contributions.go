package metric

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daniel-caso-github/users-insights/internal/core"
	"github.com/daniel-caso-github/users-insights/internal/core/engine"
)

// ContributionsKey is the result key of the monthly contributions unit.
const ContributionsKey = "monthly_contributions"

// MonthlyContribution counts one calendar month of activity.
type MonthlyContribution struct {
	Month        string `json:"month"`
	PullRequests int    `json:"pull_requests"`
	Issues       int    `json:"issues"`
	Commits      int    `json:"commits"`
}

// Contributions counts pull requests, issues and commits per calendar month,
// newest month first.
type Contributions struct {
	base
}

// NewContributions builds the monthly contributions unit.
func NewContributions(client engine.Fetcher, priority Priority, opts Options) *Contributions {
	return &Contributions{base: newBase(ContributionsKey, priority, client, opts)}
}

type commitEntry struct {
	Commit struct {
		Committer struct {
			Date timestamp `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

type monthWindow struct {
	label string
	start time.Time
	end   time.Time
}

// Compute implements engine.Unit.
func (u *Contributions) Compute(ctx context.Context, subject core.Subject) (core.MetricResult, error) {
	now := u.now()
	windows := lastMonths(now, u.opts.Months)
	contributions := make([]MonthlyContribution, len(windows))
	for i, w := range windows {
		contributions[i] = MonthlyContribution{Month: w.label}
	}

	author := qualifier("author", subject.String())
	for i, w := range windows {
		created := "created:" + w.start.Format(time.DateOnly) + ".." + w.end.Format(time.DateOnly)

		prs, err := searchTotal(ctx, &u.base, author, "type:pr", created)
		if err != nil {
			return nil, err
		}
		issues, err := searchTotal(ctx, &u.base, author, "type:issue", created)
		if err != nil {
			return nil, err
		}
		contributions[i].PullRequests = prs
		contributions[i].Issues = issues
	}

	since := windows[len(windows)-1].start
	repos, err := listPages[repository](ctx, &u.base, userPath(subject, "/repos?sort=pushed"))
	if err != nil {
		return nil, err
	}

	active := make([]repository, 0, len(repos))
	for _, repo := range repos {
		if !repo.PushedAt.IsZero() && !repo.PushedAt.Before(since) {
			active = append(active, repo)
		}
	}
	if len(active) == 0 {
		u.debug("no recently pushed repositories", zap.String("subject", subject.String()))
		return core.MetricResult{u.key: contributions}, nil
	}

	// Each month pages on its own so MaxPages bounds a single month.
	var mu sync.Mutex
	err = forEach(ctx, &u.base, active, func(ctx context.Context, repo repository) error {
		for i, w := range windows {
			query := "/commits?author=" + url.QueryEscape(subject.String()) +
				"&since=" + w.start.Format(time.RFC3339) +
				"&until=" + monthEnd(w).Format(time.RFC3339)
			commits, err := listPages[commitEntry](ctx, &u.base, repoPath(subject, repo.Name, query))
			if err != nil {
				return err
			}
			count := 0
			for _, commit := range commits {
				if !commit.Commit.Committer.Date.IsZero() {
					count++
				}
			}
			mu.Lock()
			contributions[i].Commits += count
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.debug("monthly contributions counted",
		zap.String("subject", subject.String()),
		zap.Int("months", len(windows)),
		zap.Int("repositories", len(active)),
	)
	return core.MetricResult{u.key: contributions}, nil
}

// monthEnd is the last second of the window's final day.
func monthEnd(w monthWindow) time.Time {
	return w.end.Add(24*time.Hour - time.Second)
}

// lastMonths returns n calendar months ending with the month of now, newest
// first.
func lastMonths(now time.Time, n int) []monthWindow {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	windows := make([]monthWindow, 0, n)
	for i := 0; i < n; i++ {
		start := first.AddDate(0, -i, 0)
		windows = append(windows, monthWindow{
			label: start.Format("2006-01"),
			start: start,
			end:   start.AddDate(0, 1, -1),
		})
	}
	return windows
}
