package metric

import (
	"context"

	"go.uber.org/zap"

	"github.com/daniel-caso-github/users-insights/internal/core"
	"github.com/daniel-caso-github/users-insights/internal/core/engine"
)

// PullRequestsKey is the result key of the pull request unit.
const PullRequestsKey = "repos_with_more_prs"

// RepositoryPRs is the number of merged pull requests in one repository.
type RepositoryPRs struct {
	Repository string `json:"repository"`
	Count      int64  `json:"count"`
}

// PullRequests ranks repositories by the subject's merged pull requests.
type PullRequests struct {
	base
}

// NewPullRequests builds the pull request unit.
func NewPullRequests(client engine.Fetcher, priority Priority, opts Options) *PullRequests {
	return &PullRequests{base: newBase(PullRequestsKey, priority, client, opts)}
}

type searchIssue struct {
	RepositoryURL string `json:"repository_url"`
	CreatedAt     string `json:"created_at"`
}

// Compute implements engine.Unit.
func (u *PullRequests) Compute(ctx context.Context, subject core.Subject) (core.MetricResult, error) {
	ranking := make([]RepositoryPRs, 0, u.opts.TopN)

	items, err := searchPages[searchIssue](ctx, &u.base, searchPath(
		qualifier("author", subject.String()),
		"type:pr",
		"is:merged",
	))
	if err != nil {
		return nil, err
	}

	counts := newCounter()
	for _, item := range items {
		if item.RepositoryURL == "" {
			continue
		}
		counts.add(item.RepositoryURL, 1)
	}

	for _, entry := range counts.top(u.opts.TopN) {
		ranking = append(ranking, RepositoryPRs{Repository: entry.name, Count: entry.count})
	}
	u.debug("merged pull requests ranked", zap.String("subject", subject.String()), zap.Int("pull_requests", len(items)))
	return core.MetricResult{u.key: ranking}, nil
}
