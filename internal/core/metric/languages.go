package metric

import (
	"context"

	"go.uber.org/zap"

	"github.com/daniel-caso-github/users-insights/internal/core"
	"github.com/daniel-caso-github/users-insights/internal/core/engine"
)

// LanguagesKey is the result key of the languages unit.
const LanguagesKey = "most_used_languages"

// LanguageUsage is the number of bytes written in one language.
type LanguageUsage struct {
	Language string `json:"language"`
	Count    int64  `json:"count"`
}

// Languages ranks the languages used across the subject's repositories by
// the byte counts GitHub reports for each repository.
type Languages struct {
	base
}

// NewLanguages builds the languages unit.
func NewLanguages(client engine.Fetcher, priority Priority, opts Options) *Languages {
	return &Languages{base: newBase(LanguagesKey, priority, client, opts)}
}

// Compute implements engine.Unit.
func (u *Languages) Compute(ctx context.Context, subject core.Subject) (core.MetricResult, error) {
	usage := make([]LanguageUsage, 0, u.opts.TopN)

	repos, err := listPages[repository](ctx, &u.base, userPath(subject, "/repos"))
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		u.warn("no repositories found", zap.String("subject", subject.String()))
		return core.MetricResult{u.key: usage}, nil
	}

	totals := newCounter()
	err = forEach(ctx, &u.base, repos, func(ctx context.Context, repo repository) error {
		var languages map[string]int64
		found, err := u.client.Get(ctx, repoPath(subject, repo.Name, "/languages"), &languages)
		if err != nil || !found {
			return err
		}
		for language, bytes := range languages {
			totals.add(language, bytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, entry := range totals.top(u.opts.TopN) {
		usage = append(usage, LanguageUsage{Language: entry.name, Count: entry.count})
	}
	u.debug("languages ranked", zap.String("subject", subject.String()), zap.Int("repositories", len(repos)))
	return core.MetricResult{u.key: usage}, nil
}
