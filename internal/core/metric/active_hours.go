package metric

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/daniel-caso-github/users-insights/internal/core"
	"github.com/daniel-caso-github/users-insights/internal/core/engine"
)

// ActiveHoursKey is the result key of the active hours unit.
const ActiveHoursKey = "hours_more_activity"

// Day periods, in output order.
const (
	PeriodMorning   = "morning"
	PeriodAfternoon = "afternoon"
	PeriodEvening   = "evening"
)

const (
	recentRepositories   = 10
	sampledRepositories  = 5
	commitsPerRepository = 5
)

// PeriodActivity counts activity timestamps within one part of the day.
type PeriodActivity struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

// ActiveHours buckets the subject's public events, authored issues and pull
// requests, and recent commits into morning, afternoon and evening (UTC).
type ActiveHours struct {
	base
}

// NewActiveHours builds the active hours unit.
func NewActiveHours(client engine.Fetcher, priority Priority, opts Options) *ActiveHours {
	return &ActiveHours{base: newBase(ActiveHoursKey, priority, client, opts)}
}

type timestamped struct {
	CreatedAt timestamp `json:"created_at"`
}

// Compute implements engine.Unit.
func (u *ActiveHours) Compute(ctx context.Context, subject core.Subject) (core.MetricResult, error) {
	var stamps []time.Time

	var events []timestamped
	found, err := u.client.Get(ctx, userPath(subject, "/events/public"), &events)
	if err != nil {
		return nil, err
	}
	if found {
		stamps = appendCreated(stamps, events)
	}

	var issues searchPage[timestamped]
	found, err = u.client.Get(ctx, searchPath(qualifier("author", subject.String())), &issues)
	if err != nil {
		return nil, err
	}
	if found {
		stamps = appendCreated(stamps, issues.Items)
	}

	commits, err := u.recentCommits(ctx, subject)
	if err != nil {
		return nil, err
	}
	stamps = append(stamps, commits...)

	activity := bucketByPeriod(stamps)
	u.debug("activity bucketed", zap.String("subject", subject.String()), zap.Int("timestamps", len(stamps)))
	return core.MetricResult{u.key: activity}, nil
}

func (u *ActiveHours) recentCommits(ctx context.Context, subject core.Subject) ([]time.Time, error) {
	var repos []repository
	found, err := u.client.Get(ctx, withPage(userPath(subject, "/repos"), recentRepositories, 1), &repos)
	if err != nil || !found {
		return nil, err
	}
	if len(repos) > sampledRepositories {
		repos = repos[:sampledRepositories]
	}

	var stamps []time.Time
	query := "/commits?author=" + url.QueryEscape(subject.String())
	for _, repo := range repos {
		var commits []commitEntry
		found, err := u.client.Get(ctx, withPage(repoPath(subject, repo.Name, query), commitsPerRepository, 1), &commits)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		for _, commit := range commits {
			if date := commit.Commit.Committer.Date; !date.IsZero() {
				stamps = append(stamps, date.Time)
			}
		}
	}
	return stamps, nil
}

func appendCreated(stamps []time.Time, items []timestamped) []time.Time {
	for _, item := range items {
		if !item.CreatedAt.IsZero() {
			stamps = append(stamps, item.CreatedAt.Time)
		}
	}
	return stamps
}

func bucketByPeriod(stamps []time.Time) []PeriodActivity {
	var morning, afternoon, evening int
	for _, stamp := range stamps {
		switch hour := stamp.UTC().Hour(); {
		case hour < 12:
			morning++
		case hour < 18:
			afternoon++
		default:
			evening++
		}
	}
	return []PeriodActivity{
		{Period: PeriodMorning, Count: morning},
		{Period: PeriodAfternoon, Count: afternoon},
		{Period: PeriodEvening, Count: evening},
	}
}
