package metric

import "github.com/daniel-caso-github/users-insights/internal/core/engine"

// Priority orders units within a plan, lower first.
type Priority int

// Built-in unit priorities.
const (
	PriorityLanguages Priority = iota + 1
	PriorityPullRequests
	PriorityContributions
	PriorityActiveHours
)

// Factories returns the built-in unit factories in discovery order.
func Factories(client engine.Fetcher, opts Options) []engine.Factory {
	return []engine.Factory{
		func() engine.Unit { return NewLanguages(client, PriorityLanguages, opts) },
		func() engine.Unit { return NewPullRequests(client, PriorityPullRequests, opts) },
		func() engine.Unit { return NewContributions(client, PriorityContributions, opts) },
		func() engine.Unit { return NewActiveHours(client, PriorityActiveHours, opts) },
	}
}

// RegisterDefaults registers every built-in unit with registry.
func RegisterDefaults(registry *engine.Registry, client engine.Fetcher, opts Options) {
	registry.Register(Factories(client, opts)...)
}

// Keys lists the result keys of the built-in units in priority order.
func Keys() []string {
	return []string{LanguagesKey, PullRequestsKey, ContributionsKey, ActiveHoursKey}
}
