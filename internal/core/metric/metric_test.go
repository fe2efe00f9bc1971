package metric

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daniel-caso-github/users-insights/internal/core"
)

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  []string
}

func newFakeFetcher(bodies map[string]string) *fakeFetcher {
	return &fakeFetcher{bodies: bodies, errs: map[string]error{}}
}

func (f *fakeFetcher) Get(_ context.Context, path string, out any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	if err, ok := f.errs[path]; ok {
		return false, err
	}
	body, ok := f.bodies[path]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return false, nil
	}
	return true, nil
}

func (f *fakeFetcher) called(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, call := range f.calls {
		if call == path {
			return true
		}
	}
	return false
}

var fixedNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		PerPage:  2,
		MaxPages: 3,
		TopN:     3,
		Workers:  2,
		Months:   2,
		Clock:    func() time.Time { return fixedNow },
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{PerPage: 500}.withDefaults()
	require.Equal(t, 100, opts.PerPage)
	require.Equal(t, DefaultMaxPages, opts.MaxPages)
	require.Equal(t, DefaultMonths, opts.Months)
	require.Equal(t, DefaultTopN, opts.TopN)
	require.Equal(t, DefaultWorkers, opts.Workers)
}

func TestPathHelpers(t *testing.T) {
	require.Equal(t, "/users/alice/repos?per_page=30&page=2", withPage(userPath("alice", "/repos"), 30, 2))
	require.Equal(t, "/users/a%2Fb", userPath("a/b", ""))
	require.Equal(t, "/repos/alice/my%20repo/languages", repoPath("alice", "my repo", "/languages"))
	require.Equal(t, "/search/issues?q=author:alice+type:pr", searchPath(qualifier("author", "alice"), "type:pr"))
	require.Equal(t, "author:a%26b", qualifier("author", "a&b"))
}

func TestCounterTopBreaksTiesByName(t *testing.T) {
	c := newCounter()
	c.add("b", 2)
	c.add("a", 2)
	c.add("c", 5)
	c.add("d", 1)

	top := c.top(3)
	require.Equal(t, []ranked{{"c", 5}, {"a", 2}, {"b", 2}}, top)
}

func TestRegisteredUnitsFollowPriority(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	factories := Factories(fetcher, testOptions())
	require.Len(t, factories, 4)

	keys := make([]string, 0, len(factories))
	priorities := make([]int, 0, len(factories))
	for _, factory := range factories {
		unit := factory()
		keys = append(keys, unit.Key())
		priorities = append(priorities, unit.Priority())
	}
	require.Equal(t, Keys(), keys)
	require.Equal(t, []int{1, 2, 3, 4}, priorities)
}

func TestUnitsEmitKeysWithoutData(t *testing.T) {
	fetcher := newFakeFetcher(map[string]string{})
	opts := testOptions()

	for _, factory := range Factories(fetcher, opts) {
		unit := factory()
		t.Run(unit.Key(), func(t *testing.T) {
			result, err := unit.Compute(context.Background(), core.Subject("nobody"))
			require.NoError(t, err)
			require.Contains(t, result, unit.Key())

			encoded, err := json.Marshal(result[unit.Key()])
			require.NoError(t, err)
			require.NotEqual(t, "null", string(encoded))
		})
	}
}
