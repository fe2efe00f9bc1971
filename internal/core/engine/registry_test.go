package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daniel-caso-github/users-insights/internal/core"
)

type stubUnit struct {
	key      string
	priority int
	compute  func(ctx context.Context, subject core.Subject) (core.MetricResult, error)
}

func (s *stubUnit) Key() string   { return s.key }
func (s *stubUnit) Priority() int { return s.priority }

func (s *stubUnit) Compute(ctx context.Context, subject core.Subject) (core.MetricResult, error) {
	if s.compute != nil {
		return s.compute(ctx, subject)
	}
	return core.MetricResult{s.key: []any{}}, nil
}

func factoryFor(unit Unit) Factory {
	return func() Unit { return unit }
}

func TestRegistryDiscoverSortsStable(t *testing.T) {
	registry := NewRegistry(
		factoryFor(&stubUnit{key: "c", priority: 3}),
		factoryFor(&stubUnit{key: "b1", priority: 2}),
		factoryFor(&stubUnit{key: "a", priority: 1}),
		factoryFor(&stubUnit{key: "b2", priority: 2}),
		factoryFor(&stubUnit{key: "b3", priority: 2}),
	)

	plan, err := registry.Discover()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b1", "b2", "b3", "c"}, plan.Keys())
}

func TestRegistryInstantiatesOncePerFactory(t *testing.T) {
	calls := 0
	registry := NewRegistry(func() Unit {
		calls++
		return &stubUnit{key: "only", priority: 1}
	})

	plan, err := registry.Discover()
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, 1, calls)
}

func TestRegistryEmpty(t *testing.T) {
	_, err := NewRegistry().Discover()
	require.ErrorIs(t, err, core.ErrNoMetricUnits)

	var registry *Registry
	_, err = registry.Discover()
	require.ErrorIs(t, err, core.ErrNoMetricUnits)
}

func TestRegistryNilFactoryResult(t *testing.T) {
	registry := NewRegistry(func() Unit { return nil })
	_, err := registry.Discover()
	require.Error(t, err)
}

func TestRegistryRegisterIgnoresNil(t *testing.T) {
	registry := NewRegistry()
	registry.Register(nil, factoryFor(&stubUnit{key: "x", priority: 1}))
	require.Equal(t, 1, registry.Len())
}
