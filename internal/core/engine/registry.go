package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/daniel-caso-github/users-insights/internal/core"
)

// Unit is one self-contained analytics computation against a subject.
//
// Compute must not fail for "no data" conditions; it returns its key with an
// empty or zero payload instead. Units never depend on each other.
type Unit interface {
	// Key is the unit's result key and identity in logs.
	Key() string
	// Priority orders execution, lower first.
	Priority() int
	Compute(ctx context.Context, subject core.Subject) (core.MetricResult, error)
}

// Factory builds one unit instance.
type Factory func() Unit

// Plan is a priority-ordered list of units. It is immutable once built.
type Plan []Unit

// Keys returns the result keys in execution order.
func (p Plan) Keys() []string {
	keys := make([]string, 0, len(p))
	for _, unit := range p {
		keys = append(keys, unit.Key())
	}
	return keys
}

// Registry collects unit factories. Units are added by registering factories;
// the registry itself never changes to accommodate a new unit.
type Registry struct {
	mu        sync.Mutex
	factories []Factory
}

// NewRegistry returns a registry holding factories in discovery order.
func NewRegistry(factories ...Factory) *Registry {
	r := &Registry{}
	r.Register(factories...)
	return r
}

// Register appends factories. Nil factories are ignored.
func (r *Registry) Register(factories ...Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, factory := range factories {
		if factory != nil {
			r.factories = append(r.factories, factory)
		}
	}
}

// Len reports the number of registered factories.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.factories)
}

// Discover instantiates one unit per factory and returns them sorted by
// ascending priority. Units sharing a priority keep discovery order.
func (r *Registry) Discover() (Plan, error) {
	if r == nil {
		return nil, core.ErrNoMetricUnits
	}

	r.mu.Lock()
	factories := append([]Factory(nil), r.factories...)
	r.mu.Unlock()

	if len(factories) == 0 {
		return nil, core.ErrNoMetricUnits
	}

	plan := make(Plan, 0, len(factories))
	for i, factory := range factories {
		unit := factory()
		if unit == nil {
			return nil, fmt.Errorf("metric unit factory %d returned nil", i)
		}
		plan = append(plan, unit)
	}

	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].Priority() < plan[j].Priority()
	})
	return plan, nil
}
