package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daniel-caso-github/users-insights/internal/core"
	"github.com/daniel-caso-github/users-insights/internal/metrics"
)

// Fetcher is the slice of the upstream client the orchestrator needs.
type Fetcher interface {
	Get(ctx context.Context, path string, out any) (bool, error)
}

// Orchestrator verifies a subject exists and runs every unit of its plan
// against it, isolating unit failures.
type Orchestrator struct {
	Client Fetcher
	Plan   Plan

	// Concurrency is the number of units allowed to run at once. Values
	// below 2 run the plan sequentially.
	Concurrency int
	// Timeout bounds a whole run. Units not started before it expires are
	// skipped.
	Timeout time.Duration

	Logger *logging.Logger
	Clock  func() time.Time
}

// NewOrchestrator discovers the registry's plan. It fails when the registry
// holds no units.
func NewOrchestrator(client Fetcher, registry *Registry) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("upstream client is required")
	}
	plan, err := registry.Discover()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{Client: client, Plan: plan}, nil
}

type subjectLookup struct {
	Login   string `json:"login"`
	Message string `json:"message"`
}

// Run produces the aggregate insights for subject. It returns
// core.ErrSubjectNotFound, without running any unit, when the subject does
// not exist upstream.
func (o *Orchestrator) Run(ctx context.Context, subject core.Subject) (*core.RunReport, error) {
	if o == nil || o.Client == nil {
		return nil, errors.New("orchestrator is not configured")
	}
	if len(o.Plan) == 0 {
		return nil, core.ErrNoMetricUnits
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	started := o.now()
	subject = core.Subject(subject.String())

	if err := o.verify(ctx, subject); err != nil {
		result := "error"
		if errors.Is(err, core.ErrSubjectNotFound) {
			result = "not_found"
		}
		metrics.RecordRun(result, o.now().Sub(started))
		return nil, err
	}

	outcomes := o.execute(ctx, subject)

	insights := core.AggregateInsights{}
	result := "ok"
	for _, outcome := range outcomes {
		if !outcome.Succeeded() {
			result = "partial"
			continue
		}
		insights.Merge(outcome.Result)
	}

	completed := o.now()
	metrics.RecordRun(result, completed.Sub(started))
	o.info("insights run completed",
		zap.String("subject", subject.String()),
		zap.String("result", result),
		zap.Int("units", len(outcomes)),
		zap.Duration("duration", completed.Sub(started)),
	)

	return &core.RunReport{
		Subject:     subject,
		Insights:    insights,
		Outcomes:    outcomes,
		StartedAt:   started,
		CompletedAt: completed,
	}, nil
}

func (o *Orchestrator) verify(ctx context.Context, subject core.Subject) error {
	if subject == "" {
		return core.ErrSubjectNotFound
	}

	var lookup subjectLookup
	found, err := o.Client.Get(ctx, "/users/"+url.PathEscape(subject.String()), &lookup)
	if err != nil {
		return fmt.Errorf("verify subject %s: %w", subject, err)
	}
	if !found || strings.EqualFold(strings.TrimSpace(lookup.Message), "not found") {
		return core.ErrSubjectNotFound
	}
	return nil
}

// execute runs the plan and returns one outcome per unit in plan order.
func (o *Orchestrator) execute(ctx context.Context, subject core.Subject) []core.UnitOutcome {
	outcomes := make([]core.UnitOutcome, len(o.Plan))

	if o.Concurrency < 2 {
		for i, unit := range o.Plan {
			outcomes[i] = o.runUnit(ctx, unit, subject)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(o.Concurrency)
	for i, unit := range o.Plan {
		i, unit := i, unit
		g.Go(func() error {
			outcomes[i] = o.runUnit(ctx, unit, subject)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

type computeResult struct {
	result core.MetricResult
	err    error
}

// runUnit computes a single unit in isolation. Errors and panics become a
// failed outcome; an expired run deadline skips units that have not started
// and abandons the one in flight.
func (o *Orchestrator) runUnit(ctx context.Context, unit Unit, subject core.Subject) core.UnitOutcome {
	outcome := core.UnitOutcome{Unit: unit.Key(), Priority: unit.Priority()}

	if err := ctx.Err(); err != nil {
		outcome.Status = core.OutcomeSkipped
		outcome.Error = err.Error()
		o.warn("metric unit skipped", zap.String("unit", outcome.Unit), zap.Error(err))
		metrics.RecordUnitOutcome(outcome.Unit, string(outcome.Status), 0)
		return outcome
	}

	started := o.now()
	done := make(chan computeResult, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- computeResult{err: fmt.Errorf("metric unit panicked: %v", recovered)}
			}
		}()
		result, err := unit.Compute(ctx, subject)
		done <- computeResult{result: result, err: err}
	}()

	res := awaitUnit(ctx, done)
	outcome.Duration = o.now().Sub(started)

	if res.err != nil {
		outcome.Status = core.OutcomeFailed
		outcome.Error = res.err.Error()
		o.logError("metric unit failed",
			zap.String("unit", outcome.Unit),
			zap.String("subject", subject.String()),
			zap.Error(res.err),
		)
	} else {
		outcome.Status = core.OutcomeSucceeded
		outcome.Result = res.result
		if outcome.Result == nil {
			outcome.Result = core.MetricResult{}
		}
	}

	metrics.RecordUnitOutcome(outcome.Unit, string(outcome.Status), outcome.Duration)
	return outcome
}

// awaitUnit waits for a unit's result or the run deadline. A result that is
// already delivered wins over a deadline that expired at the same moment.
func awaitUnit(ctx context.Context, done <-chan computeResult) computeResult {
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		select {
		case res := <-done:
			return res
		default:
			return computeResult{err: fmt.Errorf("metric unit abandoned: %w", ctx.Err())}
		}
	}
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) info(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Info(msg, fields...)
	}
}

func (o *Orchestrator) warn(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Warn(msg, fields...)
	}
}

func (o *Orchestrator) logError(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Error(msg, fields...)
	}
}
