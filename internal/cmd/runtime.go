package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/daniel-caso-github/users-insights/internal/config"
	"github.com/daniel-caso-github/users-insights/internal/core/engine"
	"github.com/daniel-caso-github/users-insights/internal/core/metric"
	"github.com/daniel-caso-github/users-insights/internal/core/store"
	"github.com/daniel-caso-github/users-insights/internal/core/upstream"
)

// insightsRuntime holds everything one process needs to compute insights.
type insightsRuntime struct {
	Orchestrator *engine.Orchestrator
	Limiter      *engine.RateLimiter
	Store        *store.Store
}

// Close releases the shared store, if one was opened.
func (r *insightsRuntime) Close() error {
	if r == nil || r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

// buildRuntime wires configuration into a ready orchestrator: rate limit
// coordinator (memory or libsql), optional request pacing, the upstream
// client and the default metric units.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*insightsRuntime, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}

	rt := &insightsRuntime{}

	var rateStore engine.RateLimitStore
	if strings.EqualFold(strings.TrimSpace(cfg.Store.Driver), store.DriverLibsql) {
		db, err := openStore(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		rt.Store = db
		rateStore = db
	}

	limiter := engine.NewRateLimiter(rateStore)
	limiter.ApplyOverrides(cfg.RateLimits)
	limiter.ApplySafetyMargin(cfg.RateLimitMargin)
	rt.Limiter = limiter

	var pacer *rate.Limiter
	if cfg.GitHub.RequestsPerSecond > 0 {
		burst := cfg.GitHub.Burst
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.GitHub.RequestsPerSecond), burst)
	}

	client, err := upstream.New(upstream.Options{
		BaseURL:    cfg.GitHub.BaseURL,
		Token:      cfg.GitHub.Token,
		HTTPClient: &http.Client{Timeout: cfg.GitHub.Timeout},
		MaxRetries: cfg.GitHub.MaxRetries,
		Limiter:    limiter,
		Pacer:      pacer,
		Logger:     logger,
	})
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("build upstream client: %w", err)
	}

	registry := engine.NewRegistry()
	metric.RegisterDefaults(registry, client, metric.Options{
		PerPage:  cfg.Pagination.MaxResultsPerPage,
		MaxPages: cfg.Pagination.MaxPages,
		Months:   cfg.Insights.Months,
		TopN:     cfg.Insights.TopN,
		Workers:  cfg.Insights.FetchWorkers,
		Logger:   logger,
	})

	orchestrator, err := engine.NewOrchestrator(client, registry)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	orchestrator.Concurrency = cfg.Insights.Concurrency
	orchestrator.Timeout = cfg.Insights.RunTimeout
	orchestrator.Logger = logger
	rt.Orchestrator = orchestrator

	if logger != nil {
		logger.Debug("Insights runtime ready",
			zap.Strings("units", orchestrator.Plan.Keys()),
			zap.Int("concurrency", orchestrator.Concurrency),
			zap.Duration("run_timeout", orchestrator.Timeout),
			zap.String("store_driver", cfg.Store.Driver),
			zap.Bool("paced", pacer != nil))
	}

	return rt, nil
}

// openStore opens and migrates the libsql store regardless of the configured
// driver. Rate limit admin commands inspect the shared file directly.
func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	cfg.Driver = store.DriverLibsql
	if strings.TrimSpace(cfg.URL) == "" && strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = config.DefaultStorePath()
	}

	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
