package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/catalog"
	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/engine"
	"github.com/sells-group/prospector/internal/planner"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/places"
)

// engineEnv holds the initialized store and job manager needed by the
// scrape and serve commands.
type engineEnv struct {
	Store   store.Store
	Manager *engine.Manager
	Calc    *cost.Calculator
	Policy  *catalog.Policy
}

// Close releases resources held by the engine environment.
func (ee *engineEnv) Close() {
	if ee.Store != nil {
		_ = ee.Store.Close()
	}
}

// initEngine sets up the store, the provider client with its shared
// limiter and breaker, and the job manager. Callers should defer
// env.Close(). mode selects which config fields Validate requires.
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	policy, err := loadPolicy()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	provider := places.NewClient(cfg.Places.Key, places.WithBaseURL(cfg.Places.BaseURL))
	limiter := rate.NewLimiter(rate.Limit(cfg.Places.RateLimit), 1)
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Scrape.BreakerFailureThreshold,
		ResetTimeout:     time.Duration(cfg.Scrape.BreakerResetSecs) * time.Second,
	})
	calc := cost.NewCalculator(cfg.Pricing)

	execCfg := engine.DefaultConfig()
	execCfg.PageSize = cfg.Scrape.PageSize
	execCfg.EarlyExitThreshold = cfg.Scrape.EarlyExitThreshold
	execCfg.ProviderRetry.MaxAttempts = cfg.Scrape.RetryMaxAttempts
	execCfg.ProviderRetry.InitialBackoff = time.Duration(cfg.Scrape.RetryBackoffMS) * time.Millisecond
	execCfg.ProviderRetry.MaxBackoff = time.Duration(cfg.Scrape.RetryMaxBackoffSecs) * time.Second

	exec := engine.NewExecutor(st, provider, limiter, breaker, calc, execCfg)
	p := planner.New(planner.Config{
		YieldPerPage: cfg.Planner.YieldPerPage,
		SafetyFactor: cfg.Planner.SafetyFactor,
	}, calc)
	m := engine.NewManager(st, exec, p, policy, cfg.Scrape.MaxConcurrentJobs)

	return &engineEnv{
		Store:   st,
		Manager: m,
		Calc:    calc,
		Policy:  policy,
	}, nil
}

// loadPolicy reads the tier policy file when one is configured. A nil
// policy means the built-in defaults.
func loadPolicy() (*catalog.Policy, error) {
	if cfg.Catalog.PolicyFile == "" {
		return nil, nil
	}
	policy, err := catalog.LoadPolicy(cfg.Catalog.PolicyFile)
	if err != nil {
		return nil, eris.Wrapf(err, "load tier policy %s", cfg.Catalog.PolicyFile)
	}
	zap.L().Info("tier policy loaded", zap.String("path", cfg.Catalog.PolicyFile))
	return policy, nil
}
