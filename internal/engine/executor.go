// Package engine runs scrape jobs. An Executor drives a single job
// through its frozen area plan page by page; the Manager owns the
// running-job registry and the provider resources every job shares.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/dedup"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/places"
)

// leadSource tags rows written by this engine. Fingerprints include it,
// so listings imported from another source never collide with these.
const leadSource = "places"

// finalWriteTimeout bounds the status and checkpoint writes that run
// after the job's own context is already cancelled.
const finalWriteTimeout = 10 * time.Second

// Config holds the executor knobs.
type Config struct {
	// PageSize is the result count requested per provider page.
	// Default: places.DefaultPageSize.
	PageSize int

	// EarlyExitThreshold ends an area when a page returns fewer results
	// than this and fewer than the page size. Default: 5.
	EarlyExitThreshold int

	// ProviderRetry governs retries of transient provider failures.
	// Exhausting the attempt cap fails the job.
	ProviderRetry resilience.RetryConfig

	// StorageRetry governs retries of lead and checkpoint writes.
	// Classification is ignored; every storage error retries to the cap.
	StorageRetry resilience.RetryConfig
}

// DefaultConfig returns the default executor knobs.
func DefaultConfig() Config {
	return Config{
		PageSize:           places.DefaultPageSize,
		EarlyExitThreshold: 5,
		ProviderRetry:      resilience.DefaultRetryConfig(),
		StorageRetry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
	}
}

// Executor runs one job at a time through its plan. All executions share
// the limiter and breaker, so provider pressure is governed globally no
// matter how many jobs are in flight.
type Executor struct {
	store    store.Store
	provider places.Client
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	calc     *cost.Calculator
	cfg      Config
}

// NewExecutor creates an Executor. A nil limiter, breaker, or calculator
// falls back to defaults.
func NewExecutor(st store.Store, provider places.Client, limiter *rate.Limiter, breaker *resilience.CircuitBreaker, calc *cost.Calculator, cfg Config) *Executor {
	if cfg.PageSize <= 0 || cfg.PageSize > places.DefaultPageSize {
		cfg.PageSize = places.DefaultPageSize
	}
	if cfg.EarlyExitThreshold <= 0 {
		cfg.EarlyExitThreshold = 5
	}
	if cfg.ProviderRetry.MaxAttempts <= 0 {
		cfg.ProviderRetry = resilience.DefaultRetryConfig()
	}
	if cfg.StorageRetry.MaxAttempts <= 0 {
		cfg.StorageRetry = DefaultConfig().StorageRetry
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(10), 1)
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	return &Executor{
		store:    st,
		provider: provider,
		limiter:  limiter,
		breaker:  breaker,
		calc:     calc,
		cfg:      cfg,
	}
}

// progress is the executor's in-memory cursor. Every mutation is
// checkpointed before the next provider call, and lead rows are always
// committed before the checkpoint that accounts for them.
type progress struct {
	areaIndex      int
	page           int
	leadsFound     int
	areasCompleted int
}

func (p *progress) completeArea() {
	p.areaIndex++
	p.page = 0
	p.areasCompleted++
}

// Run executes the job until it reaches a terminal status or parks as
// PAUSED. Provider and storage failures do not escape: they are recorded
// on the job row, and the returned error covers only preconditions (an
// unknown job, a status that cannot start) and final-write failures.
func (e *Executor) Run(ctx context.Context, jobID string, pause *atomic.Bool) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case model.JobStatusPending, model.JobStatusPaused:
	case model.JobStatusRunning:
		// A crash leaves the row RUNNING with no executor alive. The
		// manager's handle registry blocks a second live executor, so a
		// RUNNING row reaching this point is safe to restart.
	default:
		return eris.Errorf("engine: job %s is %s, not startable", jobID, job.Status)
	}

	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("client_id", job.ClientID),
		zap.String("query", job.Query),
	)

	cp, err := e.store.LoadCheckpoint(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "engine: load checkpoint %s", jobID)
	}

	var p progress
	if cp != nil {
		// The stored page is deliberately not restored: the in-flight
		// area restarts from page 1. Listings drift across provider
		// pages over hours, so refetching is dedup-safe while skipping
		// ahead could lose rows.
		p = progress{
			areaIndex:      cp.AreaIndex,
			leadsFound:     cp.LeadsFound,
			areasCompleted: cp.AreasCompleted,
		}
	}

	if err := e.store.UpdateJobStatus(ctx, jobID, model.JobStatusRunning); err != nil {
		return eris.Wrapf(err, "engine: mark running %s", jobID)
	}
	if cp == nil {
		if err := e.checkpoint(ctx, jobID, p); err != nil {
			return e.fail(log, jobID, err)
		}
	}

	log.Info("job started",
		zap.Int("areas_total", len(job.Plan)),
		zap.Int("area_index", p.areaIndex),
		zap.Int("leads_found", p.leadsFound),
	)

	apiCalls := 0

	for p.areaIndex < len(job.Plan) {
		if targetReached(job, p) {
			break
		}
		if stopRequested(ctx, pause) {
			return e.park(log, jobID, p)
		}

		area := job.Plan[p.areaIndex]
		if strings.TrimSpace(area.Name) == "" {
			// One bad plan entry must never fail the whole job.
			log.Warn("skipping area with no name", zap.Int("area_index", p.areaIndex))
			p.completeArea()
			if err := e.checkpoint(ctx, jobID, p); err != nil {
				return e.fail(log, jobID, err)
			}
			continue
		}

		alog := log.With(zap.String("area", area.Name))

		for page := 1; page <= area.PageBudget; page++ {
			if stopRequested(ctx, pause) {
				return e.park(log, jobID, p)
			}

			resp, calls, err := e.searchPage(ctx, job, area, page)
			apiCalls += calls
			if err != nil {
				if ctx.Err() != nil {
					return e.park(log, jobID, p)
				}
				return e.fail(log, jobID, eris.Wrapf(err, "engine: search %s page %d", area.Name, page))
			}

			inserted, err := e.persistLeads(ctx, job, area, resp.Results)
			if err != nil {
				if ctx.Err() != nil {
					return e.park(log, jobID, p)
				}
				return e.fail(log, jobID, eris.Wrapf(err, "engine: store leads for %s page %d", area.Name, page))
			}
			p.leadsFound += inserted

			n := len(resp.Results)
			areaDone := n == 0 ||
				(n < e.cfg.EarlyExitThreshold && n < e.cfg.PageSize) ||
				!resp.HasMore ||
				page == area.PageBudget
			if areaDone {
				p.completeArea()
			} else {
				p.page = page
			}

			if err := e.checkpoint(ctx, jobID, p); err != nil {
				if ctx.Err() != nil {
					return e.park(log, jobID, p)
				}
				return e.fail(log, jobID, err)
			}

			alog.Debug("page done",
				zap.Int("page", page),
				zap.Int("results", n),
				zap.Int("inserted", inserted),
				zap.Int("leads_found", p.leadsFound),
			)

			if areaDone || targetReached(job, p) {
				break
			}
		}

		if p.areasCompleted > 0 && p.areasCompleted%10 == 0 {
			log.Info("progress",
				zap.Int("areas_completed", p.areasCompleted),
				zap.Int("areas_total", len(job.Plan)),
				zap.Int("leads_found", p.leadsFound),
			)
		}
	}

	return e.complete(log, jobID, p, apiCalls)
}

// searchPage performs one billed provider call gated by the shared
// limiter, breaker, and transient retry, returning the page and the
// number of provider calls actually made. An open breaker counts as
// retryable so a short provider outage stalls jobs instead of failing
// them outright.
func (e *Executor) searchPage(ctx context.Context, job *model.ScrapeJob, area model.PlannedArea, page int) (*places.SearchResponse, int, error) {
	retryCfg := e.cfg.ProviderRetry
	if retryCfg.ShouldRetry == nil {
		retryCfg.ShouldRetry = func(err error) bool {
			return resilience.IsTransient(err) || errors.Is(err, resilience.ErrCircuitOpen)
		}
	}
	if retryCfg.OnRetry == nil {
		retryCfg.OnRetry = resilience.RetryLogger("places", "search")
	}

	calls := 0
	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*places.SearchResponse, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "engine: rate limit wait")
		}
		return resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*places.SearchResponse, error) {
			calls++
			return e.provider.Search(ctx, places.SearchRequest{
				Query:    job.Query,
				AreaName: area.Name,
				Country:  area.Country,
				Page:     page,
				PageSize: e.cfg.PageSize,
			})
		})
	})
	return resp, calls, err
}

// persistLeads fingerprints one page of listings and writes them,
// returning the count actually inserted net of duplicates.
func (e *Executor) persistLeads(ctx context.Context, job *model.ScrapeJob, area model.PlannedArea, listings []places.Listing) (int, error) {
	leads := make([]model.Lead, 0, len(listings))
	for _, listing := range listings {
		name := strings.TrimSpace(listing.Name)
		if name == "" {
			continue
		}
		l := model.Lead{
			ClientID:    job.ClientID,
			Fingerprint: dedup.Fingerprint(name, area.Name, leadSource),
			CompanyName: name,
			AreaName:    area.Name,
			Address:     listing.Address,
			Phone:       listing.Phone,
			Website:     listing.Website,
			SourceQuery: job.Query,
			Source:      leadSource,
		}
		if listing.Rating > 0 {
			r := listing.Rating
			l.Rating = &r
		}
		if listing.ReviewsCount > 0 {
			c := listing.ReviewsCount
			l.ReviewsCount = &c
		}
		if raw, err := json.Marshal(listing); err == nil {
			l.RawPayload = raw
		}
		leads = append(leads, l)
	}
	if len(leads) == 0 {
		return 0, nil
	}

	return resilience.DoVal(ctx, e.storageRetry(), func(ctx context.Context) (int, error) {
		return e.store.InsertLeads(ctx, leads)
	})
}

func (e *Executor) checkpoint(ctx context.Context, jobID string, p progress) error {
	return resilience.Do(ctx, e.storageRetry(), func(ctx context.Context) error {
		return e.store.SaveCheckpoint(ctx, model.Checkpoint{
			JobID:          jobID,
			AreaIndex:      p.areaIndex,
			Page:           p.page,
			LeadsFound:     p.leadsFound,
			AreasCompleted: p.areasCompleted,
		})
	})
}

func (e *Executor) storageRetry() resilience.RetryConfig {
	cfg := e.cfg.StorageRetry
	cfg.ShouldRetry = func(error) bool { return true }
	return cfg
}

// park persists the position and flips the job to PAUSED. Both the pause
// flag and context cancellation land here; neither is an error. The
// writes run on a fresh context because the job's own may be cancelled.
func (e *Executor) park(log *zap.Logger, jobID string, p progress) error {
	ctx, cancel := context.WithTimeout(context.Background(), finalWriteTimeout)
	defer cancel()

	if err := e.checkpoint(ctx, jobID, p); err != nil {
		return e.fail(log, jobID, err)
	}
	if err := e.store.UpdateJobStatus(ctx, jobID, model.JobStatusPaused); err != nil {
		return eris.Wrapf(err, "engine: mark paused %s", jobID)
	}
	log.Info("job paused",
		zap.Int("area_index", p.areaIndex),
		zap.Int("leads_found", p.leadsFound),
	)
	return nil
}

// fail marks the job FAILED with the cause's message. The checkpoint
// keeps its last good position, so the job stays resumable once the
// root cause is fixed.
func (e *Executor) fail(log *zap.Logger, jobID string, cause error) error {
	log.Error("job failed", zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.Background(), finalWriteTimeout)
	defer cancel()
	if err := e.store.FailJob(ctx, jobID, cause.Error()); err != nil {
		log.Error("recording job failure failed", zap.Error(err))
		return eris.Wrapf(err, "engine: record failure %s", jobID)
	}
	return nil
}

func (e *Executor) complete(log *zap.Logger, jobID string, p progress, apiCalls int) error {
	ctx, cancel := context.WithTimeout(context.Background(), finalWriteTimeout)
	defer cancel()

	err := resilience.Do(ctx, e.storageRetry(), func(ctx context.Context) error {
		return e.store.UpdateJobStatus(ctx, jobID, model.JobStatusCompleted)
	})
	if err != nil {
		return eris.Wrapf(err, "engine: mark completed %s", jobID)
	}

	// Terminal jobs no longer need resume state.
	if err := e.store.DeleteCheckpoint(ctx, jobID); err != nil {
		log.Warn("delete checkpoint failed", zap.Error(err))
	}

	log.Info("job complete",
		zap.Int("leads_found", p.leadsFound),
		zap.Int("areas_completed", p.areasCompleted),
		zap.Int("api_calls", apiCalls),
		zap.Float64("cost_usd", e.calc.SearchGross(apiCalls)),
	)
	return nil
}

func targetReached(job *model.ScrapeJob, p progress) bool {
	return job.TargetLeadCount > 0 && p.leadsFound >= job.TargetLeadCount
}

func stopRequested(ctx context.Context, pause *atomic.Bool) bool {
	if ctx.Err() != nil {
		return true
	}
	return pause != nil && pause.Load()
}
