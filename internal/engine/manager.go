package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/catalog"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/planner"
	"github.com/sells-group/prospector/internal/store"
)

// jobHandle tracks one launched job. The pause flag is the only channel
// of control into a running executor; it is polled at page boundaries.
type jobHandle struct {
	pause atomic.Bool
	done  chan struct{}
}

// Manager is the job control surface: it plans and persists submissions,
// launches executors on a bounded worker group, and routes pause and
// resume requests to them.
type Manager struct {
	store   store.Store
	exec    *Executor
	planner *planner.Planner
	policy  *catalog.Policy

	g  errgroup.Group
	mu sync.Mutex

	jobs         map[string]*jobHandle
	shuttingDown bool
}

// NewManager creates a Manager running at most maxConcurrentJobs
// executors at once. A nil policy means the built-in tier defaults.
func NewManager(st store.Store, exec *Executor, p *planner.Planner, policy *catalog.Policy, maxConcurrentJobs int) *Manager {
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = 4
	}
	if p == nil {
		p = planner.New(planner.DefaultConfig(), nil)
	}
	m := &Manager{
		store:   st,
		exec:    exec,
		planner: p,
		policy:  policy,
		jobs:    make(map[string]*jobHandle),
	}
	m.g.SetLimit(maxConcurrentJobs)
	return m
}

// Submit plans the spec against the current area snapshot and persists
// the job as PENDING. Submission never starts execution; callers pair it
// with Start.
func (m *Manager) Submit(ctx context.Context, spec model.JobSpec) (*model.ScrapeJob, error) {
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}

	areas, err := m.store.ListAreas(ctx, spec.Country)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load area snapshot")
	}
	cat := catalog.New(m.policy, areas)
	plan := m.planner.Plan(spec, cat)
	if len(plan.Areas) == 0 {
		zap.L().Warn("plan selected no areas",
			zap.String("country", spec.Country),
			zap.Int64("min_population", spec.MinPopulation),
			zap.Int("max_priority", spec.MaxPriority),
		)
	}

	job, err := m.store.CreateJob(ctx, spec, plan.Areas, plan.EstimatedCost)
	if err != nil {
		return nil, err
	}

	zap.L().Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("client_id", job.ClientID),
		zap.String("query", job.Query),
		zap.Int("areas", len(plan.Areas)),
		zap.Int("total_pages", plan.TotalPages),
		zap.Int("estimated_leads", plan.EstimatedLeads),
		zap.Float64("estimated_cost", plan.EstimatedCost),
	)
	return job, nil
}

// ValidateSpec rejects specs that cannot produce a meaningful job.
// Transports call it before Submit to separate caller mistakes from
// internal failures.
func ValidateSpec(spec model.JobSpec) error {
	if strings.TrimSpace(spec.ClientID) == "" {
		return eris.New("engine: client_id is required")
	}
	if strings.TrimSpace(spec.Query) == "" {
		return eris.New("engine: query is required")
	}
	if spec.TargetLeadCount < 0 {
		return eris.New("engine: target_lead_count must not be negative")
	}
	return nil
}

// Start launches the job on the worker group. With every slot busy the
// job stays PENDING until one frees; a pause or shutdown arriving while
// it is still queued parks it before any provider call.
func (m *Manager) Start(ctx context.Context, jobID string) error {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return eris.New("engine: manager is shutting down")
	}
	if _, ok := m.jobs[jobID]; ok {
		m.mu.Unlock()
		return eris.Errorf("engine: job %s is already running", jobID)
	}
	h := &jobHandle{done: make(chan struct{})}
	m.jobs[jobID] = h
	m.mu.Unlock()

	// The inner Go blocks while the group is at its limit, so it runs in
	// its own goroutine to keep Start non-blocking.
	go m.g.Go(func() error {
		defer close(h.done)
		defer m.release(jobID)

		if m.stopped() {
			// Shutdown won the race; the job stays as it was and is
			// picked up again on the next boot.
			return nil
		}
		if err := m.exec.Run(ctx, jobID, &h.pause); err != nil {
			zap.L().Error("job run aborted", zap.String("job_id", jobID), zap.Error(err))
		}
		return nil
	})
	return nil
}

// Pause requests a stop at the job's next page boundary. The status
// flips to PAUSED only once the executor has persisted its position;
// callers poll Status to observe it.
func (m *Manager) Pause(jobID string) error {
	m.mu.Lock()
	h, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return eris.Errorf("engine: job %s is not running", jobID)
	}
	h.pause.Store(true)
	return nil
}

// Resume restarts a pending or paused job from its checkpoint. A RUNNING
// row whose job has no live handle is a crash leftover and restarts too;
// Start itself rejects the genuinely-running case.
func (m *Manager) Resume(ctx context.Context, jobID string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case model.JobStatusPending, model.JobStatusPaused, model.JobStatusRunning:
	default:
		return eris.Errorf("engine: job %s is %s, not resumable", jobID, job.Status)
	}
	return m.Start(ctx, jobID)
}

// Status returns the job's persisted snapshot.
func (m *Manager) Status(ctx context.Context, jobID string) (*model.ScrapeJob, error) {
	return m.store.GetJob(ctx, jobID)
}

// List returns job snapshots matching the filter.
func (m *Manager) List(ctx context.Context, filter store.JobFilter) ([]model.ScrapeJob, error) {
	return m.store.ListJobs(ctx, filter)
}

// RunningCount reports how many jobs are currently launched, including
// ones still waiting for a worker slot.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Wait blocks until the job's executor returns or ctx ends. A job that
// is not launched returns immediately.
func (m *Manager) Wait(ctx context.Context, jobID string) error {
	m.mu.Lock()
	h, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "engine: wait for job")
	case <-h.done:
		return nil
	}
}

// Shutdown pauses every launched job and waits for each to park. Jobs
// that never reached a worker slot stay PENDING; both shapes resume
// cleanly on the next boot.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shuttingDown = true
	for _, h := range m.jobs {
		h.pause.Store(true)
	}
	n := len(m.jobs)
	m.mu.Unlock()

	zap.L().Info("engine shutting down", zap.Int("jobs", n))

	done := make(chan struct{})
	go func() {
		_ = m.g.Wait() // run closures always return nil
		close(done)
	}()
	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "engine: shutdown wait")
	case <-done:
		return nil
	}
}

func (m *Manager) release(jobID string) {
	m.mu.Lock()
	delete(m.jobs, jobID)
	m.mu.Unlock()
}

func (m *Manager) stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shuttingDown
}
