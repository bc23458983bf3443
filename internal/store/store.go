package store

import (
	"context"

	"github.com/sells-group/prospector/internal/model"
)

// JobFilter specifies criteria for listing scrape jobs.
type JobFilter struct {
	Status   model.JobStatus `json:"status,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	ClientID string `json:"client_id,omitempty"`
	AreaName string `json:"area_name,omitempty"`
	Query    string `json:"query,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the lead scraping engine.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, spec model.JobSpec, plan []model.PlannedArea, costEstimate float64) (*model.ScrapeJob, error)
	GetJob(ctx context.Context, jobID string) (*model.ScrapeJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ScrapeJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error
	FailJob(ctx context.Context, jobID string, errMsg string) error

	// Checkpoints. SaveCheckpoint persists the checkpoint and the matching
	// job progress columns in one transaction; LoadCheckpoint returns
	// (nil, nil) when the job has never checkpointed.
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	LoadCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, jobID string) error

	// Leads. InsertLeads skips rows whose (client_id, fingerprint) already
	// exists and reports how many rows were actually written.
	InsertLeads(ctx context.Context, leads []model.Lead) (int, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	CountLeads(ctx context.Context, clientID string) (int, error)

	// Area catalog
	UpsertAreas(ctx context.Context, areas []model.Area) (int64, error)
	ListAreas(ctx context.Context, country string) ([]model.Area, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
