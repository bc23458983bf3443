package model

import "time"

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobSpec is the submission payload for a new scrape job.
type JobSpec struct {
	ClientID        string `json:"client_id"`
	Query           string `json:"query"`
	Country         string `json:"country"`
	MinPopulation   int64  `json:"min_population"`
	MaxPriority     int    `json:"max_priority"`
	TargetLeadCount int    `json:"target_lead_count"`
}

// PlannedArea is one entry of a job's ordered execution plan. The page
// budget is fixed at planning time and never trimmed afterwards.
type PlannedArea struct {
	Name       string `json:"name"`
	Country    string `json:"country"`
	Population *int64 `json:"population,omitempty"`
	Tier       Tier   `json:"tier"`
	PageBudget int    `json:"page_budget"`
}

// ScrapeJob is a persisted collection job: the spec it was submitted
// with, the frozen area plan, and live progress counters.
type ScrapeJob struct {
	ID               string        `json:"id"`
	ClientID         string        `json:"client_id"`
	Query            string        `json:"query"`
	Country          string        `json:"country"`
	MinPopulation    int64         `json:"min_population"`
	MaxPriority      int           `json:"max_priority"`
	TargetLeadCount  int           `json:"target_lead_count"`
	Status           JobStatus     `json:"status"`
	Plan             []PlannedArea `json:"plan"`
	CurrentAreaIndex int           `json:"current_area_index"`
	CurrentPage      int           `json:"current_page"`
	LeadsFound       int           `json:"leads_found"`
	AreasCompleted   int           `json:"areas_completed"`
	AreasTotal       int           `json:"areas_total"`
	CostEstimate     float64       `json:"cost_estimate"`
	LastError        string        `json:"last_error,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Checkpoint is the durable resume point for a job. It is written only
// after the page's leads are committed, so a crash loses at most one page
// of provider calls and never records leads that were not stored.
type Checkpoint struct {
	JobID          string    `json:"job_id"`
	AreaIndex      int       `json:"area_index"`
	Page           int       `json:"page"`
	LeadsFound     int       `json:"leads_found"`
	AreasCompleted int       `json:"areas_completed"`
	UpdatedAt      time.Time `json:"updated_at"`
}
