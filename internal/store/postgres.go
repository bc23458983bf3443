package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/db"
	"github.com/sells-group/prospector/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot path: one checkpoint transaction per page.
var preparedStatements = map[string]string{
	"insert_job":          `INSERT INTO scrape_jobs (id, client_id, query, country, min_population, max_priority, target_lead_count, status, plan, areas_total, cost_estimate, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
	"get_job":             `SELECT id, client_id, query, country, min_population, max_priority, target_lead_count, status, plan, current_area_index, current_page, leads_found, areas_completed, areas_total, cost_estimate, last_error, created_at, updated_at FROM scrape_jobs WHERE id = $1`,
	"update_job_status":   `UPDATE scrape_jobs SET status = $1, updated_at = $2 WHERE id = $3`,
	"fail_job":            `UPDATE scrape_jobs SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
	"upsert_checkpoint":   `INSERT INTO job_checkpoints (job_id, area_index, page, leads_found, areas_completed, updated_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (job_id) DO UPDATE SET area_index = $2, page = $3, leads_found = $4, areas_completed = $5, updated_at = $6`,
	"update_job_progress": `UPDATE scrape_jobs SET current_area_index = $1, current_page = $2, leads_found = $3, areas_completed = $4, updated_at = $5 WHERE id = $6`,
	"get_checkpoint":      `SELECT job_id, area_index, page, leads_found, areas_completed, updated_at FROM job_checkpoints WHERE job_id = $1`,
	"delete_checkpoint":   `DELETE FROM job_checkpoints WHERE job_id = $1`,
	"count_leads":         `SELECT count(*) FROM leads WHERE client_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS scrape_jobs (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	client_id          TEXT NOT NULL,
	query              TEXT NOT NULL,
	country            TEXT NOT NULL,
	min_population     BIGINT NOT NULL DEFAULT 0,
	max_priority       INTEGER NOT NULL DEFAULT 0,
	target_lead_count  INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'pending',
	plan               JSONB NOT NULL,
	current_area_index INTEGER NOT NULL DEFAULT 0,
	current_page       INTEGER NOT NULL DEFAULT 0,
	leads_found        INTEGER NOT NULL DEFAULT 0,
	areas_completed    INTEGER NOT NULL DEFAULT 0,
	areas_total        INTEGER NOT NULL DEFAULT 0,
	cost_estimate      DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_error         TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status ON scrape_jobs(status);
CREATE INDEX IF NOT EXISTS idx_scrape_jobs_client ON scrape_jobs(client_id);
CREATE INDEX IF NOT EXISTS idx_scrape_jobs_created ON scrape_jobs(created_at DESC);

CREATE TABLE IF NOT EXISTS job_checkpoints (
	job_id          TEXT PRIMARY KEY REFERENCES scrape_jobs(id),
	area_index      INTEGER NOT NULL,
	page            INTEGER NOT NULL,
	leads_found     INTEGER NOT NULL,
	areas_completed INTEGER NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	client_id     TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	company_name  TEXT NOT NULL,
	area_name     TEXT,
	address       TEXT,
	phone         TEXT,
	website       TEXT,
	rating        DOUBLE PRECISION,
	reviews_count INTEGER,
	source_query  TEXT,
	source        TEXT NOT NULL DEFAULT 'places',
	raw_payload   JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (client_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_leads_client ON leads(client_id);
CREATE INDEX IF NOT EXISTS idx_leads_client_area ON leads(client_id, area_name);

CREATE TABLE IF NOT EXISTS areas (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	country    TEXT NOT NULL,
	population BIGINT,
	UNIQUE (country, name)
);

CREATE INDEX IF NOT EXISTS idx_areas_country ON areas(country);
CREATE INDEX IF NOT EXISTS idx_areas_population ON areas(population DESC NULLS LAST);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, spec model.JobSpec, plan []model.PlannedArea, costEstimate float64) (*model.ScrapeJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal plan")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO scrape_jobs (id, client_id, query, country, min_population, max_priority, target_lead_count, status, plan, areas_total, cost_estimate, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		id, spec.ClientID, spec.Query, spec.Country, spec.MinPopulation, spec.MaxPriority, spec.TargetLeadCount,
		string(model.JobStatusPending), planJSON, len(plan), costEstimate, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.ScrapeJob{
		ID:              id,
		ClientID:        spec.ClientID,
		Query:           spec.Query,
		Country:         spec.Country,
		MinPopulation:   spec.MinPopulation,
		MaxPriority:     spec.MaxPriority,
		TargetLeadCount: spec.TargetLeadCount,
		Status:          model.JobStatusPending,
		Plan:            plan,
		AreasTotal:      len(plan),
		CostEstimate:    costEstimate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.ScrapeJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, client_id, query, country, min_population, max_priority, target_lead_count, status, plan, current_area_index, current_page, leads_found, areas_completed, areas_total, cost_estimate, last_error, created_at, updated_at FROM scrape_jobs WHERE id = $1`,
		jobID,
	)
	job, err := scanJobRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("job not found: %s", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ScrapeJob, error) {
	query := `SELECT id, client_id, query, country, min_population, max_priority, target_lead_count, status, plan, current_area_index, current_page, leads_found, areas_completed, areas_total, cost_estimate, last_error, created_at, updated_at FROM scrape_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ClientID != "" {
		query += fmt.Sprintf(` AND client_id = $%d`, argIdx)
		args = append(args, filter.ClientID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.ScrapeJob
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
		string(model.JobStatusFailed), errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

// SaveCheckpoint writes the checkpoint row and the job's progress columns in
// a single transaction so a crash can never leave them disagreeing.
func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin checkpoint tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`INSERT INTO job_checkpoints (job_id, area_index, page, leads_found, areas_completed, updated_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (job_id) DO UPDATE SET area_index = $2, page = $3, leads_found = $4, areas_completed = $5, updated_at = $6`,
		cp.JobID, cp.AreaIndex, cp.Page, cp.LeadsFound, cp.AreasCompleted, now,
	); err != nil {
		return eris.Wrapf(err, "postgres: upsert checkpoint %s", cp.JobID)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE scrape_jobs SET current_area_index = $1, current_page = $2, leads_found = $3, areas_completed = $4, updated_at = $5 WHERE id = $6`,
		cp.AreaIndex, cp.Page, cp.LeadsFound, cp.AreasCompleted, now, cp.JobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", cp.JobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", cp.JobID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit checkpoint tx")
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.pool.QueryRow(ctx,
		`SELECT job_id, area_index, page, leads_found, areas_completed, updated_at FROM job_checkpoints WHERE job_id = $1`,
		jobID,
	).Scan(&cp.JobID, &cp.AreaIndex, &cp.Page, &cp.LeadsFound, &cp.AreasCompleted, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", jobID)
	}
	return &cp, nil
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM job_checkpoints WHERE job_id = $1`,
		jobID,
	)
	return eris.Wrapf(err, "postgres: delete checkpoint %s", jobID)
}

// leadColumns is the insert column order shared by InsertLeads and its tests.
var leadColumns = []string{"id", "client_id", "fingerprint", "company_name", "area_name", "address", "phone", "website", "rating", "reviews_count", "source_query", "source", "raw_payload", "created_at"}

func (s *PostgresStore) InsertLeads(ctx context.Context, leads []model.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(leads))
	for i := range leads {
		l := &leads[i]
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		var payload any
		if len(l.RawPayload) > 0 {
			payload = l.RawPayload
		}
		rows = append(rows, []any{
			l.ID, l.ClientID, l.Fingerprint, l.CompanyName, l.AreaName, l.Address,
			l.Phone, l.Website, l.Rating, l.ReviewsCount, l.SourceQuery, l.Source,
			payload, l.CreatedAt,
		})
	}

	n, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertIgnoreConfig{
		Table:        "leads",
		Columns:      leadColumns,
		ConflictKeys: []string{"client_id", "fingerprint"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert leads")
	}
	return int(n), nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT id, client_id, fingerprint, company_name, area_name, address, phone, website, rating, reviews_count, source_query, source, raw_payload, created_at FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ClientID != "" {
		query += fmt.Sprintf(` AND client_id = $%d`, argIdx)
		args = append(args, filter.ClientID)
		argIdx++
	}
	if filter.AreaName != "" {
		query += fmt.Sprintf(` AND area_name = $%d`, argIdx)
		args = append(args, filter.AreaName)
		argIdx++
	}
	if filter.Query != "" {
		query += fmt.Sprintf(` AND source_query = $%d`, argIdx)
		args = append(args, filter.Query)
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		var payload []byte
		if err := rows.Scan(&l.ID, &l.ClientID, &l.Fingerprint, &l.CompanyName, &l.AreaName, &l.Address,
			&l.Phone, &l.Website, &l.Rating, &l.ReviewsCount, &l.SourceQuery, &l.Source,
			&payload, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		l.RawPayload = payload
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) CountLeads(ctx context.Context, clientID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM leads WHERE client_id = $1`,
		clientID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count leads for %s", clientID)
	}
	return n, nil
}

// areaColumns is the insert column order shared by UpsertAreas and its tests.
var areaColumns = []string{"name", "country", "population"}

// UpsertAreas loads catalog rows, updating population on (country, name)
// conflicts. An empty areas table takes the plain COPY path, which is the
// common case when seeding tens of thousands of rows from a reference file.
func (s *PostgresStore) UpsertAreas(ctx context.Context, areas []model.Area) (int64, error) {
	if len(areas) == 0 {
		return 0, nil
	}

	// Collapse duplicate (country, name) rows, last occurrence wins. Both
	// write paths below require batch-unique keys.
	type areaKey struct{ country, name string }
	seen := make(map[areaKey]int, len(areas))
	rows := make([][]any, 0, len(areas))
	for _, a := range areas {
		k := areaKey{a.Country, a.Name}
		if idx, ok := seen[k]; ok {
			rows[idx] = []any{a.Name, a.Country, a.Population}
			continue
		}
		seen[k] = len(rows)
		rows = append(rows, []any{a.Name, a.Country, a.Population})
	}

	var existing int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM areas`).Scan(&existing); err != nil {
		return 0, eris.Wrap(err, "postgres: count areas")
	}
	if existing == 0 {
		n, err := db.CopyFrom(ctx, s.pool, "areas", areaColumns, rows)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: copy areas")
		}
		return n, nil
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "areas",
		Columns:      areaColumns,
		ConflictKeys: []string{"country", "name"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert areas")
	}
	return n, nil
}

func (s *PostgresStore) ListAreas(ctx context.Context, country string) ([]model.Area, error) {
	query := `SELECT id, name, country, population FROM areas`
	args := []any{}
	if country != "" {
		query += ` WHERE country = $1`
		args = append(args, country)
	}
	query += ` ORDER BY population DESC NULLS LAST, name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list areas")
	}
	defer rows.Close()

	var areas []model.Area
	for rows.Next() {
		var a model.Area
		if err := rows.Scan(&a.ID, &a.Name, &a.Country, &a.Population); err != nil {
			return nil, eris.Wrap(err, "postgres: scan area")
		}
		areas = append(areas, a)
	}
	return areas, eris.Wrap(rows.Err(), "postgres: list areas iterate")
}

// pgScannable abstracts pgx.Row and pgx.Rows for the shared job scanner.
type pgScannable interface {
	Scan(dest ...any) error
}

func scanJobRow(row pgScannable) (*model.ScrapeJob, error) {
	var job model.ScrapeJob
	var planJSON []byte
	var lastErr *string

	err := row.Scan(&job.ID, &job.ClientID, &job.Query, &job.Country, &job.MinPopulation, &job.MaxPriority,
		&job.TargetLeadCount, &job.Status, &planJSON, &job.CurrentAreaIndex, &job.CurrentPage,
		&job.LeadsFound, &job.AreasCompleted, &job.AreasTotal, &job.CostEstimate, &lastErr,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(planJSON, &job.Plan); err != nil {
		return nil, eris.Wrap(err, "unmarshal plan")
	}
	if lastErr != nil {
		job.LastError = *lastErr
	}
	return &job, nil
}
