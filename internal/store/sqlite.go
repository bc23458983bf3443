package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospector/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs single
// operator runs and tests; multi-worker deployments use PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scrape_jobs (
	id                 TEXT PRIMARY KEY,
	client_id          TEXT NOT NULL,
	query              TEXT NOT NULL,
	country            TEXT NOT NULL,
	min_population     INTEGER NOT NULL DEFAULT 0,
	max_priority       INTEGER NOT NULL DEFAULT 0,
	target_lead_count  INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'pending',
	plan               TEXT NOT NULL,
	current_area_index INTEGER NOT NULL DEFAULT 0,
	current_page       INTEGER NOT NULL DEFAULT 0,
	leads_found        INTEGER NOT NULL DEFAULT 0,
	areas_completed    INTEGER NOT NULL DEFAULT 0,
	areas_total        INTEGER NOT NULL DEFAULT 0,
	cost_estimate      REAL NOT NULL DEFAULT 0,
	last_error         TEXT,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS job_checkpoints (
	job_id          TEXT PRIMARY KEY REFERENCES scrape_jobs(id),
	area_index      INTEGER NOT NULL,
	page            INTEGER NOT NULL,
	leads_found     INTEGER NOT NULL,
	areas_completed INTEGER NOT NULL,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS leads (
	id            TEXT PRIMARY KEY,
	client_id     TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	company_name  TEXT NOT NULL,
	area_name     TEXT,
	address       TEXT,
	phone         TEXT,
	website       TEXT,
	rating        REAL,
	reviews_count INTEGER,
	source_query  TEXT,
	source        TEXT NOT NULL DEFAULT 'places',
	raw_payload   TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (client_id, fingerprint)
);

CREATE TABLE IF NOT EXISTS areas (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	country    TEXT NOT NULL,
	population INTEGER,
	UNIQUE (country, name)
);

CREATE INDEX IF NOT EXISTS idx_scrape_jobs_status ON scrape_jobs(status);
CREATE INDEX IF NOT EXISTS idx_scrape_jobs_client ON scrape_jobs(client_id);
CREATE INDEX IF NOT EXISTS idx_leads_client ON leads(client_id);
CREATE INDEX IF NOT EXISTS idx_leads_client_area ON leads(client_id, area_name);
CREATE INDEX IF NOT EXISTS idx_areas_country ON areas(country);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, spec model.JobSpec, plan []model.PlannedArea, costEstimate float64) (*model.ScrapeJob, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal plan")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scrape_jobs (id, client_id, query, country, min_population, max_priority, target_lead_count, status, plan, areas_total, cost_estimate, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, spec.ClientID, spec.Query, spec.Country, spec.MinPopulation, spec.MaxPriority, spec.TargetLeadCount,
		string(model.JobStatusPending), string(planJSON), len(plan), costEstimate, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
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

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.ScrapeJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, query, country, min_population, max_priority, target_lead_count, status, plan, current_area_index, current_page, leads_found, areas_completed, areas_total, cost_estimate, last_error, created_at, updated_at FROM scrape_jobs WHERE id = ?`,
		jobID,
	)
	return scanJob(row, jobID)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ScrapeJob, error) {
	query := `SELECT id, client_id, query, country, min_population, max_priority, target_lead_count, status, plan, current_area_index, current_page, leads_found, areas_completed, areas_total, cost_estimate, last_error, created_at, updated_at FROM scrape_jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, filter.ClientID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusFailed), errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

// SaveCheckpoint writes the checkpoint row and the job's progress columns in
// a single transaction so a crash can never leave them disagreeing.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin checkpoint tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO job_checkpoints (job_id, area_index, page, leads_found, areas_completed, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET area_index = excluded.area_index, page = excluded.page, leads_found = excluded.leads_found, areas_completed = excluded.areas_completed, updated_at = excluded.updated_at`,
		cp.JobID, cp.AreaIndex, cp.Page, cp.LeadsFound, cp.AreasCompleted, now,
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert checkpoint %s", cp.JobID)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE scrape_jobs SET current_area_index = ?, current_page = ?, leads_found = ?, areas_completed = ?, updated_at = ? WHERE id = ?`,
		cp.AreaIndex, cp.Page, cp.LeadsFound, cp.AreasCompleted, now, cp.JobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", cp.JobID)
	}
	if err := checkRowsAffected(res, "job", cp.JobID); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit checkpoint tx")
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, area_index, page, leads_found, areas_completed, updated_at FROM job_checkpoints WHERE job_id = ?`,
		jobID,
	).Scan(&cp.JobID, &cp.AreaIndex, &cp.Page, &cp.LeadsFound, &cp.AreasCompleted, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load checkpoint %s", jobID)
	}
	return &cp, nil
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM job_checkpoints WHERE job_id = ?`,
		jobID,
	)
	return eris.Wrapf(err, "sqlite: delete checkpoint %s", jobID)
}

func (s *SQLiteStore) InsertLeads(ctx context.Context, leads []model.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin leads tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads (id, client_id, fingerprint, company_name, area_name, address, phone, website, rating, reviews_count, source_query, source, raw_payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (client_id, fingerprint) DO NOTHING`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare lead insert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	inserted := 0
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
			payload = string(l.RawPayload)
		}
		res, err := stmt.ExecContext(ctx,
			l.ID, l.ClientID, l.Fingerprint, l.CompanyName, l.AreaName, l.Address,
			l.Phone, l.Website, l.Rating, l.ReviewsCount, l.SourceQuery, l.Source,
			payload, l.CreatedAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert lead %s", l.Fingerprint)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit leads tx")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT id, client_id, fingerprint, company_name, area_name, address, phone, website, rating, reviews_count, source_query, source, raw_payload, created_at FROM leads WHERE 1=1`
	var args []any

	if filter.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, filter.ClientID)
	}
	if filter.AreaName != "" {
		query += ` AND area_name = ?`
		args = append(args, filter.AreaName)
	}
	if filter.Query != "" {
		query += ` AND source_query = ?`
		args = append(args, filter.Query)
	}
	query += ` ORDER BY created_at DESC, id`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		var rating sql.NullFloat64
		var reviews sql.NullInt64
		var areaName, address, phone, website, sourceQuery, payload sql.NullString
		if err := rows.Scan(&l.ID, &l.ClientID, &l.Fingerprint, &l.CompanyName, &areaName, &address,
			&phone, &website, &rating, &reviews, &sourceQuery, &l.Source,
			&payload, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		l.AreaName = areaName.String
		l.Address = address.String
		l.Phone = phone.String
		l.Website = website.String
		l.SourceQuery = sourceQuery.String
		if rating.Valid {
			v := rating.Float64
			l.Rating = &v
		}
		if reviews.Valid {
			v := int(reviews.Int64)
			l.ReviewsCount = &v
		}
		if payload.Valid {
			l.RawPayload = []byte(payload.String)
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) CountLeads(ctx context.Context, clientID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM leads WHERE client_id = ?`,
		clientID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: count leads for %s", clientID)
	}
	return n, nil
}

func (s *SQLiteStore) UpsertAreas(ctx context.Context, areas []model.Area) (int64, error) {
	if len(areas) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin areas tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO areas (name, country, population) VALUES (?, ?, ?)
		 ON CONFLICT (country, name) DO UPDATE SET population = excluded.population`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare area upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var total int64
	for _, a := range areas {
		res, err := stmt.ExecContext(ctx, a.Name, a.Country, a.Population)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert area %s/%s", a.Country, a.Name)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit areas tx")
	}
	return total, nil
}

func (s *SQLiteStore) ListAreas(ctx context.Context, country string) ([]model.Area, error) {
	query := `SELECT id, name, country, population FROM areas`
	var args []any
	if country != "" {
		query += ` WHERE country = ?`
		args = append(args, country)
	}
	query += ` ORDER BY population DESC NULLS LAST, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list areas")
	}
	defer rows.Close()

	var areas []model.Area
	for rows.Next() {
		var a model.Area
		var pop sql.NullInt64
		if err := rows.Scan(&a.ID, &a.Name, &a.Country, &pop); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan area")
		}
		if pop.Valid {
			v := pop.Int64
			a.Population = &v
		}
		areas = append(areas, a)
	}
	return areas, eris.Wrap(rows.Err(), "sqlite: list areas iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

// scanJob reads one scrape_jobs row. jobID feeds the not-found error message;
// list callers pass "".
func scanJob(row scannable, jobID string) (*model.ScrapeJob, error) {
	var job model.ScrapeJob
	var planJSON string
	var lastErr sql.NullString

	err := row.Scan(&job.ID, &job.ClientID, &job.Query, &job.Country, &job.MinPopulation, &job.MaxPriority,
		&job.TargetLeadCount, &job.Status, &planJSON, &job.CurrentAreaIndex, &job.CurrentPage,
		&job.LeadsFound, &job.AreasCompleted, &job.AreasTotal, &job.CostEstimate, &lastErr,
		&job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	if err := json.Unmarshal([]byte(planJSON), &job.Plan); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal plan")
	}
	if lastErr.Valid {
		job.LastError = lastErr.String
	}
	return &job, nil
}
