package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/db"
	"github.com/sells-group/prospect-cli/internal/model"
)

// Notification channels raised by the row triggers.
const (
	ChannelJobUpdates  = "job_updates"
	ChannelLeadInserts = "lead_inserts"
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

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
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

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Row triggers publish every job update as a patch of the changed columns
// and every lead insert as the full row. NOTIFY payloads are capped near
// 8000 bytes, so oversized lead rows are sent as a reference for the
// listener to fetch.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS prospect_jobs (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	progress          INTEGER NOT NULL DEFAULT 0,
	job_criteria      JSONB NOT NULL DEFAULT '{}',
	total_leads_found INTEGER NOT NULL DEFAULT 0,
	error_message     TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_prospect_jobs_user ON prospect_jobs(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS leads (
	seq             BIGSERIAL,
	id              TEXT PRIMARY KEY,
	job_id          TEXT NOT NULL REFERENCES prospect_jobs(id) ON DELETE CASCADE,
	name            TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	company         TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	linkedin_url    TEXT NOT NULL DEFAULT '',
	location        TEXT NOT NULL DEFAULT '',
	industry        TEXT NOT NULL DEFAULT '',
	company_size    TEXT NOT NULL DEFAULT '',
	score           INTEGER,
	additional_data JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_job_seq ON leads(job_id, seq);

CREATE OR REPLACE FUNCTION prospect_notify_job() RETURNS trigger AS $$
DECLARE
	patch JSONB;
BEGIN
	SELECT jsonb_object_agg(n.key, n.value) INTO patch
	FROM jsonb_each(to_jsonb(NEW)) n
	JOIN jsonb_each(to_jsonb(OLD)) o USING (key)
	WHERE n.key = 'id' OR n.value IS DISTINCT FROM o.value;
	PERFORM pg_notify('job_updates', patch::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE FUNCTION prospect_notify_lead() RETURNS trigger AS $$
DECLARE
	payload TEXT := row_to_json(NEW)::text;
BEGIN
	IF octet_length(payload) > 7900 THEN
		payload := json_build_object('id', NEW.id, 'job_id', NEW.job_id, 'truncated', true)::text;
	END IF;
	PERFORM pg_notify('lead_inserts', payload);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS prospect_jobs_notify ON prospect_jobs;
CREATE TRIGGER prospect_jobs_notify AFTER UPDATE ON prospect_jobs
	FOR EACH ROW EXECUTE FUNCTION prospect_notify_job();

DROP TRIGGER IF EXISTS leads_notify ON leads;
CREATE TRIGGER leads_notify AFTER INSERT ON leads
	FOR EACH ROW EXECUTE FUNCTION prospect_notify_lead();
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

const jobColumns = `id, user_id, status, progress, job_criteria, total_leads_found, error_message, created_at, updated_at, completed_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	j := newJobRow(job)
	row := s.pool.QueryRow(ctx,
		`INSERT INTO prospect_jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING `+jobColumns,
		j.ID, j.UserID, string(j.Status), j.Progress, []byte(j.Criteria), j.TotalLeadsFound,
		j.ErrorMessage, j.CreatedAt, j.UpdatedAt, j.CompletedAt,
	)
	out, err := scanPGJob(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert job %s", j.ID)
	}
	return out, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM prospect_jobs WHERE id = $1`, id)
	j, err := scanPGJob(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

// updateJobSQL keeps every column the patch leaves unset and stamps
// completed_at the first time the job reaches a terminal status.
const updateJobSQL = `UPDATE prospect_jobs SET
	status = COALESCE($2, status),
	progress = COALESCE($3, progress),
	job_criteria = COALESCE($4, job_criteria),
	total_leads_found = COALESCE($5, total_leads_found),
	error_message = COALESCE($6, error_message),
	updated_at = COALESCE($7, now()),
	completed_at = COALESCE($8, completed_at,
		CASE WHEN COALESCE($2, status) IN ('completed', 'failed') THEN now() END)
WHERE id = $1 RETURNING ` + jobColumns

func (s *PostgresStore) UpdateJob(ctx context.Context, id string, patch model.JobPatch) (*model.Job, error) {
	var criteria any
	if len(patch.Criteria) > 0 {
		criteria = []byte(patch.Criteria)
	}
	row := s.pool.QueryRow(ctx, updateJobSQL,
		id, statusArg(patch), patch.Progress, criteria, patch.TotalLeadsFound,
		patch.ErrorMessage, patch.UpdatedAt, patch.CompletedAt,
	)
	j, err := scanPGJob(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update job %s", id)
	}
	return j, nil
}

var leadColumns = []string{
	"id", "job_id", "name", "title", "company", "email", "phone",
	"linkedin_url", "location", "industry", "company_size", "score", "additional_data",
}

const leadSelect = `SELECT id, job_id, name, title, company, email, phone, linkedin_url, location, industry, company_size, score, additional_data FROM leads`

func (s *PostgresStore) InsertLead(ctx context.Context, lead model.Lead) (bool, error) {
	vals, err := leadValues(&lead)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert lead")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO leads (id, job_id, name, title, company, email, phone, linkedin_url, location, industry, company_size, score, additional_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) ON CONFLICT (id) DO NOTHING`,
		vals...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert lead %s", lead.ID)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertLeads bulk-inserts leads, skipping ids already stored.
func (s *PostgresStore) InsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	rows := make([][]any, 0, len(leads))
	for i := range leads {
		vals, err := leadValues(&leads[i])
		if err != nil {
			return 0, eris.Wrap(err, "postgres: insert leads")
		}
		rows = append(rows, vals)
	}
	n, err := db.BulkInsert(ctx, s.pool, db.InsertConfig{
		Table:        "leads",
		Columns:      leadColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert leads")
	}
	return n, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanPGLead(s.pool.QueryRow(ctx, leadSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return l, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, jobID string, filter LeadFilter) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		leadSelect+` WHERE job_id = $1 ORDER BY seq LIMIT $2 OFFSET $3`,
		jobID, listLimit(filter), filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list leads for job %s", jobID)
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPGLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

func scanPGJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var status string
	var criteria []byte
	err := row.Scan(&j.ID, &j.UserID, &status, &j.Progress, &criteria, &j.TotalLeadsFound,
		&j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Status = model.ParseJobStatus(status)
	if len(criteria) > 0 {
		j.Criteria = json.RawMessage(criteria)
	}
	return &j, nil
}

func scanPGLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var extra []byte
	err := row.Scan(&l.ID, &l.JobID, &l.Name, &l.Title, &l.Company, &l.Email, &l.Phone,
		&l.LinkedinURL, &l.Location, &l.Industry, &l.CompanySize, &l.Score, &extra)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		_ = json.Unmarshal(extra, &l.AdditionalData)
	}
	return &l, nil
}

// newJobRow fills in the id, status and timestamps a new job is missing.
func newJobRow(job *model.Job) *model.Job {
	j := job.Clone()
	if j == nil {
		j = &model.Job{}
	}
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = model.JobStatusPending
	}
	if len(j.Criteria) == 0 {
		j.Criteria = json.RawMessage(`{}`)
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	return j
}

// statusArg returns the patch status as a driver value, nil meaning
// "leave unchanged".
func statusArg(p model.JobPatch) any {
	if p.Status == nil {
		return nil
	}
	return string(*p.Status)
}

// leadValues returns the insert values in leadColumns order, assigning an
// id when the lead has none.
func leadValues(l *model.Lead) ([]any, error) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.JobID == "" {
		return nil, eris.Errorf("lead %s has no job_id", l.ID)
	}
	var extra any
	if !l.AdditionalData.IsZero() {
		b, err := json.Marshal(l.AdditionalData)
		if err != nil {
			return nil, eris.Wrapf(err, "marshal additional_data for lead %s", l.ID)
		}
		extra = string(b)
	}
	var score any
	if l.Score != nil {
		score = *l.Score
	}
	return []any{
		l.ID, l.JobID, l.Name, l.Title, l.Company, l.Email, l.Phone,
		l.LinkedinURL, l.Location, l.Industry, l.CompanySize, score, extra,
	}, nil
}
