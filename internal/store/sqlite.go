package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospect-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLite opens a database handle with the pragmas every local store uses.
func OpenSQLite(dsn string) (*sql.DB, error) {
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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return db, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS prospect_jobs (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	progress          INTEGER NOT NULL DEFAULT 0,
	job_criteria      TEXT NOT NULL DEFAULT '{}',
	total_leads_found INTEGER NOT NULL DEFAULT 0,
	error_message     TEXT,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	completed_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_prospect_jobs_user ON prospect_jobs(user_id, created_at);

CREATE TABLE IF NOT EXISTS leads (
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
	additional_data TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_job_id ON leads(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	j := newJobRow(job)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prospect_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, string(j.Status), j.Progress, string(j.Criteria), j.TotalLeadsFound,
		j.ErrorMessage, j.CreatedAt, j.UpdatedAt, j.CompletedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert job %s", j.ID)
	}
	return j, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM prospect_jobs WHERE id = ?`, id)
	j, err := scanSQLiteJob(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

const sqliteUpdateJobSQL = `UPDATE prospect_jobs SET
	status = COALESCE(?2, status),
	progress = COALESCE(?3, progress),
	job_criteria = COALESCE(?4, job_criteria),
	total_leads_found = COALESCE(?5, total_leads_found),
	error_message = COALESCE(?6, error_message),
	updated_at = COALESCE(?7, ?9),
	completed_at = COALESCE(?8, completed_at,
		CASE WHEN COALESCE(?2, status) IN ('completed', 'failed') THEN ?9 END)
WHERE id = ?1 RETURNING ` + jobColumns

func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, patch model.JobPatch) (*model.Job, error) {
	var criteria any
	if len(patch.Criteria) > 0 {
		criteria = string(patch.Criteria)
	}
	row := s.db.QueryRowContext(ctx, sqliteUpdateJobSQL,
		id, statusArg(patch), patch.Progress, criteria, patch.TotalLeadsFound,
		patch.ErrorMessage, patch.UpdatedAt, patch.CompletedAt, time.Now().UTC(),
	)
	j, err := scanSQLiteJob(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update job %s", id)
	}
	return j, nil
}

const sqliteInsertLead = `INSERT INTO leads (id, job_id, name, title, company, email, phone, linkedin_url, location, industry, company_size, score, additional_data)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`

func (s *SQLiteStore) InsertLead(ctx context.Context, lead model.Lead) (bool, error) {
	vals, err := leadValues(&lead)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert lead")
	}
	res, err := s.db.ExecContext(ctx, sqliteInsertLead, vals...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert lead %s", lead.ID)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

// InsertLeads inserts leads in one transaction, skipping ids already stored.
func (s *SQLiteStore) InsertLeads(ctx context.Context, leads []model.Lead) (int64, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteInsertLead)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert lead")
	}
	defer stmt.Close() //nolint:errcheck

	var total int64
	for i := range leads {
		vals, err := leadValues(&leads[i])
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert leads")
		}
		res, err := stmt.ExecContext(ctx, vals...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert lead %s", leads[i].ID)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit leads")
	}
	return total, nil
}

const sqliteLeadSelect = `SELECT id, job_id, name, title, company, email, phone, linkedin_url, location, industry, company_size, score, additional_data FROM leads`

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanSQLiteLead(s.db.QueryRowContext(ctx, sqliteLeadSelect+` WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return l, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, jobID string, filter LeadFilter) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		sqliteLeadSelect+` WHERE job_id = ? ORDER BY rowid LIMIT ? OFFSET ?`,
		jobID, listLimit(filter), filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list leads for job %s", jobID)
	}
	defer rows.Close() //nolint:errcheck

	var leads []model.Lead
	for rows.Next() {
		l, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row scannable) (*model.Job, error) {
	var j model.Job
	var status, criteria string
	var errMsg sql.NullString
	var completed sql.NullTime
	err := row.Scan(&j.ID, &j.UserID, &status, &j.Progress, &criteria, &j.TotalLeadsFound,
		&errMsg, &j.CreatedAt, &j.UpdatedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Status = model.ParseJobStatus(status)
	if criteria != "" {
		j.Criteria = json.RawMessage(criteria)
	}
	if errMsg.Valid {
		j.ErrorMessage = &errMsg.String
	}
	if completed.Valid {
		j.CompletedAt = &completed.Time
	}
	return &j, nil
}

func scanSQLiteLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var score sql.NullInt64
	var extra sql.NullString
	err := row.Scan(&l.ID, &l.JobID, &l.Name, &l.Title, &l.Company, &l.Email, &l.Phone,
		&l.LinkedinURL, &l.Location, &l.Industry, &l.CompanySize, &score, &extra)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if score.Valid {
		v := int(score.Int64)
		l.Score = &v
	}
	if extra.Valid {
		_ = json.Unmarshal([]byte(extra.String), &l.AdditionalData)
	}
	return &l, nil
}
