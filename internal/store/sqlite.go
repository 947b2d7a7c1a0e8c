package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dealer-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection and SQLite allows one writer.
	db.SetMaxOpenConns(1)
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
CREATE TABLE IF NOT EXISTS customers (
	phone           TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	vehicles        TEXT NOT NULL DEFAULT '[]',
	first_sent_at   DATETIME,
	last_sent_at    DATETIME,
	total_sent      INTEGER NOT NULL DEFAULT 0,
	whatsapp_status TEXT NOT NULL DEFAULT 'unknown',
	blocked         BOOLEAN NOT NULL DEFAULT 0,
	active          BOOLEAN NOT NULL DEFAULT 1,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_customers_whatsapp_status ON customers(whatsapp_status);

CREATE TABLE IF NOT EXISTS upload_jobs (
	id              TEXT PRIMARY KEY,
	file_name       TEXT NOT NULL DEFAULT '',
	total_rows      INTEGER NOT NULL DEFAULT 0,
	processed_count INTEGER NOT NULL DEFAULT 0,
	error_count     INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'processing',
	error_detail    TEXT NOT NULL DEFAULT '[]',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_upload_jobs_status ON upload_jobs(status);
CREATE INDEX IF NOT EXISTS idx_upload_jobs_created_at ON upload_jobs(created_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Customers ---

func (s *SQLiteStore) GetByPhone(ctx context.Context, phone string) (*model.PersistedCustomer, error) {
	var c model.PersistedCustomer
	var vehiclesJSON, status string
	var firstSent, lastSent sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT phone, name, email, vehicles, first_sent_at, last_sent_at, total_sent, whatsapp_status, blocked, active, updated_at
		 FROM customers WHERE phone = ?`,
		phone,
	).Scan(&c.Phone, &c.Name, &c.Email, &vehiclesJSON, &firstSent, &lastSent,
		&c.TotalSent, &status, &c.Blocked, &c.Active, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get customer %s", phone)
	}

	c.WhatsAppStatus = model.ParseWhatsAppStatus(status)
	c.FirstSentAt = nullTimePtr(firstSent)
	c.LastSentAt = nullTimePtr(lastSent)
	if err := unmarshalVehicles([]byte(vehiclesJSON), &c.Vehicles); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal vehicles for %s", phone)
	}
	return &c, nil
}

func (s *SQLiteStore) UpsertByPhone(ctx context.Context, c CustomerUpsert) error {
	vehiclesJSON, err := marshalVehicles(c.Vehicles)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal vehicles")
	}

	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO customers (phone, name, email, vehicles, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(phone) DO UPDATE SET name = excluded.name, email = excluded.email, vehicles = excluded.vehicles, updated_at = excluded.updated_at`,
		c.Phone, c.Name, c.Email, string(vehiclesJSON), updatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert customer %s", c.Phone)
}

func (s *SQLiteStore) CountActive(ctx context.Context, filter model.CustomerFilter) (int, error) {
	where, args := customerWhere(filter, func(int) string { return "?" })
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM customers WHERE `+where, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count customers")
	}
	return n, nil
}

func (s *SQLiteStore) ListPhonesByStatus(ctx context.Context, status model.WhatsAppStatus, limit int) ([]string, error) {
	query := `SELECT phone FROM customers WHERE whatsapp_status = ? ORDER BY phone`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list phones with status %s", status)
	}
	defer rows.Close()

	var phones []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phone")
		}
		phones = append(phones, p)
	}
	return phones, eris.Wrap(rows.Err(), "sqlite: list phones iterate")
}

func (s *SQLiteStore) UpsertWhatsAppStatus(ctx context.Context, updates []model.StatusUpdate) error {
	updates = dedupeUpdates(updates)
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin status tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO customers (phone, whatsapp_status, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(phone) DO UPDATE SET whatsapp_status = excluded.whatsapp_status, updated_at = excluded.updated_at`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare status upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.Phone, string(u.Status), now); err != nil {
			return eris.Wrapf(err, "sqlite: upsert status for %s", u.Phone)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit status tx")
}

func (s *SQLiteStore) StatusCounts(ctx context.Context) (map[model.WhatsAppStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT whatsapp_status, count(*) FROM customers GROUP BY whatsapp_status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: status counts")
	}
	defer rows.Close()

	counts := make(map[model.WhatsAppStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.ParseWhatsAppStatus(status)] += n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: status counts iterate")
}

// --- Upload jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, fileName string, totalRows int) (*model.UploadJob, error) {
	job := newJob(fileName, totalRows)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_jobs (id, file_name, total_rows, processed_count, error_count, status, error_detail, created_at, updated_at)
		 VALUES (?, ?, ?, 0, 0, ?, '[]', ?, ?)`,
		job.ID, job.FileName, job.TotalRows, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	return job, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.UploadJob) error {
	detailJSON, err := marshalErrorDetail(job.ErrorDetail)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal error detail")
	}

	job.UpdatedAt = time.Now().UTC()
	var finishedAt any
	if job.FinishedAt != nil {
		finishedAt = *job.FinishedAt
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_jobs SET processed_count = ?, error_count = ?, status = ?, error_detail = ?, updated_at = ?, finished_at = ? WHERE id = ?`,
		job.ProcessedCount, job.ErrorCount, string(job.Status), string(detailJSON), job.UpdatedAt, finishedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.UploadJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM upload_jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrJobNotFound, "sqlite: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.UploadJob, error) {
	query := `SELECT ` + jobColumns + ` FROM upload_jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.UploadJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrJobNotFound, "sqlite: update job %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row scannable) (*model.UploadJob, error) {
	var j model.UploadJob
	var status, detailJSON string
	var finishedAt sql.NullTime

	err := row.Scan(&j.ID, &j.FileName, &j.TotalRows, &j.ProcessedCount, &j.ErrorCount,
		&status, &detailJSON, &j.CreatedAt, &j.UpdatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	j.FinishedAt = nullTimePtr(finishedAt)
	if detailJSON != "" {
		if err := json.Unmarshal([]byte(detailJSON), &j.ErrorDetail); err != nil {
			return nil, eris.Wrap(err, "unmarshal error detail")
		}
	}
	return &j, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
