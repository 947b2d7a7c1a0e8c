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

	"github.com/sells-group/dealer-sync/internal/db"
	"github.com/sells-group/dealer-sync/internal/model"
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

const (
	sqlGetCustomer = `SELECT phone, name, email, vehicles, first_sent_at, last_sent_at, total_sent, whatsapp_status, blocked, active, updated_at FROM customers WHERE phone = $1`

	sqlUpsertCustomer = `INSERT INTO customers (phone, name, email, vehicles, updated_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (phone) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, vehicles = EXCLUDED.vehicles, updated_at = EXCLUDED.updated_at`

	sqlUpdateJob = `UPDATE upload_jobs SET processed_count = $1, error_count = $2, status = $3, error_detail = $4, updated_at = $5, finished_at = $6 WHERE id = $7`

	jobColumns = `id, file_name, total_rows, processed_count, error_count, status, error_detail, created_at, updated_at, finished_at`
)

// Names of the statements prepared on every new connection. Queries issued
// by name run the prepared plan.
const (
	stmtGetCustomer    = "get_customer"
	stmtUpsertCustomer = "upsert_customer"
	stmtUpdateJob      = "update_job"
)

// preparedStatements lists the per-record queries an import issues, prepared
// on each new connection.
var preparedStatements = map[string]string{
	stmtGetCustomer:    sqlGetCustomer,
	stmtUpsertCustomer: sqlUpsertCustomer,
	stmtUpdateJob:      sqlUpdateJob,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// An import chunk runs up to chunk-size upserts at once.
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Customers ---

func (s *PostgresStore) GetByPhone(ctx context.Context, phone string) (*model.PersistedCustomer, error) {
	var c model.PersistedCustomer
	var vehiclesJSON []byte
	var status string

	err := s.pool.QueryRow(ctx, stmtGetCustomer, phone).Scan(
		&c.Phone, &c.Name, &c.Email, &vehiclesJSON,
		&c.FirstSentAt, &c.LastSentAt, &c.TotalSent,
		&status, &c.Blocked, &c.Active, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get customer %s", phone)
	}

	c.WhatsAppStatus = model.ParseWhatsAppStatus(status)
	if err := unmarshalVehicles(vehiclesJSON, &c.Vehicles); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal vehicles for %s", phone)
	}
	return &c, nil
}

func (s *PostgresStore) UpsertByPhone(ctx context.Context, c CustomerUpsert) error {
	vehiclesJSON, err := marshalVehicles(c.Vehicles)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal vehicles")
	}

	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, stmtUpsertCustomer, c.Phone, c.Name, c.Email, vehiclesJSON, updatedAt)
	return eris.Wrapf(err, "postgres: upsert customer %s", c.Phone)
}

func (s *PostgresStore) CountActive(ctx context.Context, filter model.CustomerFilter) (int, error) {
	where, args := customerWhere(filter, postgresPlaceholder)
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM customers WHERE `+where, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count customers")
	}
	return n, nil
}

func (s *PostgresStore) ListPhonesByStatus(ctx context.Context, status model.WhatsAppStatus, limit int) ([]string, error) {
	query := `SELECT phone FROM customers WHERE whatsapp_status = $1 ORDER BY phone`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list phones with status %s", status)
	}
	defer rows.Close()

	var phones []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "postgres: scan phone")
		}
		phones = append(phones, p)
	}
	return phones, eris.Wrap(rows.Err(), "postgres: list phones iterate")
}

// UpsertWhatsAppStatus writes verdicts for one verification batch in a single
// COPY-backed upsert. Phones not yet stored are inserted with defaults.
func (s *PostgresStore) UpsertWhatsAppStatus(ctx context.Context, updates []model.StatusUpdate) error {
	updates = dedupeUpdates(updates)
	if len(updates) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(updates))
	for i, u := range updates {
		rows[i] = []any{u.Phone, string(u.Status), now}
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "customers",
		Columns:      []string{"phone", "whatsapp_status", "updated_at"},
		ConflictKeys: []string{"phone"},
	}, rows)
	return eris.Wrap(err, "postgres: upsert whatsapp status")
}

func (s *PostgresStore) StatusCounts(ctx context.Context) (map[model.WhatsAppStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT whatsapp_status, count(*) FROM customers GROUP BY whatsapp_status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: status counts")
	}
	defer rows.Close()

	counts := make(map[model.WhatsAppStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.ParseWhatsAppStatus(status)] += n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: status counts iterate")
}

// --- Upload jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, fileName string, totalRows int) (*model.UploadJob, error) {
	job := newJob(fileName, totalRows)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO upload_jobs (id, file_name, total_rows, processed_count, error_count, status, error_detail, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, 0, $4, '[]'::jsonb, $5, $6)`,
		job.ID, job.FileName, job.TotalRows, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.UploadJob) error {
	detailJSON, err := marshalErrorDetail(job.ErrorDetail)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal error detail")
	}

	job.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, stmtUpdateJob,
		job.ProcessedCount, job.ErrorCount, string(job.Status), detailJSON, job.UpdatedAt, job.FinishedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrJobNotFound, "postgres: update job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.UploadJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM upload_jobs WHERE id = $1`, id)
	job, err := scanPostgresJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrJobNotFound, "postgres: get job %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.UploadJob, error) {
	query := `SELECT ` + jobColumns + ` FROM upload_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.UploadJob
	for rows.Next() {
		job, err := scanPostgresJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func scanPostgresJob(row pgx.Row) (*model.UploadJob, error) {
	var j model.UploadJob
	var status string
	var detailJSON []byte

	err := row.Scan(&j.ID, &j.FileName, &j.TotalRows, &j.ProcessedCount, &j.ErrorCount,
		&status, &detailJSON, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	if len(detailJSON) > 0 {
		if err := json.Unmarshal(detailJSON, &j.ErrorDetail); err != nil {
			return nil, eris.Wrap(err, "unmarshal error detail")
		}
	}
	return &j, nil
}

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// customerWhere builds the CountActive predicate. Active defaults to true
// when the filter leaves it unset.
func customerWhere(filter model.CustomerFilter, placeholder func(int) string) (string, []any) {
	active := true
	if filter.Active != nil {
		active = *filter.Active
	}

	args := []any{active}
	where := "active = " + placeholder(1)
	if filter.Blocked != nil {
		args = append(args, *filter.Blocked)
		where += " AND blocked = " + placeholder(len(args))
	}
	if filter.WhatsAppStatus != "" {
		args = append(args, string(filter.WhatsAppStatus))
		where += " AND whatsapp_status = " + placeholder(len(args))
	}
	return where, args
}

func newJob(fileName string, totalRows int) *model.UploadJob {
	now := time.Now().UTC()
	return &model.UploadJob{
		ID:          uuid.New().String(),
		FileName:    fileName,
		TotalRows:   totalRows,
		Status:      model.JobStatusProcessing,
		ErrorDetail: []model.ErrorDetail{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func marshalVehicles(v []model.VehicleRecord) ([]byte, error) {
	if v == nil {
		v = []model.VehicleRecord{}
	}
	return json.Marshal(v)
}

func unmarshalVehicles(data []byte, dst *[]model.VehicleRecord) error {
	if len(data) == 0 {
		*dst = nil
		return nil
	}
	return json.Unmarshal(data, dst)
}

func marshalErrorDetail(d []model.ErrorDetail) ([]byte, error) {
	if d == nil {
		d = []model.ErrorDetail{}
	}
	return json.Marshal(d)
}
