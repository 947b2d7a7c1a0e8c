package db

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNames_Sorted(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_customers.sql", "002_upload_jobs.sql"}, names)
}

func TestMigrate_AppliesPending(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(int64(migrationLockID)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(mock.NewRows([]string{"filename"}).AddRow("001_customers.sql"))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS upload_jobs`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("002_upload_jobs.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(int64(migrationLockID)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_NothingPending(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(int64(migrationLockID)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(mock.NewRows([]string{"filename"}).
			AddRow("001_customers.sql").
			AddRow("002_upload_jobs.sql"))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(int64(migrationLockID)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_ApplyFails(t *testing.T) {
	mock := newMockPool(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(int64(migrationLockID)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(mock.NewRows([]string{"filename"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS customers`).
		WillReturnError(errors.New("permission denied"))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(int64(migrationLockID)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	err := Migrate(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migration 001_customers.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}
