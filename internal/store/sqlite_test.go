package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}

func TestSQLite_JournalModeWAL(t *testing.T) {
	st := newTestSQLiteStore(t)

	var mode string
	require.NoError(t, st.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSQLite_VehiclesRoundTripEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertByPhone(ctx, CustomerUpsert{Phone: "5511999998888", Name: "Maria"}))

	var raw string
	require.NoError(t, st.db.QueryRow(`SELECT vehicles FROM customers WHERE phone = ?`, "5511999998888").Scan(&raw))
	assert.Equal(t, "[]", raw)

	got, err := st.GetByPhone(ctx, "5511999998888")
	require.NoError(t, err)
	assert.Empty(t, got.Vehicles)
}

func TestSQLite_UpsertWhatsAppStatus_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.UpsertWhatsAppStatus(context.Background(), nil))
}

func TestSQLite_ClosedStoreErrors(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Close())

	_, err := st.GetByPhone(context.Background(), "5511999998888")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: get customer")
}
