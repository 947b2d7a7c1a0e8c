package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealer-sync/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func boolPtr(b bool) *bool { return &b }

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("GetByPhoneMissing", func(t *testing.T) {
		s := newStore(t)

		got, err := s.GetByPhone(context.Background(), "5511999998888")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("UpsertInsertsWithDefaults", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		acquired := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		err := s.UpsertByPhone(ctx, CustomerUpsert{
			Phone: "5511999998888",
			Name:  "Maria",
			Email: "maria@example.com",
			Vehicles: []model.VehicleRecord{
				{Description: "HONDA CIVIC 2020", Year: "2020", Plate: "XYZ9999", AcquiredAt: acquired},
			},
		})
		require.NoError(t, err)

		got, err := s.GetByPhone(ctx, "5511999998888")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Maria", got.Name)
		assert.Equal(t, "maria@example.com", got.Email)
		assert.Equal(t, model.WhatsAppUnknown, got.WhatsAppStatus)
		assert.True(t, got.Active)
		assert.False(t, got.Blocked)
		assert.Zero(t, got.TotalSent)
		assert.Nil(t, got.FirstSentAt)
		require.Len(t, got.Vehicles, 1)
		assert.Equal(t, "XYZ9999", got.Vehicles[0].Plate)
		assert.True(t, acquired.Equal(got.Vehicles[0].AcquiredAt))
	})

	t.Run("UpsertUpdatesWhitelistOnly", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertByPhone(ctx, CustomerUpsert{Phone: "5511999998888", Name: "Maria"}))
		require.NoError(t, s.UpsertWhatsAppStatus(ctx, []model.StatusUpdate{
			{Phone: "5511999998888", Status: model.WhatsAppValid},
		}))
		require.NoError(t, s.UpsertByPhone(ctx, CustomerUpsert{
			Phone:    "5511999998888",
			Name:     "Maria Silva",
			Vehicles: []model.VehicleRecord{{Plate: "ABC1234"}},
		}))

		got, err := s.GetByPhone(ctx, "5511999998888")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Maria Silva", got.Name)
		assert.Equal(t, model.WhatsAppValid, got.WhatsAppStatus)
		assert.Len(t, got.Vehicles, 1)
	})

	t.Run("CountActive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, p := range []string{"5511900000001", "5511900000002", "5511900000003"} {
			require.NoError(t, s.UpsertByPhone(ctx, CustomerUpsert{Phone: p, Name: "x"}))
		}
		require.NoError(t, s.UpsertWhatsAppStatus(ctx, []model.StatusUpdate{
			{Phone: "5511900000001", Status: model.WhatsAppValid},
			{Phone: "5511900000002", Status: model.WhatsAppInvalid},
		}))

		n, err := s.CountActive(ctx, model.CustomerFilter{})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.CountActive(ctx, model.CustomerFilter{WhatsAppStatus: model.WhatsAppValid})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.CountActive(ctx, model.CustomerFilter{Blocked: boolPtr(true)})
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = s.CountActive(ctx, model.CustomerFilter{Active: boolPtr(false)})
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("ListPhonesByStatusAndCounts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, p := range []string{"5511900000003", "5511900000001", "5511900000002"} {
			require.NoError(t, s.UpsertByPhone(ctx, CustomerUpsert{Phone: p, Name: "x"}))
		}
		require.NoError(t, s.UpsertWhatsAppStatus(ctx, []model.StatusUpdate{
			{Phone: "5511900000002", Status: model.WhatsAppInvalid},
			{Phone: "5511900000002", Status: model.WhatsAppValid},
		}))

		phones, err := s.ListPhonesByStatus(ctx, model.WhatsAppUnknown, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"5511900000001", "5511900000003"}, phones)

		phones, err = s.ListPhonesByStatus(ctx, model.WhatsAppUnknown, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"5511900000001"}, phones)

		counts, err := s.StatusCounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, counts[model.WhatsAppUnknown])
		assert.Equal(t, 1, counts[model.WhatsAppValid])
		assert.Zero(t, counts[model.WhatsAppInvalid])
	})

	t.Run("StatusUpsertInsertsUnknownPhone", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertWhatsAppStatus(ctx, []model.StatusUpdate{
			{Phone: "5511999998888", Status: model.WhatsAppValid},
		}))

		got, err := s.GetByPhone(ctx, "5511999998888")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, model.WhatsAppValid, got.WhatsAppStatus)
		assert.Empty(t, got.Vehicles)
	})

	t.Run("JobLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "clientes.xlsx", 120)
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, model.JobStatusProcessing, job.Status)
		assert.Equal(t, 120, job.TotalRows)

		job.ProcessedCount = 118
		job.ErrorCount = 2
		job.ErrorDetail = []model.ErrorDetail{
			{Phone: "5511900000001", Error: "boom"},
			{Phone: "5511900000002", Error: "bang"},
		}
		job.Status = model.JobStatusDone
		finished := time.Now().UTC()
		job.FinishedAt = &finished
		require.NoError(t, s.UpdateJob(ctx, job))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "clientes.xlsx", got.FileName)
		assert.Equal(t, 118, got.ProcessedCount)
		assert.Equal(t, 2, got.ErrorCount)
		assert.Equal(t, model.JobStatusDone, got.Status)
		assert.Equal(t, job.ErrorDetail, got.ErrorDetail)
		require.NotNil(t, got.FinishedAt)
		assert.Equal(t, got.TotalRows, got.Counted())
	})

	t.Run("GetJobNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetJob(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrJobNotFound))
	})

	t.Run("UpdateJobNotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.UpdateJob(context.Background(), &model.UploadJob{ID: "missing", Status: model.JobStatusDone})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrJobNotFound))
	})

	t.Run("ListJobs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.CreateJob(ctx, "a.csv", 1)
		require.NoError(t, err)
		second, err := s.CreateJob(ctx, "b.csv", 2)
		require.NoError(t, err)
		second.Status = model.JobStatusError
		require.NoError(t, s.UpdateJob(ctx, second))

		jobs, err := s.ListJobs(ctx, model.JobFilter{})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, second.ID, jobs[0].ID)
		assert.Equal(t, first.ID, jobs[1].ID)

		jobs, err = s.ListJobs(ctx, model.JobFilter{Status: model.JobStatusError})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "b.csv", jobs[0].FileName)

		jobs, err = s.ListJobs(ctx, model.JobFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, jobs, 1)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestDedupeUpdates(t *testing.T) {
	got := dedupeUpdates([]model.StatusUpdate{
		{Phone: "a", Status: model.WhatsAppInvalid},
		{Phone: "b", Status: model.WhatsAppValid},
		{Phone: "a", Status: model.WhatsAppValid},
	})
	assert.Equal(t, []model.StatusUpdate{
		{Phone: "a", Status: model.WhatsAppValid},
		{Phone: "b", Status: model.WhatsAppValid},
	}, got)

	assert.Empty(t, dedupeUpdates(nil))
}

func TestCustomerWhere(t *testing.T) {
	where, args := customerWhere(model.CustomerFilter{}, postgresPlaceholder)
	assert.Equal(t, "active = $1", where)
	assert.Equal(t, []any{true}, args)

	where, args = customerWhere(model.CustomerFilter{
		WhatsAppStatus: model.WhatsAppValid,
		Blocked:        boolPtr(false),
		Active:         boolPtr(false),
	}, postgresPlaceholder)
	assert.Equal(t, "active = $1 AND blocked = $2 AND whatsapp_status = $3", where)
	assert.Equal(t, []any{false, false, "valid"}, args)
}
