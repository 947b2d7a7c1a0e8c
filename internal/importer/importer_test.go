package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealer-sync/internal/model"
	"github.com/sells-group/dealer-sync/internal/monitoring"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func customers(n int) []model.Customer {
	out := make([]model.Customer, n)
	for i := range out {
		out[i] = model.Customer{
			Phone:    fmt.Sprintf("55119%08d", i),
			Name:     fmt.Sprintf("Cliente %d", i),
			Vehicles: []model.VehicleRecord{{Description: "ONIX", Plate: fmt.Sprintf("AAA%04d", i)}},
		}
	}
	return out
}

type progressCall struct{ processed, errors, total int }

func TestRun_ChunksAndCountsEveryCustomer(t *testing.T) {
	st := newMockStore()
	o := New(st, Config{ChunkSize: 50, ChunkPause: time.Millisecond}, WithClock(func() time.Time { return fixedNow }))

	var calls []progressCall
	job, err := o.Run(context.Background(), "clientes.xlsx", customers(120), func(p, e, total int) {
		assert.Zero(t, st.inFlight.Load(), "progress reported before the chunk drained")
		calls = append(calls, progressCall{p, e, total})
	})
	require.NoError(t, err)

	assert.Equal(t, []progressCall{{50, 0, 120}, {100, 0, 120}, {120, 0, 120}}, calls)
	assert.Equal(t, model.JobStatusDone, job.Status)
	assert.Equal(t, 120, job.TotalRows)
	assert.Equal(t, 120, job.Counted())
	require.NotNil(t, job.FinishedAt)
	assert.Equal(t, fixedNow, *job.FinishedAt)
	assert.LessOrEqual(t, st.maxInFlight.Load(), int32(50))
	assert.Len(t, st.customers, 120)

	final := st.lastJob()
	assert.Equal(t, model.JobStatusDone, final.Status)
	assert.Equal(t, 120, final.ProcessedCount)
}

func TestRun_RecordFailureDoesNotAbort(t *testing.T) {
	st := newMockStore()
	bad := customers(7)[3].Phone
	st.upsertErr = func(phone string) error {
		if phone == bad {
			return errors.New("value too long for type character varying(255)")
		}
		return nil
	}
	o := New(st, Config{ChunkSize: 3})

	job, err := o.Run(context.Background(), "clientes.csv", customers(7), nil)
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusDone, job.Status)
	assert.Equal(t, 6, job.ProcessedCount)
	assert.Equal(t, 1, job.ErrorCount)
	require.Len(t, job.ErrorDetail, 1)
	assert.Equal(t, bad, job.ErrorDetail[0].Phone)
	assert.Contains(t, job.ErrorDetail[0].Error, "importer: upsert customer")
	assert.Contains(t, job.ErrorDetail[0].Error, "value too long")
}

func TestRun_LookupFailureCounted(t *testing.T) {
	st := newMockStore()
	st.getErr = func(phone string) error {
		if phone == customers(2)[0].Phone {
			return errors.New("invalid input syntax for type json")
		}
		return nil
	}
	o := New(st, Config{})

	job, err := o.Run(context.Background(), "x.csv", customers(2), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, job.ProcessedCount)
	assert.Equal(t, 1, job.ErrorCount)
	assert.Contains(t, job.ErrorDetail[0].Error, "importer: get customer")
}

func TestRun_MergesWithStoredCustomer(t *testing.T) {
	acquired := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	st := newMockStore()
	st.customers["5511999998888"] = &model.PersistedCustomer{
		Phone:    "5511999998888",
		Name:     "Maria",
		Email:    "maria@example.com",
		Vehicles: []model.VehicleRecord{{Plate: "ABC1234", AcquiredAt: acquired}},
	}
	o := New(st, Config{}, WithClock(func() time.Time { return fixedNow }))

	incoming := []model.Customer{{
		Phone:    "5511999998888",
		Name:     "Maria Souza",
		Vehicles: []model.VehicleRecord{{Plate: "abc1234", Seller: "João"}, {Description: "HB20", Year: "2022"}},
	}}

	for range 2 {
		_, err := o.Run(context.Background(), "x.csv", incoming, nil)
		require.NoError(t, err)
	}

	got := st.customers["5511999998888"]
	assert.Equal(t, "Maria Souza", got.Name)
	assert.Equal(t, "maria@example.com", got.Email)
	require.Len(t, got.Vehicles, 2)
	assert.Equal(t, "João", got.Vehicles[0].Seller)
	assert.Equal(t, acquired, got.Vehicles[0].AcquiredAt)
	assert.Equal(t, fixedNow, got.Vehicles[1].AcquiredAt)
	assert.Equal(t, fixedNow, got.UpdatedAt)
}

func TestRun_StoreOutageEndsJobInError(t *testing.T) {
	st := newMockStore()
	st.getErr = func(string) error { return &pgconn.PgError{Code: "08006", Message: "connection failure"} }
	o := New(st, Config{ChunkSize: 5, StoreFailureThreshold: 3})

	var progressCalls int
	job, err := o.Run(context.Background(), "x.csv", customers(12), func(int, int, int) { progressCalls++ })
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusError, job.Status)
	assert.Equal(t, 1, progressCalls, "later chunks are not attempted")
	assert.Zero(t, job.ProcessedCount)
	assert.Equal(t, 12, job.ErrorCount)
	assert.Equal(t, job.TotalRows, job.Counted())
	require.Len(t, job.ErrorDetail, 12)

	notAttempted := map[string]bool{}
	for _, d := range job.ErrorDetail {
		if d.Error == NotAttempted {
			notAttempted[d.Phone] = true
		}
	}
	assert.GreaterOrEqual(t, len(notAttempted), 7, "the last two chunks are never tried")
	for _, c := range customers(12)[5:] {
		assert.True(t, notAttempted[c.Phone], c.Phone)
	}
	assert.LessOrEqual(t, int(st.gets.Load()), 5)

	last := st.lastJob()
	assert.Equal(t, model.JobStatusError, last.Status)
	assert.Equal(t, last.TotalRows, last.Counted())
	assert.NotNil(t, job.FinishedAt)
}

func TestRun_StatementErrorsDoNotTripBreaker(t *testing.T) {
	st := newMockStore()
	st.upsertErr = func(string) error { return &pgconn.PgError{Code: "23514", Message: "check constraint"} }
	o := New(st, Config{ChunkSize: 4, StoreFailureThreshold: 2})

	job, err := o.Run(context.Background(), "x.csv", customers(10), nil)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusDone, job.Status)
	assert.Equal(t, 10, job.ErrorCount)
}

func TestRun_EmptyUpload(t *testing.T) {
	st := newMockStore()
	o := New(st, Config{})

	called := false
	job, err := o.Run(context.Background(), "vazio.csv", nil, func(int, int, int) { called = true })
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, model.JobStatusDone, job.Status)
	assert.Zero(t, job.TotalRows)
}

func TestRun_CreateJobFailure(t *testing.T) {
	st := newMockStore()
	st.createErr = errors.New("relation \"upload_jobs\" does not exist")
	o := New(st, Config{})

	job, err := o.Run(context.Background(), "x.csv", customers(1), nil)
	require.Error(t, err)
	assert.Nil(t, job)
	assert.Contains(t, err.Error(), "importer: create job")
	assert.Zero(t, st.upserts.Load())
}

func TestRun_RecordsMetrics(t *testing.T) {
	st := newMockStore()
	st.upsertErr = func(phone string) error {
		if phone == customers(3)[2].Phone {
			return errors.New("boom")
		}
		return nil
	}
	m := monitoring.NewMetrics()
	o := New(st, Config{ChunkSize: 2}, WithMetrics(m))

	_, err := o.Run(context.Background(), "x.csv", customers(3), nil)
	require.NoError(t, err)

	assert.InDelta(t, 2, testutil.ToFloat64(m.RecordsProcessed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RecordErrors), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Chunks), 0)
}

func TestNew_Defaults(t *testing.T) {
	o := New(newMockStore(), Config{ChunkPause: -time.Second})
	assert.Equal(t, DefaultChunkSize, o.cfg.ChunkSize)
	assert.Equal(t, DefaultStoreFailureThreshold, o.cfg.StoreFailureThreshold)
	assert.Zero(t, o.cfg.ChunkPause)
}

func TestChunk(t *testing.T) {
	assert.Empty(t, chunk(nil, 50))

	parts := chunk(customers(120), 50)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 50)
	assert.Len(t, parts[1], 50)
	assert.Len(t, parts[2], 20)
	assert.Equal(t, customers(120)[100].Phone, parts[2][0].Phone)
}
