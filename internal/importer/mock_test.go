package importer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/dealer-sync/internal/model"
	"github.com/sells-group/dealer-sync/internal/store"
)

// mockStore is an in-memory Store with failure injection.
type mockStore struct {
	mu        sync.Mutex
	customers map[string]*model.PersistedCustomer
	jobs      []model.UploadJob

	getErr    func(phone string) error
	upsertErr func(phone string) error
	createErr error
	delay     time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	upserts     atomic.Int32
	gets        atomic.Int32
}

func newMockStore() *mockStore {
	return &mockStore{customers: make(map[string]*model.PersistedCustomer)}
}

func (m *mockStore) enter() func() {
	n := m.inFlight.Add(1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return func() { m.inFlight.Add(-1) }
}

func (m *mockStore) GetByPhone(_ context.Context, phone string) (*model.PersistedCustomer, error) {
	defer m.enter()()
	m.gets.Add(1)
	if m.getErr != nil {
		if err := m.getErr(phone); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[phone]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.Vehicles = append([]model.VehicleRecord(nil), c.Vehicles...)
	return &cp, nil
}

func (m *mockStore) UpsertByPhone(_ context.Context, c store.CustomerUpsert) error {
	defer m.enter()()
	if m.upsertErr != nil {
		if err := m.upsertErr(c.Phone); err != nil {
			return err
		}
	}
	m.upserts.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.customers[c.Phone]
	if !ok {
		existing = &model.PersistedCustomer{Phone: c.Phone, WhatsAppStatus: model.WhatsAppUnknown, Active: true}
		m.customers[c.Phone] = existing
	}
	existing.Name = c.Name
	existing.Email = c.Email
	existing.Vehicles = c.Vehicles
	existing.UpdatedAt = c.UpdatedAt
	return nil
}

func (m *mockStore) CreateJob(_ context.Context, fileName string, totalRows int) (*model.UploadJob, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	job := model.UploadJob{ID: "job-1", FileName: fileName, TotalRows: totalRows, Status: model.JobStatusProcessing}
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	return &job, nil
}

func (m *mockStore) UpdateJob(_ context.Context, job *model.UploadJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, *job)
	return nil
}

// lastJob returns the most recently saved job state.
func (m *mockStore) lastJob() model.UploadJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[len(m.jobs)-1]
}
