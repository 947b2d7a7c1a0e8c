// Package store persists customers and upload jobs. Postgres is the
// production backend; SQLite serves local runs and tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealer-sync/internal/model"
)

// CustomerUpsert is the whitelisted set of columns an import writes for one
// customer. Send-tracking and status columns take their defaults on insert
// and are never overwritten by an import.
type CustomerUpsert struct {
	Phone     string
	Name      string
	Email     string
	Vehicles  []model.VehicleRecord
	UpdatedAt time.Time
}

// CustomerStore is the customer side of the store, keyed by canonical phone.
type CustomerStore interface {
	// GetByPhone returns nil, nil when no customer has the phone.
	GetByPhone(ctx context.Context, phone string) (*model.PersistedCustomer, error)
	UpsertByPhone(ctx context.Context, c CustomerUpsert) error
	CountActive(ctx context.Context, filter model.CustomerFilter) (int, error)
	ListPhonesByStatus(ctx context.Context, status model.WhatsAppStatus, limit int) ([]string, error)
	UpsertWhatsAppStatus(ctx context.Context, updates []model.StatusUpdate) error
	StatusCounts(ctx context.Context) (map[model.WhatsAppStatus]int, error)
}

// JobStore persists UploadJob summaries.
type JobStore interface {
	CreateJob(ctx context.Context, fileName string, totalRows int) (*model.UploadJob, error)
	UpdateJob(ctx context.Context, job *model.UploadJob) error
	GetJob(ctx context.Context, id string) (*model.UploadJob, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.UploadJob, error)
}

// Store is the full persistence surface.
type Store interface {
	CustomerStore
	JobStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// ErrJobNotFound is returned by GetJob and UpdateJob for an unknown id.
var ErrJobNotFound = eris.New("store: job not found")

// defaultListLimit caps ListJobs and ListPhonesByStatus when no limit is given.
const defaultListLimit = 100

// dedupeUpdates keeps the last status per phone, in first-seen order.
func dedupeUpdates(updates []model.StatusUpdate) []model.StatusUpdate {
	index := make(map[string]int, len(updates))
	out := make([]model.StatusUpdate, 0, len(updates))
	for _, u := range updates {
		if i, ok := index[u.Phone]; ok {
			out[i] = u
			continue
		}
		index[u.Phone] = len(out)
		out = append(out, u)
	}
	return out
}
