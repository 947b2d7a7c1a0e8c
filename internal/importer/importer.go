// Package importer persists the customers grouped from one upload. Customers
// are processed in fixed-size chunks: sequential across chunks, concurrent
// within one. Every record is reconciled against the stored customer and
// upserted by phone, and the UploadJob summary is saved after each chunk.
package importer

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealer-sync/internal/model"
	"github.com/sells-group/dealer-sync/internal/monitoring"
	"github.com/sells-group/dealer-sync/internal/reconcile"
	"github.com/sells-group/dealer-sync/internal/resilience"
	"github.com/sells-group/dealer-sync/internal/store"
)

// Defaults applied to a zero Config.
const (
	DefaultChunkSize             = 50
	DefaultChunkPause            = 200 * time.Millisecond
	DefaultStoreFailureThreshold = 5
)

// NotAttempted is the error detail recorded for customers left unwritten
// because the store failure breaker was open.
const NotAttempted = "store unavailable: not attempted"

// Store is the part of the store the orchestrator needs.
type Store interface {
	GetByPhone(ctx context.Context, phone string) (*model.PersistedCustomer, error)
	UpsertByPhone(ctx context.Context, c store.CustomerUpsert) error
	CreateJob(ctx context.Context, fileName string, totalRows int) (*model.UploadJob, error)
	UpdateJob(ctx context.Context, job *model.UploadJob) error
}

// ProgressFunc receives the running counts after every chunk.
type ProgressFunc func(processed, errors, total int)

// Config controls chunking and the store failure breaker.
type Config struct {
	ChunkSize  int
	ChunkPause time.Duration
	// StoreFailureThreshold is the number of consecutive store outages that
	// ends the job in status error.
	StoreFailureThreshold int
}

// Orchestrator runs upload jobs against a Store.
type Orchestrator struct {
	store   Store
	cfg     Config
	metrics *monitoring.Metrics
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records chunk and job counters on m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the time source used for AcquiredAt and audit stamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator. Zero Config fields take the package defaults.
func New(st Store, cfg Config, opts ...Option) *Orchestrator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkPause < 0 {
		cfg.ChunkPause = 0
	}
	if cfg.StoreFailureThreshold <= 0 {
		cfg.StoreFailureThreshold = DefaultStoreFailureThreshold
	}
	o := &Orchestrator{
		store: st,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run creates the job for customers and processes it to completion.
func (o *Orchestrator) Run(ctx context.Context, fileName string, customers []model.Customer, progress ProgressFunc) (*model.UploadJob, error) {
	job, err := o.Start(ctx, fileName, len(customers))
	if err != nil {
		return nil, err
	}
	return o.Process(ctx, job, customers, progress)
}

// Start creates the job row in status processing.
func (o *Orchestrator) Start(ctx context.Context, fileName string, total int) (*model.UploadJob, error) {
	job, err := o.store.CreateJob(ctx, fileName, total)
	if err != nil {
		return nil, eris.Wrap(err, "importer: create job")
	}
	return job, nil
}

// Process persists customers under job. Per-record failures are counted in
// the job and never abort it. The only early stop is the store failure
// breaker opening: the remaining records are counted as errors without being
// attempted and the job ends in status error, so processed plus errors always
// equals the total. The returned job is the final summary; the error
// is non-nil only when the summary could not be saved.
func (o *Orchestrator) Process(ctx context.Context, job *model.UploadJob, customers []model.Customer, progress ProgressFunc) (*model.UploadJob, error) {
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("file", job.FileName))
	breaker := resilience.StoreBreaker(o.cfg.StoreFailureThreshold, func(from, to resilience.CircuitState) {
		log.Warn("importer: store breaker state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	})

	t := &tally{job: job}
	chunks := chunk(customers, o.cfg.ChunkSize)
	log.Info("importer: starting",
		zap.Int("customers", len(customers)),
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", o.cfg.ChunkSize),
	)

	aborted := false
	for i, c := range chunks {
		if breaker.Open() {
			aborted = true
			skipped := 0
			for _, rest := range chunks[i:] {
				for _, c := range rest {
					t.skip(c.Phone)
					skipped++
				}
			}
			o.metrics.ObserveChunk(0, skipped)
			log.Warn("importer: store breaker open, skipping remaining customers", zap.Int("skipped", skipped))
			break
		}

		processed, failed := o.runChunk(ctx, breaker, c, t)
		o.metrics.ObserveChunk(processed, failed)

		snap := t.snapshot()
		if err := o.store.UpdateJob(ctx, &snap); err != nil {
			log.Warn("importer: save progress", zap.Int("chunk", i+1), zap.Error(err))
		}
		if progress != nil {
			progress(snap.ProcessedCount, snap.ErrorCount, snap.TotalRows)
		}
		log.Info("importer: chunk complete",
			zap.Int("chunk", i+1),
			zap.Int("of", len(chunks)),
			zap.Int("processed", snap.ProcessedCount),
			zap.Int("errors", snap.ErrorCount),
		)

		if i < len(chunks)-1 {
			_ = resilience.Pause(ctx, o.cfg.ChunkPause)
		}
	}
	if breaker.Open() {
		aborted = true
	}

	status := model.JobStatusDone
	if aborted {
		status = model.JobStatusError
	}
	final := t.finish(status, o.now())
	o.metrics.ObserveJob(status)

	fields := []zap.Field{
		zap.String("status", string(final.Status)),
		zap.Int("total", final.TotalRows),
		zap.Int("processed", final.ProcessedCount),
		zap.Int("errors", final.ErrorCount),
	}
	if aborted {
		log.Error("importer: stopped after repeated store failures", fields...)
	} else {
		log.Info("importer: finished", fields...)
	}

	if err := o.store.UpdateJob(ctx, &final); err != nil {
		return &final, eris.Wrap(err, "importer: save final summary")
	}
	return &final, nil
}

// runChunk reconciles and upserts every customer of one chunk concurrently
// and waits for all of them. Records rejected by an open breaker count as
// errors.
func (o *Orchestrator) runChunk(ctx context.Context, breaker *resilience.CircuitBreaker, customers []model.Customer, t *tally) (processed, failed int) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(len(customers))

	for _, c := range customers {
		g.Go(func() error {
			err := breaker.Execute(ctx, func(ctx context.Context) error {
				return o.persist(ctx, c)
			})
			rejected := eris.Is(err, resilience.ErrCircuitOpen)
			if rejected {
				t.skip(c.Phone)
			} else {
				t.record(c.Phone, err)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case rejected:
				failed++
			case err != nil:
				failed++
				zap.L().Warn("importer: record failed", zap.String("phone", c.Phone), zap.Error(err))
			default:
				processed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return processed, failed
}

// persist reconciles one customer against its stored record and upserts the
// merged result.
func (o *Orchestrator) persist(ctx context.Context, c model.Customer) error {
	existing, err := o.store.GetByPhone(ctx, c.Phone)
	if err != nil {
		return eris.Wrap(err, "importer: get customer")
	}

	now := o.now()
	merged := reconcile.Merge(existing, c, now)
	err = o.store.UpsertByPhone(ctx, store.CustomerUpsert{
		Phone:     merged.Phone,
		Name:      merged.Name,
		Email:     merged.Email,
		Vehicles:  merged.Vehicles,
		UpdatedAt: now,
	})
	if err != nil {
		return eris.Wrap(err, "importer: upsert customer")
	}
	return nil
}

// tally is the single synchronized owner of the job counters while chunk
// workers run.
type tally struct {
	mu  sync.Mutex
	job *model.UploadJob
}

func (t *tally) record(phone string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.job.ProcessedCount++
		return
	}
	t.job.ErrorCount++
	t.job.ErrorDetail = append(t.job.ErrorDetail, model.ErrorDetail{Phone: phone, Error: err.Error()})
}

// skip counts a customer the store breaker kept from being attempted.
func (t *tally) skip(phone string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job.ErrorCount++
	t.job.ErrorDetail = append(t.job.ErrorDetail, model.ErrorDetail{Phone: phone, Error: NotAttempted})
}

func (t *tally) snapshot() model.UploadJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := *t.job
	snap.ErrorDetail = append([]model.ErrorDetail(nil), t.job.ErrorDetail...)
	return snap
}

func (t *tally) finish(status model.JobStatus, now time.Time) model.UploadJob {
	t.mu.Lock()
	t.job.Status = status
	t.job.FinishedAt = &now
	t.mu.Unlock()
	return t.snapshot()
}

// chunk splits customers into consecutive slices of at most size elements.
func chunk(customers []model.Customer, size int) [][]model.Customer {
	var out [][]model.Customer
	for start := 0; start < len(customers); start += size {
		end := min(start+size, len(customers))
		out = append(out, customers[start:end])
	}
	return out
}
