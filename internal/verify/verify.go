// Package verify checks stored phones against the messaging platform and
// writes the verdicts back. Batches run strictly one after another with a
// fixed delay in between.
package verify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealer-sync/internal/ingest"
	"github.com/sells-group/dealer-sync/internal/model"
	"github.com/sells-group/dealer-sync/internal/monitoring"
	"github.com/sells-group/dealer-sync/internal/resilience"
	"github.com/sells-group/dealer-sync/pkg/whatsapp"
)

// Defaults applied to a zero Config.
const (
	DefaultBatchSize  = 50
	DefaultBatchDelay = 3 * time.Second
)

// Store is the part of the store the verifier reads from and writes to.
type Store interface {
	ListPhonesByStatus(ctx context.Context, status model.WhatsAppStatus, limit int) ([]string, error)
	UpsertWhatsAppStatus(ctx context.Context, updates []model.StatusUpdate) error
}

// Config controls batching, pacing and per-batch retries.
type Config struct {
	BatchSize  int
	BatchDelay time.Duration
	Retry      resilience.RetryConfig
}

// Result summarises one verification run.
type Result struct {
	Batches       int `json:"batches" yaml:"batches"`
	FailedBatches int `json:"failed_batches" yaml:"failed_batches"`
	Valid         int `json:"valid" yaml:"valid"`
	Invalid       int `json:"invalid" yaml:"invalid"`
	Unchanged     int `json:"unchanged" yaml:"unchanged"`
}

// Selection picks the phones to verify. Explicit Phones win over All, which
// wins over Status. An empty selection means every phone still unknown.
type Selection struct {
	Phones []string
	All    bool
	Status model.WhatsAppStatus
	Limit  int
}

// Verifier runs capability checks.
type Verifier struct {
	client  whatsapp.Client
	store   Store
	cfg     Config
	metrics *monitoring.Metrics
	pause   func(ctx context.Context, d time.Duration) error
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithMetrics records verdicts and failed batches on m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// New creates a Verifier. Zero Config fields take the package defaults.
func New(client whatsapp.Client, st Store, cfg Config, opts ...Option) *Verifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("verify", "check batch")
	}
	v := &Verifier{
		client: client,
		store:  st,
		cfg:    cfg,
		pause:  resilience.Pause,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Select resolves a Selection to canonical phones. Explicit phones are
// normalized; invalid ones are dropped with a warning and duplicates are
// removed.
func (v *Verifier) Select(ctx context.Context, sel Selection) ([]string, error) {
	if len(sel.Phones) > 0 {
		return normalizePhones(sel.Phones), nil
	}

	statuses := []model.WhatsAppStatus{model.WhatsAppUnknown}
	switch {
	case sel.All:
		statuses = []model.WhatsAppStatus{model.WhatsAppUnknown, model.WhatsAppInvalid, model.WhatsAppValid}
	case sel.Status != "":
		statuses = []model.WhatsAppStatus{sel.Status}
	}

	var phones []string
	for _, st := range statuses {
		limit := 0
		if sel.Limit > 0 {
			limit = sel.Limit - len(phones)
			if limit <= 0 {
				break
			}
		}
		got, err := v.store.ListPhonesByStatus(ctx, st, limit)
		if err != nil {
			return nil, eris.Wrapf(err, "verify: list %s phones", st)
		}
		phones = append(phones, got...)
	}
	return phones, nil
}

// Run selects phones and verifies them.
func (v *Verifier) Run(ctx context.Context, sel Selection) (Result, error) {
	phones, err := v.Select(ctx, sel)
	if err != nil {
		return Result{}, err
	}
	return v.Verify(ctx, phones), nil
}

// Verify checks phones in batches of Config.BatchSize. A batch whose check
// call fails after retries, or whose verdicts cannot be stored, is skipped
// and its phones keep their stored status. Numbers without a recognizable
// verdict are left untouched as well.
func (v *Verifier) Verify(ctx context.Context, phones []string) Result {
	var res Result
	batches := split(phones, v.cfg.BatchSize)
	log := zap.L().With(zap.String("component", "verify"))
	log.Info("verify: starting",
		zap.Int("phones", len(phones)),
		zap.Int("batches", len(batches)),
		zap.Duration("delay", v.cfg.BatchDelay),
	)

	for i, batch := range batches {
		res.Batches++
		blog := log.With(zap.Int("batch", i+1), zap.Int("size", len(batch)))

		valid, invalid, err := v.checkBatch(ctx, batch)
		if err != nil {
			res.FailedBatches++
			res.Unchanged += len(batch)
			v.metrics.ObserveFailedBatch()
			blog.Error("verify: batch skipped", zap.Error(err))
		} else {
			res.Valid += valid
			res.Invalid += invalid
			res.Unchanged += len(batch) - valid - invalid
			v.metrics.ObserveVerdicts(model.WhatsAppValid, valid)
			v.metrics.ObserveVerdicts(model.WhatsAppInvalid, invalid)
			blog.Info("verify: batch complete", zap.Int("valid", valid), zap.Int("invalid", invalid))
		}

		if i < len(batches)-1 {
			_ = v.pause(ctx, v.cfg.BatchDelay)
		}
	}

	log.Info("verify: finished",
		zap.Int("batches", res.Batches),
		zap.Int("failed_batches", res.FailedBatches),
		zap.Int("valid", res.Valid),
		zap.Int("invalid", res.Invalid),
		zap.Int("unchanged", res.Unchanged),
	)
	return res
}

// checkBatch posts one batch and stores the recognizable verdicts.
func (v *Verifier) checkBatch(ctx context.Context, batch []string) (valid, invalid int, err error) {
	verdicts, err := resilience.DoVal(ctx, v.cfg.Retry, func(ctx context.Context) ([]whatsapp.Verdict, error) {
		return v.client.Check(ctx, batch)
	})
	if err != nil {
		return 0, 0, eris.Wrap(err, "verify: check batch")
	}

	updates := make([]model.StatusUpdate, 0, len(verdicts))
	for _, vd := range verdicts {
		switch vd.Outcome {
		case whatsapp.OutcomeValid:
			valid++
			updates = append(updates, model.StatusUpdate{Phone: vd.Number, Status: model.WhatsAppValid})
		case whatsapp.OutcomeInvalid:
			invalid++
			updates = append(updates, model.StatusUpdate{Phone: vd.Number, Status: model.WhatsAppInvalid})
		}
	}
	if len(updates) == 0 {
		return 0, 0, nil
	}
	if err := v.store.UpsertWhatsAppStatus(ctx, updates); err != nil {
		return 0, 0, eris.Wrap(err, "verify: store verdicts")
	}
	return valid, invalid, nil
}

func normalizePhones(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, r := range raw {
		p, err := ingest.NormalizePhone(r)
		if err != nil {
			zap.L().Warn("verify: dropping invalid phone", zap.String("phone", r), zap.Error(err))
			continue
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func split(phones []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(phones); start += size {
		out = append(out, phones[start:min(start+size, len(phones))])
	}
	return out
}
