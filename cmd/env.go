package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealer-sync/internal/config"
	"github.com/sells-group/dealer-sync/internal/importer"
	"github.com/sells-group/dealer-sync/internal/monitoring"
	"github.com/sells-group/dealer-sync/internal/resilience"
	"github.com/sells-group/dealer-sync/internal/store"
	"github.com/sells-group/dealer-sync/internal/verify"
	"github.com/sells-group/dealer-sync/pkg/whatsapp"
)

// openStore validates the config for mode, opens the configured store and
// applies migrations. Callers should defer st.Close().
func openStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "dealer-sync.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

func newImporter(st importer.Store, c *config.Config, m *monitoring.Metrics) *importer.Orchestrator {
	return importer.New(st, importer.Config{
		ChunkSize:             c.Import.ChunkSize,
		ChunkPause:            c.Import.ChunkPause(),
		StoreFailureThreshold: c.Import.StoreFailureThreshold,
	}, importer.WithMetrics(m))
}

func newVerifier(st verify.Store, c *config.Config, m *monitoring.Metrics) *verify.Verifier {
	client := whatsapp.NewClient(c.WhatsApp.Key,
		whatsapp.WithBaseURL(c.WhatsApp.BaseURL),
		whatsapp.WithInstance(c.WhatsApp.Instance),
		whatsapp.WithTimeout(c.WhatsApp.Timeout()),
		whatsapp.WithRateLimit(c.WhatsApp.RatePerSec),
	)
	return verify.New(client, st, verify.Config{
		BatchSize:  c.Verify.BatchSize,
		BatchDelay: c.Verify.BatchDelay(),
		Retry:      resilience.RetryFromSettings(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs),
	}, verify.WithMetrics(m))
}
