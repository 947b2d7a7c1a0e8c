package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealer-sync/internal/api"
	"github.com/sells-group/dealer-sync/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the alert checker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		st, err := openStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		metrics := monitoring.NewMetrics()
		server := api.NewServer(st, newImporter(st, cfg, metrics), cfg.Server,
			api.WithVerifier(newVerifier(st, cfg, metrics)),
			api.WithMetrics(metrics),
			// Imports started before a shutdown signal run to completion.
			api.WithBaseContext(context.WithoutCancel(ctx)),
		)

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st),
			monitoring.NewAlerter(cfg.Monitoring),
			metrics,
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           server.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		server.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
