package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobtracker-backend/internal/bootstrap"
	"jobtracker-backend/internal/shared/config"
	"jobtracker-backend/internal/shared/server"
	"jobtracker-backend/internal/shared/telemetry"
	"jobtracker-backend/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleAPI)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workersDone <-chan struct{}
	if cfg.WorkerInProcess {
		workersDone = worker.Start(workerCtx, cfg.WorkerConcurrency, app.NewRunner)
	}

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting API server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Warn("api.shutdown_failed", map[string]any{"error": err})
	}

	// Stop consuming only after the server has drained, so accepted requests
	// still get their events processed in memory mode.
	stopWorkers()
	if workersDone != nil {
		select {
		case <-workersDone:
		case <-shutdownCtx.Done():
			telemetry.Warn("api.worker_shutdown_timeout", nil)
		}
	}
}
