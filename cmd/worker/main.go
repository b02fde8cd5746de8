package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobtracker-backend/internal/bootstrap"
	"jobtracker-backend/internal/shared/config"
	"jobtracker-backend/internal/shared/telemetry"
	"jobtracker-backend/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleWorker)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	if app.Broker.Name() == "memory" {
		telemetry.Warn("worker.memory_broker", map[string]any{
			"hint": "a standalone worker only sees events published in this process; set EVENT_BACKEND",
		})
	}

	telemetry.Info("worker.pool_started", map[string]any{
		"events":      app.Broker.Name(),
		"topic":       cfg.EventTopic,
		"group":       cfg.ConsumerGroup,
		"concurrency": cfg.WorkerConcurrency,
	})
	done := worker.Start(ctx, cfg.WorkerConcurrency, app.NewRunner)

	<-ctx.Done()
	telemetry.Info("worker.shutdown_requested", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
	if !waitFor(done, cfg.ShutdownTimeout) {
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"hint": "exiting with in-flight events; they will be redelivered"})
	}
}

// waitFor reports whether done closed within timeout.
func waitFor(done <-chan struct{}, timeout time.Duration) bool {
	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
