package worker

import (
	"context"
	"sync"

	"jobtracker-backend/internal/shared/telemetry"
)

// Start launches n runners from newRunner. The returned channel is closed
// once every runner has returned.
func Start(ctx context.Context, n int, newRunner func() *Runner) <-chan struct{} {
	if n < 1 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := newRunner().Run(ctx); err != nil {
				telemetry.Error("worker.runner_exited", map[string]any{"runner": id, "error": err})
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}
