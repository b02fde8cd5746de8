package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobtracker-backend/internal/events"
	"jobtracker-backend/internal/shared/metrics"
	"jobtracker-backend/internal/shared/telemetry"
)

const (
	DefaultMaxAttempts    = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultEventTimeout   = 3 * time.Minute

	maxRetryDelay  = 30 * time.Second
	nextErrorPause = time.Second
	settleTimeout  = 10 * time.Second
)

// Handler processes a decoded event.
type Handler interface {
	Process(ctx context.Context, evt events.ApplicationCreated) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt events.ApplicationCreated) error

func (f HandlerFunc) Process(ctx context.Context, evt events.ApplicationCreated) error {
	return f(ctx, evt)
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Topic        string
	Group        string
	DLQTopic     string
	MaxAttempts  int
	BaseDelay    time.Duration
	EventTimeout time.Duration
}

// Runner owns the consume loop of one subscription. It handles one event at
// a time and never exits because of a failing event.
type Runner struct {
	sub     events.Subscriber
	dlq     events.Publisher
	handler Handler
	cfg     RunnerConfig

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner constructs a Runner. dlq may be nil, in which case exhausted
// events are nacked.
func NewRunner(sub events.Subscriber, dlq events.Publisher, handler Handler, cfg RunnerConfig) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = DefaultEventTimeout
	}
	return &Runner{sub: sub, dlq: dlq, handler: handler, cfg: cfg, sleep: sleepContext}
}

// Run consumes until ctx is done or the subscription closes.
func (r *Runner) Run(ctx context.Context) error {
	sub, err := r.sub.Subscribe(ctx, r.cfg.Topic, r.cfg.Group)
	if err != nil {
		return fmt.Errorf("subscribe %s/%s: %w", r.cfg.Topic, r.cfg.Group, err)
	}
	defer sub.Close()

	telemetry.Info("worker.started", map[string]any{
		"topic":        r.cfg.Topic,
		"group":        r.cfg.Group,
		"dlq_topic":    r.cfg.DLQTopic,
		"max_attempts": r.cfg.MaxAttempts,
	})

	for {
		d, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, events.ErrClosed) {
				telemetry.Info("worker.stopped", map[string]any{"topic": r.cfg.Topic, "group": r.cfg.Group})
				return nil
			}
			telemetry.Error("worker.receive_failed", map[string]any{"topic": r.cfg.Topic, "error": err})
			if r.sleep(ctx, nextErrorPause) != nil {
				return nil
			}
			continue
		}
		r.handle(ctx, d)
	}
}

func (r *Runner) handle(ctx context.Context, d events.Delivery) {
	metrics.IncEventsReceived()
	msg := d.Message()
	fields := map[string]any{
		"topic":   msg.Topic,
		"key":     msg.Key,
		"attempt": d.Attempt(),
	}

	evt, meta, err := ParseMessage(msg.Payload)
	if err != nil {
		fields["body_len"] = meta.BodyLen
		fields["body_sha256"] = meta.BodySHA
		fields["error"] = err
		var missing ErrMissingApplicationID
		if errors.As(err, &missing) {
			telemetry.Error("worker.event.missing_id", fields)
		} else {
			telemetry.Error("worker.event.decode_failed", fields)
		}
		r.settle(d, true, fields)
		return
	}
	fields["application_id"] = evt.ApplicationID
	fields["user_id"] = evt.UserID
	telemetry.Info("worker.event.received", fields)

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		lastErr = r.processOnce(ctx, evt)
		if lastErr == nil {
			r.settle(d, true, fields)
			metrics.IncEventsCompleted()
			return
		}
		metrics.IncEventsFailed()
		failed := telemetry.With(fields, map[string]any{"try": attempt, "error": lastErr})
		telemetry.Error("worker.event.failed", failed)

		if ctx.Err() != nil {
			// Interrupted by shutdown, not by the event: leave it for redelivery.
			telemetry.Warn("worker.event.interrupted", fields)
			r.settle(d, false, fields)
			return
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}
		if r.sleep(ctx, r.backoff(attempt)) != nil {
			// Shutting down: leave the event for redelivery.
			r.settle(d, false, fields)
			return
		}
	}

	r.deadLetter(d, msg, lastErr, fields)
}

func (r *Runner) processOnce(ctx context.Context, evt events.ApplicationCreated) (err error) {
	eventCtx, cancel := context.WithTimeout(ctx, r.cfg.EventTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = ErrProcess{ApplicationID: evt.ApplicationID, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	if perr := r.handler.Process(eventCtx, evt); perr != nil {
		return ErrProcess{ApplicationID: evt.ApplicationID, Err: perr}
	}
	return nil
}

func (r *Runner) deadLetter(d events.Delivery, msg events.Message, cause error, fields map[string]any) {
	if r.dlq == nil || r.cfg.DLQTopic == "" {
		telemetry.Error("worker.event.exhausted", telemetry.With(fields, map[string]any{"error": cause}))
		r.settle(d, false, fields)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := r.dlq.Publish(ctx, r.cfg.DLQTopic, msg.Key, msg.Payload); err != nil {
		telemetry.Error("worker.event.dead_letter_failed", telemetry.With(fields, map[string]any{
			"dlq_topic": r.cfg.DLQTopic,
			"error":     err,
		}))
		r.settle(d, false, fields)
		return
	}
	metrics.IncEventsDeadLettered()
	telemetry.Warn("worker.event.dead_lettered", telemetry.With(fields, map[string]any{
		"dlq_topic": r.cfg.DLQTopic,
		"error":     cause,
	}))
	r.settle(d, true, fields)
}

// settle acks or nacks with a context detached from shutdown.
func (r *Runner) settle(d events.Delivery, ack bool, fields map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	op := "ack"
	var err error
	if ack {
		err = d.Ack(ctx)
	} else {
		op = "nack"
		err = d.Nack(ctx)
	}
	if err != nil {
		telemetry.Error("worker.event."+op+"_failed", telemetry.With(fields, map[string]any{"error": err}))
	}
}

func (r *Runner) backoff(attempt int) time.Duration {
	delay := r.cfg.BaseDelay << (attempt - 1)
	if delay > maxRetryDelay || delay < 0 {
		return maxRetryDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
