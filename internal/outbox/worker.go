// Package outbox delivers lifecycle side effects recorded in the outbox table.
package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/lazypower/rekindle/internal/metrics"
	"github.com/lazypower/rekindle/internal/store"
)

// Config controls batch size, polling cadence and retry limits.
type Config struct {
	BatchSize   int           // entries leased per cycle
	Interval    time.Duration // poll interval
	MaxAttempts int           // deliveries tried before an entry is parked as failed
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Worker drains ready outbox entries through a Publisher.
type Worker struct {
	db  *store.DB
	pub Publisher
	cfg Config
	log zerolog.Logger
	now func() time.Time
}

// NewWorker constructs a Worker from dependencies.
func NewWorker(db *store.DB, pub Publisher, cfg Config, log zerolog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Worker{db: db, pub: pub, cfg: cfg, log: log.With().Str("component", "outbox").Logger(), now: time.Now}
}

// Run starts the polling loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("batch", w.cfg.BatchSize).Dur("interval", w.cfg.Interval).Msg("outbox worker starting")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("outbox worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				// Per-entry backoff keeps a failing publisher from hot-looping.
				w.log.Error().Err(err).Msg("outbox process")
			}
		}
	}
}

// ProcessOnce delivers one batch of ready entries and returns how many were
// delivered.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	now := w.now()
	entries, err := w.db.ReadyOutbox(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if err := w.pub.Publish(ctx, e); err != nil {
			w.markFailed(ctx, e, err, now)
			continue
		}
		if err := w.db.MarkOutboxDone(ctx, e.ID, now); err != nil {
			w.log.Error().Err(err).Str("id", e.ID).Msg("markDone error")
			continue
		}
		metrics.OutboxDeliveries.WithLabelValues(e.Op, "ok").Inc()
		delivered++
	}
	return delivered, nil
}

func (w *Worker) markFailed(ctx context.Context, e store.OutboxEntry, cause error, now time.Time) {
	attempts := e.AttemptCount + 1
	giveUp := attempts >= w.cfg.MaxAttempts
	next := now.Add(w.retryDelay(e.AttemptCount))

	result := "retry"
	if giveUp {
		result = "failed"
	}
	metrics.OutboxDeliveries.WithLabelValues(e.Op, result).Inc()
	w.log.Warn().Err(cause).
		Str("id", e.ID).
		Str("op", e.Op).
		Int("attempts", attempts).
		Bool("gave_up", giveUp).
		Time("next_attempt", next).
		Msg("outbox delivery failed")

	if err := w.db.MarkOutboxRetry(ctx, e.ID, cause, next, giveUp, now); err != nil {
		w.log.Error().Err(err).Str("id", e.ID).Msg("markFailed error")
	}
}

// retryDelay is the wait after the given number of prior failures:
// BaseBackoff doubled each time, capped at MaxBackoff.
func (w *Worker) retryDelay(priorFailures int) time.Duration {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = w.cfg.MaxBackoff
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	d := exp.NextBackOff()
	for i := 0; i < priorFailures && d < w.cfg.MaxBackoff; i++ {
		d = exp.NextBackOff()
	}
	return d
}
