package reconcile

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"zacharie/internal/core"
	"zacharie/pkg/domain"
)

// Syncer runs one sync round.
type Syncer interface {
	Sync(ctx context.Context) (Report, error)
}

// WorkerConfig tunes the retry loop. Zero values take the defaults.
type WorkerConfig struct {
	PollInterval        time.Duration
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultWorkerConfig returns the intervals used on devices.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:        time.Minute,
		InitialInterval:     2 * time.Second,
		MaxInterval:         5 * time.Minute,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	d := DefaultWorkerConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.RandomizationFactor < 0 {
		c.RandomizationFactor = 0
	}
	return c
}

// Worker syncs in the background: right away, on every Notify, and on a
// poll interval. Failed rounds are retried with exponential backoff for
// as long as the worker runs.
type Worker struct {
	syncer Syncer
	cfg    WorkerConfig
	logger core.Logger
	wake   chan struct{}
}

// NewWorker builds a worker around a syncer.
func NewWorker(syncer Syncer, cfg WorkerConfig, logger core.Logger) *Worker {
	if logger == nil {
		logger = core.NewNoopLogger()
	}
	return &Worker{syncer: syncer, cfg: cfg.withDefaults(), logger: logger, wake: make(chan struct{}, 1)}
}

// Notify asks for a sync as soon as possible, typically when connectivity
// comes back or a local write was queued. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = w.cfg.InitialInterval
	expBackoff.MaxInterval = w.cfg.MaxInterval
	expBackoff.Multiplier = w.cfg.Multiplier
	expBackoff.RandomizationFactor = w.cfg.RandomizationFactor
	expBackoff.Reset()

	timer := time.NewTimer(0)
	defer timer.Stop()
	var attempt uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.wake:
		case <-timer.C:
		}

		report, err := w.syncer.Sync(ctx)
		if ctx.Err() != nil {
			return nil
		}
		next := w.cfg.PollInterval
		switch {
		case err == nil:
			attempt = 0
			expBackoff.Reset()
			if !report.Empty() {
				w.logger.Debug("sync round", "accepted", len(report.Accepted), "conflicts", len(report.Conflicts), "rejected", len(report.Rejected))
			}
		default:
			attempt++
			if delay := expBackoff.NextBackOff(); delay != backoff.Stop {
				next = delay
			}
			if domain.IsRetryable(err) {
				w.logger.Warn("sync failed, retrying", "attempt", attempt, "delay", next, "error", err)
			} else {
				w.logger.Error("sync failed", "attempt", attempt, "delay", next, "error", err)
			}
		}
		timer.Reset(next)
	}
}
