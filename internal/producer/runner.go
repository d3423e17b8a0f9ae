package producer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BookingSync/dionysus-go/internal/instrument"
	"github.com/BookingSync/dionysus-go/internal/lock"
	"github.com/BookingSync/dionysus-go/internal/logger"
	"github.com/BookingSync/dionysus-go/internal/metrics"
)

// RunnerConfig tunes the polling loop.
type RunnerConfig struct {
	Namespace    string
	Topics       []string
	BatchSize    int
	PollInterval time.Duration
	LockTTL      time.Duration
}

// Runner supervises one polling loop over the configured topics. Per topic
// it takes a distributed lock so only one worker drains it at a time;
// other workers simply skip and move on, which is how the pipeline scales
// horizontally without double-publishing.
type Runner struct {
	cfg      RunnerConfig
	producer *Producer
	locks    lock.Locker
	inst     instrument.Instrumenter
	errors   instrument.ErrorHandler
	log      *zap.Logger

	// Reconnect is called once on start to shake out stale DB connections
	// after idle periods or forking.
	Reconnect func(ctx context.Context) error
}

func NewRunner(cfg RunnerConfig, p *Producer, locks lock.Locker, inst instrument.Instrumenter, errors instrument.ErrorHandler) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &Runner{cfg: cfg, producer: p, locks: locks, inst: inst, errors: errors, log: logger.Named("outbox.runner")}
}

// Run polls until ctx is cancelled. Infrastructure failures (lock, fetch,
// connection) are reported and terminate the loop; per-entry publish
// failures are absorbed inside the producer and never reach here.
func (r *Runner) Run(ctx context.Context) error {
	if r.Reconnect != nil {
		if err := r.Reconnect(ctx); err != nil {
			r.errors.CaptureException(err)
			return fmt.Errorf("outbox runner reconnect: %w", err)
		}
	}

	r.inst.Event("outbox_worker.started", map[string]any{"topics": r.cfg.Topics})
	defer r.inst.Event("outbox_worker.stopped", nil)

	for {
		if ctx.Err() != nil {
			return nil
		}
		for _, topic := range r.cfg.Topics {
			if ctx.Err() != nil {
				return nil
			}
			if err := r.processTopic(ctx, topic); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.errors.CaptureException(err)
				return fmt.Errorf("outbox runner topic %s: %w", topic, err)
			}
		}
		r.inst.Event("outbox_worker.heartbeat", nil)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// processTopic drains the topic while holding its lock: repeated producer
// calls until a fetch comes back empty.
func (r *Runner) processTopic(ctx context.Context, topic string) error {
	lockName := fmt.Sprintf("%s_%s_lock", r.cfg.Namespace, topic)
	release, acquired, err := r.locks.TryLock(ctx, lockName, r.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", lockName, err)
	}
	if !acquired {
		return nil
	}
	defer release()

	r.inst.Event("outbox_worker.processing_topic", map[string]any{"topic": topic})
	processed := 0
	for {
		if ctx.Err() != nil {
			break
		}
		entries, err := r.producer.Call(ctx, topic, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			break
		}
		processed += len(entries)
	}
	metrics.OutboxPendingGauge.WithLabelValues(topic).Set(0)
	r.inst.Event("outbox_worker.processed_topic", map[string]any{"topic": topic, "entries": processed})
	r.log.Debug("topic drained", zap.String("topic", topic), zap.Int("entries", processed))
	return nil
}
