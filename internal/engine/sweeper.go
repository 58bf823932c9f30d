package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/seantiz/kiln/internal/store"
)

// Sweeper periodically evicts finished jobs older than a TTL. Pending and
// running jobs are never touched. A TTL of zero disables it.
type Sweeper struct {
	store  store.Store
	broker *ProgressBroker
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	cron   *cron.Cron
}

// NewSweeper creates a sweeper. broker may be nil.
func NewSweeper(s store.Store, broker *ProgressBroker, ttl time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:  s,
		broker: broker,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// Start runs Sweep on the given cron schedule (standard five-field syntax
// or a descriptor such as "@every 1m").
func (sw *Sweeper) Start(schedule string) error {
	if sw.ttl <= 0 {
		sw.logger.Info("job eviction disabled")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := sw.Sweep(context.Background()); err != nil {
			sw.logger.Error("sweep finished jobs", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", schedule, err)
	}

	sw.cron = c
	c.Start()
	sw.logger.Info("job eviction enabled", "ttl", sw.ttl.String(), "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (sw *Sweeper) Stop(ctx context.Context) {
	if sw.cron == nil {
		return
	}
	done := sw.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Sweep evicts every job that finished more than ttl ago and returns how
// many were removed.
func (sw *Sweeper) Sweep(ctx context.Context) (int, error) {
	if sw.ttl <= 0 {
		return 0, nil
	}

	ids, err := sw.store.EvictFinished(ctx, sw.now().Add(-sw.ttl))
	if err != nil {
		return 0, fmt.Errorf("evict finished jobs: %w", err)
	}
	if sw.broker != nil {
		for _, id := range ids {
			sw.broker.Forget(id)
		}
	}

	if len(ids) > 0 {
		jobsEvictedTotal.Add(float64(len(ids)))
		sw.logger.Info("evicted finished jobs", "count", len(ids))
	}
	return len(ids), nil
}
