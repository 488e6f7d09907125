// Package worker runs the background loops of the API process.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/ridebook/internal/domain"
	"github.com/pkordes/ridebook/internal/metrics"
)

// TimeoutQueue is the durable queue of scheduled offer timeouts.
// repo.OfferTimeoutRepo satisfies it.
type TimeoutQueue interface {
	ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]domain.OfferTimeout, error)
	MarkDone(ctx context.Context, ids []uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, fireAt time.Time, cause string) error
}

// TimeoutHandler reverts one expired offer. service.OfferCoordinator
// satisfies it.
type TimeoutHandler interface {
	HandleTimeout(ctx context.Context, t domain.OfferTimeout) (bool, error)
}

// PollerConfig tunes a TimeoutPoller. Zero values take the defaults below.
type PollerConfig struct {
	Interval   time.Duration
	BatchSize  int
	StaleAfter time.Duration
	MaxBackoff time.Duration
}

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 50
	defaultStaleAfter   = time.Minute
	defaultMaxBackoff   = time.Minute
)

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// TimeoutPoller fires due offer timeouts. Any number of instances may poll
// the same queue: rows are claimed with SKIP LOCKED, and a row left in
// processing by a crashed instance is reclaimed after StaleAfter.
type TimeoutPoller struct {
	queue   TimeoutQueue
	handler TimeoutHandler
	cfg     PollerConfig
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTimeoutPoller constructs a TimeoutPoller.
func NewTimeoutPoller(queue TimeoutQueue, handler TimeoutHandler, cfg PollerConfig, log *slog.Logger, m *metrics.Metrics) *TimeoutPoller {
	return &TimeoutPoller{
		queue:   queue,
		handler: handler,
		cfg:     cfg.withDefaults(),
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Run polls until ctx is cancelled. Batch failures are logged and the loop
// keeps going.
func (p *TimeoutPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.InfoContext(ctx, "offer timeout poller started", "interval", p.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("offer timeout poller stopped")
			return nil
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.log.ErrorContext(ctx, "offer timeout batch failed", "error", err)
			}
		}
	}
}

// ProcessBatch claims and handles one batch of due timeouts and returns how
// many rows it claimed.
func (p *TimeoutPoller) ProcessBatch(ctx context.Context) (int, error) {
	now := p.now().UTC()
	due, err := p.queue.ClaimDue(ctx, now, now.Add(-p.cfg.StaleAfter), p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("worker.TimeoutPoller.ProcessBatch: claim: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	var done []uuid.UUID
	for _, t := range due {
		reverted, err := p.handler.HandleTimeout(ctx, t)
		if err != nil {
			p.retryLater(ctx, t, now, err)
			continue
		}
		if reverted {
			p.metrics.TimeoutProcessed("reverted")
		} else {
			p.metrics.TimeoutProcessed("noop")
		}
		done = append(done, t.ID)
	}

	if len(done) > 0 {
		if err := p.queue.MarkDone(ctx, done); err != nil {
			return len(due), fmt.Errorf("worker.TimeoutPoller.ProcessBatch: mark done: %w", err)
		}
	}
	return len(due), nil
}

// retryLater puts a failed row back with exponential backoff on its attempt
// count.
func (p *TimeoutPoller) retryLater(ctx context.Context, t domain.OfferTimeout, now time.Time, cause error) {
	p.metrics.TimeoutProcessed("retry")
	fireAt := now.Add(p.backoff(t.Attempts))
	p.log.WarnContext(ctx, "offer timeout failed, rescheduling",
		"timeout_id", t.ID, "trip_id", t.TripID, "attempts", t.Attempts, "fire_at", fireAt, "error", cause)
	if err := p.queue.Reschedule(ctx, t.ID, fireAt, cause.Error()); err != nil {
		p.log.ErrorContext(ctx, "offer timeout reschedule failed", "timeout_id", t.ID, "error", err)
	}
}

func (p *TimeoutPoller) backoff(attempts int) time.Duration {
	d := p.cfg.Interval
	for i := 1; i < attempts && d < p.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, p.cfg.MaxBackoff)
}
