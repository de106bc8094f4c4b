package hub

import (
	"context"
	"time"

	"github.com/servo-bridge/backend/internal/logger"
	"github.com/servo-bridge/backend/internal/metrics"
	"go.uber.org/zap"
)

// Broadcaster pushes snapshots to the registry every interval, and
// immediately after Trigger. Triggers arriving faster than the loop can
// serve them coalesce into one push.
type Broadcaster struct {
	src      SnapshotSource
	reg      *Registry
	interval time.Duration
	trigger  chan struct{}
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewBroadcaster creates a broadcaster over reg.
func NewBroadcaster(src SnapshotSource, reg *Registry, interval time.Duration, m *metrics.Metrics, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		src:      src,
		reg:      reg,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		metrics:  m,
		log:      logger.Component(log, "broadcaster"),
	}
}

// Trigger requests an immediate push without blocking.
func (b *Broadcaster) Trigger() {
	select {
	case b.trigger <- struct{}{}:
	default:
	}
}

// Run broadcasts until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.log.Info("broadcast loop started", zap.Duration("interval", b.interval))
	for {
		select {
		case <-ctx.Done():
			b.log.Info("broadcast loop stopped")
			return nil
		case now := <-ticker.C:
			b.Tick()
			b.reg.SweepIdle(now)
		case <-b.trigger:
			b.Tick()
		}
	}
}

// Tick takes one snapshot and fans it out.
func (b *Broadcaster) Tick() int {
	if b.reg.Count() == 0 {
		return 0
	}
	start := time.Now()
	n := b.reg.Broadcast(b.src.Snapshot())
	b.metrics.Broadcast(time.Since(start))
	return n
}
