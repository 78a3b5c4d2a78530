package admission

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultJanitorInterval is how often stale entries are swept
const DefaultJanitorInterval = time.Hour

// Sweeper is anything that can evict its own stale entries
type Sweeper interface {
	Sweep() SweepStats
}

// Janitor periodically evicts stale admission entries. Each sweep locks one
// shard at a time, so live checks keep running while it works.
type Janitor struct {
	target   Sweeper
	interval time.Duration
	logger   *zap.Logger
}

func NewJanitor(target Sweeper, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		target:   target,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on every tick until ctx is cancelled
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("Admission janitor started", zap.Duration("interval", j.interval))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Admission janitor stopped")
			return nil
		case <-ticker.C:
			j.RunOnce()
		}
	}
}

// RunOnce performs a single sweep and logs what it removed
func (j *Janitor) RunOnce() SweepStats {
	start := time.Now()
	stats := j.target.Sweep()

	if stats.Total() > 0 {
		j.logger.Info("Admission entries evicted",
			zap.Int("addresses", stats.Addresses),
			zap.Int("identities", stats.Identities),
			zap.Int("linkages", stats.Linkages),
			zap.Int("auth_entries", stats.AuthEntries),
			zap.Int("registrations", stats.Registrations),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return stats
}
