package storage

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often RunSweeper deletes expired rows when no
// interval is given.
const DefaultSweepInterval = time.Minute

// RunSweeper calls DeleteExpired on every tick until ctx is cancelled.
// Failures are logged and retried on the next tick.
func RunSweeper(ctx context.Context, sweeper Sweeper, interval time.Duration, now func() time.Time, logger *slog.Logger) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.DeleteExpired(ctx, now())
			if err != nil {
				logger.Warn("Failed to delete expired rows", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("Deleted expired rows", "count", n)
			}
		}
	}
}
