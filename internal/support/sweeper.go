package support

import (
	"context"
	"log/slog"
	"time"

	"github.com/beanjournal/support-console/internal/shared"
	"github.com/beanjournal/support-console/internal/store"
)

const sweeperInterval = time.Minute

// StartPresenceSweeper runs a background goroutine that periodically flips
// agents offline in the store when their last_seen exceeds ttl. Dashboard
// tabs closed without an explicit offline toggle otherwise stay online
// forever.
func StartPresenceSweeper(ctx context.Context, repo store.Repository, ttl time.Duration) {
	ticker := time.NewTicker(sweeperInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Presence sweeper started", "interval", sweeperInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepStaleAgents(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("Presence sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepStaleAgents(ctx context.Context, repo store.Repository, ttl time.Duration) {
	swept, err := markStaleOfflineWithRetry(ctx, repo, ttl)
	if err != nil {
		slog.Error("Presence sweep failed", "error", err)
		return
	}
	if swept > 0 {
		slog.Info("Marked stale agents offline", "count", swept)
	}
}

// markStaleOfflineWithRetry retries the sweep with exponential backoff to
// ride out SQLITE_BUSY while dashboards are writing presence rows.
func markStaleOfflineWithRetry(ctx context.Context, repo store.Repository, ttl time.Duration) (int64, error) {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		swept, err := repo.MarkStaleAgentsOffline(ctx, ttl)
		if err == nil {
			return swept, nil
		}
		lastErr = err

		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("Presence sweep hit locked database, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 0, lastErr
}
