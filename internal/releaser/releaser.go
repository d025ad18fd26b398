// Package releaser runs the background loop that pays out escrowed legs
// once their unlock conditions hold.
package releaser

import (
	"context"
	"log/slog"
	"time"
)

// Engine is the part of the settlement engine the loop drives.
type Engine interface {
	ReleaseAll(ctx context.Context) (int, error)
}

// Run calls ReleaseAll immediately and then every interval until ctx is
// done. Release errors are logged and retried on the next tick; Run only
// returns when ctx ends.
func Run(ctx context.Context, eng Engine, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("releaser started", "interval", interval)
	for {
		sweep(ctx, eng, logger)
		select {
		case <-ctx.Done():
			logger.Info("releaser stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sweep(ctx context.Context, eng Engine, logger *slog.Logger) {
	n, err := eng.ReleaseAll(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Warn("release sweep failed", "released", n, "error", err)
		return
	}
	if n > 0 {
		logger.Info("release sweep", "released", n)
	}
}
