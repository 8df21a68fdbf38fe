package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/SscSPs/backup_orchestrator/internal/middleware"
	"github.com/juju/clock"
)

// PeriodicTask is one pass of a periodic loop; it reports how many items it acted on.
type PeriodicTask func(ctx context.Context) (int, error)

// RunPeriodically calls task every interval until ctx is cancelled. A failed pass is logged
// and the loop carries on.
func RunPeriodically(ctx context.Context, clk clock.Clock, name string, interval time.Duration, task PeriodicTask) error {
	if clk == nil {
		clk = clock.WallClock
	}
	logger := middleware.GetLoggerFromCtx(ctx).With(slog.String("component", name))
	ctx = middleware.WithLogger(ctx, logger)
	logger.Info("Periodic loop starting", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Periodic loop stopped")
			return ctx.Err()
		case <-clk.After(interval):
		}

		n, err := task(ctx)
		if err != nil {
			logger.Error("Periodic pass failed", slog.String("error", err.Error()), slog.Int("count", n))
			continue
		}
		if n > 0 {
			logger.Info("Periodic pass acted", slog.Int("count", n))
		}
	}
}
