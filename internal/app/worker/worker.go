package worker

import (
	"context"
	"log/slog"
	"pok7/internal/core/contracts"
	"pok7/internal/platform/metrics"

	"github.com/robfig/cron/v3"
)

// PresenceSweeper drops expired users from the shared presence index on a
// cron schedule and publishes the live user gauge.
type PresenceSweeper struct {
	log      *slog.Logger
	presence contracts.PresenceRegistry
	schedule string
}

func NewPresenceSweeper(
	log *slog.Logger,
	presence contracts.PresenceRegistry,
	schedule string,
) contracts.AsyncWorker {
	return &PresenceSweeper{
		log:      log,
		presence: presence,
		schedule: schedule,
	}
}

func (w *PresenceSweeper) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() { w.Sweep(ctx) }); err != nil {
		w.log.ErrorContext(ctx, "worker - presence sweep - invalid schedule", "schedule", w.schedule, "err", err)
		return err
	}
	c.Start()
	w.log.InfoContext(ctx, "worker - presence sweep - started", "schedule", w.schedule)
	<-ctx.Done()
	<-c.Stop().Done()
	w.log.Info("worker - presence sweep - stopped")
	return nil
}

// Sweep runs one pass. Errors are logged; the next tick retries.
func (w *PresenceSweeper) Sweep(ctx context.Context) {
	removed, err := w.presence.Sweep(ctx)
	if err != nil {
		w.log.ErrorContext(ctx, "worker - presence sweep - sweep failed", "err", err)
		return
	}
	metrics.PresenceSweptTotal.Add(float64(removed))
	live, err := w.presence.Count(ctx)
	if err != nil {
		w.log.ErrorContext(ctx, "worker - presence sweep - count failed", "err", err)
		return
	}
	metrics.LiveUsers.Set(float64(live))
	if removed > 0 {
		w.log.InfoContext(ctx, "worker - presence sweep - success", "removed", removed, "live", live)
	}
}
