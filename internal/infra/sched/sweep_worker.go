package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/metrics"
	"github.com/suntrackspb/paid-subscribe-bot/internal/usecase"
)

// SweepWorker is the reconciliation loop for subscription state: it expires
// overdue subscriptions, notifies their owners, sends expiry warnings and
// re-drives unconfirmed channel membership changes. Each task is isolated;
// one failing does not stop the others.
type SweepWorker struct {
	interval    time.Duration
	warnWindows []int
	batchLimit  int
	subUC       usecase.SubscriptionUseCase
	notifUC     usecase.NotificationUseCase
	log         *zerolog.Logger
}

func NewSweepWorker(
	interval time.Duration,
	warnWindows []int,
	batchLimit int,
	subUC usecase.SubscriptionUseCase,
	notifUC usecase.NotificationUseCase,
	logger *zerolog.Logger,
) *SweepWorker {
	sweepLog := logger.With().Str("component", "SweepWorker").Logger()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &SweepWorker{
		interval:    interval,
		warnWindows: warnWindows,
		batchLimit:  batchLimit,
		subUC:       subUC,
		notifUC:     notifUC,
		log:         &sweepLog,
	}
}

func (w *SweepWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting sweep worker")
	// Run once on startup, then on every tick
	w.runSweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping sweep worker")
			return ctx.Err()
		case <-ticker.C:
			w.runSweep(ctx)
		}
	}
}

func (w *SweepWorker) runSweep(ctx context.Context) {
	w.task(ctx, "expire", w.expire)
	w.task(ctx, "warn", w.warn)
	w.task(ctx, "drift", w.drift)
}

func (w *SweepWorker) task(ctx context.Context, name string, fn func(ctx context.Context) error) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	result := "ok"
	if err := fn(runCtx); err != nil {
		result = "error"
		w.log.Error().Err(err).Str("task", name).Msg("sweep task failed")
	}
	metrics.IncSweepRun(name, result)
	metrics.ObserveSweepDuration(name, time.Since(start).Seconds())
}

func (w *SweepWorker) expire(ctx context.Context) error {
	expired, err := w.subUC.ExpireDue(ctx, w.batchLimit)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}
	metrics.IncSubscriptionsExpired(len(expired))
	w.log.Info().Int("count", len(expired)).Msg("subscriptions expired")

	sent, err := w.notifUC.NotifyExpired(ctx, expired)
	if sent > 0 {
		w.log.Info().Int("count", sent).Msg("expiry notices sent")
	}
	return err
}

func (w *SweepWorker) warn(ctx context.Context) error {
	sent, err := w.notifUC.SendExpiryWarnings(ctx, w.warnWindows)
	if sent > 0 {
		w.log.Info().Int("count", sent).Msg("expiry warnings sent")
	}
	if n, cErr := w.subUC.CountActive(ctx); cErr == nil {
		metrics.SetSubscriptionsActive(n)
	}
	return err
}

func (w *SweepWorker) drift(ctx context.Context) error {
	fixed, err := w.subUC.ReconcileMemberships(ctx, w.batchLimit)
	if fixed > 0 {
		w.log.Info().Int("count", fixed).Msg("membership drift reconciled")
	}
	return err
}
