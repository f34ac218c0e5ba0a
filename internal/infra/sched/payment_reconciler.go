package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/metrics"
	"github.com/suntrackspb/paid-subscribe-bot/internal/usecase"
)

// PaymentReconciler periodically re-checks stale pending payments against
// their provider. This covers webhooks that never arrived and crashes
// mid-confirmation.
type PaymentReconciler struct {
	uc         usecase.PaymentUseCase
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending payment must be to re-check
	batchLimit int
	log        *zerolog.Logger
}

func NewPaymentReconciler(uc usecase.PaymentUseCase, interval, staleAfter time.Duration, batchLimit int, logger *zerolog.Logger) *PaymentReconciler {
	recLog := logger.With().Str("component", "PaymentReconciler").Logger()
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &PaymentReconciler{uc: uc, interval: interval, staleAfter: staleAfter, batchLimit: batchLimit, log: &recLog}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting payment reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	checked, applied, err := w.uc.ReconcilePending(runCtx, w.staleAfter, w.batchLimit)
	result := "ok"
	if err != nil {
		result = "error"
		w.log.Error().Err(err).Msg("payment reconciliation failed")
	}
	metrics.IncSweepRun("reconcile_payments", result)
	metrics.ObserveSweepDuration("reconcile_payments", time.Since(start).Seconds())

	if checked > 0 {
		w.log.Info().Int("checked", checked).Int("applied", applied).Msg("stale payments re-checked")
	}
}
