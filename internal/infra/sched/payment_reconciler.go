package sched

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/infra/metrics"
	"daraja-payments/internal/infra/worker"
)

// PendingResolver is the part of the payment use case the reconciler drives.
type PendingResolver interface {
	PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Payment, error)
	ResolvePending(ctx context.Context, p *model.Payment) (*model.Payment, bool, error)
}

// PaymentReconciler periodically scans for stale PENDING payments and asks
// the provider for their state. This covers callbacks that never arrived
// and payers who approved a PayPal order but never came back.
type PaymentReconciler struct {
	uc         PendingResolver
	pool       *worker.Pool
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending payment must be to retry
	batch      int
	callTTL    time.Duration
	now        func() time.Time
	log        *zerolog.Logger
}

func NewPaymentReconciler(uc PendingResolver, pool *worker.Pool, interval, staleAfter time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	compLog := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		uc:         uc,
		pool:       pool,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      200,
		callTTL:    30 * time.Second,
		now:        time.Now,
		log:        &compLog,
	}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Msg("Starting payment reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick reconciles one batch and waits for it to finish.
func (w *PaymentReconciler) Tick(ctx context.Context) int {
	cutoff := w.now().Add(-w.staleAfter)
	pending, err := w.uc.PendingOlderThan(ctx, cutoff, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("list pending payments failed")
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for _, p := range pending {
		p := p
		wg.Add(1)
		task := func(ctx context.Context) error {
			defer wg.Done()
			if w.reconcile(ctx, p) {
				mu.Lock()
				settled++
				mu.Unlock()
			}
			return nil
		}
		if err := w.pool.SubmitWait(ctx, task); err != nil {
			wg.Done()
			w.log.Warn().Err(err).Str("payment_id", p.ID).Msg("reconcile not scheduled")
			break
		}
	}
	wg.Wait()

	if settled > 0 {
		w.log.Info().Int("settled", settled).Int("examined", len(pending)).Msg("reconciled stale payments")
	}
	return settled
}

func (w *PaymentReconciler) reconcile(ctx context.Context, p *model.Payment) bool {
	callCtx, cancel := context.WithTimeout(ctx, w.callTTL)
	defer cancel()

	got, settled, err := w.uc.ResolvePending(callCtx, p)
	if err != nil {
		metrics.IncReconciled("error")
		w.log.Warn().Err(err).Str("payment_id", p.ID).Str("method", string(p.Method)).Msg("reconcile failed")
		return false
	}
	if !settled {
		metrics.IncReconciled("pending")
		return false
	}
	outcome := "failure"
	if got.Status == model.PaymentStatusCompleted {
		outcome = "success"
	}
	metrics.IncReconciled(outcome)
	metrics.RecordSettlement(string(got.Method), strings.ToLower(string(got.Status)), string(got.Currency), string(got.Tier), "reconciler", got.Amount)
	w.log.Info().Str("payment_id", got.ID).Str("status", string(got.Status)).Msg("reconciled payment")
	return true
}
