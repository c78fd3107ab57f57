// File: internal/usecase/reconcile_uc.go
package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"

	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/adapter"
	"daraja-payments/internal/domain/ports/repository"
)

func (u *paymentUC) PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Payment, error) {
	return u.payments.ListPendingOlderThan(ctx, repository.NoTX, cutoff, limit)
}

// ResolvePending settles a payment whose callback or capture never arrived.
// M-PESA payments are queried; PayPal orders are looked up and captured once
// the payer has approved them. A payment the provider still reports as
// pending is left untouched.
func (u *paymentUC) ResolvePending(ctx context.Context, p *model.Payment) (*model.Payment, bool, error) {
	if p.Status.Terminal() {
		return p, false, nil
	}
	prov, err := u.provider(p.Method)
	if err != nil {
		return nil, false, err
	}
	log := u.log.With().Str("payment_id", p.ID).Str("method", string(p.Method)).Logger()

	var res adapter.Result
	switch p.Method {
	case model.MethodMpesa:
		if p.CheckoutRequestID == nil || *p.CheckoutRequestID == "" {
			// initiation never reached the provider
			return p, false, nil
		}
		res, err = prov.Resolve(ctx, p)
	case model.MethodPayPal:
		if !hasOrderID(p) {
			// order creation never reached the provider
			return p, false, nil
		}
		redirect, ok := prov.(adapter.RedirectProvider)
		if !ok {
			res, err = prov.Resolve(ctx, p)
			break
		}
		res, err = redirect.Lookup(ctx, p)
		if err == nil && res.Outcome == model.OutcomePending && approved(res) {
			log.Info().Msg("order approved without capture; capturing")
			return u.captureLocked(ctx, prov, p.ID)
		}
	}
	if err != nil {
		log.Warn().Err(err).Msg("provider status check failed")
		return nil, false, err
	}
	if res.Outcome == model.OutcomePending || res.Outcome == "" {
		return p, false, nil
	}
	return u.Commit(ctx, p.ID, res)
}

func hasOrderID(p *model.Payment) bool {
	if p.TransactionID != nil && *p.TransactionID != "" {
		return true
	}
	return p.Metadata.PayPal != nil && p.Metadata.PayPal.OrderID != ""
}

func approved(res adapter.Result) bool {
	return res.Details.PayPal != nil && strings.EqualFold(res.Details.PayPal.OrderStatus, "APPROVED")
}

func (u *paymentUC) SweepTiers(ctx context.Context, limit int) (int, error) {
	drift, err := u.orgs.ListTierDrift(ctx, repository.NoTX, limit)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, d := range drift {
		applied := false
		err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			org, err := u.orgs.FindByID(ctx, tx, d.OrganizationID)
			if err != nil {
				return err
			}
			if !model.IsUpgrade(org.Tier, d.PaidTier) {
				return nil
			}
			if err := u.orgs.UpdateTier(ctx, tx, org.ID, d.PaidTier); err != nil {
				return err
			}
			applied = true
			return nil
		})
		if err != nil {
			u.log.Error().Err(err).Str("org_id", d.OrganizationID).Msg("tier sweep failed")
			continue
		}
		if applied {
			fixed++
			u.log.Info().
				Str("org_id", d.OrganizationID).
				Str("payment_id", d.PaymentID).
				Str("from", string(d.CurrentTier)).
				Str("to", string(d.PaidTier)).
				Msg("tier re-applied from completed payment")
		}
	}
	return fixed, nil
}
