// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/adapter"
	"daraja-payments/internal/domain/ports/repository"
	"daraja-payments/internal/infra/logging"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// InitiateUpgrade creates a PENDING payment for a tier upgrade and hands it to the provider.
	InitiateUpgrade(ctx context.Context, id model.Identity, req UpgradeRequest) (*UpgradeHandle, error)
	// HandleMpesaCallback applies an STK push result. Only a malformed body is an error.
	HandleMpesaCallback(ctx context.Context, body []byte) (CallbackOutcome, error)
	// CapturePayPal captures an approved PayPal order for the caller's payment.
	CapturePayPal(ctx context.Context, id model.Identity, paymentID string) (*CaptureResult, error)
	Status(ctx context.Context, id model.Identity, paymentID string) (*PaymentView, error)
	History(ctx context.Context, id model.Identity, limit int) ([]*PaymentView, error)

	// Commit moves a PENDING payment to the terminal status implied by res.
	// settled is false when the payment was already terminal.
	Commit(ctx context.Context, paymentID string, res adapter.Result) (p *model.Payment, settled bool, err error)
	// ResolvePending asks the provider for the payment's state and commits a terminal answer.
	ResolvePending(ctx context.Context, p *model.Payment) (*model.Payment, bool, error)
	PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Payment, error)
	// SweepTiers re-applies tiers that completed payments imply but organizations lack.
	SweepTiers(ctx context.Context, limit int) (int, error)
}

// Waker is signalled after a commit enqueued an outbox event.
type Waker interface {
	Wake()
}

// UpgradeRequest is the caller's choice of tier and method.
type UpgradeRequest struct {
	Tier   string
	Method model.PaymentMethod
	Phone  string // MPESA only
}

// UpgradeHandle is returned to the caller after initiation.
type UpgradeHandle struct {
	Payment           *model.Payment
	PaymentID         string
	Reference         string
	CheckoutRequestID string
	CustomerMessage   string
	OrderID           string
	ApprovalURL       string
}

// CaptureResult mirrors the capture endpoint response.
type CaptureResult struct {
	Payment *model.Payment
	Settled bool
	Success bool
	Status  model.PaymentStatus
	Message string
}

// CallbackOutcome reports what a callback did, for metrics and logs.
type CallbackOutcome struct {
	Result  string // completed|failed|duplicate|not_found|error
	Payment *model.Payment
}

// PaymentView is the caller-facing status of a payment.
type PaymentView struct {
	ID                string              `json:"id"`
	Status            model.PaymentStatus `json:"status"`
	Amount            float64             `json:"amount"`
	Currency          model.Currency      `json:"currency"`
	Tier              model.Tier          `json:"tier"`
	Method            model.PaymentMethod `json:"paymentMethod"`
	TransactionID     *string             `json:"transactionId"`
	CheckoutRequestID *string             `json:"checkoutRequestId,omitempty"`
	Reference         string              `json:"reference"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
	CompletedAt       *time.Time          `json:"completedAt,omitempty"`
}

func NewPaymentView(p *model.Payment) *PaymentView {
	return &PaymentView{
		ID:                p.ID,
		Status:            p.Status,
		Amount:            model.MajorUnits(p.Amount),
		Currency:          p.Currency,
		Tier:              p.Tier,
		Method:            p.Method,
		TransactionID:     p.TransactionID,
		CheckoutRequestID: p.CheckoutRequestID,
		Reference:         p.Reference,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		CompletedAt:       p.CompletedAt,
	}
}

const captureLockTTL = 30 * time.Second

func captureLockKey(paymentID string) string { return "lock:capture:" + paymentID }

type paymentUC struct {
	payments  repository.PaymentRepository
	orgs      repository.OrganizationRepository
	outbox    repository.OutboxRepository
	tm        repository.TransactionManager
	locker    repository.Locker
	providers map[model.PaymentMethod]adapter.PaymentProvider
	waker     Waker
	log       *zerolog.Logger
	now       func() time.Time
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	orgs repository.OrganizationRepository,
	outbox repository.OutboxRepository,
	tm repository.TransactionManager,
	locker repository.Locker,
	providers []adapter.PaymentProvider,
	waker Waker,
	logger *zerolog.Logger,
) *paymentUC {
	byMethod := make(map[model.PaymentMethod]adapter.PaymentProvider, len(providers))
	for _, p := range providers {
		byMethod[p.Method()] = p
	}
	lg := logger.With().Str("component", "payment_uc").Logger()
	return &paymentUC{
		payments:  payments,
		orgs:      orgs,
		outbox:    outbox,
		tm:        tm,
		locker:    locker,
		providers: byMethod,
		waker:     waker,
		log:       &lg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (u *paymentUC) SetClock(now func() time.Time) { u.now = now }

// callerOrganization resolves the organization owned by the caller.
func (u *paymentUC) callerOrganization(ctx context.Context, id model.Identity) (*model.Organization, error) {
	if id.IsZero() {
		return nil, domain.ErrNotAuthenticated
	}
	org, err := u.orgs.FindByOwner(ctx, repository.NoTX, id.UserID)
	if errors.Is(err, domain.ErrOrganizationNotFound) {
		return nil, domain.ErrNotAuthorized
	}
	return org, err
}

// ownedPayment loads a payment and checks that the caller owns its organization.
func (u *paymentUC) ownedPayment(ctx context.Context, id model.Identity, paymentID string) (*model.Payment, error) {
	org, err := u.callerOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(paymentID) == "" {
		return nil, fmt.Errorf("%w: payment id is required", domain.ErrInvalidArgument)
	}
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	if p.OrganizationID != org.ID {
		return nil, domain.ErrNotAuthorized
	}
	return p, nil
}

func (u *paymentUC) provider(m model.PaymentMethod) (adapter.PaymentProvider, error) {
	p, ok := u.providers[m]
	if !ok {
		return nil, fmt.Errorf("%w: no provider for %s", domain.ErrInvalidArgument, m)
	}
	return p, nil
}

func (u *paymentUC) InitiateUpgrade(ctx context.Context, id model.Identity, req UpgradeRequest) (*UpgradeHandle, error) {
	org, err := u.callerOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	target, err := model.ParseTier(req.Tier)
	if err != nil {
		return nil, err
	}
	if !model.IsUpgrade(org.Tier, target) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrNotUpgrade, org.Tier, target)
	}
	if model.Price(target, req.Method.Currency()) == 0 {
		return nil, domain.ErrFreeTier
	}
	prov, err := u.provider(req.Method)
	if err != nil {
		return nil, err
	}
	if req.Method == model.MethodMpesa && strings.TrimSpace(req.Phone) == "" {
		return nil, fmt.Errorf("%w: phone number is required", domain.ErrInvalidArgument)
	}

	p, err := model.NewPayment(org.ID, target, req.Method, u.now())
	if err != nil {
		return nil, err
	}
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	ctx = logging.WithPaymentID(logging.WithOrgID(ctx, org.ID), p.ID)
	log := logging.With(ctx, u.log).With().Str("method", string(p.Method)).Logger()

	h, err := prov.Initiate(ctx, adapter.Intent{
		PaymentID:   p.ID,
		Reference:   p.Reference,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Tier:        p.Tier,
		Description: p.Description(),
		Phone:       req.Phone,
	})
	if err != nil {
		log.Warn().Err(err).Msg("provider initiation failed; payment left pending")
		return nil, err
	}

	var txID, checkoutID *string
	if h.TransactionID != "" {
		txID = &h.TransactionID
	}
	if h.CheckoutRequestID != "" {
		checkoutID = &h.CheckoutRequestID
	}
	if err := u.payments.AttachProviderData(ctx, repository.NoTX, p.ID, txID, checkoutID, h.Metadata); err != nil {
		log.Error().Err(err).Msg("failed to store provider correlation data")
		return nil, err
	}
	p.TransactionID, p.CheckoutRequestID = txID, checkoutID
	p.Metadata = p.Metadata.Merge(h.Metadata)

	log.Info().Str("tier", string(p.Tier)).Str("reference", p.Reference).Msg("upgrade payment initiated")

	out := &UpgradeHandle{
		Payment:           p,
		PaymentID:         p.ID,
		Reference:         p.Reference,
		CheckoutRequestID: h.CheckoutRequestID,
		CustomerMessage:   h.CustomerMessage,
		ApprovalURL:       h.ApprovalURL,
	}
	if p.Method == model.MethodPayPal {
		out.OrderID = h.TransactionID
	}
	return out, nil
}

func (u *paymentUC) Commit(ctx context.Context, paymentID string, res adapter.Result) (*model.Payment, bool, error) {
	if res.Outcome != model.OutcomeSuccess && res.Outcome != model.OutcomeFailure {
		return nil, false, fmt.Errorf("%w: outcome %q is not terminal", domain.ErrInvalidArgument, res.Outcome)
	}

	var (
		out     *model.Payment
		settled bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status.Terminal() {
			out = p
			return nil
		}

		at := u.now()
		if err := p.Transition(res.Outcome, at); err != nil {
			return err
		}
		stamp := model.PaymentMetadata{CompletedAt: p.CompletedAt}
		if p.Status == model.PaymentStatusFailed {
			stamp = model.PaymentMetadata{FailedAt: &at}
		}
		patch := res.Details.Merge(stamp)
		p.Metadata = p.Metadata.Merge(patch)

		var txID *string
		if res.TransactionID != "" {
			txID = &res.TransactionID
			p.TransactionID = txID
		}

		ok, err := u.payments.UpdateStatusIfPending(ctx, tx, p.ID, p.Status, txID, p.CompletedAt, patch)
		if err != nil {
			return err
		}
		if !ok {
			// another path settled it first
			cur, err := u.payments.FindByID(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			out = cur
			return nil
		}

		org, err := u.orgs.FindByID(ctx, tx, p.OrganizationID)
		if err != nil {
			return err
		}
		previous := org.Tier
		routing := model.RoutingPaymentFailed
		if p.Status == model.PaymentStatusCompleted {
			routing = model.RoutingTierUpgraded
			if model.IsUpgrade(org.Tier, p.Tier) {
				if err := u.orgs.UpdateTier(ctx, tx, org.ID, p.Tier); err != nil {
					return err
				}
			}
		}

		msg, err := model.NewOutboxMessage(routing, model.TierChangeEvent{
			OrganizationID:   org.ID,
			OrganizationName: org.Name,
			Email:            org.Email,
			PaymentID:        p.ID,
			Reference:        p.Reference,
			Tier:             p.Tier,
			PreviousTier:     previous,
			Status:           string(p.Status),
			Amount:           model.MajorUnits(p.Amount),
			Currency:         p.Currency,
			OccurredAt:       at,
		}, at)
		if err != nil {
			return err
		}
		if err := u.outbox.Enqueue(ctx, tx, msg); err != nil {
			return err
		}
		out, settled = p, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if settled {
		u.log.Info().
			Str("payment_id", out.ID).
			Str("org_id", out.OrganizationID).
			Str("status", string(out.Status)).
			Str("tier", string(out.Tier)).
			Msg("payment settled")
		if u.waker != nil {
			u.waker.Wake()
		}
	}
	return out, settled, nil
}

func (u *paymentUC) HandleMpesaCallback(ctx context.Context, body []byte) (CallbackOutcome, error) {
	prov, err := u.provider(model.MethodMpesa)
	if err != nil {
		return CallbackOutcome{Result: "error"}, err
	}
	push, ok := prov.(adapter.PushProvider)
	if !ok {
		return CallbackOutcome{Result: "error"}, domain.ErrMethodMismatch
	}
	cb, err := push.ParseCallback(body)
	if err != nil {
		return CallbackOutcome{Result: "invalid"}, err
	}
	log := u.log.With().Str("checkout_request_id", cb.CheckoutRequestID).Int("result_code", cb.ResultCode).Logger()

	p, err := u.payments.FindByCheckoutRequestID(ctx, repository.NoTX, cb.CheckoutRequestID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		log.Warn().Msg("callback for unknown checkout request")
		return CallbackOutcome{Result: "not_found"}, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load payment for callback")
		return CallbackOutcome{Result: "error"}, nil
	}

	rc := cb.ResultCode
	details := model.MpesaMetadata{ResultCode: &rc, ResultDesc: cb.ResultDesc, ConfirmedAmount: cb.Amount}
	if cb.ReceiptNumber != nil {
		details.ReceiptNumber = *cb.ReceiptNumber
	}
	if cb.PhoneNumber != nil {
		details.CallbackPhone = *cb.PhoneNumber
	}
	res := adapter.Result{Outcome: model.OutcomeFailure, Details: model.PaymentMetadata{Mpesa: &details}}
	if cb.Succeeded() {
		res.Outcome = model.OutcomeSuccess
		res.TransactionID = details.ReceiptNumber
	} else {
		res.Details.FailureReason = cb.ResultDesc
	}

	settledPayment, settled, err := u.Commit(ctx, p.ID, res)
	if err != nil {
		log.Error().Err(err).Str("payment_id", p.ID).Msg("failed to commit callback result")
		return CallbackOutcome{Result: "error", Payment: p}, nil
	}
	if !settled {
		log.Info().Str("payment_id", p.ID).Str("status", string(settledPayment.Status)).Msg("duplicate callback ignored")
		return CallbackOutcome{Result: "duplicate", Payment: settledPayment}, nil
	}
	return CallbackOutcome{Result: strings.ToLower(string(settledPayment.Status)), Payment: settledPayment}, nil
}

func (u *paymentUC) CapturePayPal(ctx context.Context, id model.Identity, paymentID string) (*CaptureResult, error) {
	p, err := u.ownedPayment(ctx, id, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Method != model.MethodPayPal {
		return nil, domain.ErrMethodMismatch
	}
	if done := terminalCapture(p); done != nil {
		return done, done.err()
	}
	prov, err := u.provider(model.MethodPayPal)
	if err != nil {
		return nil, err
	}

	settledPayment, settled, err := u.captureLocked(ctx, prov, p.ID)
	if err != nil {
		return nil, err
	}
	out := captureResult(settledPayment)
	out.Settled = settled
	if !settled {
		return out, out.err()
	}
	return out, nil
}

// captureLocked resolves a PayPal payment while holding its capture lock so
// at most one capture call reaches the provider.
func (u *paymentUC) captureLocked(ctx context.Context, prov adapter.PaymentProvider, paymentID string) (*model.Payment, bool, error) {
	key := captureLockKey(paymentID)
	token, err := u.locker.TryLock(ctx, key, captureLockTTL)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			u.log.Warn().Err(err).Str("payment_id", paymentID).Msg("failed to release capture lock")
		}
	}()

	// a concurrent capture may have finished while we waited for the lock
	p, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, false, err
	}
	if p.Status.Terminal() {
		return p, false, nil
	}

	res, err := prov.Resolve(ctx, p)
	if err != nil {
		u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("paypal capture failed; payment left pending")
		return nil, false, err
	}
	if res.Outcome == model.OutcomePending {
		return p, false, nil
	}
	return u.Commit(ctx, p.ID, res)
}

func captureResult(p *model.Payment) *CaptureResult {
	out := &CaptureResult{Payment: p, Status: p.Status}
	switch p.Status {
	case model.PaymentStatusCompleted:
		out.Success = true
		out.Message = "Payment completed successfully"
	case model.PaymentStatusPending:
		out.Message = "Payment is still pending"
	default:
		out.Message = "Payment could not be completed"
	}
	return out
}

// terminalCapture answers a capture on an already settled payment without
// contacting the provider.
func terminalCapture(p *model.Payment) *CaptureResult {
	if !p.Status.Terminal() {
		return nil
	}
	return captureResult(p)
}

func (c *CaptureResult) err() error {
	if c.Status == model.PaymentStatusCompleted {
		return domain.ErrAlreadyCompleted
	}
	return nil
}

func (u *paymentUC) Status(ctx context.Context, id model.Identity, paymentID string) (*PaymentView, error) {
	p, err := u.ownedPayment(ctx, id, paymentID)
	if err != nil {
		return nil, err
	}
	return NewPaymentView(p), nil
}

func (u *paymentUC) History(ctx context.Context, id model.Identity, limit int) ([]*PaymentView, error) {
	org, err := u.callerOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	list, err := u.payments.List(ctx, repository.NoTX, model.PaymentFilter{OrganizationID: org.ID, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]*PaymentView, 0, len(list))
	for _, p := range list {
		out = append(out, NewPaymentView(p))
	}
	return out, nil
}
