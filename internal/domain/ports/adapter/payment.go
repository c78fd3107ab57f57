package adapter

import (
	"context"

	"daraja-payments/internal/domain/model"
)

// Intent is what the orchestrator asks a provider to collect.
type Intent struct {
	PaymentID   string
	Reference   string
	Amount      int64 // minor units
	Currency    model.Currency
	Tier        model.Tier
	Description string
	Phone       string // push providers only
}

// Handle is what a provider returns from initiation. Metadata is merged into
// the payment; the rest goes back to the caller.
type Handle struct {
	TransactionID     string
	CheckoutRequestID string
	ApprovalURL       string
	CustomerMessage   string
	Metadata          model.PaymentMetadata
}

// Result is a provider's verdict on a payment.
type Result struct {
	Outcome       model.Outcome
	TransactionID string
	Details       model.PaymentMetadata
}

// PaymentProvider is the port every payment provider implements.
type PaymentProvider interface {
	Method() model.PaymentMethod
	Initiate(ctx context.Context, in Intent) (Handle, error)
	// Resolve asks the provider for the current state of a payment.
	// Redirect providers capture here; push providers query.
	Resolve(ctx context.Context, p *model.Payment) (Result, error)
}

// CallbackResult is a validated push-provider notification.
type CallbackResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     *string
	PhoneNumber       *string
	Amount            *float64
}

// Succeeded reports whether the provider confirmed the charge.
func (c CallbackResult) Succeeded() bool { return c.ResultCode == 0 }

// PushProvider completes payments asynchronously through an inbound callback.
type PushProvider interface {
	PaymentProvider
	ParseCallback(body []byte) (CallbackResult, error)
}

// RedirectProvider completes payments through an explicit capture after the
// payer returns from the provider's site.
type RedirectProvider interface {
	PaymentProvider
	// Lookup reads the order state without capturing.
	Lookup(ctx context.Context, p *model.Payment) (Result, error)
}
