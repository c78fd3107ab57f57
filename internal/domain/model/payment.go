package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"daraja-payments/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"   // created, awaiting provider outcome
	PaymentStatusCompleted PaymentStatus = "COMPLETED" // provider confirmed; tier applied
	PaymentStatusFailed    PaymentStatus = "FAILED"    // provider declined or user cancelled
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"  // manual back-office process only
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentStatusPending
}

type PaymentMethod string

const (
	MethodMpesa  PaymentMethod = "MPESA"
	MethodPayPal PaymentMethod = "PAYPAL"
)

// ParseMethod validates a method name coming from outside the process.
func ParseMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s))); m {
	case MethodMpesa, MethodPayPal:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown payment method %q", domain.ErrInvalidArgument, s)
}

// Currency is the currency a method charges in.
func (m PaymentMethod) Currency() Currency {
	if m == MethodPayPal {
		return CurrencyUSD
	}
	return CurrencyKES
}

// Outcome is a provider's verdict on a payment.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomePending Outcome = "PENDING"
)

// Payment is one attempt to pay for a tier upgrade.
type Payment struct {
	ID                string
	OrganizationID    string
	Tier              Tier  // target tier
	Amount            int64 // minor units, immutable
	Currency          Currency
	Method            PaymentMethod
	Status            PaymentStatus
	Reference         string
	TransactionID     *string // provider transaction id (M-PESA receipt, PayPal order id)
	CheckoutRequestID *string // M-PESA correlation id, unique when set
	Metadata          PaymentMetadata
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// NewPayment builds a PENDING payment priced from the tier catalog.
func NewPayment(organizationID string, tier Tier, method PaymentMethod, now time.Time) (*Payment, error) {
	if organizationID == "" {
		return nil, domain.ErrInvalidArgument
	}
	currency := method.Currency()
	amount := Price(tier, currency)
	if amount <= 0 {
		return nil, domain.ErrFreeTier
	}
	return &Payment{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Tier:           tier,
		Amount:         amount,
		Currency:       currency,
		Method:         method,
		Status:         PaymentStatusPending,
		Reference:      PaymentReference(organizationID, tier, now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// PaymentReference builds the auditable reference ORG-<org prefix>-<TIER>-<unix millis>.
func PaymentReference(organizationID string, tier Tier, now time.Time) string {
	prefix := organizationID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("ORG-%s-%s-%d", prefix, tier, now.UnixMilli())
}

// Description is the text shown to the payer on the provider's side.
func (p *Payment) Description() string {
	return fmt.Sprintf("Daraja Directory %s upgrade", strings.ReplaceAll(string(p.Tier), "_", " "))
}

// Transition moves a PENDING payment to a terminal status.
func (p *Payment) Transition(outcome Outcome, at time.Time) error {
	if p.Status.Terminal() {
		return fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidArgument, p.ID, p.Status)
	}
	switch outcome {
	case OutcomeSuccess:
		p.Status = PaymentStatusCompleted
		p.CompletedAt = &at
		p.Metadata = p.Metadata.Merge(PaymentMetadata{CompletedAt: &at})
	case OutcomeFailure:
		p.Status = PaymentStatusFailed
		p.Metadata = p.Metadata.Merge(PaymentMetadata{FailedAt: &at})
	default:
		return fmt.Errorf("%w: outcome %q is not terminal", domain.ErrInvalidArgument, outcome)
	}
	p.UpdatedAt = at
	return nil
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	OrganizationID string
	Status         PaymentStatus
	Limit          int
}
