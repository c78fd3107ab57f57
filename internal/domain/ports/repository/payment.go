package repository

import (
	"context"
	"time"

	"daraja-payments/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	// FindByID locks the row when tx is a live transaction.
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByCheckoutRequestID(ctx context.Context, tx Tx, checkoutRequestID string) (*model.Payment, error)
	// AttachProviderData sets correlation columns and merges meta into the stored metadata.
	AttachProviderData(ctx context.Context, tx Tx, id string, transactionID, checkoutRequestID *string, meta model.PaymentMetadata) error
	// UpdateStatusIfPending moves a PENDING payment to status; false means it was no longer PENDING.
	UpdateStatusIfPending(ctx context.Context, tx Tx, id string, status model.PaymentStatus, transactionID *string, completedAt *time.Time, meta model.PaymentMetadata) (bool, error)
	List(ctx context.Context, tx Tx, f model.PaymentFilter) ([]*model.Payment, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
}

// -----------------------------
// Organizations
// -----------------------------

type OrganizationRepository interface {
	Save(ctx context.Context, tx Tx, o *model.Organization) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Organization, error)
	FindByOwner(ctx context.Context, tx Tx, userID string) (*model.Organization, error)
	UpdateTier(ctx context.Context, tx Tx, id string, tier model.Tier) error
	// ListTierDrift returns organizations whose tier ranks below their latest completed payment.
	ListTierDrift(ctx context.Context, tx Tx, limit int) ([]model.TierDrift, error)
}

// -----------------------------
// Outbox
// -----------------------------

type OutboxRepository interface {
	Enqueue(ctx context.Context, tx Tx, msg *model.OutboxMessage) error
	Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]model.OutboxMessage, error)
	MarkPublished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, retryAfter time.Duration, reason string) error
}
