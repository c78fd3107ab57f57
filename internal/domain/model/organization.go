package model

import "time"

// Organization is a directory listing owner. Tier changes only through a
// completed payment.
type Organization struct {
	ID          string
	Name        string
	OwnerUserID string
	Email       string
	Tier        Tier
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Identity is the verified caller behind a request.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

func (i Identity) IsZero() bool { return i.UserID == "" }

// TierDrift describes an organization whose tier lags its latest completed payment.
type TierDrift struct {
	OrganizationID string
	CurrentTier    Tier
	PaidTier       Tier
	PaymentID      string
}
