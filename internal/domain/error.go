package domain

import "errors"

var (
	// Caller identity
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotAuthorized    = errors.New("not authorized")

	// Upgrade eligibility
	ErrInvalidTier = errors.New("invalid tier")
	ErrNotUpgrade  = errors.New("target tier is not an upgrade")
	ErrFreeTier    = errors.New("tier is not purchasable in this currency")

	// Providers
	ErrProviderAuth    = errors.New("payment provider authentication failed")
	ErrProviderRequest = errors.New("payment provider request failed")
	ErrInvalidCallback = errors.New("invalid provider callback")

	// Reconciliation
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrAlreadyCompleted     = errors.New("payment already completed")
	ErrPollTimeout          = errors.New("payment still pending, check back later")
	ErrMethodMismatch       = errors.New("payment method does not support this operation")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrPaymentBusy          = errors.New("payment is being processed")

	// Storage
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	ErrRateLimited = errors.New("too many requests")
)
