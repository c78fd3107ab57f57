package postgres

import (
	"context"
	"errors"
	"time"

	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/repository"
	"daraja-payments/internal/infra/metrics"
)

var _ repository.OrganizationRepository = (*organizationRepoCacheDecorator)(nil)

// organizationRepoCacheDecorator remembers which organization a user owns.
// Only the owner to id mapping is cached; rows, and so tiers, are always
// read from the database.
type organizationRepoCacheDecorator struct {
	inner repository.OrganizationRepository
	cache repository.KeyValueStore
	ttl   time.Duration
}

func NewOrganizationRepoCacheDecorator(inner repository.OrganizationRepository, cache repository.KeyValueStore, ttl time.Duration) repository.OrganizationRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &organizationRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func ownerKey(userID string) string { return "org:owner:" + userID }

func (d *organizationRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, o *model.Organization) error {
	_ = d.cache.Evict(ctx, ownerKey(o.OwnerUserID))
	return d.inner.Save(ctx, tx, o)
}

func (d *organizationRepoCacheDecorator) FindByOwner(ctx context.Context, tx repository.Tx, userID string) (*model.Organization, error) {
	key := ownerKey(userID)
	if id, found, err := d.cache.Get(ctx, key); err == nil && found {
		org, err := d.inner.FindByID(ctx, tx, id)
		if err == nil && org.OwnerUserID == userID {
			metrics.IncCacheRequest("org_owner", "hit")
			return org, nil
		}
		if err != nil && !errors.Is(err, domain.ErrOrganizationNotFound) {
			return nil, err
		}
		// stale mapping
		_ = d.cache.Evict(ctx, key)
	}

	metrics.IncCacheRequest("org_owner", "miss")
	org, err := d.inner.FindByOwner(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	_ = d.cache.Set(ctx, key, org.ID, d.ttl)
	return org, nil
}

// Pass-through methods that don't need caching
func (d *organizationRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Organization, error) {
	return d.inner.FindByID(ctx, tx, id)
}

func (d *organizationRepoCacheDecorator) UpdateTier(ctx context.Context, tx repository.Tx, id string, tier model.Tier) error {
	return d.inner.UpdateTier(ctx, tx, id, tier)
}

func (d *organizationRepoCacheDecorator) ListTierDrift(ctx context.Context, tx repository.Tx, limit int) ([]model.TierDrift, error) {
	return d.inner.ListTierDrift(ctx, tx, limit)
}
