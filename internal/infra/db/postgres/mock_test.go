//go:build !integration

package postgres

import (
	"context"
	"time"

	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/repository"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerOrgRepo mocks the database repository that the organization decorator wraps.
type mockInnerOrgRepo struct {
	SaveFunc          func(ctx context.Context, tx repository.Tx, o *model.Organization) error
	FindByIDFunc      func(ctx context.Context, tx repository.Tx, id string) (*model.Organization, error)
	FindByOwnerFunc   func(ctx context.Context, tx repository.Tx, userID string) (*model.Organization, error)
	UpdateTierFunc    func(ctx context.Context, tx repository.Tx, id string, tier model.Tier) error
	ListTierDriftFunc func(ctx context.Context, tx repository.Tx, limit int) ([]model.TierDrift, error)
}

var _ repository.OrganizationRepository = (*mockInnerOrgRepo)(nil)

func (m *mockInnerOrgRepo) Save(ctx context.Context, tx repository.Tx, o *model.Organization) error {
	return m.SaveFunc(ctx, tx, o)
}
func (m *mockInnerOrgRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Organization, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerOrgRepo) FindByOwner(ctx context.Context, tx repository.Tx, userID string) (*model.Organization, error) {
	return m.FindByOwnerFunc(ctx, tx, userID)
}
func (m *mockInnerOrgRepo) UpdateTier(ctx context.Context, tx repository.Tx, id string, tier model.Tier) error {
	return m.UpdateTierFunc(ctx, tx, id, tier)
}
func (m *mockInnerOrgRepo) ListTierDrift(ctx context.Context, tx repository.Tx, limit int) ([]model.TierDrift, error) {
	return m.ListTierDriftFunc(ctx, tx, limit)
}

// mockKVStore is a map-backed KeyValueStore.
type mockKVStore struct {
	data    map[string]string
	evicted []string
}

var _ repository.KeyValueStore = (*mockKVStore)(nil)

func newMockKVStore() *mockKVStore { return &mockKVStore{data: map[string]string{}} }

func (m *mockKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}
func (m *mockKVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.data[key] = value
	return nil
}
func (m *mockKVStore) Evict(ctx context.Context, key string) error {
	delete(m.data, key)
	m.evicted = append(m.evicted, key)
	return nil
}
