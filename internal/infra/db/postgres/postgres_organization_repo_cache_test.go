//go:build !integration

package postgres

import (
	"context"
	"errors"
	"testing"

	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/repository"
)

func TestOrganizationRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	org := &model.Organization{ID: "org-1", OwnerUserID: "user-1", Tier: model.TierBasicFree}

	t.Run("FindByOwner should fetch from DB and remember the id on miss", func(t *testing.T) {
		kv := newMockKVStore()
		ownerCalls := 0
		inner := &mockInnerOrgRepo{
			FindByOwnerFunc: func(ctx context.Context, tx repository.Tx, userID string) (*model.Organization, error) {
				ownerCalls++
				return org, nil
			},
		}
		d := NewOrganizationRepoCacheDecorator(inner, kv, 0)

		got, err := d.FindByOwner(ctx, nil, "user-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if ownerCalls != 1 || got.ID != "org-1" {
			t.Errorf("unexpected result %+v after %d calls", got, ownerCalls)
		}
		if kv.data["org:owner:user-1"] != "org-1" {
			t.Errorf("owner mapping not cached: %v", kv.data)
		}
	})

	t.Run("FindByOwner should read the row by id on hit", func(t *testing.T) {
		kv := newMockKVStore()
		kv.data["org:owner:user-1"] = "org-1"
		var gotTx repository.Tx
		inner := &mockInnerOrgRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Organization, error) {
				gotTx = tx
				upgraded := *org
				upgraded.Tier = model.TierDarajaVerified
				return &upgraded, nil
			},
			FindByOwnerFunc: func(ctx context.Context, tx repository.Tx, userID string) (*model.Organization, error) {
				t.Fatal("FindByOwner should not be called on a hit")
				return nil, nil
			},
		}
		d := NewOrganizationRepoCacheDecorator(inner, kv, 0)

		tx := struct{ name string }{"tx"}
		got, err := d.FindByOwner(ctx, tx, "user-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Tier != model.TierDarajaVerified {
			t.Error("tier must come from the database row, not the cache")
		}
		if gotTx != tx {
			t.Error("transaction handle was not forwarded")
		}
	})

	t.Run("stale mapping falls back to FindByOwner", func(t *testing.T) {
		kv := newMockKVStore()
		kv.data["org:owner:user-1"] = "gone"
		inner := &mockInnerOrgRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Organization, error) {
				return nil, domain.ErrOrganizationNotFound
			},
			FindByOwnerFunc: func(ctx context.Context, tx repository.Tx, userID string) (*model.Organization, error) {
				return org, nil
			},
		}
		d := NewOrganizationRepoCacheDecorator(inner, kv, 0)

		got, err := d.FindByOwner(ctx, nil, "user-1")
		if err != nil || got.ID != "org-1" {
			t.Fatalf("got %+v, %v", got, err)
		}
		if len(kv.evicted) != 1 || kv.data["org:owner:user-1"] != "org-1" {
			t.Errorf("stale mapping not replaced: %v evicted=%v", kv.data, kv.evicted)
		}
	})

	t.Run("database errors on hit are returned", func(t *testing.T) {
		kv := newMockKVStore()
		kv.data["org:owner:user-1"] = "org-1"
		inner := &mockInnerOrgRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Organization, error) {
				return nil, domain.ErrOperationFailed
			},
		}
		_, err := NewOrganizationRepoCacheDecorator(inner, kv, 0).FindByOwner(ctx, nil, "user-1")
		if !errors.Is(err, domain.ErrOperationFailed) {
			t.Fatalf("expected ErrOperationFailed, got %v", err)
		}
	})

	t.Run("Save should invalidate the owner key", func(t *testing.T) {
		kv := newMockKVStore()
		kv.data["org:owner:user-1"] = "org-1"
		inner := &mockInnerOrgRepo{
			SaveFunc: func(ctx context.Context, tx repository.Tx, o *model.Organization) error { return nil },
		}
		if err := NewOrganizationRepoCacheDecorator(inner, kv, 0).Save(ctx, nil, org); err != nil {
			t.Fatal(err)
		}
		if _, ok := kv.data["org:owner:user-1"]; ok {
			t.Error("owner key should be evicted on save")
		}
	})
}
