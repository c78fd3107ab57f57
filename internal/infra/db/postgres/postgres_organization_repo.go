package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/repository"
)

var _ repository.OrganizationRepository = (*organizationRepo)(nil)

type organizationRepo struct{ pool *pgxpool.Pool }

func NewOrganizationRepo(pool *pgxpool.Pool) *organizationRepo {
	return &organizationRepo{pool: pool}
}

const organizationColumns = `id, name, owner_user_id, email, tier, created_at, updated_at`

func (r *organizationRepo) Save(ctx context.Context, tx repository.Tx, o *model.Organization) error {
	const q = `
INSERT INTO organizations (` + organizationColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  name=$2, owner_user_id=$3, email=$4, updated_at=$7;`

	_, err := execSQL(ctx, r.pool, tx, q, o.ID, o.Name, o.OwnerUserID, o.Email, string(o.Tier), o.CreatedAt, o.UpdatedAt)
	return mapWriteErr(err)
}

func (r *organizationRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Organization, error) {
	q := `SELECT ` + organizationColumns + ` FROM organizations WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.one(ctx, tx, q, id)
}

func (r *organizationRepo) FindByOwner(ctx context.Context, tx repository.Tx, userID string) (*model.Organization, error) {
	q := `SELECT ` + organizationColumns + ` FROM organizations WHERE owner_user_id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.one(ctx, tx, q, userID)
}

func (r *organizationRepo) UpdateTier(ctx context.Context, tx repository.Tx, id string, tier model.Tier) error {
	const q = `UPDATE organizations SET tier=$2, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(tier))
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrganizationNotFound
	}
	return nil
}

// ListTierDrift compares each organization with its most recent completed
// payment and reports those whose stored tier ranks lower.
func (r *organizationRepo) ListTierDrift(ctx context.Context, tx repository.Tx, limit int) ([]model.TierDrift, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT o.id, o.tier, p.tier, p.id
  FROM organizations o
  JOIN LATERAL (
        SELECT id, tier
          FROM payments
         WHERE organization_id = o.id AND status = 'COMPLETED'
         ORDER BY completed_at DESC NULLS LAST, created_at DESC
         LIMIT 1
  ) p ON TRUE
 WHERE p.tier <> o.tier
 ORDER BY o.updated_at ASC
 LIMIT $1;`

	rows, err := queryRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []model.TierDrift
	for rows.Next() {
		var d model.TierDrift
		var current, paid string
		if err := rows.Scan(&d.OrganizationID, &current, &paid, &d.PaymentID); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		d.CurrentTier, d.PaidTier = model.Tier(current), model.Tier(paid)
		// SQL only knows the tiers differ; rank decides drift.
		if model.IsUpgrade(d.CurrentTier, d.PaidTier) {
			out = append(out, d)
		}
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func (r *organizationRepo) one(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Organization, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	var o model.Organization
	var tier string
	if err := row.Scan(&o.ID, &o.Name, &o.OwnerUserID, &o.Email, &tier, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	o.Tier = model.Tier(tier)
	return &o, nil
}
