package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"daraja-payments/internal/domain"
	"daraja-payments/internal/domain/model"
	"daraja-payments/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, organization_id, tier, amount, currency, method, status, reference, transaction_id, checkout_request_id, metadata, created_at, updated_at, completed_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (` + paymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb,$12,$13,$14);`

	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}
	_, err = execSQL(ctx, r.pool, tx, q,
		p.ID, p.OrganizationID, string(p.Tier), p.Amount, string(p.Currency), string(p.Method),
		string(p.Status), p.Reference, p.TransactionID, p.CheckoutRequestID, meta,
		p.CreatedAt, p.UpdatedAt, p.CompletedAt)
	return mapWriteErr(err)
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.one(ctx, tx, q, id)
}

func (r *paymentRepo) FindByCheckoutRequestID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE checkout_request_id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.one(ctx, tx, q, checkoutRequestID)
}

func (r *paymentRepo) AttachProviderData(ctx context.Context, tx repository.Tx, id string, transactionID, checkoutRequestID *string, meta model.PaymentMetadata) error {
	const q = `
UPDATE payments
   SET transaction_id = COALESCE($2, transaction_id),
       checkout_request_id = COALESCE($3, checkout_request_id),
       metadata = metadata || $4::jsonb,
       updated_at = NOW()
 WHERE id = $1;`

	patch, err := encodeMetadata(meta)
	if err != nil {
		return err
	}
	tag, err := execSQL(ctx, r.pool, tx, q, id, transactionID, checkoutRequestID, patch)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// UpdateStatusIfPending only touches rows still PENDING, so a payment that
// already reached a terminal status is never rewritten.
func (r *paymentRepo) UpdateStatusIfPending(
	ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus,
	transactionID *string, completedAt *time.Time, meta model.PaymentMetadata,
) (bool, error) {
	const q = `
UPDATE payments
   SET status = $2,
       transaction_id = COALESCE($3, transaction_id),
       completed_at = COALESCE($4, completed_at),
       metadata = metadata || $5::jsonb,
       updated_at = NOW()
 WHERE id = $1
   AND status = 'PENDING';`

	patch, err := encodeMetadata(meta)
	if err != nil {
		return false, err
	}
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(status), transactionID, completedAt, patch)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return tag.RowsAffected() >= 1, nil
}

func (r *paymentRepo) List(ctx context.Context, tx repository.Tx, f model.PaymentFilter) ([]*model.Payment, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE organization_id=$1`
	args := []interface{}{f.OrganizationID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		q += fmt.Sprintf(" AND status=$%d", len(args))
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d;", len(args))
	return r.many(ctx, tx, q, args...)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE status='PENDING' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	return r.many(ctx, tx, q, olderThan, limit)
}

func (r *paymentRepo) one(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *paymentRepo) many(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p                         model.Payment
		tier, cur, method, status string
		meta                      []byte
	)
	if err := row.Scan(&p.ID, &p.OrganizationID, &tier, &p.Amount, &cur, &method, &status,
		&p.Reference, &p.TransactionID, &p.CheckoutRequestID, &meta,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt); err != nil {
		return nil, err
	}
	p.Tier = model.Tier(tier)
	p.Currency = model.Currency(cur)
	p.Method = model.PaymentMethod(method)
	p.Status = model.PaymentStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func encodeMetadata(m model.PaymentMetadata) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: encode metadata: %v", domain.ErrInvalidArgument, err)
	}
	return string(b), nil
}
