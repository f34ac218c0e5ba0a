package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, user_id, method, status, amount::text, currency, provider_id, external_id, failure_reason, description, meta, subscription_id, promo_code, created_at, updated_at, completed_at, failed_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, user_id, method, status, amount, currency, provider_id, external_id, failure_reason, description, meta, subscription_id, promo_code, created_at, updated_at, completed_at, failed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
) ON CONFLICT (id) DO UPDATE SET
  status=$4, provider_id=$7, external_id=$8, failure_reason=$9, meta=$11, subscription_id=$12, promo_code=$13, updated_at=$15, completed_at=$16, failed_at=$17;`

	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.UserID, p.Method, p.Status, p.Amount.String(), p.Currency,
		p.ProviderID, nullable(p.ExternalID), nullable(p.FailureReason), p.Description, p.Meta,
		p.SubscriptionID, p.PromoCode, p.CreatedAt, p.UpdatedAt, p.CompletedAt, p.FailedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	return r.queryOne(ctx, tx, q, id)
}

func (r *paymentRepo) FindByProviderID(ctx context.Context, tx repository.Tx, providerID string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	return r.queryOne(ctx, tx, q, providerID)
}

func (r *paymentRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, externalID *string, failureReason *string, at *time.Time) error {
	const q = `
UPDATE payments
   SET status = $2,
       external_id = COALESCE($3, external_id),
       failure_reason = COALESCE($4, failure_reason),
       completed_at = CASE WHEN $2 = 'completed' THEN COALESCE($5, NOW()) ELSE completed_at END,
       failed_at = CASE WHEN $2 IN ('failed','cancelled') THEN COALESCE($5, NOW()) ELSE failed_at END,
       updated_at = NOW()
 WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, string(status), externalID, failureReason, at)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE status IN ('pending','processing') AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, cutoff, limit)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, domain.ErrNotFound
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *paymentRepo) SumCompletedByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	const q = `SELECT TRUNC(COALESCE(SUM(amount),0))::bigint FROM payments WHERE status='completed' AND completed_at >= DATE_TRUNC($1, NOW());`
	row, err := pickRow(ctx, r.pool, tx, q, period)
	if err != nil {
		return 0, err
	}

	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func (r *paymentRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...interface{}) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var amount string
	var externalID, failureReason *string
	if err := row.Scan(&p.ID, &p.UserID, &p.Method, &p.Status, &amount, &p.Currency,
		&p.ProviderID, &externalID, &failureReason, &p.Description, &p.Meta,
		&p.SubscriptionID, &p.PromoCode, &p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.FailedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	p.Amount = d
	if externalID != nil {
		p.ExternalID = *externalID
	}
	if failureReason != nil {
		p.FailureReason = *failureReason
	}
	return p, nil
}

// nullable maps the empty string to NULL so partial updates via COALESCE work.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
