package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
)

var _ repository.PromoRepository = (*promoRepo)(nil)

type promoRepo struct{ pool *pgxpool.Pool }

func NewPromoRepo(pool *pgxpool.Pool) *promoRepo {
	return &promoRepo{pool: pool}
}

const promoColumns = `id, code, type, value::text, title, description, valid_from, valid_until, max_uses, current_uses, max_uses_per_user, min_amount::text, bound_user_id, is_active, created_at, created_by`

func (r *promoRepo) Save(ctx context.Context, tx repository.Tx, p *model.PromoCode) error {
	const q = `
INSERT INTO promo_codes (
  id, code, type, value, title, description, valid_from, valid_until,
  max_uses, current_uses, max_uses_per_user, min_amount, bound_user_id, is_active, created_at, created_by
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
  type=$3, value=$4, title=$5, description=$6, valid_from=$7, valid_until=$8,
  max_uses=$9, max_uses_per_user=$11, min_amount=$12, bound_user_id=$13, is_active=$14;`

	var minAmount *string
	if p.MinAmount != nil {
		s := p.MinAmount.String()
		minAmount = &s
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, strings.ToUpper(p.Code), p.Type, p.Value.String(), p.Title, p.Description, p.ValidFrom, p.ValidUntil,
		p.MaxUses, p.CurrentUses, p.MaxUsesPerUser, minAmount, p.BoundUserID, p.IsActive, p.CreatedAt, p.CreatedBy)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return err
		default:
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return domain.ErrAlreadyExists
			}
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *promoRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.PromoCode, error) {
	q := `SELECT ` + promoColumns + ` FROM promo_codes WHERE code=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, strings.ToUpper(code))
	if err != nil {
		return nil, err
	}
	return scanPromo(row)
}

// IncrementUses relies on the conditional WHERE to enforce the global cap;
// zero affected rows means the cap was hit by a concurrent application.
func (r *promoRepo) IncrementUses(ctx context.Context, tx repository.Tx, promoID string) error {
	const q = `
UPDATE promo_codes
   SET current_uses = current_uses + 1
 WHERE id = $1
   AND (max_uses IS NULL OR current_uses < max_uses);`
	cmd, err := execSQL(ctx, r.pool, tx, q, promoID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrPromoExhausted
	}
	return nil
}

func (r *promoRepo) Deactivate(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	const q = `UPDATE promo_codes SET is_active = FALSE WHERE code = $1 AND is_active = TRUE;`
	cmd, err := execSQL(ctx, r.pool, tx, q, strings.ToUpper(code))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *promoRepo) SaveUsage(ctx context.Context, tx repository.Tx, u *model.PromoUsage) error {
	const q = `
INSERT INTO promo_usages (id, promo_code_id, user_id, payment_id, original_amount, discount_amount, final_amount, used_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	_, err := execSQL(ctx, r.pool, tx, q,
		u.ID, u.PromoCodeID, u.UserID, u.PaymentID,
		u.OriginalAmount.String(), u.DiscountAmount.String(), u.FinalAmount.String(), u.UsedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *promoRepo) CountUsagesByUser(ctx context.Context, tx repository.Tx, promoID, userID string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM promo_usages WHERE promo_code_id=$1 AND user_id=$2;`, promoID, userID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *promoRepo) ListUsages(ctx context.Context, tx repository.Tx, promoID string, limit int) ([]*model.PromoUsage, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, promo_code_id, user_id, payment_id, original_amount::text, discount_amount::text, final_amount::text, used_at
  FROM promo_usages
 WHERE promo_code_id = $1
 ORDER BY used_at DESC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, promoID, limit)
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

	var out []*model.PromoUsage
	for rows.Next() {
		u := &model.PromoUsage{}
		var original, discount, final string
		if err := rows.Scan(&u.ID, &u.PromoCodeID, &u.UserID, &u.PaymentID, &original, &discount, &final, &u.UsedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		if u.OriginalAmount, err = decimal.NewFromString(original); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		if u.DiscountAmount, err = decimal.NewFromString(discount); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		if u.FinalAmount, err = decimal.NewFromString(final); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanPromo(row pgx.Row) (*model.PromoCode, error) {
	p := &model.PromoCode{}
	var value string
	var minAmount *string
	if err := row.Scan(&p.ID, &p.Code, &p.Type, &value, &p.Title, &p.Description, &p.ValidFrom, &p.ValidUntil,
		&p.MaxUses, &p.CurrentUses, &p.MaxUsesPerUser, &minAmount, &p.BoundUserID, &p.IsActive, &p.CreatedAt, &p.CreatedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	p.Value = d
	if minAmount != nil {
		m, err := decimal.NewFromString(*minAmount)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		p.MinAmount = &m
	}
	return p, nil
}
