package repository

import (
	"context"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
)

type PromoRepository interface {
	Save(ctx context.Context, tx Tx, p *model.PromoCode) error
	FindByCode(ctx context.Context, tx Tx, code string) (*model.PromoCode, error)
	// IncrementUses bumps current_uses atomically, refusing when the global
	// cap would be exceeded (conditional update checked by affected rows).
	// Returns domain.ErrPromoExhausted on refusal.
	IncrementUses(ctx context.Context, tx Tx, promoID string) error
	Deactivate(ctx context.Context, tx Tx, code string) (bool, error)

	SaveUsage(ctx context.Context, tx Tx, u *model.PromoUsage) error
	CountUsagesByUser(ctx context.Context, tx Tx, promoID, userID string) (int, error)
	ListUsages(ctx context.Context, tx Tx, promoID string, limit int) ([]*model.PromoUsage, error)
}
