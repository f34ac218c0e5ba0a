package repository

import (
	"context"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
)

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	FindByTelegramID(ctx context.Context, tx Tx, telegramID int64) (*model.User, error)
	CountUsers(ctx context.Context, tx Tx) (int, error)
}
