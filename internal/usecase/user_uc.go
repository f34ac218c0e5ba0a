package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase exposes user-related operations used by bot/admin flows.
type UserUseCase interface {
	// RegisterOrFetch upserts the user by Telegram id. A brand-new user may
	// additionally receive a personal welcome promo code.
	RegisterOrFetch(ctx context.Context, tgID int64, username, fullName string) (*model.User, *model.PromoCode, error)
	GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error)
	Count(ctx context.Context) (int, error)
}

type userUC struct {
	users   repository.UserRepository
	tm      repository.TransactionManager
	promoUC PromoUseCase
	log     *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, tm repository.TransactionManager, promoUC PromoUseCase, logger *zerolog.Logger) *userUC {
	l := logger.With().Str("component", "UserUseCase").Logger()
	return &userUC{users: users, tm: tm, promoUC: promoUC, log: &l}
}

func (u *userUC) RegisterOrFetch(ctx context.Context, tgID int64, username, fullName string) (*model.User, *model.PromoCode, error) {
	var (
		user    *model.User
		created bool
	)
	// read and write as one atomic operation so two concurrent /start
	// updates cannot both insert
	txOpts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		usr, err := u.users.FindByTelegramID(ctx, tx, tgID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if usr != nil {
			if username != "" && usr.Username != username {
				usr.Username = username
			}
			if fullName != "" && usr.FullName != fullName {
				usr.FullName = fullName
			}
			if err := u.users.Save(ctx, tx, usr); err != nil {
				return err
			}
			user = usr
			return nil
		}

		nu, err := model.NewUser(uuid.NewString(), tgID, username, fullName)
		if err != nil {
			return err
		}
		if err := u.users.Save(ctx, tx, nu); err != nil {
			return err
		}
		user = nu
		created = true
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var welcome *model.PromoCode
	if created && u.promoUC != nil {
		welcome, err = u.promoUC.CreateWelcomeCode(ctx, user.ID)
		if err != nil {
			u.log.Warn().Err(err).Str("user_id", user.ID).Msg("welcome code issuance failed")
			welcome = nil
		}
	}
	return user, welcome, nil
}

func (u *userUC) GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error) {
	return u.users.FindByTelegramID(ctx, repository.NoTX, tgID)
}

func (u *userUC) Count(ctx context.Context) (int, error) {
	return u.users.CountUsers(ctx, repository.NoTX)
}
