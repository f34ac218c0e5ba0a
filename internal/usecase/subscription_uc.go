package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

type SubscriptionUseCase interface {
	// Create returns the user's pending subscription for the channel,
	// reusing an existing pending one instead of stacking duplicates.
	Create(ctx context.Context, userID, channelID string, durationDays int, price decimal.Decimal, currency string) (*model.Subscription, error)
	// ActivateOrExtend is called inside the payment transaction when money
	// is confirmed: a pending subscription activates, an already running or
	// lapsed one is extended by the paid duration. durationDays is the
	// duration the payment bought; non-positive falls back to the stored one.
	ActivateOrExtend(ctx context.Context, tx repository.Tx, subscriptionID, paymentID string, durationDays int) (*model.Subscription, error)
	Cancel(ctx context.Context, subscriptionID, reason string) (*model.Subscription, error)
	Get(ctx context.Context, subscriptionID string) (*model.Subscription, error)
	GetForUser(ctx context.Context, userID, channelID string) (*model.Subscription, error)
	// ExpireDue flips active subscriptions past expiry and returns them;
	// membership removal is attempted per item after each commit.
	ExpireDue(ctx context.Context, limit int) ([]*model.Subscription, error)
	// SyncMembership drives the channel-membership side effect for one
	// subscription and records success in the membership_synced flag.
	SyncMembership(ctx context.Context, subscriptionID string) error
	// ReconcileMemberships re-drives unconfirmed membership changes.
	ReconcileMemberships(ctx context.Context, limit int) (int, error)
	CountActive(ctx context.Context) (int, error)
}

type subscriptionUC struct {
	subs       repository.SubscriptionRepository
	users      repository.UserRepository
	channels   repository.ChannelRepository
	tm         repository.TransactionManager
	membership adapter.ChannelMembership
	log        *zerolog.Logger
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	channels repository.ChannelRepository,
	tm repository.TransactionManager,
	membership adapter.ChannelMembership,
	logger *zerolog.Logger,
) *subscriptionUC {
	l := logger.With().Str("component", "SubscriptionUseCase").Logger()
	return &subscriptionUC{
		subs:       subs,
		users:      users,
		channels:   channels,
		tm:         tm,
		membership: membership,
		log:        &l,
	}
}

func (u *subscriptionUC) Create(ctx context.Context, userID, channelID string, durationDays int, price decimal.Decimal, currency string) (*model.Subscription, error) {
	existing, err := u.subs.FindByUserAndChannel(ctx, repository.NoTX, userID, channelID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == model.SubscriptionStatusPending {
		// the latest quote wins for a still-unpaid subscription
		if existing.DurationDays != durationDays || !existing.Price.Equal(price) || existing.Currency != currency {
			existing.DurationDays = durationDays
			existing.Price = price
			existing.Currency = currency
			existing.UpdatedAt = time.Now()
			if err := u.subs.Save(ctx, repository.NoTX, existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}
	if existing != nil && existing.IsActive {
		// paying again extends the running subscription; the payment flow
		// resolves this through ActivateOrExtend
		return existing, nil
	}

	sub, err := model.NewSubscription(uuid.NewString(), userID, channelID, durationDays, price, currency)
	if err != nil {
		return nil, err
	}
	if err := u.subs.Save(ctx, repository.NoTX, sub); err != nil {
		return nil, err
	}
	u.log.Info().Str("subscription_id", sub.ID).Str("user_id", userID).Str("channel_id", channelID).Msg("subscription created")
	return sub, nil
}

func (u *subscriptionUC) ActivateOrExtend(ctx context.Context, tx repository.Tx, subscriptionID, paymentID string, durationDays int) (*model.Subscription, error) {
	sub, err := u.subs.FindByID(ctx, tx, subscriptionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	switch sub.Status {
	case model.SubscriptionStatusPending:
		if durationDays > 0 {
			sub.DurationDays = durationDays
		}
		sub.Activate(now)
	case model.SubscriptionStatusActive, model.SubscriptionStatusExpired:
		days := durationDays
		if days <= 0 {
			days = sub.DurationDays
		}
		if err := sub.Extend(days, now); err != nil {
			return nil, err
		}
		sub.DurationDays = days
	case model.SubscriptionStatusCancelled:
		return nil, fmt.Errorf("subscription %s is cancelled: %w", subscriptionID, domain.ErrInvalidArgument)
	}
	sub.PaymentID = &paymentID

	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return nil, err
	}
	u.log.Info().
		Str("subscription_id", sub.ID).
		Str("payment_id", paymentID).
		Time("expires_at", *sub.ExpiresAt).
		Msg("subscription activated")
	return sub, nil
}

func (u *subscriptionUC) Cancel(ctx context.Context, subscriptionID, reason string) (*model.Subscription, error) {
	var sub *model.Subscription
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.subs.FindByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if err := s.Cancel(reason, time.Now()); err != nil {
			return err
		}
		if err := u.subs.Save(ctx, tx, s); err != nil {
			return err
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	// membership removal strictly after commit; the sweep retries on failure
	if !sub.MembershipSynced {
		if err := u.SyncMembership(ctx, sub.ID); err != nil {
			u.log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("membership removal deferred to sweep")
		}
	}
	u.log.Info().Str("subscription_id", sub.ID).Str("reason", reason).Msg("subscription cancelled")
	return sub, nil
}

func (u *subscriptionUC) Get(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	return u.subs.FindByID(ctx, repository.NoTX, subscriptionID)
}

func (u *subscriptionUC) GetForUser(ctx context.Context, userID, channelID string) (*model.Subscription, error) {
	return u.subs.FindByUserAndChannel(ctx, repository.NoTX, userID, channelID)
}

func (u *subscriptionUC) ExpireDue(ctx context.Context, limit int) ([]*model.Subscription, error) {
	due, err := u.subs.FindExpired(ctx, repository.NoTX, time.Now(), limit)
	if err != nil {
		return nil, err
	}

	var expired []*model.Subscription
	for _, candidate := range due {
		id := candidate.ID
		err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			sub, err := u.subs.FindByID(ctx, tx, id)
			if err != nil {
				return err
			}
			if !sub.Expire(time.Now()) {
				return nil // raced with a payment extension, leave it alone
			}
			if err := u.subs.Save(ctx, tx, sub); err != nil {
				return err
			}
			expired = append(expired, sub)
			return nil
		})
		if err != nil {
			u.log.Error().Err(err).Str("subscription_id", id).Msg("failed to expire subscription")
			continue
		}
	}

	for _, sub := range expired {
		if err := u.SyncMembership(ctx, sub.ID); err != nil {
			u.log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("membership removal deferred to sweep")
		}
	}
	return expired, nil
}

func (u *subscriptionUC) SyncMembership(ctx context.Context, subscriptionID string) error {
	sub, err := u.subs.FindByID(ctx, repository.NoTX, subscriptionID)
	if err != nil {
		return err
	}
	if sub.MembershipSynced {
		return nil
	}
	user, err := u.users.FindByID(ctx, repository.NoTX, sub.UserID)
	if err != nil {
		return err
	}
	channel, err := u.channels.FindByID(ctx, repository.NoTX, sub.ChannelID)
	if err != nil {
		return err
	}

	if sub.IsActive {
		err = u.membership.AddUserToChannel(ctx, user, channel)
	} else {
		err = u.membership.RemoveUserFromChannel(ctx, user, channel)
	}
	if err != nil {
		return err
	}

	sub.MembershipSynced = true
	sub.UpdatedAt = time.Now()
	return u.subs.Save(ctx, repository.NoTX, sub)
}

func (u *subscriptionUC) ReconcileMemberships(ctx context.Context, limit int) (int, error) {
	drifted, err := u.subs.FindMembershipDrift(ctx, repository.NoTX, limit)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, sub := range drifted {
		if err := u.SyncMembership(ctx, sub.ID); err != nil {
			u.log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("membership reconcile failed")
			continue
		}
		fixed++
	}
	return fixed, nil
}

func (u *subscriptionUC) CountActive(ctx context.Context) (int, error) {
	return u.subs.CountActive(ctx, repository.NoTX)
}
