package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

type NotificationUseCase interface {
	// SendExpiryWarnings warns users whose subscription expires within the
	// given day windows. Each (subscription, window) pair is warned once,
	// deduplicated through the notification log.
	SendExpiryWarnings(ctx context.Context, windows []int) (int, error)
	// NotifyExpired tells users their subscription has lapsed, once.
	NotifyExpired(ctx context.Context, subs []*model.Subscription) (int, error)
}

type notificationUC struct {
	subs     repository.SubscriptionRepository
	users    repository.UserRepository
	sent     repository.NotificationLogRepository
	notifier adapter.Notifier
	log      *zerolog.Logger
}

func NewNotificationUseCase(
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	sent repository.NotificationLogRepository,
	notifier adapter.Notifier,
	logger *zerolog.Logger,
) *notificationUC {
	l := logger.With().Str("component", "NotificationUseCase").Logger()
	return &notificationUC{subs: subs, users: users, sent: sent, notifier: notifier, log: &l}
}

func (n *notificationUC) SendExpiryWarnings(ctx context.Context, windows []int) (int, error) {
	now := time.Now()
	sentCount := 0
	for _, window := range windows {
		if window <= 0 {
			continue
		}
		expiring, err := n.subs.FindExpiring(ctx, repository.NoTX, window)
		if err != nil {
			return sentCount, err
		}
		for _, sub := range expiring {
			already, err := n.sent.WasSent(ctx, repository.NoTX, sub.ID, model.NotificationExpiryWarning, window)
			if err != nil {
				n.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("dedup lookup failed")
				continue
			}
			if already {
				continue
			}
			user, err := n.users.FindByID(ctx, repository.NoTX, sub.UserID)
			if err != nil {
				n.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("cannot resolve user for warning")
				continue
			}
			if err := n.notifier.NotifySubscriptionExpiring(ctx, user, sub, sub.DaysLeft(now)); err != nil {
				n.log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("expiry warning failed, will retry next run")
				continue
			}
			if err := n.sent.Save(ctx, repository.NoTX, &model.NotificationLog{
				ID:             uuid.NewString(),
				SubscriptionID: sub.ID,
				Kind:           model.NotificationExpiryWarning,
				WindowDays:     window,
				SentAt:         time.Now(),
			}); err != nil {
				n.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to record warning")
			}
			sentCount++
		}
	}
	return sentCount, nil
}

func (n *notificationUC) NotifyExpired(ctx context.Context, subs []*model.Subscription) (int, error) {
	sentCount := 0
	for _, sub := range subs {
		already, err := n.sent.WasSent(ctx, repository.NoTX, sub.ID, model.NotificationExpired, 0)
		if err != nil {
			n.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("dedup lookup failed")
			continue
		}
		if already {
			continue
		}
		user, err := n.users.FindByID(ctx, repository.NoTX, sub.UserID)
		if err != nil {
			n.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("cannot resolve user")
			continue
		}
		if err := n.notifier.NotifySubscriptionExpired(ctx, user, sub); err != nil {
			n.log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("expired notification failed")
			continue
		}
		if err := n.sent.Save(ctx, repository.NoTX, &model.NotificationLog{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			Kind:           model.NotificationExpired,
			SentAt:         time.Now(),
		}); err != nil {
			n.log.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to record notification")
		}
		sentCount++
	}
	return sentCount, nil
}
