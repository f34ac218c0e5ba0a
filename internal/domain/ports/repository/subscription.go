package repository

import (
	"context"
	"time"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
)

type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindByUserAndChannel(ctx context.Context, tx Tx, userID, channelID string) (*model.Subscription, error)
	// FindExpiring returns active subscriptions whose expiry falls inside
	// (now, now+withinDays].
	FindExpiring(ctx context.Context, tx Tx, withinDays int) ([]*model.Subscription, error)
	// FindExpired returns subscriptions past expiry that are still flagged active.
	FindExpired(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)
	// FindMembershipDrift returns inactive subscriptions whose channel
	// removal has not been confirmed.
	FindMembershipDrift(ctx context.Context, tx Tx, limit int) ([]*model.Subscription, error)
	CountActive(ctx context.Context, tx Tx) (int, error)
}
