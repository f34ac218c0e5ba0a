package adapter

import (
	"context"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
)

// Notifier is fire-and-forget from the core's perspective: failures are
// logged by implementations and never roll back state transitions.
type Notifier interface {
	NotifyPaymentSuccess(ctx context.Context, user *model.User, payment *model.Payment, sub *model.Subscription) error
	NotifyPaymentFailed(ctx context.Context, user *model.User, payment *model.Payment, reason string) error
	NotifySubscriptionExpiring(ctx context.Context, user *model.User, sub *model.Subscription, daysLeft int) error
	NotifySubscriptionExpired(ctx context.Context, user *model.User, sub *model.Subscription) error
}
