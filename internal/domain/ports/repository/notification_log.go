package repository

import (
	"context"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
)

type NotificationLogRepository interface {
	Save(ctx context.Context, tx Tx, n *model.NotificationLog) error
	// WasSent reports whether a notification of kind for this subscription
	// and window was already recorded.
	WasSent(ctx context.Context, tx Tx, subscriptionID string, kind model.NotificationKind, windowDays int) (bool, error)
}
