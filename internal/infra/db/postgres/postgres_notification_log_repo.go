package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
)

var _ repository.NotificationLogRepository = (*notificationLogRepo)(nil)

type notificationLogRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationLogRepo(pool *pgxpool.Pool) *notificationLogRepo {
	return &notificationLogRepo{pool: pool}
}

func (r *notificationLogRepo) Save(ctx context.Context, tx repository.Tx, n *model.NotificationLog) error {
	// The UNIQUE constraint on (subscription_id, kind, window_days) makes a
	// concurrent duplicate a no-op rather than a double send.
	const q = `
INSERT INTO subscription_notifications (id, subscription_id, kind, window_days, sent_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (subscription_id, kind, window_days) DO NOTHING;`

	_, err := execSQL(ctx, r.pool, tx, q, n.ID, n.SubscriptionID, n.Kind, n.WindowDays, n.SentAt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return err
		default:
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return nil
			}
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *notificationLogRepo) WasSent(ctx context.Context, tx repository.Tx, subscriptionID string, kind model.NotificationKind, windowDays int) (bool, error) {
	// SELECT EXISTS stops on the first match.
	const q = `
SELECT EXISTS(
    SELECT 1 FROM subscription_notifications
    WHERE subscription_id = $1 AND kind = $2 AND window_days = $3
);`
	row, err := pickRow(ctx, r.pool, tx, q, subscriptionID, kind, windowDays)
	if err != nil {
		return false, err
	}

	var exists bool
	if err := row.Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}
