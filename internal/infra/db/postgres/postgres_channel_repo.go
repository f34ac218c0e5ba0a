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

var _ repository.ChannelRepository = (*channelRepo)(nil)

type channelRepo struct{ pool *pgxpool.Pool }

func NewChannelRepo(pool *pgxpool.Pool) *channelRepo {
	return &channelRepo{pool: pool}
}

func (r *channelRepo) Save(ctx context.Context, tx repository.Tx, c *model.Channel) error {
	const q = `
INSERT INTO channels (id, telegram_id, title, invite_link, is_active, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  telegram_id=$2, title=$3, invite_link=$4, is_active=$5;`

	_, err := execSQL(ctx, r.pool, tx, q, c.ID, c.TelegramID, c.Title, c.InviteLink, c.IsActive, c.CreatedAt)
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

func (r *channelRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Channel, error) {
	const q = `SELECT id, telegram_id, title, invite_link, is_active, created_at FROM channels WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanChannel(row)
}

func (r *channelRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Channel, error) {
	const q = `SELECT id, telegram_id, title, invite_link, is_active, created_at FROM channels WHERE is_active=TRUE ORDER BY title ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanChannel(row pgx.Row) (*model.Channel, error) {
	c := &model.Channel{}
	if err := row.Scan(&c.ID, &c.TelegramID, &c.Title, &c.InviteLink, &c.IsActive, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return c, nil
}
