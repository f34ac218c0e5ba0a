package repository

import (
	"context"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
)

type ChannelRepository interface {
	Save(ctx context.Context, tx Tx, c *model.Channel) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Channel, error)
	ListActive(ctx context.Context, tx Tx) ([]*model.Channel, error)
}
