package repository

import (
	"context"
	"time"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
)

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	// FindByProviderID resolves the adapter-local id carried by webhooks.
	FindByProviderID(ctx context.Context, tx Tx, providerID string) (*model.Payment, error)
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.PaymentStatus, externalID *string, failureReason *string, at *time.Time) error
	ListPendingOlderThan(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.Payment, error)
	SumCompletedByPeriod(ctx context.Context, tx Tx, period string) (int64, error)
}
