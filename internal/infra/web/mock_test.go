//go:build !integration

package web

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/payment"
	"github.com/suntrackspb/paid-subscribe-bot/internal/usecase"
)

// --- Use case mocks with overridable func fields ---

type mockPaymentUC struct {
	InitiateFunc      func(ctx context.Context, in usecase.InitiatePaymentInput) (*usecase.PaymentIntent, error)
	HandleWebhookFunc func(ctx context.Context, method model.PaymentMethod, raw []byte, signature string, payload map[string]interface{}) (*model.Payment, error)
}

var _ usecase.PaymentUseCase = (*mockPaymentUC)(nil)

func (m *mockPaymentUC) Initiate(ctx context.Context, in usecase.InitiatePaymentInput) (*usecase.PaymentIntent, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, in)
	}
	return nil, nil
}

func (m *mockPaymentUC) HandleWebhook(ctx context.Context, method model.PaymentMethod, raw []byte, signature string, payload map[string]interface{}) (*model.Payment, error) {
	if m.HandleWebhookFunc != nil {
		return m.HandleWebhookFunc(ctx, method, raw, signature, payload)
	}
	return &model.Payment{ID: "pay-1", Status: model.PaymentStatusCompleted}, nil
}

func (m *mockPaymentUC) ApplyStatus(ctx context.Context, providerID string, data *adapter.PaymentStatusData) (*model.Payment, error) {
	return nil, nil
}

func (m *mockPaymentUC) ReconcilePending(ctx context.Context, staleAfter time.Duration, limit int) (int, int, error) {
	return 0, 0, nil
}

func (m *mockPaymentUC) Get(ctx context.Context, id string) (*model.Payment, error) { return nil, nil }

func (m *mockPaymentUC) SumCompletedByPeriod(ctx context.Context, period string) (int64, error) {
	return 0, nil
}

type mockPromoUC struct {
	CreateFunc     func(ctx context.Context, in usecase.CreatePromoInput) (*model.PromoCode, error)
	DeactivateFunc func(ctx context.Context, code string) (bool, error)
	StatsFunc      func(ctx context.Context, code string) (*usecase.PromoStats, error)
}

var _ usecase.PromoUseCase = (*mockPromoUC)(nil)

func (m *mockPromoUC) Create(ctx context.Context, in usecase.CreatePromoInput) (*model.PromoCode, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, in)
	}
	return &model.PromoCode{ID: "promo-1", Code: in.Code}, nil
}

func (m *mockPromoUC) Validate(ctx context.Context, tx repository.Tx, code, userID string, amount decimal.Decimal) (*model.PromoValidation, error) {
	return nil, nil
}

func (m *mockPromoUC) Apply(ctx context.Context, tx repository.Tx, code, userID string, paymentID *string, amount decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (m *mockPromoUC) Deactivate(ctx context.Context, code string) (bool, error) {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, code)
	}
	return true, nil
}

func (m *mockPromoUC) Stats(ctx context.Context, code string) (*usecase.PromoStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx, code)
	}
	return &usecase.PromoStats{Code: code}, nil
}

func (m *mockPromoUC) CreateWelcomeCode(ctx context.Context, userID string) (*model.PromoCode, error) {
	return nil, nil
}

type mockStatsUC struct {
	TotalsFunc  func(ctx context.Context) (int, int, error)
	RevenueFunc func(ctx context.Context) (int64, int64, int64, error)
}

var _ usecase.StatsUseCase = (*mockStatsUC)(nil)

func (m *mockStatsUC) Totals(ctx context.Context) (int, int, error) {
	if m.TotalsFunc != nil {
		return m.TotalsFunc(ctx)
	}
	return 0, 0, nil
}

func (m *mockStatsUC) Revenue(ctx context.Context) (int64, int64, int64, error) {
	if m.RevenueFunc != nil {
		return m.RevenueFunc(ctx)
	}
	return 0, 0, 0, nil
}

type mockMethods struct {
	infos []payment.MethodInfo
}

func (m *mockMethods) MethodsInfo() []payment.MethodInfo { return m.infos }
