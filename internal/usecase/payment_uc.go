package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

const webhookLockTTL = 30 * time.Second

type InitiatePaymentInput struct {
	UserID       string
	TelegramID   int64
	ChannelID    string
	Method       model.PaymentMethod
	Price        decimal.Decimal
	Currency     string
	DurationDays int
	Description  string
	PromoCode    string
	ReturnURL    string
}

// PaymentIntent is what the UI layer needs to let the user pay.
type PaymentIntent struct {
	Payment    *model.Payment
	PayURL     string
	QRPayload  string
	QRImage    []byte
	Discount   decimal.Decimal
	StarsSent  bool
}

type PaymentUseCase interface {
	// Initiate quotes the optional promo code, creates the pending payment
	// with the provider and stores the durable record. A discount covering
	// the full price completes the payment immediately without a provider
	// round trip.
	Initiate(ctx context.Context, in InitiatePaymentInput) (*PaymentIntent, error)
	// HandleWebhook authenticates, parses and applies one provider
	// notification. The raw body is what the signature covers.
	HandleWebhook(ctx context.Context, method model.PaymentMethod, raw []byte, signature string, payload map[string]interface{}) (*model.Payment, error)
	// ApplyStatus is the single idempotent consumer of money events from
	// both the webhook and the polling paths. Replays of terminal payments
	// are no-ops returning the stored payment.
	ApplyStatus(ctx context.Context, providerID string, data *adapter.PaymentStatusData) (*model.Payment, error)
	// ReconcilePending polls payments stuck in pending and applies any
	// status the provider now reports. Returns how many were inspected and
	// how many changed state.
	ReconcilePending(ctx context.Context, staleAfter time.Duration, limit int) (checked, applied int, err error)
	Get(ctx context.Context, id string) (*model.Payment, error)
	SumCompletedByPeriod(ctx context.Context, period string) (int64, error)
}

type paymentUC struct {
	payments repository.PaymentRepository
	users    repository.UserRepository
	registry adapter.ProviderRegistry
	subUC    SubscriptionUseCase
	promoUC  PromoUseCase
	tm       repository.TransactionManager
	locker   adapter.Locker
	notifier adapter.Notifier
	invoices adapter.InvoiceSender
	log      *zerolog.Logger
}

func NewPaymentUseCase(
	payments repository.PaymentRepository,
	users repository.UserRepository,
	registry adapter.ProviderRegistry,
	subUC SubscriptionUseCase,
	promoUC PromoUseCase,
	tm repository.TransactionManager,
	locker adapter.Locker,
	notifier adapter.Notifier,
	invoices adapter.InvoiceSender,
	logger *zerolog.Logger,
) *paymentUC {
	l := logger.With().Str("component", "PaymentUseCase").Logger()
	return &paymentUC{
		payments: payments,
		users:    users,
		registry: registry,
		subUC:    subUC,
		promoUC:  promoUC,
		tm:       tm,
		locker:   locker,
		notifier: notifier,
		invoices: invoices,
		log:      &l,
	}
}

func (u *paymentUC) Initiate(ctx context.Context, in InitiatePaymentInput) (*PaymentIntent, error) {
	if !u.registry.MethodAvailable(in.Method) {
		return nil, fmt.Errorf("payment method %s is not available: %w", in.Method, domain.ErrInvalidArgument)
	}

	sub, err := u.subUC.Create(ctx, in.UserID, in.ChannelID, in.DurationDays, in.Price, in.Currency)
	if err != nil {
		return nil, err
	}

	amount := in.Price
	discount := decimal.Zero
	var promoCode *string
	if in.PromoCode != "" {
		v, err := u.promoUC.Validate(ctx, repository.NoTX, in.PromoCode, in.UserID, amount)
		if err != nil {
			return nil, err
		}
		if !v.Valid {
			return nil, fmt.Errorf("promo code rejected (%s): %w", v.Reason, domain.ErrInvalidArgument)
		}
		discount = v.Discount
		code := v.Promo.Code
		promoCode = &code
	}
	final := amount.Sub(discount)
	if final.IsNegative() {
		final = decimal.Zero
	}

	now := time.Now()
	p := &model.Payment{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		Method:         in.Method,
		Status:         model.PaymentStatusPending,
		Amount:         final,
		Currency:       in.Currency,
		Description:    in.Description,
		SubscriptionID: &sub.ID,
		PromoCode:      promoCode,
		Meta: map[string]interface{}{
			"original_amount": amount.StringFixed(2),
			"channel_id":      in.ChannelID,
			"duration_days":   in.DurationDays,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// fully discounted: no provider involved, complete right away
	if final.IsZero() {
		p.ProviderID = uuid.NewString()
		if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
			return nil, err
		}
		paid := time.Now()
		applied, err := u.ApplyStatus(ctx, p.ProviderID, &adapter.PaymentStatusData{
			ExternalID: p.ProviderID,
			Status:     model.PaymentStatusCompleted,
			PaidAt:     &paid,
		})
		if err != nil {
			return nil, err
		}
		return &PaymentIntent{Payment: applied, Discount: discount}, nil
	}

	resp, err := u.registry.CreatePayment(ctx, in.Method, &adapter.PaymentRequest{
		Amount:         final,
		Currency:       in.Currency,
		Description:    in.Description,
		UserID:         in.UserID,
		TelegramID:     in.TelegramID,
		SubscriptionID: &sub.ID,
		ReturnURL:      in.ReturnURL,
		Metadata:       map[string]interface{}{"payment_id": p.ID},
	})
	if err != nil {
		return nil, err
	}

	p.ProviderID = resp.ProviderID
	for k, v := range resp.Metadata {
		p.Meta[k] = v
	}
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	metrics.IncPayment(string(in.Method), string(model.PaymentStatusPending))

	intent := &PaymentIntent{
		Payment:   p,
		PayURL:    resp.PaymentURL,
		QRPayload: resp.QRPayload,
		QRImage:   resp.QRImage,
		Discount:  discount,
	}

	if in.Method == model.PaymentMethodStars && u.invoices != nil {
		stars, _ := resp.Metadata["stars_amount"].(int64)
		if stars > 0 {
			if err := u.invoices.SendStarsInvoice(ctx, in.TelegramID, resp.ProviderID, in.Description, in.Description, stars); err != nil {
				u.log.Error().Err(err).Str("payment_id", p.ID).Msg("failed to send stars invoice")
				return nil, err
			}
			intent.StarsSent = true
		}
	}

	u.log.Info().
		Str("payment_id", p.ID).
		Str("method", string(in.Method)).
		Str("amount", final.StringFixed(2)).
		Str("discount", discount.StringFixed(2)).
		Msg("payment initiated")
	return intent, nil
}

func (u *paymentUC) HandleWebhook(ctx context.Context, method model.PaymentMethod, raw []byte, signature string, payload map[string]interface{}) (*model.Payment, error) {
	if !u.registry.VerifySignature(method, raw, signature) {
		return nil, adapter.NewProviderError(adapter.ErrKindAuth, "webhook signature verification failed")
	}
	providerID, data, err := u.registry.ParseWebhook(method, payload)
	if err != nil {
		return nil, err
	}
	return u.ApplyStatus(ctx, providerID, data)
}

func (u *paymentUC) ApplyStatus(ctx context.Context, providerID string, data *adapter.PaymentStatusData) (*model.Payment, error) {
	if u.locker != nil {
		release, ok, err := u.locker.TryLock(ctx, "payment:webhook:"+providerID, webhookLockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrWebhookLocked
		}
		defer release()
	}

	var (
		payment *model.Payment
		sub     *model.Subscription
		changed bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByProviderID(ctx, tx, providerID)
		if err != nil {
			return err
		}
		payment = p

		// replayed notification for a settled payment
		if p.Status.IsTerminal() {
			return nil
		}
		if data.Status == model.PaymentStatusPending || data.Status == p.Status {
			return nil
		}

		now := time.Now()
		switch data.Status {
		case model.PaymentStatusCompleted:
			if p.PromoCode != nil {
				// Re-validate against the pre-discount amount, not the
				// charged one, so minimum-amount codes still pass.
				original := p.Amount
				if s, ok := p.Meta["original_amount"].(string); ok {
					if d, err := decimal.NewFromString(s); err == nil {
						original = d
					}
				}
				// A cap race here must not fail a payment whose money is
				// already captured.
				if d, err := u.promoUC.Apply(ctx, tx, *p.PromoCode, p.UserID, &p.ID, original); err != nil {
					u.log.Warn().Err(err).Str("payment_id", p.ID).Str("code", *p.PromoCode).Msg("promo apply failed at completion")
				} else if d.IsPositive() {
					df, _ := d.Float64()
					metrics.AddPromoDiscount(p.Currency, df)
				}
			}
			if err := u.payments.UpdateStatus(ctx, tx, p.ID, model.PaymentStatusCompleted, nonEmpty(data.ExternalID), nil, &now); err != nil {
				return err
			}
			p.Status = model.PaymentStatusCompleted
			p.ExternalID = data.ExternalID
			p.CompletedAt = &now
			if p.SubscriptionID != nil {
				s, err := u.subUC.ActivateOrExtend(ctx, tx, *p.SubscriptionID, p.ID, metaInt(p.Meta, "duration_days"))
				if err != nil {
					return err
				}
				sub = s
			}
		case model.PaymentStatusFailed, model.PaymentStatusCancelled, model.PaymentStatusRefunded:
			reason := "provider reported " + string(data.Status)
			if err := u.payments.UpdateStatus(ctx, tx, p.ID, data.Status, nonEmpty(data.ExternalID), &reason, &now); err != nil {
				return err
			}
			p.Status = data.Status
			p.FailureReason = reason
			p.FailedAt = &now
		case model.PaymentStatusProcessing:
			if err := u.payments.UpdateStatus(ctx, tx, p.ID, model.PaymentStatusProcessing, nonEmpty(data.ExternalID), nil, nil); err != nil {
				return err
			}
			p.Status = model.PaymentStatusProcessing
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return payment, nil
	}

	metrics.IncPayment(string(payment.Method), string(payment.Status))
	if payment.Status == model.PaymentStatusCompleted {
		amount, _ := payment.Amount.Float64()
		metrics.AddPaymentRevenue(payment.Currency, amount)
	}

	// side effects strictly after commit
	if sub != nil {
		if err := u.subUC.SyncMembership(ctx, sub.ID); err != nil {
			u.log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("membership grant deferred to sweep")
		}
	}
	u.notify(ctx, payment, sub)

	u.log.Info().
		Str("payment_id", payment.ID).
		Str("status", string(payment.Status)).
		Msg("payment status applied")
	return payment, nil
}

func (u *paymentUC) notify(ctx context.Context, p *model.Payment, sub *model.Subscription) {
	if u.notifier == nil {
		return
	}
	user, err := u.users.FindByID(ctx, repository.NoTX, p.UserID)
	if err != nil {
		u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("cannot resolve user for notification")
		return
	}
	switch p.Status {
	case model.PaymentStatusCompleted:
		if err := u.notifier.NotifyPaymentSuccess(ctx, user, p, sub); err != nil {
			u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("success notification failed")
		}
	case model.PaymentStatusFailed, model.PaymentStatusCancelled:
		if err := u.notifier.NotifyPaymentFailed(ctx, user, p, p.FailureReason); err != nil {
			u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("failure notification failed")
		}
	}
}

func (u *paymentUC) ReconcilePending(ctx context.Context, staleAfter time.Duration, limit int) (int, int, error) {
	cutoff := time.Now().Add(-staleAfter)
	stale, err := u.payments.ListPendingOlderThan(ctx, repository.NoTX, cutoff, limit)
	if err != nil {
		return 0, 0, err
	}

	applied := 0
	for _, p := range stale {
		data, err := u.registry.CheckStatus(ctx, p.Method, p.ProviderID)
		if err != nil {
			metrics.IncPaymentReconciled("error")
			if adapter.ErrorKindOf(err) == adapter.ErrKindNetwork {
				u.log.Warn().Err(err).Str("payment_id", p.ID).Msg("status poll failed, will retry next run")
				continue
			}
			u.log.Error().Err(err).Str("payment_id", p.ID).Msg("status poll failed")
			continue
		}
		if data.Status == model.PaymentStatusPending {
			metrics.IncPaymentReconciled("unchanged")
			continue
		}
		if _, err := u.ApplyStatus(ctx, p.ProviderID, data); err != nil {
			if errors.Is(err, domain.ErrWebhookLocked) {
				metrics.IncPaymentReconciled("unchanged")
				continue // webhook got there first
			}
			metrics.IncPaymentReconciled("error")
			u.log.Error().Err(err).Str("payment_id", p.ID).Msg("failed to apply polled status")
			continue
		}
		metrics.IncPaymentReconciled("applied")
		applied++
	}
	return len(stale), applied, nil
}

func (u *paymentUC) Get(ctx context.Context, id string) (*model.Payment, error) {
	return u.payments.FindByID(ctx, repository.NoTX, id)
}

func (u *paymentUC) SumCompletedByPeriod(ctx context.Context, period string) (int64, error) {
	return u.payments.SumCompletedByPeriod(ctx, repository.NoTX, period)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// metaInt reads an integer out of payment metadata. JSONB round-trips
// numbers as float64, so several representations are accepted.
func metaInt(meta map[string]interface{}, key string) int {
	switch n := meta[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if v, err := strconv.Atoi(n); err == nil {
			return v
		}
	}
	return 0
}
