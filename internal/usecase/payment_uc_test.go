//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
)

// paymentDeps bundles every mock the payment use case needs.
type paymentDeps struct {
	payments   *memPaymentRepo
	users      *memUserRepo
	channels   *memChannelRepo
	subs       *memSubRepo
	promos     *memPromoRepo
	registry   *mockRegistry
	membership *mockMembership
	notifier   *mockNotifier
	invoices   *mockInvoiceSender
	locker     *mockLocker
	subUC      SubscriptionUseCase
	promoUC    PromoUseCase
	uc         PaymentUseCase
}

func newPaymentDeps() *paymentDeps {
	log := newTestLogger()
	d := &paymentDeps{
		payments:   newMemPaymentRepo(),
		users:      newMemUserRepo(),
		channels:   newMemChannelRepo(),
		subs:       newMemSubRepo(),
		promos:     newMemPromoRepo(),
		registry:   &mockRegistry{},
		membership: &mockMembership{},
		notifier:   &mockNotifier{},
		invoices:   &mockInvoiceSender{},
		locker:     newMockLocker(),
	}
	tm := &mockTxManager{}
	d.subUC = NewSubscriptionUseCase(d.subs, d.users, d.channels, tm, d.membership, log)
	d.promoUC = NewPromoUseCase(d.promos, tm, WelcomeCodeConfig{}, log)
	d.uc = NewPaymentUseCase(d.payments, d.users, d.registry, d.subUC, d.promoUC, tm, d.locker, d.notifier, d.invoices, log)
	return d
}

func baseInput() InitiatePaymentInput {
	return InitiatePaymentInput{
		UserID:       "user-1",
		TelegramID:   42,
		ChannelID:    "chan-1",
		Method:       model.PaymentMethodYooMoney,
		Price:        mustDecimal("500.00"),
		Currency:     "RUB",
		DurationDays: 30,
		Description:  "Channel subscription",
	}
}

func TestPaymentUC_Initiate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending payment and subscription", func(t *testing.T) {
		d := newPaymentDeps()
		seedUser(d.users, "user-1", 42)
		seedChannel(d.channels, "chan-1")

		intent, err := d.uc.Initiate(ctx, baseInput())
		if err != nil {
			t.Fatalf("Initiate failed: %v", err)
		}
		if intent.Payment.Status != model.PaymentStatusPending {
			t.Errorf("expected pending, got %s", intent.Payment.Status)
		}
		if intent.PayURL == "" {
			t.Error("expected a pay URL")
		}
		sub, err := d.subs.FindByUserAndChannel(ctx, repository.NoTX, "user-1", "chan-1")
		if err != nil {
			t.Fatalf("subscription missing: %v", err)
		}
		if sub.Status != model.SubscriptionStatusPending {
			t.Errorf("expected pending subscription, got %s", sub.Status)
		}
		if intent.Payment.SubscriptionID == nil || *intent.Payment.SubscriptionID != sub.ID {
			t.Error("payment must reference the subscription")
		}
	})

	t.Run("promo discounts the charge but does not consume a use", func(t *testing.T) {
		d := newPaymentDeps()
		seedUser(d.users, "user-1", 42)
		seedChannel(d.channels, "chan-1")
		_, _ = d.promoUC.Create(ctx, CreatePromoInput{Code: "SAVE10", Type: model.PromoTypePercentage, Value: decimal.NewFromInt(10)})

		in := baseInput()
		in.PromoCode = "SAVE10"
		intent, err := d.uc.Initiate(ctx, in)
		if err != nil {
			t.Fatalf("Initiate failed: %v", err)
		}
		if !intent.Payment.Amount.Equal(mustDecimal("450.00")) {
			t.Errorf("expected charge 450.00, got %s", intent.Payment.Amount)
		}
		if !intent.Discount.Equal(mustDecimal("50.00")) {
			t.Errorf("expected discount 50.00, got %s", intent.Discount)
		}
		p, _ := d.promos.FindByCode(ctx, repository.NoTX, "SAVE10")
		if p.CurrentUses != 0 {
			t.Errorf("quote must not consume a use, got %d", p.CurrentUses)
		}
	})

	t.Run("invalid promo rejects the initiation", func(t *testing.T) {
		d := newPaymentDeps()
		seedUser(d.users, "user-1", 42)
		seedChannel(d.channels, "chan-1")

		in := baseInput()
		in.PromoCode = "NOPE"
		_, err := d.uc.Initiate(ctx, in)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("full discount completes without a provider", func(t *testing.T) {
		d := newPaymentDeps()
		seedUser(d.users, "user-1", 42)
		seedChannel(d.channels, "chan-1")
		_, _ = d.promoUC.Create(ctx, CreatePromoInput{Code: "FREE", Type: model.PromoTypePercentage, Value: decimal.NewFromInt(100)})

		in := baseInput()
		in.PromoCode = "FREE"
		intent, err := d.uc.Initiate(ctx, in)
		if err != nil {
			t.Fatalf("Initiate failed: %v", err)
		}
		if intent.Payment.Status != model.PaymentStatusCompleted {
			t.Errorf("expected completed, got %s", intent.Payment.Status)
		}
		sub, _ := d.subs.FindByUserAndChannel(ctx, repository.NoTX, "user-1", "chan-1")
		if !sub.IsActive {
			t.Error("subscription must be active")
		}
		if len(d.membership.Added) != 1 {
			t.Errorf("expected 1 membership add, got %d", len(d.membership.Added))
		}
		p, _ := d.promos.FindByCode(ctx, repository.NoTX, "FREE")
		if p.CurrentUses != 1 {
			t.Errorf("completion must consume the promo, got %d uses", p.CurrentUses)
		}
	})

	t.Run("stars initiation sends the invoice", func(t *testing.T) {
		d := newPaymentDeps()
		seedUser(d.users, "user-1", 42)
		seedChannel(d.channels, "chan-1")
		d.registry.CreatePaymentFunc = func(ctx context.Context, method model.PaymentMethod, req *adapter.PaymentRequest) (*adapter.PaymentResponse, error) {
			return &adapter.PaymentResponse{
				ProviderID: "stars-1",
				Status:     model.PaymentStatusPending,
				Metadata:   map[string]interface{}{"stars_amount": int64(5)},
			}, nil
		}

		in := baseInput()
		in.Method = model.PaymentMethodStars
		intent, err := d.uc.Initiate(ctx, in)
		if err != nil {
			t.Fatalf("Initiate failed: %v", err)
		}
		if !intent.StarsSent {
			t.Error("expected the invoice to be sent")
		}
		if len(d.invoices.Sent) != 1 || d.invoices.Sent[0] != 42 {
			t.Errorf("invoice not delivered to user, sent=%v", d.invoices.Sent)
		}
	})

	t.Run("unavailable method is rejected", func(t *testing.T) {
		d := newPaymentDeps()
		d.registry.Unavailable = map[model.PaymentMethod]bool{model.PaymentMethodYooMoney: true}
		_, err := d.uc.Initiate(ctx, baseInput())
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestPaymentUC_ApplyStatus(t *testing.T) {
	ctx := context.Background()

	initiate := func(t *testing.T, d *paymentDeps, promo string) *PaymentIntent {
		t.Helper()
		seedUser(d.users, "user-1", 42)
		seedChannel(d.channels, "chan-1")
		in := baseInput()
		in.PromoCode = promo
		intent, err := d.uc.Initiate(ctx, in)
		if err != nil {
			t.Fatalf("Initiate failed: %v", err)
		}
		return intent
	}

	completed := func(providerID string) *adapter.PaymentStatusData {
		paid := time.Now()
		return &adapter.PaymentStatusData{
			ExternalID: "ext-" + providerID,
			Status:     model.PaymentStatusCompleted,
			PaidAt:     &paid,
		}
	}

	t.Run("completion activates the subscription", func(t *testing.T) {
		d := newPaymentDeps()
		intent := initiate(t, d, "")

		p, err := d.uc.ApplyStatus(ctx, intent.Payment.ProviderID, completed(intent.Payment.ProviderID))
		if err != nil {
			t.Fatalf("ApplyStatus failed: %v", err)
		}
		if p.Status != model.PaymentStatusCompleted {
			t.Errorf("expected completed, got %s", p.Status)
		}
		sub, _ := d.subs.FindByID(ctx, repository.NoTX, *intent.Payment.SubscriptionID)
		if !sub.IsActive || sub.ExpiresAt == nil {
			t.Fatal("subscription must be active with a window")
		}
		days := int(sub.ExpiresAt.Sub(*sub.StartsAt).Hours() / 24)
		if days != 30 {
			t.Errorf("expected a 30 day window, got %d", days)
		}
		if len(d.membership.Added) != 1 {
			t.Errorf("expected membership add, got %d", len(d.membership.Added))
		}
		if d.notifier.Successes != 1 {
			t.Errorf("expected 1 success notification, got %d", d.notifier.Successes)
		}
	})

	t.Run("duplicate webhook is a no-op", func(t *testing.T) {
		d := newPaymentDeps()
		_, _ = d.promoUC.Create(ctx, CreatePromoInput{Code: "SAVE10", Type: model.PromoTypePercentage, Value: decimal.NewFromInt(10)})
		intent := initiate(t, d, "SAVE10")
		providerID := intent.Payment.ProviderID

		if _, err := d.uc.ApplyStatus(ctx, providerID, completed(providerID)); err != nil {
			t.Fatalf("first ApplyStatus failed: %v", err)
		}
		sub, _ := d.subs.FindByID(ctx, repository.NoTX, *intent.Payment.SubscriptionID)
		firstExpiry := *sub.ExpiresAt

		p, err := d.uc.ApplyStatus(ctx, providerID, completed(providerID))
		if err != nil {
			t.Fatalf("replay ApplyStatus failed: %v", err)
		}
		if p.Status != model.PaymentStatusCompleted {
			t.Errorf("expected completed on replay, got %s", p.Status)
		}

		sub, _ = d.subs.FindByID(ctx, repository.NoTX, *intent.Payment.SubscriptionID)
		if !sub.ExpiresAt.Equal(firstExpiry) {
			t.Error("replay must not extend the window")
		}
		promo, _ := d.promos.FindByCode(ctx, repository.NoTX, "SAVE10")
		if promo.CurrentUses != 1 {
			t.Errorf("replay must not consume another use, got %d", promo.CurrentUses)
		}
		if d.notifier.Successes != 1 {
			t.Errorf("replay must not re-notify, got %d", d.notifier.Successes)
		}
	})

	t.Run("failure records the reason and notifies", func(t *testing.T) {
		d := newPaymentDeps()
		intent := initiate(t, d, "")

		p, err := d.uc.ApplyStatus(ctx, intent.Payment.ProviderID, &adapter.PaymentStatusData{
			Status: model.PaymentStatusFailed,
		})
		if err != nil {
			t.Fatalf("ApplyStatus failed: %v", err)
		}
		if p.Status != model.PaymentStatusFailed {
			t.Errorf("expected failed, got %s", p.Status)
		}
		if p.FailureReason == "" {
			t.Error("expected a failure reason")
		}
		sub, _ := d.subs.FindByID(ctx, repository.NoTX, *intent.Payment.SubscriptionID)
		if sub.Status != model.SubscriptionStatusPending {
			t.Errorf("failed payment must leave the subscription pending, got %s", sub.Status)
		}
		if d.notifier.Failures != 1 {
			t.Errorf("expected 1 failure notification, got %d", d.notifier.Failures)
		}
	})

	t.Run("second payment extends from the current expiry", func(t *testing.T) {
		d := newPaymentDeps()
		intent := initiate(t, d, "")
		providerID := intent.Payment.ProviderID
		if _, err := d.uc.ApplyStatus(ctx, providerID, completed(providerID)); err != nil {
			t.Fatalf("first completion failed: %v", err)
		}
		sub, _ := d.subs.FindByID(ctx, repository.NoTX, *intent.Payment.SubscriptionID)
		firstExpiry := *sub.ExpiresAt

		in := baseInput()
		intent2, err := d.uc.Initiate(ctx, in)
		if err != nil {
			t.Fatalf("second Initiate failed: %v", err)
		}
		if _, err := d.uc.ApplyStatus(ctx, intent2.Payment.ProviderID, completed(intent2.Payment.ProviderID)); err != nil {
			t.Fatalf("second completion failed: %v", err)
		}

		sub, _ = d.subs.FindByID(ctx, repository.NoTX, *intent.Payment.SubscriptionID)
		want := firstExpiry.Add(30 * 24 * time.Hour)
		if !sub.ExpiresAt.Equal(want) {
			t.Errorf("expected expiry %v, got %v", want, sub.ExpiresAt)
		}
	})

	t.Run("renewal with a longer plan grants the paid duration", func(t *testing.T) {
		d := newPaymentDeps()
		intent := initiate(t, d, "") // 30 day plan
		providerID := intent.Payment.ProviderID
		if _, err := d.uc.ApplyStatus(ctx, providerID, completed(providerID)); err != nil {
			t.Fatalf("first completion failed: %v", err)
		}
		sub, _ := d.subs.FindByID(ctx, repository.NoTX, *intent.Payment.SubscriptionID)
		firstExpiry := *sub.ExpiresAt

		in := baseInput()
		in.DurationDays = 90
		in.Price = mustDecimal("1200.00")
		intent2, err := d.uc.Initiate(ctx, in)
		if err != nil {
			t.Fatalf("second Initiate failed: %v", err)
		}
		if _, err := d.uc.ApplyStatus(ctx, intent2.Payment.ProviderID, completed(intent2.Payment.ProviderID)); err != nil {
			t.Fatalf("second completion failed: %v", err)
		}

		sub, _ = d.subs.FindByID(ctx, repository.NoTX, *intent.Payment.SubscriptionID)
		want := firstExpiry.Add(90 * 24 * time.Hour)
		if !sub.ExpiresAt.Equal(want) {
			t.Errorf("paying the 90 day price must grant 90 days, got expiry %v want %v", sub.ExpiresAt, want)
		}
	})

	t.Run("concurrent holder is refused", func(t *testing.T) {
		d := newPaymentDeps()
		intent := initiate(t, d, "")
		d.locker.Deny = true

		_, err := d.uc.ApplyStatus(ctx, intent.Payment.ProviderID, completed(intent.Payment.ProviderID))
		if !errors.Is(err, domain.ErrWebhookLocked) {
			t.Errorf("expected ErrWebhookLocked, got %v", err)
		}
	})

	t.Run("unknown provider id", func(t *testing.T) {
		d := newPaymentDeps()
		_, err := d.uc.ApplyStatus(ctx, "ghost", completed("ghost"))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestPaymentUC_HandleWebhook(t *testing.T) {
	ctx := context.Background()

	t.Run("bad signature never reaches parsing", func(t *testing.T) {
		d := newPaymentDeps()
		d.registry.VerifySignatureFunc = func(model.PaymentMethod, []byte, string) bool { return false }
		parsed := false
		d.registry.ParseWebhookFunc = func(method model.PaymentMethod, payload map[string]interface{}) (string, *adapter.PaymentStatusData, error) {
			parsed = true
			return "", nil, nil
		}

		_, err := d.uc.HandleWebhook(ctx, model.PaymentMethodYooMoney, []byte("body"), "bad", map[string]interface{}{})
		if adapter.ErrorKindOf(err) != adapter.ErrKindAuth {
			t.Errorf("expected auth error, got %v", err)
		}
		if parsed {
			t.Error("payload must not be parsed after a failed signature")
		}
	})

	t.Run("valid webhook completes the payment", func(t *testing.T) {
		d := newPaymentDeps()
		seedUser(d.users, "user-1", 42)
		seedChannel(d.channels, "chan-1")
		intent, err := d.uc.Initiate(ctx, baseInput())
		if err != nil {
			t.Fatalf("Initiate failed: %v", err)
		}
		d.registry.ParseWebhookFunc = func(method model.PaymentMethod, payload map[string]interface{}) (string, *adapter.PaymentStatusData, error) {
			return intent.Payment.ProviderID, &adapter.PaymentStatusData{
				ExternalID: "op-1",
				Status:     model.PaymentStatusCompleted,
			}, nil
		}

		p, err := d.uc.HandleWebhook(ctx, model.PaymentMethodYooMoney, []byte("body"), "sig", map[string]interface{}{})
		if err != nil {
			t.Fatalf("HandleWebhook failed: %v", err)
		}
		if p.Status != model.PaymentStatusCompleted {
			t.Errorf("expected completed, got %s", p.Status)
		}
		if p.ExternalID != "op-1" {
			t.Errorf("expected external id op-1, got %s", p.ExternalID)
		}
	})
}

func TestPaymentUC_ReconcilePending(t *testing.T) {
	ctx := context.Background()

	stale := func(d *paymentDeps) *PaymentIntent {
		seedUser(d.users, "user-1", 42)
		seedChannel(d.channels, "chan-1")
		intent, _ := d.uc.Initiate(ctx, baseInput())
		// age the record past the stale cutoff
		p, _ := d.payments.FindByID(ctx, repository.NoTX, intent.Payment.ID)
		p.CreatedAt = time.Now().Add(-time.Hour)
		_ = d.payments.Save(ctx, repository.NoTX, p)
		return intent
	}

	t.Run("applies a status the provider now reports", func(t *testing.T) {
		d := newPaymentDeps()
		intent := stale(d)
		d.registry.CheckStatusFunc = func(ctx context.Context, method model.PaymentMethod, providerID string) (*adapter.PaymentStatusData, error) {
			return &adapter.PaymentStatusData{ExternalID: "ext-1", Status: model.PaymentStatusCompleted}, nil
		}

		checked, applied, err := d.uc.ReconcilePending(ctx, 10*time.Minute, 50)
		if err != nil {
			t.Fatalf("ReconcilePending failed: %v", err)
		}
		if checked != 1 || applied != 1 {
			t.Errorf("expected 1/1, got %d/%d", checked, applied)
		}
		p, _ := d.payments.FindByID(ctx, repository.NoTX, intent.Payment.ID)
		if p.Status != model.PaymentStatusCompleted {
			t.Errorf("expected completed, got %s", p.Status)
		}
	})

	t.Run("still pending stays untouched", func(t *testing.T) {
		d := newPaymentDeps()
		intent := stale(d)

		checked, applied, err := d.uc.ReconcilePending(ctx, 10*time.Minute, 50)
		if err != nil {
			t.Fatalf("ReconcilePending failed: %v", err)
		}
		if checked != 1 || applied != 0 {
			t.Errorf("expected 1/0, got %d/%d", checked, applied)
		}
		p, _ := d.payments.FindByID(ctx, repository.NoTX, intent.Payment.ID)
		if p.Status != model.PaymentStatusPending {
			t.Errorf("expected pending, got %s", p.Status)
		}
	})

	t.Run("network failure skips the item", func(t *testing.T) {
		d := newPaymentDeps()
		stale(d)
		d.registry.CheckStatusFunc = func(ctx context.Context, method model.PaymentMethod, providerID string) (*adapter.PaymentStatusData, error) {
			return nil, adapter.NewProviderError(adapter.ErrKindNetwork, "bank unreachable")
		}

		checked, applied, err := d.uc.ReconcilePending(ctx, 10*time.Minute, 50)
		if err != nil {
			t.Fatalf("ReconcilePending failed: %v", err)
		}
		if checked != 1 || applied != 0 {
			t.Errorf("expected 1/0, got %d/%d", checked, applied)
		}
	})
}
