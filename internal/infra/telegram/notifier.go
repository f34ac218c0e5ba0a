package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/metrics"
)

var (
	_ adapter.Notifier      = (*Bot)(nil)
	_ adapter.InvoiceSender = (*Bot)(nil)
)

func (b *Bot) NotifyPaymentSuccess(ctx context.Context, user *model.User, payment *model.Payment, sub *model.Subscription) error {
	return b.dm(ctx, "payment_success", user.TelegramID, paymentSuccessText(payment, sub))
}

func (b *Bot) NotifyPaymentFailed(ctx context.Context, user *model.User, payment *model.Payment, reason string) error {
	text := fmt.Sprintf("Your payment of %s %s could not be completed.", payment.Amount.StringFixed(2), payment.Currency)
	if reason != "" {
		text += "\nReason: " + reason
	}
	text += "\nNo money was taken. You can try again at any time."
	return b.dm(ctx, "payment_failed", user.TelegramID, text)
}

func (b *Bot) NotifySubscriptionExpiring(ctx context.Context, user *model.User, sub *model.Subscription, daysLeft int) error {
	return b.dm(ctx, "expiry_warning", user.TelegramID, expiryWarningText(sub, daysLeft))
}

func (b *Bot) NotifySubscriptionExpired(ctx context.Context, user *model.User, sub *model.Subscription) error {
	text := "Your subscription has expired and channel access has been revoked.\nRenew to get access back."
	return b.dm(ctx, "expired", user.TelegramID, text)
}

// SendStarsInvoice issues the in-chat XTR invoice for a pending Stars
// payment. The invoice payload carries the provider-local payment id so the
// successful_payment update can be matched back.
func (b *Bot) SendStarsInvoice(ctx context.Context, telegramID int64, providerID, title, description string, stars int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	payload, err := json.Marshal(map[string]string{"payment_id": providerID})
	if err != nil {
		return err
	}
	if title == "" {
		title = "Channel subscription"
	}
	if description == "" {
		description = title
	}

	invoice := tgbotapi.InvoiceConfig{
		BaseChat:    tgbotapi.BaseChat{ChatID: telegramID},
		Title:       title,
		Description: description,
		Payload:     string(payload),
		Currency:    "XTR", // Stars invoices carry no provider token
		Prices:      []tgbotapi.LabeledPrice{{Label: title, Amount: int(stars)}},
	}
	if _, err := b.api.Send(invoice); err != nil {
		b.log.Error().Err(err).Int64("tg_id", telegramID).Str("provider_id", providerID).Msg("stars invoice send failed")
		return err
	}
	return nil
}

func (b *Bot) dm(ctx context.Context, kind string, tgID int64, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := b.send(tgID, text); err != nil {
		metrics.NotificationDMTotal.WithLabelValues(kind, "error").Inc()
		b.log.Warn().Err(err).Int64("tg_id", tgID).Str("kind", kind).Msg("notification DM failed")
		return err
	}
	metrics.NotificationDMTotal.WithLabelValues(kind, "sent").Inc()
	return nil
}

func startText(user *model.User, welcome *model.PromoCode) string {
	var sb strings.Builder
	name := user.FullName
	if name == "" {
		name = user.Username
	}
	if name == "" {
		sb.WriteString("Welcome!")
	} else {
		fmt.Fprintf(&sb, "Welcome, %s!", name)
	}
	sb.WriteString("\nThis bot manages paid access to private channels.")
	if welcome != nil {
		fmt.Fprintf(&sb, "\n\nYour welcome promo code: %s", welcome.Code)
		if welcome.ValidUntil != nil {
			fmt.Fprintf(&sb, " (valid until %s)", welcome.ValidUntil.Format("02.01.2006"))
		}
	}
	return sb.String()
}

func paymentSuccessText(payment *model.Payment, sub *model.Subscription) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Payment of %s %s received.", payment.Amount.StringFixed(2), payment.Currency)
	if sub != nil && sub.ExpiresAt != nil {
		fmt.Fprintf(&sb, "\nYour subscription is active until %s.", sub.ExpiresAt.Format("02.01.2006 15:04"))
	}
	sb.WriteString("\nAn invite link to the channel follows shortly.")
	return sb.String()
}

func expiryWarningText(sub *model.Subscription, daysLeft int) string {
	day := "days"
	if daysLeft == 1 {
		day = "day"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your subscription expires in %d %s", daysLeft, day)
	if sub.ExpiresAt != nil {
		fmt.Fprintf(&sb, " (on %s)", sub.ExpiresAt.Format("02.01.2006"))
	}
	sb.WriteString(".\nRenew now to keep your channel access.")
	return sb.String()
}
