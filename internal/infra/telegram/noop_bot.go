package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
)

var (
	_ adapter.Notifier          = (*NoopBot)(nil)
	_ adapter.ChannelMembership = (*NoopBot)(nil)
	_ adapter.InvoiceSender     = (*NoopBot)(nil)
)

// NoopBot logs instead of calling Telegram. Used in dev mode and in tests so
// the core can run without a bot token.
type NoopBot struct {
	log *zerolog.Logger
}

func NewNoopBot(logger *zerolog.Logger) *NoopBot {
	l := logger.With().Str("component", "NoopBot").Logger()
	return &NoopBot{log: &l}
}

func (n *NoopBot) NotifyPaymentSuccess(ctx context.Context, user *model.User, payment *model.Payment, sub *model.Subscription) error {
	n.log.Info().Int64("tg_id", user.TelegramID).Str("payment_id", payment.ID).Msg("noop: payment success DM")
	return nil
}

func (n *NoopBot) NotifyPaymentFailed(ctx context.Context, user *model.User, payment *model.Payment, reason string) error {
	n.log.Info().Int64("tg_id", user.TelegramID).Str("payment_id", payment.ID).Str("reason", reason).Msg("noop: payment failed DM")
	return nil
}

func (n *NoopBot) NotifySubscriptionExpiring(ctx context.Context, user *model.User, sub *model.Subscription, daysLeft int) error {
	n.log.Info().Int64("tg_id", user.TelegramID).Str("subscription_id", sub.ID).Int("days_left", daysLeft).Msg("noop: expiry warning DM")
	return nil
}

func (n *NoopBot) NotifySubscriptionExpired(ctx context.Context, user *model.User, sub *model.Subscription) error {
	n.log.Info().Int64("tg_id", user.TelegramID).Str("subscription_id", sub.ID).Msg("noop: expired DM")
	return nil
}

func (n *NoopBot) AddUserToChannel(ctx context.Context, user *model.User, channel *model.Channel) error {
	n.log.Info().Int64("tg_id", user.TelegramID).Int64("channel_tg_id", channel.TelegramID).Msg("noop: add to channel")
	return nil
}

func (n *NoopBot) RemoveUserFromChannel(ctx context.Context, user *model.User, channel *model.Channel) error {
	n.log.Info().Int64("tg_id", user.TelegramID).Int64("channel_tg_id", channel.TelegramID).Msg("noop: remove from channel")
	return nil
}

func (n *NoopBot) SendStarsInvoice(ctx context.Context, telegramID int64, providerID, title, description string, stars int64) error {
	n.log.Info().Int64("tg_id", telegramID).Str("provider_id", providerID).Int64("stars", stars).Msg("noop: stars invoice")
	return nil
}
