package adapter

import (
	"context"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
)

// ChannelMembership manages access to the private channel. Calls are
// sequenced strictly after the owning DB transaction commits; failures are
// logged and re-driven by the reconciliation sweep.
type ChannelMembership interface {
	AddUserToChannel(ctx context.Context, user *model.User, channel *model.Channel) error
	RemoveUserFromChannel(ctx context.Context, user *model.User, channel *model.Channel) error
}

// InvoiceSender delivers an in-chat invoice for rails that charge inside the
// bot platform (Telegram Stars).
type InvoiceSender interface {
	SendStarsInvoice(ctx context.Context, telegramID int64, providerID, title, description string, stars int64) error
}
