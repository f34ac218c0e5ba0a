package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/metrics"
)

var _ adapter.ChannelMembership = (*Bot)(nil)

// AddUserToChannel lifts any previous ban and delivers an invite link. A
// single-use link is minted per grant; the channel's static link is the
// fallback when the bot lacks the invite-link admin right.
func (b *Bot) AddUserToChannel(ctx context.Context, user *model.User, channel *model.Channel) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	_, err := b.api.Request(tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: channel.TelegramID,
			UserID: user.TelegramID,
		},
		OnlyIfBanned: true,
	})
	if err != nil {
		metrics.IncMembershipSync("add", "error")
		return fmt.Errorf("unban user %d in channel %d: %w", user.TelegramID, channel.TelegramID, err)
	}

	link, err := b.inviteLink(channel)
	if err != nil {
		metrics.IncMembershipSync("add", "error")
		return err
	}
	text := fmt.Sprintf("You now have access to %s.\nJoin here: %s", channel.Title, link)
	if err := b.send(user.TelegramID, text); err != nil {
		metrics.IncMembershipSync("add", "error")
		return fmt.Errorf("deliver invite link to user %d: %w", user.TelegramID, err)
	}
	metrics.IncMembershipSync("add", "ok")
	return nil
}

// RemoveUserFromChannel kicks without a permanent ban: ban then immediate
// unban, so the user can rejoin after renewing.
func (b *Bot) RemoveUserFromChannel(ctx context.Context, user *model.User, channel *model.Channel) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	member := tgbotapi.ChatMemberConfig{
		ChatID: channel.TelegramID,
		UserID: user.TelegramID,
	}
	if _, err := b.api.Request(tgbotapi.BanChatMemberConfig{ChatMemberConfig: member}); err != nil {
		metrics.IncMembershipSync("remove", "error")
		return fmt.Errorf("ban user %d in channel %d: %w", user.TelegramID, channel.TelegramID, err)
	}
	if _, err := b.api.Request(tgbotapi.UnbanChatMemberConfig{ChatMemberConfig: member, OnlyIfBanned: true}); err != nil {
		metrics.IncMembershipSync("remove", "error")
		return fmt.Errorf("unban user %d in channel %d: %w", user.TelegramID, channel.TelegramID, err)
	}
	metrics.IncMembershipSync("remove", "ok")
	return nil
}

// inviteLink mints a single-use link expiring in a day, falling back to the
// channel's stored link.
func (b *Bot) inviteLink(channel *model.Channel) (string, error) {
	resp, err := b.api.Request(tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: channel.TelegramID},
		MemberLimit: 1,
		ExpireDate:  int(time.Now().Add(24 * time.Hour).Unix()),
	})
	if err != nil || !resp.Ok {
		if channel.InviteLink != "" {
			b.log.Warn().Err(err).Int64("channel_tg_id", channel.TelegramID).Msg("invite link mint failed, using static link")
			return channel.InviteLink, nil
		}
		return "", fmt.Errorf("create invite link for channel %d: %w", channel.TelegramID, err)
	}

	var link tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil || link.InviteLink == "" {
		if channel.InviteLink != "" {
			return channel.InviteLink, nil
		}
		return "", fmt.Errorf("decode invite link for channel %d: %w", channel.TelegramID, err)
	}
	return link.InviteLink, nil
}
