package model

import "time"

// Channel is the private Telegram channel access is sold to.
type Channel struct {
	ID         string // UUID
	TelegramID int64  // chat id of the channel
	Title      string
	InviteLink string
	IsActive   bool
	CreatedAt  time.Time
}
