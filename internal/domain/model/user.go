package model

import (
	"time"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain"
)

type User struct {
	ID         string // UUID
	TelegramID int64
	Username   string
	FullName   string
	IsAdmin    bool
	IsBanned   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewUser(id string, telegramID int64, username, fullName string) (*User, error) {
	if id == "" || telegramID == 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{
		ID:         id,
		TelegramID: telegramID,
		Username:   username,
		FullName:   fullName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
