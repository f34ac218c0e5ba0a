package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription grants one user timed access to one channel.
//
// IsActive is stored denormalized and kept in sync with Status by the
// lifecycle use case; the sweep corrects any drift against ExpiresAt.
type Subscription struct {
	ID           string // UUID
	UserID       string // UUID of user
	ChannelID    string // UUID of channel
	Status       SubscriptionStatus
	IsActive     bool
	Price        decimal.Decimal
	Currency     string
	DurationDays int
	StartsAt     *time.Time // nil until first activation
	ExpiresAt    *time.Time
	CancelledAt  *time.Time
	CancelReason string
	// MembershipSynced is false while the channel-membership side effect for
	// the latest transition has not been confirmed; the sweep re-drives it.
	MembershipSynced bool
	PaymentID        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewSubscription creates a pending subscription awaiting payment confirmation.
func NewSubscription(id, userID, channelID string, durationDays int, price decimal.Decimal, currency string) (*Subscription, error) {
	if id == "" || userID == "" || channelID == "" || durationDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		ID:               id,
		UserID:           userID,
		ChannelID:        channelID,
		Status:           SubscriptionStatusPending,
		IsActive:         false,
		Price:            price,
		Currency:         currency,
		DurationDays:     durationDays,
		MembershipSynced: true, // nothing to sync until activation
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Activate transitions pending->active and sets the access window. It is
// idempotent: a repeated call on an already-active subscription keeps the
// existing window. Returns true when a transition actually happened.
func (s *Subscription) Activate(now time.Time) bool {
	if s.Status == SubscriptionStatusActive && s.ExpiresAt != nil {
		return false
	}
	if s.Status != SubscriptionStatusPending {
		return false
	}
	expires := now.Add(time.Duration(s.DurationDays) * 24 * time.Hour)
	s.Status = SubscriptionStatusActive
	s.IsActive = true
	s.StartsAt = &now
	s.ExpiresAt = &expires
	s.MembershipSynced = false
	s.UpdatedAt = now
	return true
}

// Extend adds days to the access window. A lapsed (expired) subscription is
// re-activated and extended from now, not from the old expiry.
func (s *Subscription) Extend(days int, now time.Time) error {
	if days <= 0 {
		return domain.ErrInvalidArgument
	}
	if s.Status == SubscriptionStatusCancelled {
		return domain.ErrInvalidArgument
	}
	base := now
	if s.ExpiresAt != nil && s.ExpiresAt.After(now) {
		base = *s.ExpiresAt
	}
	expires := base.Add(time.Duration(days) * 24 * time.Hour)
	if s.StartsAt == nil {
		s.StartsAt = &now
	}
	if s.Status != SubscriptionStatusActive {
		s.MembershipSynced = false
	}
	s.Status = SubscriptionStatusActive
	s.IsActive = true
	s.ExpiresAt = &expires
	s.UpdatedAt = now
	return nil
}

// Cancel is terminal; no further transitions are permitted.
func (s *Subscription) Cancel(reason string, now time.Time) error {
	if s.Status == SubscriptionStatusCancelled || s.Status == SubscriptionStatusExpired {
		return domain.ErrInvalidArgument
	}
	wasActive := s.IsActive
	s.Status = SubscriptionStatusCancelled
	s.IsActive = false
	s.CancelledAt = &now
	s.CancelReason = reason
	s.MembershipSynced = !wasActive
	s.UpdatedAt = now
	return nil
}

// Expire is driven exclusively by the reconciliation sweep.
func (s *Subscription) Expire(now time.Time) bool {
	if s.Status != SubscriptionStatusActive {
		return false
	}
	s.Status = SubscriptionStatusExpired
	s.IsActive = false
	s.MembershipSynced = false
	s.UpdatedAt = now
	return true
}

// DaysLeft returns whole days until expiry, never negative.
func (s *Subscription) DaysLeft(now time.Time) int {
	if s.ExpiresAt == nil || s.ExpiresAt.Before(now) {
		return 0
	}
	return int(s.ExpiresAt.Sub(now).Hours() / 24)
}
