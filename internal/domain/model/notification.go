package model

import "time"

type NotificationKind string

const (
	NotificationExpiryWarning NotificationKind = "expiry_warning"
	NotificationExpired       NotificationKind = "expired"
)

// NotificationLog deduplicates sweep notifications: one row per
// (subscription, kind, window). WindowDays is 0 for NotificationExpired.
type NotificationLog struct {
	ID             string // UUID
	SubscriptionID string
	Kind           NotificationKind
	WindowDays     int
	SentAt         time.Time
}
