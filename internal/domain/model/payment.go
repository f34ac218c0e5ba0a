package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"    // created, awaiting confirmation
	PaymentStatusProcessing PaymentStatus = "processing" // provider reported in-flight
	PaymentStatusCompleted  PaymentStatus = "completed"  // money confirmed
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// IsTerminal reports whether no further transitions are allowed.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodYooMoney PaymentMethod = "yoomoney"
	PaymentMethodStars    PaymentMethod = "telegram_stars"
	PaymentMethodSBP      PaymentMethod = "sbp"
)

// Payment is the durable record of one transaction attempt. Status is
// mutated exclusively through the payment use case.
type Payment struct {
	ID             string // UUID
	UserID         string // UUID of user
	Method         PaymentMethod
	Status         PaymentStatus
	Amount         decimal.Decimal
	Currency       string
	ProviderID     string  // adapter-local id handed to the provider (label/payload)
	ExternalID     string  // provider-side id, known only after confirmation
	FailureReason  string  // set when status=failed
	Description    string
	Meta           map[string]interface{} // serialized as JSONB
	SubscriptionID *string                // subscription funded by this payment
	PromoCode      *string                // promo code quoted at creation, applied at completion
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
	FailedAt       *time.Time
}
