package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PromoType string

const (
	PromoTypeFixed      PromoType = "fixed_amount"
	PromoTypePercentage PromoType = "percentage"
)

// PromoFailReason is the single reason surfaced for an invalid promo code.
// Checks are evaluated in this priority order; the first applicable wins.
type PromoFailReason string

const (
	PromoFailNone         PromoFailReason = ""
	PromoFailNotFound     PromoFailReason = "not_found"
	PromoFailDisabled     PromoFailReason = "disabled"
	PromoFailExhausted    PromoFailReason = "exhausted"
	PromoFailExpired      PromoFailReason = "expired"
	PromoFailNotYetActive PromoFailReason = "not_yet_active"
	PromoFailWrongUser    PromoFailReason = "wrong_user"
	PromoFailUserLimit    PromoFailReason = "per_user_cap_reached"
	PromoFailBelowMin     PromoFailReason = "below_minimum_amount"
)

type PromoCode struct {
	ID             string // UUID
	Code           string // unique, stored upper-case
	Type           PromoType
	Value          decimal.Decimal
	Title          string
	Description    string
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	MaxUses        *int // nil = unlimited
	CurrentUses    int
	MaxUsesPerUser int
	MinAmount      *decimal.Decimal
	BoundUserID    *string // personal code, usable by this user only
	IsActive       bool
	CreatedAt      time.Time
	CreatedBy      *string
}

// CheckValidity returns the first failing reason for the code itself
// (user-independent checks) or PromoFailNone.
func (p *PromoCode) CheckValidity(now time.Time) PromoFailReason {
	if !p.IsActive {
		return PromoFailDisabled
	}
	if p.MaxUses != nil && p.CurrentUses >= *p.MaxUses {
		return PromoFailExhausted
	}
	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return PromoFailExpired
	}
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return PromoFailNotYetActive
	}
	return PromoFailNone
}

// CalculateDiscount computes the discount for amount, or zero when the code
// is not currently applicable. Fixed discounts are clamped to the amount;
// percentage discounts round half-up to 2 decimal places.
func (p *PromoCode) CalculateDiscount(amount decimal.Decimal, now time.Time) decimal.Decimal {
	if p.CheckValidity(now) != PromoFailNone {
		return decimal.Zero
	}
	if p.MinAmount != nil && amount.LessThan(*p.MinAmount) {
		return decimal.Zero
	}
	switch p.Type {
	case PromoTypeFixed:
		if p.Value.GreaterThan(amount) {
			return amount
		}
		return p.Value
	case PromoTypePercentage:
		return amount.Mul(p.Value).Div(decimal.NewFromInt(100)).Round(2)
	}
	return decimal.Zero
}

// UsesRemaining returns nil for unlimited codes.
func (p *PromoCode) UsesRemaining() *int {
	if p.MaxUses == nil {
		return nil
	}
	left := *p.MaxUses - p.CurrentUses
	if left < 0 {
		left = 0
	}
	return &left
}

// PromoUsage is the append-only audit row for one successful application.
type PromoUsage struct {
	ID             string // UUID
	PromoCodeID    string
	UserID         string
	PaymentID      *string
	OriginalAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	UsedAt         time.Time
}

// PromoValidation is the structured result of validating a code for a user
// and amount. Exactly one Reason is set when Valid is false.
type PromoValidation struct {
	Valid    bool
	Reason   PromoFailReason
	Discount decimal.Decimal
	Promo    *PromoCode
}
