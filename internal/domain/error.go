package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	ErrPromoExhausted    = errors.New("promo code exhausted")
	ErrPaymentNotPending = errors.New("payment is not pending")
	ErrWebhookLocked     = errors.New("webhook for this payment is already being processed")
)
