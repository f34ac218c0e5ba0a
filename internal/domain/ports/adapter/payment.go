package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
)

// --- Error taxonomy ---

// ErrorKind classifies provider failures so callers can decide whether to
// surface, retry or escalate.
type ErrorKind string

const (
	ErrKindValidation ErrorKind = "validation" // caller's fault: bad amount/currency/shape
	ErrKindNetwork    ErrorKind = "network"    // transient, retryable by poll/sweep loops
	ErrKindAuth       ErrorKind = "auth"       // credentials rejected, operator must fix config
	ErrKindNotFound   ErrorKind = "not_found"  // referenced payment absent at provider
	ErrKindProvider   ErrorKind = "provider"   // catch-all
)

// ProviderError propagates unchanged through the payment manager.
type ProviderError struct {
	Kind    ErrorKind
	Message string
	Code    string
	Details map[string]interface{}
	cause   error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code=%s)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.cause }

func NewProviderError(kind ErrorKind, msg string) *ProviderError {
	return &ProviderError{Kind: kind, Message: msg}
}

func WrapProviderError(kind ErrorKind, msg string, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Message: msg, cause: cause}
}

// ErrorKindOf extracts the kind from err, or ErrKindProvider for foreign errors.
func ErrorKindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindProvider
}

// --- Generic payment DTOs ---

// PaymentRequest is the provider-agnostic creation request. Immutable once
// constructed; adapters read, never mutate.
type PaymentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Description    string
	UserID         string
	TelegramID     int64
	SubscriptionID *string
	ReturnURL      string
	WebhookURL     string
	Metadata       map[string]interface{}
}

// PaymentResponse is returned synchronously from CreatePayment. ProviderID is
// generated by the adapter, not the provider: QR-style rails have no
// synchronous external id to key on.
type PaymentResponse struct {
	ProviderID string
	Status     model.PaymentStatus // always pending at creation
	PaymentURL string
	QRPayload  string // raw QR content (SBP)
	QRImage    []byte // rendered PNG, when the rail produces one
	Metadata   map[string]interface{}
}

// PaymentStatusData is the normalized status shape produced by both the
// polling and the webhook paths.
type PaymentStatusData struct {
	ExternalID string
	Status     model.PaymentStatus
	Amount     *decimal.Decimal
	Currency   string
	PaidAt     *time.Time
	Metadata   map[string]interface{}
}

// PaymentProvider is the capability contract every rail implements.
type PaymentProvider interface {
	Method() model.PaymentMethod
	Name() string
	// Enabled reports whether the adapter has usable credentials.
	Enabled() bool

	SupportedCurrencies() []string
	MinAmount(currency string) decimal.Decimal
	MaxAmount(currency string) decimal.Decimal

	CreatePayment(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error)
	// CheckStatus is best-effort: rails without a query API return pending
	// rather than erroring, status arrives via the webhook path.
	CheckStatus(ctx context.Context, providerID string) (*PaymentStatusData, error)
	// CancelPayment returns false (not an error) for rails that cannot recall
	// an issued payment artifact; cancellation is advisory.
	CancelPayment(ctx context.Context, providerID string) (bool, error)
	// ParseWebhook extracts our provider-local payment id and the normalized
	// status from a provider payload. Unknown fields are tolerated; a
	// validation error is raised only when identifying fields are missing.
	ParseWebhook(payload map[string]interface{}) (providerID string, data *PaymentStatusData, err error)
	// VerifySignature authenticates a raw webhook body. Providers with a
	// public endpoint fail closed when no secret is configured; providers
	// whose security model is delegated to the transport return true.
	VerifySignature(raw []byte, signature string) bool
}

// ProviderRegistry is the manager surface the use cases depend on.
type ProviderRegistry interface {
	AvailableMethods() []model.PaymentMethod
	MethodAvailable(method model.PaymentMethod) bool
	CreatePayment(ctx context.Context, method model.PaymentMethod, req *PaymentRequest) (*PaymentResponse, error)
	CheckStatus(ctx context.Context, method model.PaymentMethod, providerID string) (*PaymentStatusData, error)
	CancelPayment(ctx context.Context, method model.PaymentMethod, providerID string) (bool, error)
	ParseWebhook(method model.PaymentMethod, payload map[string]interface{}) (string, *PaymentStatusData, error)
	// VerifySignature never errors: a boundary security check returns false
	// for unknown methods instead of throwing.
	VerifySignature(method model.PaymentMethod, raw []byte, signature string) bool
}
