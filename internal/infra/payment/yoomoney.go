package payment

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
)

const yooMoneyQuickpayURL = "https://yoomoney.ru/quickpay/confirm.xml"

// Compile-time check
var _ adapter.PaymentProvider = (*YooMoneyProvider)(nil)

// YooMoneyConfig carries wallet credentials. Receiver is the wallet number,
// Secret the notification secret from the wallet settings page.
type YooMoneyConfig struct {
	Receiver string `yaml:"receiver"`
	Secret   string `yaml:"secret"`
}

// YooMoneyProvider sells through YooMoney Quickpay forms. Payment outcome is
// delivered exclusively by wallet notifications; polling always reports
// pending.
type YooMoneyProvider struct {
	cfg YooMoneyConfig
	log *zerolog.Logger
}

func NewYooMoneyProvider(cfg YooMoneyConfig, logger *zerolog.Logger) *YooMoneyProvider {
	l := logger.With().Str("component", "YooMoneyProvider").Logger()
	return &YooMoneyProvider{cfg: cfg, log: &l}
}

func (p *YooMoneyProvider) Method() model.PaymentMethod { return model.PaymentMethodYooMoney }
func (p *YooMoneyProvider) Name() string                { return "YooMoney" }

func (p *YooMoneyProvider) Enabled() bool {
	return p.cfg.Receiver != "" && p.cfg.Secret != ""
}

func (p *YooMoneyProvider) SupportedCurrencies() []string { return []string{"RUB"} }

func (p *YooMoneyProvider) MinAmount(string) decimal.Decimal {
	return decimal.RequireFromString("1.00")
}

// Per-operation wallet limit.
func (p *YooMoneyProvider) MaxAmount(string) decimal.Decimal {
	return decimal.RequireFromString("500000.00")
}

func (p *YooMoneyProvider) CreatePayment(ctx context.Context, req *adapter.PaymentRequest) (*adapter.PaymentResponse, error) {
	if !p.Enabled() {
		return nil, adapter.NewProviderError(adapter.ErrKindAuth, "yoomoney receiver/secret not configured")
	}
	if err := validateAmount(p, req); err != nil {
		return nil, err
	}

	providerID := ulid.Make().String()
	desc := req.Description
	if desc == "" {
		desc = "Channel subscription"
	}

	q := url.Values{}
	q.Set("receiver", p.cfg.Receiver)
	q.Set("quickpay-form", "shop")
	q.Set("targets", desc)
	q.Set("paymentType", "SB")
	q.Set("sum", req.Amount.StringFixed(2))
	q.Set("label", providerID)
	if req.ReturnURL != "" {
		q.Set("successURL", req.ReturnURL)
	}
	payURL := yooMoneyQuickpayURL + "?" + q.Encode()

	p.log.Info().
		Str("provider_id", providerID).
		Str("amount", req.Amount.StringFixed(2)).
		Str("user_id", req.UserID).
		Msg("yoomoney payment created")

	return &adapter.PaymentResponse{
		ProviderID: providerID,
		Status:     model.PaymentStatusPending,
		PaymentURL: payURL,
		Metadata: map[string]interface{}{
			"receiver": p.cfg.Receiver,
			"label":    providerID,
		},
	}, nil
}

// CheckStatus always returns pending: the wallet exposes no query API for
// quickpay labels, confirmation arrives via the notification webhook.
func (p *YooMoneyProvider) CheckStatus(ctx context.Context, providerID string) (*adapter.PaymentStatusData, error) {
	return &adapter.PaymentStatusData{
		ExternalID: providerID,
		Status:     model.PaymentStatusPending,
	}, nil
}

// CancelPayment reports false: an issued quickpay form cannot be recalled.
func (p *YooMoneyProvider) CancelPayment(ctx context.Context, providerID string) (bool, error) {
	p.log.Info().Str("provider_id", providerID).Msg("yoomoney cancel requested, not supported")
	return false, nil
}

func (p *YooMoneyProvider) ParseWebhook(payload map[string]interface{}) (string, *adapter.PaymentStatusData, error) {
	label, _ := payload["label"].(string)
	if label == "" {
		return "", nil, adapter.NewProviderError(adapter.ErrKindValidation, "missing label in yoomoney notification")
	}

	operationID, _ := payload["operation_id"].(string)
	externalID := operationID
	if externalID == "" {
		externalID = label
	}

	data := &adapter.PaymentStatusData{
		ExternalID: externalID,
		Status:     model.PaymentStatusCompleted,
		Currency:   "RUB",
		Metadata: map[string]interface{}{
			"operation_id": operationID,
			"sender":       payload["sender"],
		},
	}
	if s, ok := payload["amount"].(string); ok && s != "" {
		if amt, err := decimal.NewFromString(s); err == nil {
			data.Amount = &amt
		}
	}
	if cur, ok := payload["currency"].(string); ok && cur != "" && cur != "643" {
		data.Currency = cur
	}
	if ts, ok := payload["datetime"].(string); ok && ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			data.PaidAt = &t
		}
	}
	return label, data, nil
}

// VerifySignature checks the sha1_hash of a wallet notification. The
// endpoint is public, so a missing secret fails closed.
func (p *YooMoneyProvider) VerifySignature(raw []byte, signature string) bool {
	if p.cfg.Secret == "" {
		p.log.Warn().Msg("yoomoney secret not configured, rejecting notification")
		return false
	}
	if signature == "" {
		return false
	}

	params, err := url.ParseQuery(string(raw))
	if err != nil {
		return false
	}

	// Per YooMoney docs the hash string is the ordered notification fields
	// with the secret spliced in before the label.
	parts := []string{
		params.Get("notification_type"),
		params.Get("operation_id"),
		params.Get("amount"),
		params.Get("currency"),
		params.Get("datetime"),
		params.Get("sender"),
		params.Get("codepro"),
		p.cfg.Secret,
		params.Get("label"),
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "&")))
	expected := hex.EncodeToString(sum[:])

	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) == 1
}

// validateAmount enforces the adapter's own bounds and currency support.
// The manager repeats these checks before delegation; both layers validate.
func validateAmount(p adapter.PaymentProvider, req *adapter.PaymentRequest) error {
	supported := false
	for _, c := range p.SupportedCurrencies() {
		if c == req.Currency {
			supported = true
			break
		}
	}
	if !supported {
		return &adapter.ProviderError{
			Kind:    adapter.ErrKindValidation,
			Message: fmt.Sprintf("currency %s is not supported by %s", req.Currency, p.Name()),
		}
	}
	if min := p.MinAmount(req.Currency); req.Amount.LessThan(min) {
		return &adapter.ProviderError{
			Kind:    adapter.ErrKindValidation,
			Message: fmt.Sprintf("minimum amount for %s is %s %s", p.Name(), min.StringFixed(2), req.Currency),
			Details: map[string]interface{}{"min_amount": min.StringFixed(2)},
		}
	}
	if max := p.MaxAmount(req.Currency); req.Amount.GreaterThan(max) {
		return &adapter.ProviderError{
			Kind:    adapter.ErrKindValidation,
			Message: fmt.Sprintf("maximum amount for %s is %s %s", p.Name(), max.StringFixed(2), req.Currency),
			Details: map[string]interface{}{"max_amount": max.StringFixed(2)},
		}
	}
	return nil
}
