package payment

import (
	"context"
	"encoding/json"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.PaymentProvider = (*StarsProvider)(nil)

// StarsConfig configures the in-app currency rail. Rate is rubles per star.
type StarsConfig struct {
	BotToken string `yaml:"bot_token"`
	Rate     int64  `yaml:"rate"`
}

// StarsProvider charges Telegram Stars through bot invoices. Creation only
// reserves a local payment id and the stars amount; the invoice itself is
// sent by the bot layer, and the outcome arrives as a successful_payment
// update routed through the webhook path.
type StarsProvider struct {
	cfg StarsConfig
	log *zerolog.Logger
}

func NewStarsProvider(cfg StarsConfig, logger *zerolog.Logger) *StarsProvider {
	l := logger.With().Str("component", "StarsProvider").Logger()
	if cfg.Rate <= 0 {
		cfg.Rate = 100
	}
	return &StarsProvider{cfg: cfg, log: &l}
}

func (p *StarsProvider) Method() model.PaymentMethod { return model.PaymentMethodStars }
func (p *StarsProvider) Name() string                { return "Telegram Stars" }
func (p *StarsProvider) Enabled() bool               { return p.cfg.BotToken != "" }

func (p *StarsProvider) SupportedCurrencies() []string { return []string{"RUB", "XTR"} }

func (p *StarsProvider) MinAmount(currency string) decimal.Decimal {
	if currency == "XTR" {
		return decimal.NewFromInt(1)
	}
	// one star's worth of rubles
	return decimal.NewFromInt(p.cfg.Rate)
}

func (p *StarsProvider) MaxAmount(currency string) decimal.Decimal {
	if currency == "XTR" {
		return decimal.NewFromInt(10000)
	}
	return decimal.NewFromInt(10000 * p.cfg.Rate)
}

// RubToStars converts a ruble amount to whole stars, never below one.
func (p *StarsProvider) RubToStars(amount decimal.Decimal) int64 {
	stars := amount.Div(decimal.NewFromInt(p.cfg.Rate)).IntPart()
	if stars < 1 {
		stars = 1
	}
	return stars
}

// StarsToRub converts back for bookkeeping in the payment record.
func (p *StarsProvider) StarsToRub(stars int64) decimal.Decimal {
	return decimal.NewFromInt(stars * p.cfg.Rate)
}

func (p *StarsProvider) CreatePayment(ctx context.Context, req *adapter.PaymentRequest) (*adapter.PaymentResponse, error) {
	if !p.Enabled() {
		return nil, adapter.NewProviderError(adapter.ErrKindAuth, "telegram bot token not configured")
	}
	if err := validateAmount(p, req); err != nil {
		return nil, err
	}

	providerID := ulid.Make().String()
	stars := req.Amount.IntPart()
	if req.Currency != "XTR" {
		stars = p.RubToStars(req.Amount)
	}

	p.log.Info().
		Str("provider_id", providerID).
		Str("amount", req.Amount.StringFixed(2)).
		Int64("stars", stars).
		Str("user_id", req.UserID).
		Msg("stars payment created")

	return &adapter.PaymentResponse{
		ProviderID: providerID,
		Status:     model.PaymentStatusPending,
		Metadata: map[string]interface{}{
			"stars_amount": stars,
			"description":  req.Description,
			"telegram_id":  req.TelegramID,
		},
	}, nil
}

// CheckStatus always reports pending: stars outcomes are only known from
// successful_payment updates delivered through the bot.
func (p *StarsProvider) CheckStatus(ctx context.Context, providerID string) (*adapter.PaymentStatusData, error) {
	return &adapter.PaymentStatusData{
		ExternalID: providerID,
		Status:     model.PaymentStatusPending,
	}, nil
}

// CancelPayment reports false: a sent invoice cannot be withdrawn.
func (p *StarsProvider) CancelPayment(ctx context.Context, providerID string) (bool, error) {
	p.log.Info().Str("provider_id", providerID).Msg("stars cancel requested, not supported")
	return false, nil
}

// ParseWebhook consumes a successful_payment payload. The local payment id
// travels in the invoice payload JSON; the charge id is the external id.
func (p *StarsProvider) ParseWebhook(payload map[string]interface{}) (string, *adapter.PaymentStatusData, error) {
	chargeID, _ := payload["telegram_payment_charge_id"].(string)

	providerID := ""
	if raw, ok := payload["invoice_payload"].(string); ok && raw != "" {
		var inner struct {
			PaymentID string `json:"payment_id"`
		}
		if err := json.Unmarshal([]byte(raw), &inner); err == nil {
			providerID = inner.PaymentID
		}
	}
	if providerID == "" {
		providerID = chargeID
	}
	if providerID == "" {
		return "", nil, adapter.NewProviderError(adapter.ErrKindValidation, "cannot identify payment in successful_payment payload")
	}

	data := &adapter.PaymentStatusData{
		ExternalID: chargeID,
		Status:     model.PaymentStatusCompleted,
		Currency:   "RUB",
		Metadata: map[string]interface{}{
			"telegram_payment_charge_id": chargeID,
		},
	}
	if total, ok := toInt64(payload["total_amount"]); ok {
		currency, _ := payload["currency"].(string)
		if currency == "XTR" {
			rub := p.StarsToRub(total)
			data.Amount = &rub
			data.Metadata["stars_amount"] = total
		} else {
			amt := decimal.New(total, -2)
			data.Amount = &amt
			data.Currency = currency
		}
	}
	return providerID, data, nil
}

// VerifySignature always succeeds: updates arrive over the authenticated
// Bot API long-poll, there is no public endpoint to protect.
func (p *StarsProvider) VerifySignature(raw []byte, signature string) bool {
	return true
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
