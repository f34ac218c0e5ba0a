package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/yeqown/go-qrcode"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.PaymentProvider = (*SBPProvider)(nil)

// SBPConfig configures the fast-payments QR rail. Either MerchantID (dynamic
// merchant QR) or Phone (static person-to-person QR) is enough to enable the
// provider; APIURL and Secret are optional and unlock status polling and
// webhook verification with the acquiring bank.
type SBPConfig struct {
	MerchantID string `yaml:"merchant_id"`
	BankID     string `yaml:"bank_id"`
	APIURL     string `yaml:"api_url"`
	Secret     string `yaml:"secret"`
	Phone      string `yaml:"phone"`
	QRWidth    uint8  `yaml:"qr_width"`
}

// SBPProvider issues payment QR codes. An issued QR cannot be recalled, and
// without a bank API the payment outcome is only known from the bank's
// webhook.
type SBPProvider struct {
	cfg    SBPConfig
	client *http.Client
	log    *zerolog.Logger
}

func NewSBPProvider(cfg SBPConfig, logger *zerolog.Logger) *SBPProvider {
	l := logger.With().Str("component", "SBPProvider").Logger()
	if cfg.QRWidth == 0 {
		cfg.QRWidth = 7
	}
	return &SBPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    &l,
	}
}

func (p *SBPProvider) Method() model.PaymentMethod { return model.PaymentMethodSBP }
func (p *SBPProvider) Name() string                { return "SBP" }

func (p *SBPProvider) Enabled() bool {
	return p.cfg.MerchantID != "" || p.cfg.Phone != ""
}

func (p *SBPProvider) SupportedCurrencies() []string { return []string{"RUB"} }

func (p *SBPProvider) MinAmount(string) decimal.Decimal {
	return decimal.RequireFromString("1.00")
}

// Per-operation SBP limit.
func (p *SBPProvider) MaxAmount(string) decimal.Decimal {
	return decimal.RequireFromString("1000000.00")
}

func (p *SBPProvider) qrPayload(providerID string, amount decimal.Decimal, description string) string {
	if p.cfg.MerchantID != "" {
		return fmt.Sprintf("https://qr.nspk.ru/%s/%s?amount=%s&currency=RUB&order=%s&desc=%s",
			p.cfg.BankID, p.cfg.MerchantID, amount.StringFixed(2), providerID, url.QueryEscape(description))
	}
	return fmt.Sprintf("https://qr.nspk.ru/AD10006M/%s?amount=%s&currency=RUB&desc=%s",
		p.cfg.Phone, amount.StringFixed(2), url.QueryEscape(description))
}

func (p *SBPProvider) renderQR(payload string) ([]byte, error) {
	qrc, err := qrcode.New(payload,
		qrcode.WithQRWidth(p.cfg.QRWidth),
		qrcode.WithBuiltinImageEncoder(qrcode.PNG_FORMAT),
	)
	if err != nil {
		return nil, adapter.WrapProviderError(adapter.ErrKindProvider, "failed to build QR code", err)
	}
	var buf bytes.Buffer
	if err := qrc.SaveTo(&buf); err != nil {
		return nil, adapter.WrapProviderError(adapter.ErrKindProvider, "failed to encode QR code", err)
	}
	return buf.Bytes(), nil
}

func (p *SBPProvider) CreatePayment(ctx context.Context, req *adapter.PaymentRequest) (*adapter.PaymentResponse, error) {
	if !p.Enabled() {
		return nil, adapter.NewProviderError(adapter.ErrKindAuth, "sbp merchant_id or phone not configured")
	}
	if err := validateAmount(p, req); err != nil {
		return nil, err
	}

	providerID := ulid.Make().String()
	desc := req.Description
	if desc == "" {
		desc = "Channel subscription"
	}

	payload := p.qrPayload(providerID, req.Amount, desc)
	png, err := p.renderQR(payload)
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("provider_id", providerID).
		Str("amount", req.Amount.StringFixed(2)).
		Str("user_id", req.UserID).
		Msg("sbp payment created")

	return &adapter.PaymentResponse{
		ProviderID: providerID,
		Status:     model.PaymentStatusPending,
		PaymentURL: payload,
		QRPayload:  payload,
		QRImage:    png,
		Metadata: map[string]interface{}{
			"qr_payload":  payload,
			"merchant_id": p.cfg.MerchantID,
		},
	}, nil
}

var sbpStatusMap = map[string]model.PaymentStatus{
	"completed": model.PaymentStatusCompleted,
	"success":   model.PaymentStatusCompleted,
	"paid":      model.PaymentStatusCompleted,
	"failed":    model.PaymentStatusFailed,
	"error":     model.PaymentStatusFailed,
	"cancelled": model.PaymentStatusCancelled,
	"pending":   model.PaymentStatusPending,
}

// CheckStatus polls the acquiring bank when an API is configured, otherwise
// the QR rail has no query surface and the status stays pending. Transport
// timeouts also degrade to pending so the poll loop keeps making progress.
func (p *SBPProvider) CheckStatus(ctx context.Context, providerID string) (*adapter.PaymentStatusData, error) {
	pending := &adapter.PaymentStatusData{
		ExternalID: providerID,
		Status:     model.PaymentStatusPending,
	}
	if p.cfg.APIURL == "" || p.cfg.MerchantID == "" {
		return pending, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(p.cfg.APIURL, "/")+"/payments/"+providerID, nil)
	if err != nil {
		return nil, adapter.WrapProviderError(adapter.ErrKindProvider, "failed to build status request", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Secret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			p.log.Warn().Str("provider_id", providerID).Msg("sbp status poll timed out, treating as pending")
			return pending, nil
		}
		return nil, adapter.WrapProviderError(adapter.ErrKindNetwork, "bank API unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return pending, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, adapter.NewProviderError(adapter.ErrKindAuth, "bank API rejected credentials")
	case resp.StatusCode != http.StatusOK:
		return nil, &adapter.ProviderError{
			Kind:    adapter.ErrKindNetwork,
			Message: fmt.Sprintf("bank API returned status %d", resp.StatusCode),
			Code:    fmt.Sprint(resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, adapter.WrapProviderError(adapter.ErrKindNetwork, "failed to read bank response", err)
	}
	var payload struct {
		Status string  `json:"status"`
		Amount string  `json:"amount"`
		PaidAt *string `json:"paid_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, adapter.WrapProviderError(adapter.ErrKindProvider, "unexpected bank response body", err)
	}

	status, ok := sbpStatusMap[strings.ToLower(payload.Status)]
	if !ok {
		status = model.PaymentStatusPending
	}
	data := &adapter.PaymentStatusData{
		ExternalID: providerID,
		Status:     status,
		Currency:   "RUB",
	}
	if payload.Amount != "" {
		if amt, err := decimal.NewFromString(payload.Amount); err == nil {
			data.Amount = &amt
		}
	}
	if payload.PaidAt != nil {
		if t, err := time.Parse(time.RFC3339, *payload.PaidAt); err == nil {
			data.PaidAt = &t
		}
	}
	return data, nil
}

// CancelPayment reports false: an issued QR code cannot be recalled.
func (p *SBPProvider) CancelPayment(ctx context.Context, providerID string) (bool, error) {
	p.log.Info().Str("provider_id", providerID).Msg("sbp cancel requested, not supported")
	return false, nil
}

func (p *SBPProvider) ParseWebhook(payload map[string]interface{}) (string, *adapter.PaymentStatusData, error) {
	providerID, _ := payload["order_id"].(string)
	if providerID == "" {
		providerID, _ = payload["payment_id"].(string)
	}
	if providerID == "" {
		return "", nil, adapter.NewProviderError(adapter.ErrKindValidation, "missing order_id in sbp notification")
	}

	rawStatus, _ := payload["status"].(string)
	if rawStatus == "" {
		rawStatus = "completed"
	}
	status, ok := sbpStatusMap[strings.ToLower(rawStatus)]
	if !ok {
		status = model.PaymentStatusPending
	}

	transactionID, _ := payload["transaction_id"].(string)
	externalID := transactionID
	if externalID == "" {
		externalID = providerID
	}

	data := &adapter.PaymentStatusData{
		ExternalID: externalID,
		Status:     status,
		Currency:   "RUB",
		Metadata: map[string]interface{}{
			"transaction_id": transactionID,
			"bank_status":    rawStatus,
		},
	}
	switch amt := payload["amount"].(type) {
	case string:
		if d, err := decimal.NewFromString(amt); err == nil {
			data.Amount = &d
		}
	case float64:
		d := decimal.NewFromFloat(amt)
		data.Amount = &d
	}
	if ts, ok := payload["timestamp"].(string); ok && ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			data.PaidAt = &t
		}
	}
	return providerID, data, nil
}

// VerifySignature checks the bank's HMAC-SHA256 over the raw body. The
// endpoint is public, so a missing secret fails closed.
func (p *SBPProvider) VerifySignature(raw []byte, signature string) bool {
	if p.cfg.Secret == "" {
		p.log.Warn().Msg("sbp secret not configured, rejecting notification")
		return false
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(p.cfg.Secret))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
