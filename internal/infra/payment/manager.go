package payment

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ProviderRegistry = (*Manager)(nil)

// Manager holds at most one provider per payment method and fronts them with
// one generic interface. Construction is tolerant: unconfigured providers are
// simply left out, and a manager with zero providers is valid.
type Manager struct {
	providers map[model.PaymentMethod]adapter.PaymentProvider
	log       *zerolog.Logger
}

func NewManager(logger *zerolog.Logger, providers ...adapter.PaymentProvider) *Manager {
	l := logger.With().Str("component", "PaymentManager").Logger()
	m := &Manager{
		providers: make(map[model.PaymentMethod]adapter.PaymentProvider, len(providers)),
		log:       &l,
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		if !p.Enabled() {
			m.log.Warn().Str("provider", p.Name()).Msg("provider not configured, skipping registration")
			continue
		}
		m.providers[p.Method()] = p
		m.log.Info().Str("provider", p.Name()).Str("method", string(p.Method())).Msg("provider registered")
	}
	m.log.Info().Int("count", len(m.providers)).Msg("payment manager initialized")
	return m
}

func (m *Manager) AvailableMethods() []model.PaymentMethod {
	methods := make([]model.PaymentMethod, 0, len(m.providers))
	for method, p := range m.providers {
		if p.Enabled() {
			methods = append(methods, method)
		}
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}

func (m *Manager) MethodAvailable(method model.PaymentMethod) bool {
	p, ok := m.providers[method]
	return ok && p.Enabled()
}

func (m *Manager) provider(method model.PaymentMethod) (adapter.PaymentProvider, error) {
	p, ok := m.providers[method]
	if !ok {
		return nil, &adapter.ProviderError{
			Kind:    adapter.ErrKindProvider,
			Message: fmt.Sprintf("payment method %s is not available", method),
		}
	}
	return p, nil
}

// CreatePayment validates bounds and currency before delegating, repeating
// the checks the adapter performs itself.
func (m *Manager) CreatePayment(ctx context.Context, method model.PaymentMethod, req *adapter.PaymentRequest) (*adapter.PaymentResponse, error) {
	p, err := m.provider(method)
	if err != nil {
		return nil, err
	}
	if !p.Enabled() {
		return nil, &adapter.ProviderError{
			Kind:    adapter.ErrKindProvider,
			Message: fmt.Sprintf("provider %s is disabled", p.Name()),
		}
	}
	if err := validateAmount(p, req); err != nil {
		return nil, err
	}

	m.log.Info().
		Str("method", string(method)).
		Str("amount", req.Amount.StringFixed(2)).
		Str("currency", req.Currency).
		Str("user_id", req.UserID).
		Msg("creating payment")

	return p.CreatePayment(ctx, req)
}

func (m *Manager) CheckStatus(ctx context.Context, method model.PaymentMethod, providerID string) (*adapter.PaymentStatusData, error) {
	p, err := m.provider(method)
	if err != nil {
		return nil, err
	}
	return p.CheckStatus(ctx, providerID)
}

func (m *Manager) CancelPayment(ctx context.Context, method model.PaymentMethod, providerID string) (bool, error) {
	p, err := m.provider(method)
	if err != nil {
		return false, err
	}
	return p.CancelPayment(ctx, providerID)
}

func (m *Manager) ParseWebhook(method model.PaymentMethod, payload map[string]interface{}) (string, *adapter.PaymentStatusData, error) {
	p, err := m.provider(method)
	if err != nil {
		return "", nil, err
	}
	return p.ParseWebhook(payload)
}

// VerifySignature returns false for unknown methods instead of erroring:
// a boundary security check must never throw.
func (m *Manager) VerifySignature(method model.PaymentMethod, raw []byte, signature string) bool {
	p, ok := m.providers[method]
	if !ok {
		return false
	}
	return p.VerifySignature(raw, signature)
}

// MethodInfo describes one registered method for the UI layer.
type MethodInfo struct {
	Method     model.PaymentMethod `json:"method"`
	Name       string              `json:"name"`
	Enabled    bool                `json:"enabled"`
	Currencies []string            `json:"currencies"`
	MinAmount  map[string]string   `json:"min_amount"`
	MaxAmount  map[string]string   `json:"max_amount"`
}

func (m *Manager) MethodsInfo() []MethodInfo {
	infos := make([]MethodInfo, 0, len(m.providers))
	for _, method := range m.AvailableMethods() {
		p := m.providers[method]
		info := MethodInfo{
			Method:     method,
			Name:       p.Name(),
			Enabled:    p.Enabled(),
			Currencies: p.SupportedCurrencies(),
			MinAmount:  make(map[string]string),
			MaxAmount:  make(map[string]string),
		}
		for _, c := range p.SupportedCurrencies() {
			info.MinAmount[c] = formatBound(p.MinAmount(c))
			info.MaxAmount[c] = formatBound(p.MaxAmount(c))
		}
		infos = append(infos, info)
	}
	return infos
}

func formatBound(d decimal.Decimal) string { return d.StringFixed(2) }
