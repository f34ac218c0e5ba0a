package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/metrics"
	red "github.com/suntrackspb/paid-subscribe-bot/internal/infra/redis"
	"github.com/suntrackspb/paid-subscribe-bot/internal/usecase"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// ===== Webhooks =====

// handleYooMoneyWebhook receives wallet notifications. The body is
// form-encoded and the sha1_hash field doubles as the signature.
func (s *Server) handleYooMoneyWebhook(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	provider := string(model.PaymentMethodYooMoney)
	defer func() {
		metrics.WebhookDuration.WithLabelValues(provider).Observe(time.Since(started).Seconds())
	}()

	if !s.allowWebhook(r, provider) {
		metrics.WebhookRequests.WithLabelValues(provider, "fail", "rate_limited").Inc()
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookRequests.WithLabelValues(provider, "fail", "bad_payload").Inc()
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		metrics.WebhookRequests.WithLabelValues(provider, "fail", "bad_payload").Inc()
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	payload := make(map[string]interface{}, len(form))
	for k := range form {
		payload[k] = form.Get(k)
	}
	signature := form.Get("sha1_hash")

	p, err := s.paymentUC.HandleWebhook(r.Context(), model.PaymentMethodYooMoney, raw, signature, payload)
	if err != nil {
		status, reason := webhookError(err)
		metrics.WebhookRequests.WithLabelValues(provider, "fail", reason).Inc()
		s.log.Warn().Err(err).Str("provider", provider).Str("reason", reason).Msg("webhook rejected")
		http.Error(w, http.StatusText(status), status)
		return
	}

	metrics.WebhookRequests.WithLabelValues(provider, "ok", "").Inc()
	s.log.Info().Str("provider", provider).Str("payment_id", p.ID).Str("status", string(p.Status)).Msg("webhook applied")
	w.WriteHeader(http.StatusOK)
}

// handleSBPWebhook receives bank callbacks: JSON body, HMAC signature in the
// X-Signature header.
func (s *Server) handleSBPWebhook(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	provider := string(model.PaymentMethodSBP)
	defer func() {
		metrics.WebhookDuration.WithLabelValues(provider).Observe(time.Since(started).Seconds())
	}()

	if !s.allowWebhook(r, provider) {
		metrics.WebhookRequests.WithLabelValues(provider, "fail", "rate_limited").Inc()
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookRequests.WithLabelValues(provider, "fail", "bad_payload").Inc()
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		metrics.WebhookRequests.WithLabelValues(provider, "fail", "bad_payload").Inc()
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	signature := r.Header.Get("X-Signature")

	p, err := s.paymentUC.HandleWebhook(r.Context(), model.PaymentMethodSBP, raw, signature, payload)
	if err != nil {
		status, reason := webhookError(err)
		metrics.WebhookRequests.WithLabelValues(provider, "fail", reason).Inc()
		s.log.Warn().Err(err).Str("provider", provider).Str("reason", reason).Msg("webhook rejected")
		http.Error(w, http.StatusText(status), status)
		return
	}

	metrics.WebhookRequests.WithLabelValues(provider, "ok", "").Inc()
	s.log.Info().Str("provider", provider).Str("payment_id", p.ID).Str("status", string(p.Status)).Msg("webhook applied")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) allowWebhook(r *http.Request, provider string) bool {
	if s.rateLimiter == nil || s.rateLimit <= 0 {
		return true
	}
	allowed, err := s.rateLimiter.Allow(r.Context(), red.WebhookKey(provider, r.RemoteAddr), s.rateLimit, s.rateWindow)
	if err != nil {
		// Redis being down must not drop money notifications.
		s.log.Warn().Err(err).Msg("webhook rate limiter unavailable")
		return true
	}
	return allowed
}

// webhookError maps processing failures onto HTTP statuses and the bounded
// metric reason set.
func webhookError(err error) (int, string) {
	var pe *adapter.ProviderError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case adapter.ErrKindAuth:
			return http.StatusUnauthorized, "bad_signature"
		case adapter.ErrKindValidation:
			return http.StatusBadRequest, "bad_payload"
		}
	}
	switch {
	case errors.Is(err, domain.ErrWebhookLocked):
		return http.StatusConflict, "locked"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "unknown"
	default:
		return http.StatusInternalServerError, "unknown"
	}
}

// ===== Operator API =====

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.IncAdminRequest("login", "error")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !s.auth.CheckKey(req.Key) {
		metrics.IncAdminRequest("login", "denied")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		metrics.IncAdminRequest("login", "error")
		http.Error(w, "Failed to mint token", http.StatusInternalServerError)
		return
	}
	metrics.IncAdminRequest("login", "ok")
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type promoCreateRequest struct {
	Code           string  `json:"code"`
	Type           string  `json:"type"` // fixed_amount|percentage
	Value          string  `json:"value"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	ValidFrom      *string `json:"valid_from"` // RFC 3339
	ValidUntil     *string `json:"valid_until"`
	MaxUses        *int    `json:"max_uses"`
	MaxUsesPerUser int     `json:"max_uses_per_user"`
	MinAmount      *string `json:"min_amount"`
}

func (s *Server) handlePromoCreate(w http.ResponseWriter, r *http.Request) {
	var req promoCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.IncAdminRequest("promo_create", "error")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	in, err := req.toInput()
	if err != nil {
		metrics.IncAdminRequest("promo_create", "error")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	code, err := s.promoUC.Create(r.Context(), in)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			metrics.IncAdminRequest("promo_create", "error")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, domain.ErrAlreadyExists) {
			metrics.IncAdminRequest("promo_create", "error")
			http.Error(w, "Code already exists", http.StatusConflict)
			return
		}
		metrics.IncAdminRequest("promo_create", "error")
		http.Error(w, "Failed to create promo code", http.StatusInternalServerError)
		return
	}
	metrics.IncAdminRequest("promo_create", "ok")
	writeJSON(w, http.StatusCreated, code)
}

func (req *promoCreateRequest) toInput() (usecase.CreatePromoInput, error) {
	in := usecase.CreatePromoInput{
		Code:           req.Code,
		Type:           model.PromoType(req.Type),
		Title:          req.Title,
		Description:    req.Description,
		MaxUses:        req.MaxUses,
		MaxUsesPerUser: req.MaxUsesPerUser,
	}

	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		return in, errors.New("value must be a decimal string")
	}
	in.Value = value

	if req.MinAmount != nil {
		min, err := decimal.NewFromString(*req.MinAmount)
		if err != nil {
			return in, errors.New("min_amount must be a decimal string")
		}
		in.MinAmount = &min
	}
	if req.ValidFrom != nil {
		t, err := time.Parse(time.RFC3339, *req.ValidFrom)
		if err != nil {
			return in, errors.New("valid_from must be RFC 3339")
		}
		in.ValidFrom = &t
	}
	if req.ValidUntil != nil {
		t, err := time.Parse(time.RFC3339, *req.ValidUntil)
		if err != nil {
			return in, errors.New("valid_until must be RFC 3339")
		}
		in.ValidUntil = &t
	}
	return in, nil
}

func (s *Server) handlePromoStats(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	stats, err := s.promoUC.Stats(r.Context(), code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncAdminRequest("promo_stats", "error")
			http.NotFound(w, r)
			return
		}
		metrics.IncAdminRequest("promo_stats", "error")
		http.Error(w, "Failed to get promo stats", http.StatusInternalServerError)
		return
	}
	metrics.IncAdminRequest("promo_stats", "ok")
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePromoDeactivate(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	done, err := s.promoUC.Deactivate(r.Context(), code)
	if err != nil {
		metrics.IncAdminRequest("promo_deactivate", "error")
		http.Error(w, "Failed to deactivate promo code", http.StatusInternalServerError)
		return
	}
	if !done {
		metrics.IncAdminRequest("promo_deactivate", "error")
		http.NotFound(w, r)
		return
	}
	metrics.IncAdminRequest("promo_deactivate", "ok")
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	metrics.IncAdminRequest("methods", "ok")
	writeJSON(w, http.StatusOK, struct {
		Data interface{} `json:"data"`
	}{Data: s.methods.MethodsInfo()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	users, activeSubs, err := s.statsUC.Totals(r.Context())
	if err != nil {
		metrics.IncAdminRequest("stats", "error")
		http.Error(w, "Failed to get totals", http.StatusInternalServerError)
		return
	}
	week, month, year, err := s.statsUC.Revenue(r.Context())
	if err != nil {
		metrics.IncAdminRequest("stats", "error")
		http.Error(w, "Failed to get revenue", http.StatusInternalServerError)
		return
	}

	response := struct {
		TotalUsers          int `json:"total_users"`
		ActiveSubscriptions int `json:"active_subscriptions"`
		Revenue             struct {
			Week  int64 `json:"week"`
			Month int64 `json:"month"`
			Year  int64 `json:"year"`
		} `json:"revenue_rub"`
	}{
		TotalUsers:          users,
		ActiveSubscriptions: activeSubs,
	}
	response.Revenue.Week = week
	response.Revenue.Month = month
	response.Revenue.Year = year

	metrics.IncAdminRequest("stats", "ok")
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
