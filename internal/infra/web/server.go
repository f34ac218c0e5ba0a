package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/suntrackspb/paid-subscribe-bot/internal/config"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/payment"
	red "github.com/suntrackspb/paid-subscribe-bot/internal/infra/redis"
	"github.com/suntrackspb/paid-subscribe-bot/internal/usecase"
)

// MethodInfoSource is the slice of the payment manager the admin surface
// reads. *payment.Manager satisfies it.
type MethodInfoSource interface {
	MethodsInfo() []payment.MethodInfo
}

// Server carries the public webhook endpoints and the operator API.
type Server struct {
	paymentUC usecase.PaymentUseCase
	promoUC   usecase.PromoUseCase
	statsUC   usecase.StatsUseCase
	methods   MethodInfoSource

	auth        *AuthManager
	rateLimiter *red.RateLimiter
	rateLimit   int
	rateWindow  time.Duration

	httpSrv *http.Server
	log     *zerolog.Logger
}

func NewServer(
	cfg *config.WebConfig,
	sec *config.SecurityConfig,
	paymentUC usecase.PaymentUseCase,
	promoUC usecase.PromoUseCase,
	statsUC usecase.StatsUseCase,
	methods MethodInfoSource,
	rateLimiter *red.RateLimiter,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	s := &Server{
		paymentUC:   paymentUC,
		promoUC:     promoUC,
		statsUC:     statsUC,
		methods:     methods,
		auth:        NewAuthManager(sec.JWTSecret, true, sec.TokenTTL),
		rateLimiter: rateLimiter,
		rateLimit:   cfg.RateLimit,
		rateWindow:  cfg.RateWindow,
		log:         &l,
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/yoomoney", s.handleYooMoneyWebhook)
		r.Post("/sbp", s.handleSBPWebhook)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/promos", s.handlePromoCreate)
			r.Get("/promos/{code}", s.handlePromoStats)
			r.Delete("/promos/{code}", s.handlePromoDeactivate)
			r.Get("/methods", s.handleMethods)
			r.Get("/stats", s.handleStats)
		})
	})

	return r
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpSrv.Addr).Msg("web server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
