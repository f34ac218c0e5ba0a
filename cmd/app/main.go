package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/config"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
	pg "github.com/suntrackspb/paid-subscribe-bot/internal/infra/db/postgres"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/logging"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/metrics"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/payment"
	red "github.com/suntrackspb/paid-subscribe-bot/internal/infra/redis"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/sched"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/telegram"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/web"
	"github.com/suntrackspb/paid-subscribe-bot/internal/usecase"
)

// set via -ldflags at build time
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("development mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := pool.Stat()
				metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
			}
		}
	}()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	userRepo := pg.NewUserRepoCacheDecorator(pg.NewUserRepo(pool), redisClient)
	channelRepo := pg.NewChannelRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	payRepo := pg.NewPaymentRepo(pool)
	promoRepo := pg.NewPromoRepo(pool)
	notifLogRepo := pg.NewNotificationLogRepo(pool)

	// ---- Payment providers ----
	manager := payment.NewManager(logger,
		payment.NewYooMoneyProvider(payment.YooMoneyConfig{
			Receiver: cfg.Payment.YooMoney.Wallet,
			Secret:   cfg.Payment.YooMoney.Secret,
		}, logger),
		payment.NewStarsProvider(payment.StarsConfig{
			BotToken: starsToken(cfg),
			Rate:     cfg.Payment.Stars.Rate,
		}, logger),
		payment.NewSBPProvider(payment.SBPConfig{
			MerchantID: cfg.Payment.SBP.MerchantID,
			BankID:     cfg.Payment.SBP.BankID,
			APIURL:     cfg.Payment.SBP.APIURL,
			Secret:     cfg.Payment.SBP.Secret,
			Phone:      cfg.Payment.SBP.Phone,
			QRWidth:    uint8(cfg.Payment.SBP.QRWidth),
		}, logger),
	)

	// ---- Telegram ----
	var (
		notifier   adapter.Notifier
		membership adapter.ChannelMembership
		invoices   adapter.InvoiceSender
		bot        *telegram.Bot
	)
	if cfg.Runtime.Dev {
		noop := telegram.NewNoopBot(logger)
		notifier, membership, invoices = noop, noop, noop
	} else {
		bot, err = telegram.NewBot(&cfg.Bot, rateLimiter, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram bot init failed")
		}
		notifier, membership, invoices = bot, bot, bot
	}

	// ---- Use cases ----
	subUC := usecase.NewSubscriptionUseCase(subRepo, userRepo, channelRepo, tm, membership, logger)
	promoUC := usecase.NewPromoUseCase(promoRepo, tm, welcomeConfig(cfg), logger)
	userUC := usecase.NewUserUseCase(userRepo, tm, promoUC, logger)
	notifUC := usecase.NewNotificationUseCase(subRepo, userRepo, notifLogRepo, notifier, logger)
	statsUC := usecase.NewStatsUseCase(userRepo, subRepo, payRepo, logger)
	paymentUC := usecase.NewPaymentUseCase(payRepo, userRepo, manager, subUC, promoUC, tm, locker, notifier, invoices, logger)

	if bot != nil {
		bot.Bind(userUC, paymentUC)
		go func() {
			if err := bot.StartPolling(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("telegram polling stopped")
			}
		}()
	}

	// ---- Web server ----
	server := web.NewServer(&cfg.Web, &cfg.Security, paymentUC, promoUC, statsUC, manager, rateLimiter, logger)
	go func() {
		if err := server.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("web server stopped")
			cancel()
		}
	}()

	// ---- Background workers ----
	sweep := sched.NewSweepWorker(cfg.Sweep.Interval, cfg.Sweep.WarnWindows, cfg.Sweep.BatchLimit, subUC, notifUC, logger)
	go func() { _ = sweep.Run(ctx) }()

	reconciler := sched.NewPaymentReconciler(paymentUC, time.Minute, cfg.Sweep.PaymentStaleness, cfg.Sweep.BatchLimit, logger)
	go func() { _ = reconciler.Run(ctx) }()

	logger.Info().Str("version", version).Msg("service started")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	cancel()
	if bot != nil {
		bot.StopPolling()
	}
	// give the web server and workers a moment to drain
	time.Sleep(500 * time.Millisecond)
}

func starsToken(cfg *config.Config) string {
	if !cfg.Payment.Stars.Enabled {
		return ""
	}
	return cfg.Bot.Token
}

func welcomeConfig(cfg *config.Config) usecase.WelcomeCodeConfig {
	w := cfg.Promo.Welcome
	out := usecase.WelcomeCodeConfig{
		Enabled:    w.Enabled,
		Type:       model.PromoType(w.Type),
		ValidDays:  w.ValidDays,
		CodePrefix: w.CodePrefix,
	}
	if v, err := decimal.NewFromString(w.Value); err == nil {
		out.Value = v
	}
	return out
}
