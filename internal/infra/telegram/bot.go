package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/suntrackspb/paid-subscribe-bot/internal/config"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/metrics"
	red "github.com/suntrackspb/paid-subscribe-bot/internal/infra/redis"
	"github.com/suntrackspb/paid-subscribe-bot/internal/usecase"
)

const commandRateLimit = 20 // per user per minute

// Bot is the Telegram side of the system. It long-polls updates to answer
// pre-checkout queries and feed successful_payment events into the payment
// flow, and it implements the outbound ports (Notifier, ChannelMembership,
// InvoiceSender) the use cases depend on.
type Bot struct {
	api         *tgbotapi.BotAPI
	cfg         *config.BotConfig
	rateLimiter *red.RateLimiter
	log         *zerolog.Logger

	// bound after construction: payment use case needs the bot as its
	// notifier, so the cycle is closed via Bind in main.
	userUC    usecase.UserUseCase
	paymentUC usecase.PaymentUseCase

	workers       int
	cancelPolling context.CancelFunc
}

func NewBot(cfg *config.BotConfig, rateLimiter *red.RateLimiter, logger *zerolog.Logger) (*Bot, error) {
	if cfg == nil || cfg.Token == "" {
		return nil, errors.New("bot config with token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	l := logger.With().Str("component", "TelegramBot").Logger()
	return &Bot{
		api:         api,
		cfg:         cfg,
		rateLimiter: rateLimiter,
		log:         &l,
		workers:     workers,
	}, nil
}

// Bind attaches the use cases the update loop dispatches to. Must be called
// before StartPolling.
func (b *Bot) Bind(userUC usecase.UserUseCase, paymentUC usecase.PaymentUseCase) {
	b.userUC = userUC
	b.paymentUC = paymentUC
}

func (b *Bot) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	b.cancelPolling = cancel

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 100)

	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			b.workUpdates(ctx, id, updateChan)
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			close(updateChan)
			wg.Wait()
			return ctx.Err()
		case up := <-updates:
			updateChan <- up
		}
	}
}

// workUpdates drains the channel until it is closed, so shutdown never
// hands a worker a zero-value update.
func (b *Bot) workUpdates(ctx context.Context, id int, updates <-chan tgbotapi.Update) {
	for up := range updates {
		if err := b.handleUpdate(ctx, up); err != nil {
			b.log.Error().Err(err).Int("worker", id).Msg("update handling failed")
		}
	}
}

func (b *Bot) StopPolling() {
	if b.cancelPolling != nil {
		b.cancelPolling()
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	// Pre-checkout must be answered within 10 seconds or the Stars payment
	// is aborted client-side.
	if update.PreCheckoutQuery != nil {
		return b.answerPreCheckout(update.PreCheckoutQuery)
	}

	if update.Message == nil || update.Message.From == nil {
		return nil
	}
	msg := update.Message

	if msg.SuccessfulPayment != nil {
		return b.handleSuccessfulPayment(ctx, msg)
	}

	command := "message"
	if fields := strings.Fields(msg.Text); len(fields) > 0 && strings.HasPrefix(fields[0], "/") {
		command = fields[0]
	}
	if b.rateLimiter != nil {
		allowed, err := b.rateLimiter.Allow(ctx, red.UserCommandKey(msg.From.ID, command), commandRateLimit, time.Minute)
		if err != nil {
			b.log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !allowed {
			metrics.IncRateLimitTriggered()
			return b.send(msg.From.ID, "Too many requests. Please try again in a minute.")
		}
	}

	if command == "/start" {
		return b.handleStart(ctx, msg)
	}
	return nil
}

// handleStart registers the sender so payments and notifications can resolve
// the Telegram id later. Anything richer (menus, keyboards) lives outside
// this service.
func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if b.userUC == nil {
		return errors.New("bot is not bound to use cases")
	}
	metrics.IncTelegramCommand("/start")

	fullName := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	user, welcome, err := b.userUC.RegisterOrFetch(ctx, msg.From.ID, msg.From.UserName, fullName)
	if err != nil {
		b.log.Error().Err(err).Int64("tg_id", msg.From.ID).Msg("registration failed")
		return b.send(msg.From.ID, "Something went wrong, please try again later.")
	}
	metrics.IncUsersRegistered()

	text := startText(user, welcome)
	return b.send(msg.From.ID, text)
}

func (b *Bot) answerPreCheckout(q *tgbotapi.PreCheckoutQuery) error {
	_, err := b.api.Request(tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: q.ID,
		OK:                 true,
	})
	return err
}

// handleSuccessfulPayment feeds the Stars confirmation through the same
// webhook entry point the HTTP rails use.
func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) error {
	if b.paymentUC == nil {
		return errors.New("bot is not bound to use cases")
	}
	payload := starsWebhookPayload(msg.SuccessfulPayment)
	_, err := b.paymentUC.HandleWebhook(ctx, model.PaymentMethodStars, nil, "", payload)
	if err != nil {
		b.log.Error().Err(err).
			Str("charge_id", msg.SuccessfulPayment.TelegramPaymentChargeID).
			Msg("stars payment confirmation failed")
	}
	return err
}

// starsWebhookPayload normalizes a successful_payment update into the map
// shape the Stars provider parses.
func starsWebhookPayload(sp *tgbotapi.SuccessfulPayment) map[string]interface{} {
	return map[string]interface{}{
		"invoice_payload":            sp.InvoicePayload,
		"telegram_payment_charge_id": sp.TelegramPaymentChargeID,
		"total_amount":               int64(sp.TotalAmount),
		"currency":                   sp.Currency,
	}
}

func (b *Bot) send(tgID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(tgID, text))
	return err
}
