package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
	"github.com/suntrackspb/paid-subscribe-bot/internal/infra/metrics"
)

// Compile-time check
var _ PromoUseCase = (*promoUC)(nil)

// codeAlphabet excludes ambiguous characters (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

type CreatePromoInput struct {
	Code           string // empty = generate
	Type           model.PromoType
	Value          decimal.Decimal
	Title          string
	Description    string
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	MaxUses        *int
	MaxUsesPerUser int
	MinAmount      *decimal.Decimal
	BoundUserID    *string
	CreatedBy      *string
}

// PromoStats is the admin-facing usage summary for one code.
type PromoStats struct {
	Code           string
	Type           model.PromoType
	Value          decimal.Decimal
	IsActive       bool
	CurrentUses    int
	UsesRemaining  *int // nil = unlimited
	TotalDiscount  decimal.Decimal
	ValidUntil     *time.Time
	RecentUsages   []*model.PromoUsage
}

type PromoUseCase interface {
	Create(ctx context.Context, in CreatePromoInput) (*model.PromoCode, error)
	// Validate evaluates code for user and amount and reports exactly one
	// failure reason, or the discount when valid. Read-only; never mutates
	// usage counters.
	Validate(ctx context.Context, tx repository.Tx, code, userID string, amount decimal.Decimal) (*model.PromoValidation, error)
	// Apply records one consumption of the code inside the caller's
	// transaction: re-validates, increments the global counter and writes
	// the usage row. Returns domain.ErrPromoExhausted when the counter
	// refuses the increment.
	Apply(ctx context.Context, tx repository.Tx, code, userID string, paymentID *string, amount decimal.Decimal) (decimal.Decimal, error)
	Deactivate(ctx context.Context, code string) (bool, error)
	Stats(ctx context.Context, code string) (*PromoStats, error)
	// CreateWelcomeCode issues a personal one-use code for a new user.
	CreateWelcomeCode(ctx context.Context, userID string) (*model.PromoCode, error)
}

type WelcomeCodeConfig struct {
	Enabled    bool
	Type       model.PromoType
	Value      decimal.Decimal
	ValidDays  int
	CodePrefix string
}

type promoUC struct {
	promos  repository.PromoRepository
	tm      repository.TransactionManager
	welcome WelcomeCodeConfig
	log     *zerolog.Logger
}

func NewPromoUseCase(promos repository.PromoRepository, tm repository.TransactionManager, welcome WelcomeCodeConfig, logger *zerolog.Logger) *promoUC {
	l := logger.With().Str("component", "PromoUseCase").Logger()
	return &promoUC{promos: promos, tm: tm, welcome: welcome, log: &l}
}

// GenerateCode returns a random code from the unambiguous alphabet,
// optionally prefixed (prefix and body separated by a dash).
func GenerateCode(prefix string, length int) string {
	if length <= 0 {
		length = 8
	}
	b := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the platform is broken; fall back
			// to a time-derived index rather than panicking mid-request.
			b[i] = codeAlphabet[int(time.Now().UnixNano())%len(codeAlphabet)]
			continue
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	if prefix == "" {
		return string(b)
	}
	return strings.ToUpper(prefix) + "-" + string(b)
}

func (u *promoUC) Create(ctx context.Context, in CreatePromoInput) (*model.PromoCode, error) {
	switch in.Type {
	case model.PromoTypePercentage:
		if in.Value.LessThanOrEqual(decimal.Zero) || in.Value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("percentage value must be in (0, 100]: %w", domain.ErrInvalidArgument)
		}
	case model.PromoTypeFixed:
		if in.Value.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("fixed discount must be positive: %w", domain.ErrInvalidArgument)
		}
	default:
		return nil, fmt.Errorf("unknown promo type %q: %w", in.Type, domain.ErrInvalidArgument)
	}

	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if code == "" {
		code = GenerateCode("", 8)
	}

	p := &model.PromoCode{
		ID:             uuid.NewString(),
		Code:           code,
		Type:           in.Type,
		Value:          in.Value,
		Title:          in.Title,
		Description:    in.Description,
		ValidFrom:      in.ValidFrom,
		ValidUntil:     in.ValidUntil,
		MaxUses:        in.MaxUses,
		MaxUsesPerUser: in.MaxUsesPerUser,
		MinAmount:      in.MinAmount,
		BoundUserID:    in.BoundUserID,
		IsActive:       true,
		CreatedAt:      time.Now(),
		CreatedBy:      in.CreatedBy,
	}
	if err := u.promos.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	u.log.Info().Str("code", p.Code).Str("type", string(p.Type)).Msg("promo code created")
	return p, nil
}

func (u *promoUC) Validate(ctx context.Context, tx repository.Tx, code, userID string, amount decimal.Decimal) (*model.PromoValidation, error) {
	now := time.Now()
	invalid := func(reason model.PromoFailReason, p *model.PromoCode) *model.PromoValidation {
		metrics.IncPromoValidation(string(reason))
		return &model.PromoValidation{Valid: false, Reason: reason, Discount: decimal.Zero, Promo: p}
	}

	p, err := u.promos.FindByCode(ctx, tx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return invalid(model.PromoFailNotFound, nil), nil
		}
		return nil, err
	}

	if reason := p.CheckValidity(now); reason != model.PromoFailNone {
		return invalid(reason, p), nil
	}
	if p.BoundUserID != nil && *p.BoundUserID != userID {
		return invalid(model.PromoFailWrongUser, p), nil
	}
	if p.MaxUsesPerUser > 0 {
		used, err := u.promos.CountUsagesByUser(ctx, tx, p.ID, userID)
		if err != nil {
			return nil, err
		}
		if used >= p.MaxUsesPerUser {
			return invalid(model.PromoFailUserLimit, p), nil
		}
	}
	if p.MinAmount != nil && amount.LessThan(*p.MinAmount) {
		return invalid(model.PromoFailBelowMin, p), nil
	}

	metrics.IncPromoValidation("valid")
	return &model.PromoValidation{
		Valid:    true,
		Discount: p.CalculateDiscount(amount, now),
		Promo:    p,
	}, nil
}

func (u *promoUC) Apply(ctx context.Context, tx repository.Tx, code, userID string, paymentID *string, amount decimal.Decimal) (decimal.Decimal, error) {
	// Standalone callers get their own transaction; the payment flow passes
	// the one it already holds.
	if tx == nil {
		var discount decimal.Decimal
		err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			var err error
			discount, err = u.applyInTx(ctx, tx, code, userID, paymentID, amount)
			return err
		})
		return discount, err
	}
	return u.applyInTx(ctx, tx, code, userID, paymentID, amount)
}

func (u *promoUC) applyInTx(ctx context.Context, tx repository.Tx, code, userID string, paymentID *string, amount decimal.Decimal) (decimal.Decimal, error) {
	v, err := u.Validate(ctx, tx, code, userID, amount)
	if err != nil {
		return decimal.Zero, err
	}
	if !v.Valid {
		return decimal.Zero, fmt.Errorf("promo %s rejected (%s): %w", code, v.Reason, domain.ErrInvalidArgument)
	}

	if err := u.promos.IncrementUses(ctx, tx, v.Promo.ID); err != nil {
		return decimal.Zero, err
	}
	usage := &model.PromoUsage{
		ID:             uuid.NewString(),
		PromoCodeID:    v.Promo.ID,
		UserID:         userID,
		PaymentID:      paymentID,
		OriginalAmount: amount,
		DiscountAmount: v.Discount,
		FinalAmount:    amount.Sub(v.Discount),
		UsedAt:         time.Now(),
	}
	if err := u.promos.SaveUsage(ctx, tx, usage); err != nil {
		return decimal.Zero, err
	}

	u.log.Info().
		Str("code", v.Promo.Code).
		Str("user_id", userID).
		Str("discount", v.Discount.StringFixed(2)).
		Msg("promo code applied")
	return v.Discount, nil
}

func (u *promoUC) Deactivate(ctx context.Context, code string) (bool, error) {
	ok, err := u.promos.Deactivate(ctx, repository.NoTX, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return false, err
	}
	if ok {
		u.log.Info().Str("code", code).Msg("promo code deactivated")
	}
	return ok, nil
}

func (u *promoUC) Stats(ctx context.Context, code string) (*PromoStats, error) {
	p, err := u.promos.FindByCode(ctx, repository.NoTX, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	usages, err := u.promos.ListUsages(ctx, repository.NoTX, p.ID, 20)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, us := range usages {
		total = total.Add(us.DiscountAmount)
	}
	return &PromoStats{
		Code:          p.Code,
		Type:          p.Type,
		Value:         p.Value,
		IsActive:      p.IsActive,
		CurrentUses:   p.CurrentUses,
		UsesRemaining: p.UsesRemaining(),
		TotalDiscount: total,
		ValidUntil:    p.ValidUntil,
		RecentUsages:  usages,
	}, nil
}

func (u *promoUC) CreateWelcomeCode(ctx context.Context, userID string) (*model.PromoCode, error) {
	if !u.welcome.Enabled {
		return nil, nil
	}
	var until *time.Time
	if u.welcome.ValidDays > 0 {
		t := time.Now().Add(time.Duration(u.welcome.ValidDays) * 24 * time.Hour)
		until = &t
	}
	one := 1
	return u.Create(ctx, CreatePromoInput{
		Code:           GenerateCode(u.welcome.CodePrefix, 6),
		Type:           u.welcome.Type,
		Value:          u.welcome.Value,
		Title:          "Welcome discount",
		ValidUntil:     until,
		MaxUses:        &one,
		MaxUsesPerUser: 1,
		BoundUserID:    &userID,
	})
}
