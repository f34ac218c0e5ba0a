//go:build !integration

package usecase

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/suntrackspb/paid-subscribe-bot/internal/domain"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/model"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/adapter"
	"github.com/suntrackspb/paid-subscribe-bot/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memTx is the opaque marker handed to repositories by the mock tx manager.
type memTx struct{}

// mockTxManager runs fn directly; in-memory repos ignore the tx handle.
type mockTxManager struct {
	WithTxFunc func(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func (m *mockTxManager) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, opts, fn)
	}
	return fn(ctx, memTx{})
}

// --- payments ---

type memPaymentRepo struct {
	mu      sync.RWMutex
	store   map[string]*model.Payment // by ID
	SaveErr error
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{store: make(map[string]*model.Payment)}
}

func (m *memPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *memPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPaymentRepo) FindByProviderID(ctx context.Context, tx repository.Tx, providerID string) (*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.store {
		if p.ProviderID == providerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPaymentRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, externalID *string, failureReason *string, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	if externalID != nil {
		p.ExternalID = *externalID
	}
	if failureReason != nil {
		p.FailureReason = *failureReason
	}
	switch status {
	case model.PaymentStatusCompleted:
		p.CompletedAt = at
	case model.PaymentStatusFailed, model.PaymentStatusCancelled:
		p.FailedAt = at
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (m *memPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Payment
	for _, p := range m.store {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memPaymentRepo) SumCompletedByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, p := range m.store {
		if p.Status == model.PaymentStatusCompleted {
			sum += p.Amount.IntPart()
		}
	}
	return sum, nil
}

// --- subscriptions ---

type memSubRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Subscription
}

func newMemSubRepo() *memSubRepo {
	return &memSubRepo{store: make(map[string]*model.Subscription)}
}

func (m *memSubRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.store[s.ID] = &cp
	return nil
}

func (m *memSubRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubRepo) FindByUserAndChannel(ctx context.Context, tx repository.Tx, userID, channelID string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.store {
		if s.UserID == userID && s.ChannelID == channelID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSubRepo) FindExpiring(ctx context.Context, tx repository.Tx, withinDays int) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cut := time.Now().Add(time.Duration(withinDays) * 24 * time.Hour)
	var out []*model.Subscription
	for _, s := range m.store {
		if s.IsActive && s.ExpiresAt != nil && s.ExpiresAt.After(time.Now()) && s.ExpiresAt.Before(cut) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubRepo) FindExpired(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.Status == model.SubscriptionStatusActive && s.ExpiresAt != nil && s.ExpiresAt.Before(now) {
			cp := *s
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memSubRepo) FindMembershipDrift(ctx context.Context, tx repository.Tx, limit int) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if !s.MembershipSynced {
			cp := *s
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memSubRepo) CountActive(ctx context.Context, tx repository.Tx) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.store {
		if s.IsActive {
			n++
		}
	}
	return n, nil
}

// --- users ---

type memUserRepo struct {
	mu    sync.RWMutex
	store map[string]*model.User // by ID
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{store: make(map[string]*model.User)}
}

func (m *memUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.store[u.ID] = &cp
	return nil
}

func (m *memUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, telegramID int64) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.store {
		if u.TelegramID == telegramID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store), nil
}

// --- channels ---

type memChannelRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Channel
}

func newMemChannelRepo() *memChannelRepo {
	return &memChannelRepo{store: make(map[string]*model.Channel)}
}

func (m *memChannelRepo) Save(ctx context.Context, tx repository.Tx, c *model.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *memChannelRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memChannelRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Channel
	for _, c := range m.store {
		if c.IsActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- promos ---

type memPromoRepo struct {
	mu     sync.RWMutex
	store  map[string]*model.PromoCode // by upper-case code
	usages []*model.PromoUsage
}

func newMemPromoRepo() *memPromoRepo {
	return &memPromoRepo{store: make(map[string]*model.PromoCode)}
}

func (m *memPromoRepo) Save(ctx context.Context, tx repository.Tx, p *model.PromoCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[strings.ToUpper(p.Code)] = &cp
	return nil
}

func (m *memPromoRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.PromoCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.store[strings.ToUpper(code)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// IncrementUses mirrors the conditional UPDATE of the Postgres repo: the
// bump is refused once the global cap is reached.
func (m *memPromoRepo) IncrementUses(ctx context.Context, tx repository.Tx, promoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.store {
		if p.ID == promoID {
			if p.MaxUses != nil && p.CurrentUses >= *p.MaxUses {
				return domain.ErrPromoExhausted
			}
			p.CurrentUses++
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memPromoRepo) Deactivate(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[strings.ToUpper(code)]
	if !ok || !p.IsActive {
		return false, nil
	}
	p.IsActive = false
	return true, nil
}

func (m *memPromoRepo) SaveUsage(ctx context.Context, tx repository.Tx, u *model.PromoUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.usages = append(m.usages, &cp)
	return nil
}

func (m *memPromoRepo) CountUsagesByUser(ctx context.Context, tx repository.Tx, promoID, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, u := range m.usages {
		if u.PromoCodeID == promoID && u.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memPromoRepo) ListUsages(ctx context.Context, tx repository.Tx, promoID string, limit int) ([]*model.PromoUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.PromoUsage
	for _, u := range m.usages {
		if u.PromoCodeID == promoID {
			cp := *u
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// --- notification log ---

type memNotifLogRepo struct {
	mu   sync.RWMutex
	rows []*model.NotificationLog
}

func newMemNotifLogRepo() *memNotifLogRepo { return &memNotifLogRepo{} }

func (m *memNotifLogRepo) Save(ctx context.Context, tx repository.Tx, n *model.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memNotifLogRepo) WasSent(ctx context.Context, tx repository.Tx, subscriptionID string, kind model.NotificationKind, windowDays int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rows {
		if r.SubscriptionID == subscriptionID && r.Kind == kind && r.WindowDays == windowDays {
			return true, nil
		}
	}
	return false, nil
}

// --- provider registry ---

type mockRegistry struct {
	CreatePaymentFunc   func(ctx context.Context, method model.PaymentMethod, req *adapter.PaymentRequest) (*adapter.PaymentResponse, error)
	CheckStatusFunc     func(ctx context.Context, method model.PaymentMethod, providerID string) (*adapter.PaymentStatusData, error)
	VerifySignatureFunc func(method model.PaymentMethod, raw []byte, signature string) bool
	ParseWebhookFunc    func(method model.PaymentMethod, payload map[string]interface{}) (string, *adapter.PaymentStatusData, error)
	Unavailable         map[model.PaymentMethod]bool
	created             int64 // provider IDs must be unique per payment, like a real provider's
}

func (m *mockRegistry) AvailableMethods() []model.PaymentMethod {
	return []model.PaymentMethod{model.PaymentMethodYooMoney, model.PaymentMethodStars, model.PaymentMethodSBP}
}

func (m *mockRegistry) MethodAvailable(method model.PaymentMethod) bool {
	return !m.Unavailable[method]
}

func (m *mockRegistry) CreatePayment(ctx context.Context, method model.PaymentMethod, req *adapter.PaymentRequest) (*adapter.PaymentResponse, error) {
	if m.CreatePaymentFunc != nil {
		return m.CreatePaymentFunc(ctx, method, req)
	}
	n := atomic.AddInt64(&m.created, 1)
	return &adapter.PaymentResponse{
		ProviderID: "prov-" + req.UserID + "-" + strconv.FormatInt(n, 10),
		Status:     model.PaymentStatusPending,
		PaymentURL: "https://pay.example/" + req.UserID,
		Metadata:   map[string]interface{}{},
	}, nil
}

func (m *mockRegistry) CheckStatus(ctx context.Context, method model.PaymentMethod, providerID string) (*adapter.PaymentStatusData, error) {
	if m.CheckStatusFunc != nil {
		return m.CheckStatusFunc(ctx, method, providerID)
	}
	return &adapter.PaymentStatusData{ExternalID: providerID, Status: model.PaymentStatusPending}, nil
}

func (m *mockRegistry) CancelPayment(ctx context.Context, method model.PaymentMethod, providerID string) (bool, error) {
	return false, nil
}

func (m *mockRegistry) ParseWebhook(method model.PaymentMethod, payload map[string]interface{}) (string, *adapter.PaymentStatusData, error) {
	if m.ParseWebhookFunc != nil {
		return m.ParseWebhookFunc(method, payload)
	}
	id, _ := payload["id"].(string)
	return id, &adapter.PaymentStatusData{ExternalID: id, Status: model.PaymentStatusCompleted}, nil
}

func (m *mockRegistry) VerifySignature(method model.PaymentMethod, raw []byte, signature string) bool {
	if m.VerifySignatureFunc != nil {
		return m.VerifySignatureFunc(method, raw, signature)
	}
	return true
}

// --- side-effect ports ---

type mockNotifier struct {
	mu        sync.Mutex
	Successes int
	Failures  int
	Expiring  int
	Expired   int
	Err       error
}

func (m *mockNotifier) NotifyPaymentSuccess(ctx context.Context, user *model.User, payment *model.Payment, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Successes++
	return nil
}

func (m *mockNotifier) NotifyPaymentFailed(ctx context.Context, user *model.User, payment *model.Payment, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Failures++
	return nil
}

func (m *mockNotifier) NotifySubscriptionExpiring(ctx context.Context, user *model.User, sub *model.Subscription, daysLeft int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Expiring++
	return nil
}

func (m *mockNotifier) NotifySubscriptionExpired(ctx context.Context, user *model.User, sub *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Expired++
	return nil
}

type mockMembership struct {
	mu      sync.Mutex
	Added   []string // user IDs
	Removed []string
	Err     error
}

func (m *mockMembership) AddUserToChannel(ctx context.Context, user *model.User, channel *model.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Added = append(m.Added, user.ID)
	return nil
}

func (m *mockMembership) RemoveUserFromChannel(ctx context.Context, user *model.User, channel *model.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Removed = append(m.Removed, user.ID)
	return nil
}

type mockInvoiceSender struct {
	mu   sync.Mutex
	Sent []int64 // telegram IDs
	Err  error
}

func (m *mockInvoiceSender) SendStarsInvoice(ctx context.Context, telegramID int64, providerID, title, description string, stars int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, telegramID)
	return nil
}

type mockLocker struct {
	mu   sync.Mutex
	held map[string]bool
	Deny bool
}

func newMockLocker() *mockLocker { return &mockLocker{held: make(map[string]bool)} }

func (m *mockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Deny || m.held[key] {
		return func() {}, false, nil
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
	}, true, nil
}

// --- fixtures ---

func seedUser(repo *memUserRepo, id string, tgID int64) *model.User {
	u := &model.User{ID: id, TelegramID: tgID, Username: "user" + id, CreatedAt: time.Now()}
	_ = repo.Save(context.Background(), repository.NoTX, u)
	return u
}

func seedChannel(repo *memChannelRepo, id string) *model.Channel {
	c := &model.Channel{ID: id, TelegramID: -100200300, Title: "Test Channel", IsActive: true, CreatedAt: time.Now()}
	_ = repo.Save(context.Background(), repository.NoTX, c)
	return c
}

func mustDecimal(s string) decimal.Decimal { return decimal.RequireFromString(s) }
