//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"membership-upgrade/internal/domain"
	"membership-upgrade/internal/domain/model"
	"membership-upgrade/internal/domain/ports/adapter"
	"membership-upgrade/internal/domain/ports/repository"
)

// snapshotter is implemented by in-memory stores that MockTxManager can roll back.
type snapshotter interface {
	snapshot() (restore func())
}

// =============================
// Repositories
// =============================

// ---- Users ----

type MockUserRepo struct {
	mu    sync.Mutex
	users map[string]model.User

	// LockedReads lists ids read inside a transaction (FOR UPDATE in postgres).
	LockedReads []string

	FindByIDFunc    func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
	UpdateLevelFunc func(ctx context.Context, tx repository.Tx, id string, level model.UserLevel) error
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{users: map[string]model.User{}}
}

func (m *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = *u
	return nil
}

func (m *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if _, ok := tx.(mockTx); ok {
		m.mu.Lock()
		m.LockedReads = append(m.LockedReads, id)
		m.mu.Unlock()
	}
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (m *MockUserRepo) UpdateLevel(ctx context.Context, tx repository.Tx, id string, level model.UserLevel) error {
	if m.UpdateLevelFunc != nil {
		return m.UpdateLevelFunc(ctx, tx, id, level)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.Level = level
	u.UpdatedAt = time.Now()
	m.users[id] = u
	return nil
}

// Level is a test helper returning the stored level.
func (m *MockUserRepo) Level(id string) model.UserLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id].Level
}

func (m *MockUserRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[string]model.User, len(m.users))
	for k, v := range m.users {
		saved[k] = v
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.users = saved
	}
}

// ---- Upgrades ----

type MockUpgradeRepo struct {
	mu       sync.Mutex
	upgrades map[string]model.UserUpgrade

	SaveFunc     func(ctx context.Context, tx repository.Tx, u *model.UserUpgrade) error
	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.UserUpgrade, error)
}

var _ repository.UpgradeRepository = (*MockUpgradeRepo)(nil)

func NewMockUpgradeRepo() *MockUpgradeRepo {
	return &MockUpgradeRepo{upgrades: map[string]model.UserUpgrade{}}
}

func (m *MockUpgradeRepo) Save(ctx context.Context, tx repository.Tx, u *model.UserUpgrade) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upgrades[u.ID] = *u
	return nil
}

func (m *MockUpgradeRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.UserUpgrade, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.upgrades[id]
	if !ok {
		return nil, domain.ErrUpgradeNotFound
	}
	return &u, nil
}

func (m *MockUpgradeRepo) FindByCheckoutSession(ctx context.Context, tx repository.Tx, sessionID string) (*model.UserUpgrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.upgrades {
		if u.CheckoutSessionID != nil && *u.CheckoutSessionID == sessionID {
			cp := u
			return &cp, nil
		}
	}
	return nil, domain.ErrUpgradeNotFound
}

func (m *MockUpgradeRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.UserUpgrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.UserUpgrade
	for _, u := range m.upgrades {
		if u.PurchaserID == userID || u.RecipientID == userID {
			cp := u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockUpgradeRepo) ListUnsettled(ctx context.Context, tx repository.Tx, olderThan, createdAfter time.Time, limit int) ([]*model.UserUpgrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.UserUpgrade
	for _, u := range m.upgrades {
		if u.Status.IsSettled() || u.CheckoutSessionID == nil || !u.UpdatedAt.Before(olderThan) || !u.CreatedAt.After(createdAfter) {
			continue
		}
		cp := u
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Stored returns the persisted copy, bypassing FindByIDFunc.
func (m *MockUpgradeRepo) Stored(id string) model.UserUpgrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upgrades[id]
}

func (m *MockUpgradeRepo) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[string]model.UserUpgrade, len(m.upgrades))
	for k, v := range m.upgrades {
		saved[k] = v
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.upgrades = saved
	}
}

// =============================
// Adapters
// =============================

// ---- Notification sink ----

type MockSink struct {
	mu         sync.Mutex
	Messages   []adapter.Message
	ModActions []adapter.ModActionEntry

	DeliverMessageFunc  func(ctx context.Context, tx any, msg adapter.Message) error
	RecordModActionFunc func(ctx context.Context, tx any, e adapter.ModActionEntry) error
}

var _ adapter.NotificationSink = (*MockSink)(nil)

func (m *MockSink) DeliverMessage(ctx context.Context, tx any, msg adapter.Message) error {
	if m.DeliverMessageFunc != nil {
		if err := m.DeliverMessageFunc(ctx, tx, msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
	return nil
}

func (m *MockSink) RecordModAction(ctx context.Context, tx any, e adapter.ModActionEntry) error {
	if m.RecordModActionFunc != nil {
		if err := m.RecordModActionFunc(ctx, tx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModActions = append(m.ModActions, e)
	return nil
}

func (m *MockSink) ModActionCount(c model.ModActionCategory) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.ModActions {
		if e.Category == c {
			n++
		}
	}
	return n
}

func (m *MockSink) MessagesTo(userID string) []adapter.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []adapter.Message
	for _, msg := range m.Messages {
		if msg.ToID == userID {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MockSink) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := append([]adapter.Message(nil), m.Messages...)
	mods := append([]adapter.ModActionEntry(nil), m.ModActions...)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.Messages, m.ModActions = msgs, mods
	}
}

// ---- Payment gateway ----

type MockPaymentGateway struct {
	mu       sync.Mutex
	Requests []adapter.CheckoutRequest
	Refunds  []string

	CreateSessionFunc func(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutSession, error)
	PaymentStatusFunc func(ctx context.Context, sessionID string, expectedAmount int64) (adapter.PaymentStatus, error)
	ReceiptURLFunc    func(ctx context.Context, sessionID string) (string, error)
	RefundFunc        func(ctx context.Context, sessionID string, amount int64) (adapter.RefundResult, error)
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Name() string { return "mock" }

func (m *MockPaymentGateway) CreateSession(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutSession, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, req)
	}
	id := "cs_" + uuid.NewString()
	return adapter.CheckoutSession{ID: id, URL: "https://pay.test/" + id, CustomerEmail: req.CustomerEmail}, nil
}

func (m *MockPaymentGateway) PaymentStatus(ctx context.Context, sessionID string, expectedAmount int64) (adapter.PaymentStatus, error) {
	if m.PaymentStatusFunc != nil {
		return m.PaymentStatusFunc(ctx, sessionID, expectedAmount)
	}
	return adapter.PaymentStatusUnpaid, nil
}

func (m *MockPaymentGateway) ReceiptURL(ctx context.Context, sessionID string) (string, error) {
	if m.ReceiptURLFunc != nil {
		return m.ReceiptURLFunc(ctx, sessionID)
	}
	return "", nil
}

func (m *MockPaymentGateway) Refund(ctx context.Context, sessionID string, amount int64) (adapter.RefundResult, error) {
	m.mu.Lock()
	m.Refunds = append(m.Refunds, sessionID)
	m.mu.Unlock()
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, sessionID, amount)
	}
	return adapter.RefundResult{ID: "re_" + sessionID, Status: "succeeded", Amount: amount, Time: time.Now()}, nil
}

// ---- Transactions ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error

	// Tracked stores are restored when fn fails, like a rolled back transaction.
	Tracked []snapshotter
	Commits int
}

func NewMockTxManager(tracked ...snapshotter) *MockTxManager {
	return &MockTxManager{Tracked: tracked}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	restores := make([]func(), 0, len(m.Tracked))
	for _, s := range m.Tracked {
		restores = append(restores, s.snapshot())
	}
	if err := fn(ctx, mockTx{}); err != nil {
		for _, r := range restores {
			r()
		}
		return err
	}
	m.Commits++
	return nil
}

// mockTx stands in for a pgx.Tx so mocks can tell locked reads apart.
type mockTx struct{}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
	Locks int
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrLocked
	}
	tok := uuid.NewString()
	l.held[key] = tok
	l.Locks++
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

func (l *MockLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
