package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"membership-upgrade/internal/domain"
	"membership-upgrade/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

var ErrUnknownSession = errors.New("noop: session not found")

type noopSession struct {
	req      adapter.CheckoutRequest
	status   adapter.PaymentStatus
	refunded bool
}

// NoopPaymentGateway is an in-memory gateway for tests and local runs.
// Sessions stay unpaid until MarkPaid is called.
type NoopPaymentGateway struct {
	mu       sync.Mutex
	sessions map[string]*noopSession
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{sessions: make(map[string]*noopSession)}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) CreateSession(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := "cs_noop_" + ulid.Make().String()
	g.sessions[id] = &noopSession{req: req, status: adapter.PaymentStatusUnpaid}
	return adapter.CheckoutSession{
		ID:            id,
		URL:           "https://example.test/pay/" + id,
		CustomerEmail: req.CustomerEmail,
	}, nil
}

// MarkPaid simulates the purchaser completing the hosted checkout.
func (g *NoopPaymentGateway) MarkPaid(sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	s.status = adapter.PaymentStatusPaid
	return nil
}

// Session returns the request a session was created with.
func (g *NoopPaymentGateway) Session(sessionID string) (adapter.CheckoutRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return adapter.CheckoutRequest{}, false
	}
	return s.req, true
}

func (g *NoopPaymentGateway) PaymentStatus(ctx context.Context, sessionID string, expectedAmount int64) (adapter.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return "", ErrUnknownSession
	}
	if s.req.Amount != expectedAmount {
		return "", fmt.Errorf("noop: %w: expected %d got %d", domain.ErrAmountMismatch, s.req.Amount, expectedAmount)
	}
	return s.status, nil
}

func (g *NoopPaymentGateway) ReceiptURL(ctx context.Context, sessionID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return "", ErrUnknownSession
	}
	if s.status != adapter.PaymentStatusPaid {
		return "", nil
	}
	return "https://example.test/receipts/" + sessionID, nil
}

func (g *NoopPaymentGateway) Refund(ctx context.Context, sessionID string, amount int64) (adapter.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return adapter.RefundResult{}, ErrUnknownSession
	}
	if s.status != adapter.PaymentStatusPaid {
		return adapter.RefundResult{}, errors.New("noop: session is not paid")
	}
	if s.refunded {
		return adapter.RefundResult{}, errors.New("noop: session already refunded")
	}
	s.refunded = true
	return adapter.RefundResult{
		ID:     "re_noop_" + ulid.Make().String(),
		Status: "succeeded",
		Amount: amount,
		Time:   time.Now(),
	}, nil
}
