package adapter

import (
	"context"
	"time"
)

// PaymentStatus is the payment state reported by a gateway for a checkout session.
type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
)

// CheckoutRequest carries what a gateway needs to open a hosted checkout.
type CheckoutRequest struct {
	CustomerEmail string // prefilled contact; always the purchaser's address
	Amount        int64  // minor units
	Currency      string
	Description   string
	ReferenceID   string // our upgrade id
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

type CheckoutSession struct {
	ID            string
	URL           string // where the purchaser is redirected to pay
	CustomerEmail string
}

// RefundResult captures a minimal, provider-agnostic result of a refund request.
type RefundResult struct {
	ID     string    // provider refund id
	Status string    // provider status, e.g. succeeded / pending / DONE
	Amount int64     // minor units
	Time   time.Time // provider timestamp if available
}

// PaymentGateway is the hex port for hosted checkout providers.
type PaymentGateway interface {
	Name() string

	// CreateSession opens a hosted checkout for req.
	CreateSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	// PaymentStatus reports the payment state of a session. expectedAmount lets
	// providers that settle on verification check the captured amount.
	PaymentStatus(ctx context.Context, sessionID string, expectedAmount int64) (PaymentStatus, error)
	// ReceiptURL returns "" when the provider has no finalized receipt for the session.
	ReceiptURL(ctx context.Context, sessionID string) (string, error)
	// Refund refunds the transaction behind the session.
	Refund(ctx context.Context, sessionID string, amount int64) (RefundResult, error)
}
