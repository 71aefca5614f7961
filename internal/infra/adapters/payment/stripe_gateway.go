package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"membership-upgrade/internal/domain"
	"membership-upgrade/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

// StripeGateway implements adapter.PaymentGateway with Stripe Checkout Sessions
// in payment mode.
type StripeGateway struct {
	sc *client.API
}

type StripeOption func(*stripe.BackendConfig)

// WithStripeBackendURL points the API backend elsewhere (tests, stripe-mock).
func WithStripeBackendURL(url string) StripeOption {
	return func(c *stripe.BackendConfig) {
		c.URL = stripe.String(url)
		c.MaxNetworkRetries = stripe.Int64(0)
		c.LeveledLogger = &stripe.LeveledLogger{Level: stripe.LevelNull}
	}
}

func NewStripeGateway(secretKey string, opts ...StripeOption) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	var backends *stripe.Backends
	if len(opts) > 0 {
		cfg := &stripe.BackendConfig{}
		for _, o := range opts {
			o(cfg)
		}
		backends = &stripe.Backends{API: stripe.GetBackendWithConfig(stripe.APIBackend, cfg)}
	}
	return &StripeGateway{sc: client.New(secretKey, backends)}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateSession(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutSession, error) {
	if req.CustomerEmail == "" {
		return adapter.CheckoutSession{}, errors.New("stripe checkout requires a customer email")
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail:     stripe.String(req.CustomerEmail),
		ClientReferenceID: stripe.String(req.ReferenceID),
		SuccessURL:        stripe.String(req.SuccessURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return adapter.CheckoutSession{}, err
	}
	return adapter.CheckoutSession{ID: s.ID, URL: s.URL, CustomerEmail: s.CustomerEmail}, nil
}

func (g *StripeGateway) getSession(ctx context.Context, sessionID string, expand ...string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	for _, e := range expand {
		params.AddExpand(e)
	}
	return g.sc.CheckoutSessions.Get(sessionID, params)
}

func (g *StripeGateway) PaymentStatus(ctx context.Context, sessionID string, expectedAmount int64) (adapter.PaymentStatus, error) {
	s, err := g.getSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if expectedAmount > 0 && s.AmountTotal != 0 && s.AmountTotal != expectedAmount {
		return "", fmt.Errorf("stripe session %s: %w: expected %d got %d", sessionID, domain.ErrAmountMismatch, expectedAmount, s.AmountTotal)
	}
	switch s.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid:
		return adapter.PaymentStatusPaid, nil
	case stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return adapter.PaymentStatusNoPaymentRequired, nil
	case stripe.CheckoutSessionPaymentStatusUnpaid:
		return adapter.PaymentStatusUnpaid, nil
	default:
		return adapter.PaymentStatus(s.PaymentStatus), nil
	}
}

// ReceiptURL reads the receipt of the charge behind the session's payment intent.
func (g *StripeGateway) ReceiptURL(ctx context.Context, sessionID string) (string, error) {
	s, err := g.getSession(ctx, sessionID, "payment_intent.latest_charge")
	if err != nil {
		return "", err
	}
	if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return "", nil
	}
	if s.PaymentIntent == nil || s.PaymentIntent.LatestCharge == nil {
		return "", nil
	}
	return s.PaymentIntent.LatestCharge.ReceiptURL, nil
}

func (g *StripeGateway) Refund(ctx context.Context, sessionID string, amount int64) (adapter.RefundResult, error) {
	s, err := g.getSession(ctx, sessionID)
	if err != nil {
		return adapter.RefundResult{}, err
	}
	if s.PaymentIntent == nil || s.PaymentIntent.ID == "" {
		return adapter.RefundResult{}, fmt.Errorf("stripe session %s has no payment intent", sessionID)
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(s.PaymentIntent.ID),
		Amount:        stripe.Int64(amount),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	r, err := g.sc.Refunds.New(params)
	if err != nil {
		return adapter.RefundResult{}, err
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return adapter.RefundResult{}, fmt.Errorf("stripe refund %s ended %s", r.ID, r.Status)
	}
	return adapter.RefundResult{
		ID:     r.ID,
		Status: string(r.Status),
		Amount: r.Amount,
		Time:   timeFromUnix(r.Created),
	}, nil
}

func timeFromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
