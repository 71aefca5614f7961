package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"membership-upgrade/internal/domain"
	"membership-upgrade/internal/domain/model"
)

const maxWebhookBody = 65536

// SessionConfirmer settles the upgrade behind a checkout session.
type SessionConfirmer interface {
	ConfirmBySession(ctx context.Context, sessionID string) (*model.UserUpgrade, error)
}

// StripeWebhookHandler verifies Stripe-Signature and confirms checkout sessions.
// Non-2xx answers make Stripe retry, so only transient failures return one.
type StripeWebhookHandler struct {
	secret    string
	confirmer SessionConfirmer
	log       *zerolog.Logger
}

func NewStripeWebhookHandler(secret string, confirmer SessionConfirmer, logger *zerolog.Logger) *StripeWebhookHandler {
	l := logger.With().Str("component", "StripeWebhook").Logger()
	return &StripeWebhookHandler{secret: secret, confirmer: confirmer, log: &l}
}

func (h *StripeWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusServiceUnavailable)
		return
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("rejecting webhook with bad signature")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil || cs.ID == "" {
		h.log.Error().Err(err).Str("event_id", event.ID).Msg("malformed checkout session payload")
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	_, err = h.confirmer.ConfirmBySession(r.Context(), cs.ID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, domain.ErrAmountMismatch):
		// redelivery cannot fix it; needs manual review
		h.log.Error().Err(err).Str("session_id", cs.ID).Str("event_id", event.ID).Msg("amount mismatch; event acknowledged without applying")
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, domain.ErrUpgradeNotFound):
		// session created outside this service
		h.log.Info().Str("session_id", cs.ID).Msg("no upgrade for session")
		w.WriteHeader(http.StatusOK)
	default:
		h.log.Error().Err(err).Str("session_id", cs.ID).Str("event", string(event.Type)).Msg("confirm session failed")
		http.Error(w, "retry later", http.StatusServiceUnavailable)
	}
}
