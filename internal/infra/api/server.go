package api

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"membership-upgrade/internal/domain"
	"membership-upgrade/internal/domain/model"
	"membership-upgrade/internal/infra/logging"
	"membership-upgrade/internal/usecase"
)

// Server exposes the upgrade workflow over HTTP.
type Server struct {
	uc      usecase.UpgradeUseCase
	auth    *Authenticator
	webhook http.Handler // nil when the provider has no webhook
	timeout time.Duration
	log     *zerolog.Logger
}

func NewServer(uc usecase.UpgradeUseCase, auth *Authenticator, webhook http.Handler, timeout time.Duration, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "API").Logger()
	return &Server{uc: uc, auth: auth, webhook: webhook, timeout: timeout, log: &l}
}

// Routes builds the router. Handlers are safe for concurrent use.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(s.log), TraceID(), RequestLog(s.log), Timeout(s.timeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	if s.webhook != nil {
		r.Method(http.MethodPost, "/webhooks/stripe", s.webhook)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// the gateway redirects the purchaser's browser here without a token
		r.Get("/upgrades/{id}/return", s.handleReturn)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireAuth)
			r.Post("/upgrades", s.handleCreate)
			r.Get("/upgrades/{id}", s.handleGet)
			r.Post("/upgrades/{id}/checkout", s.handleCheckout)
			r.Get("/users/{id}/upgrades", s.handleListForUser)
			r.With(RequireRole(RoleAdmin)).Post("/upgrades/{id}/refund", s.handleRefund)
		})
	})
	return r
}

// ---- DTOs ----

type createUpgradeRequest struct {
	RecipientID string `json:"recipient_id"`
	UpgradeType string `json:"upgrade_type"`
}

type upgradeView struct {
	ID                string     `json:"id"`
	PurchaserID       string     `json:"purchaser_id"`
	RecipientID       string     `json:"recipient_id"`
	UpgradeType       string     `json:"upgrade_type"`
	Status            string     `json:"status"`
	TargetLevel       string     `json:"target_level"`
	Price             int64      `json:"price"`
	Gift              bool       `json:"gift"`
	PaymentProcessor  string     `json:"payment_processor,omitempty"`
	CheckoutSessionID string     `json:"checkout_session_id,omitempty"`
	PreviousLevel     string     `json:"previous_level,omitempty"`
	ReceiptURL        string     `json:"receipt_url,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	RefundedAt        *time.Time `json:"refunded_at,omitempty"`
}

func toView(u *model.UserUpgrade) upgradeView {
	v := upgradeView{
		ID:                u.ID,
		PurchaserID:       u.PurchaserID,
		RecipientID:       u.RecipientID,
		UpgradeType:       string(u.UpgradeType),
		Status:            string(u.Status),
		TargetLevel:       u.TargetLevel().String(),
		Price:             u.Plan().Price,
		Gift:              u.IsGift(),
		PaymentProcessor:  u.PaymentProcessor,
		CheckoutSessionID: u.SessionID(),
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
		CompletedAt:       u.CompletedAt,
		RefundedAt:        u.RefundedAt,
	}
	if u.PreviousLevel != nil {
		v.PreviousLevel = u.PreviousLevel.String()
	}
	return v
}

type checkoutResponse struct {
	Upgrade     upgradeView `json:"upgrade"`
	SessionID   string      `json:"session_id"`
	RedirectURL string      `json:"redirect_url"`
}

// ---- handlers ----

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createUpgradeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	claims := ClaimsFrom(r.Context())
	up, err := s.uc.Create(r.Context(), claims.Subject, req.RecipientID, model.UpgradeType(req.UpgradeType))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toView(up))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	up, ok := s.loadVisible(w, r)
	if !ok {
		return
	}
	v := toView(up)
	url, found, err := s.uc.ReceiptURL(r.Context(), up.ID)
	if err != nil {
		// receipt is optional in this view
		logging.With(r.Context(), s.log).Warn().Err(err).Str("upgrade_id", up.ID).Msg("receipt lookup failed")
	} else if found {
		v.ReceiptURL = url
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	up, ok := s.loadVisible(w, r)
	if !ok {
		return
	}
	claims := ClaimsFrom(r.Context())
	if up.PurchaserID != claims.Subject && !claims.IsAdmin() {
		writeError(w, http.StatusForbidden, "only the purchaser can pay for an upgrade")
		return
	}
	up, sess, err := s.uc.CreateCheckout(r.Context(), up.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Upgrade: toView(up), SessionID: sess.ID, RedirectURL: sess.URL})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	up, err := s.uc.Refund(r.Context(), chi.URLParam(r, "id"), claims.Subject)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(up))
}

func (s *Server) handleListForUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	claims := ClaimsFrom(r.Context())
	if userID != claims.Subject && !claims.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	ups, err := s.uc.ListForUser(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]upgradeView, 0, len(ups))
	for _, u := range ups {
		items = append(items, toView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	up, err := s.uc.ConfirmCheckout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("return confirmation failed")
		code := statusFor(err)
		msg := "We could not confirm your payment yet. It will be applied automatically once the provider settles it."
		if code == http.StatusNotFound {
			msg = "Unknown upgrade."
		}
		renderReturn(w, code, false, msg)
		return
	}
	if up.Status == model.UpgradeStatusComplete || up.Status == model.UpgradeStatusRefunded {
		renderReturn(w, http.StatusOK, true, "Your "+up.TargetLevel().String()+" upgrade is active.")
		return
	}
	renderReturn(w, http.StatusOK, false, "Your payment is still processing. The upgrade will be applied once it clears.")
}

// loadVisible fetches the upgrade if the caller is its purchaser, its recipient or an admin.
func (s *Server) loadVisible(w http.ResponseWriter, r *http.Request) (*model.UserUpgrade, bool) {
	up, err := s.uc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	c := ClaimsFrom(r.Context())
	if c.Subject != up.PurchaserID && c.Subject != up.RecipientID && !c.IsAdmin() {
		// hide existence from strangers
		writeError(w, http.StatusNotFound, domain.ErrUpgradeNotFound.Error())
		return nil, false
	}
	return up, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, code, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUpgradeNotFound), errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidUpgrade),
		errors.Is(err, domain.ErrMissingEmail), errors.Is(err, domain.ErrMissingSession),
		errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrLocked), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

var returnPage = template.Must(template.New("return").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>Upgrade {{if .OK}}Complete{{else}}Status{{end}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .wait{color:#8a5a00}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}wait{{end}}">{{if .OK}}Upgrade complete{{else}}Payment received{{end}}</h2>
  <p>{{.Msg}}</p>
</div>
</body>
</html>`))

func renderReturn(w http.ResponseWriter, code int, ok bool, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = returnPage.Execute(w, struct {
		OK  bool
		Msg string
	}{OK: ok, Msg: msg})
}
