package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"membership-upgrade/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*ZarinPalGateway)(nil)

const (
	zarinpalCodeOK              = 100
	zarinpalCodeAlreadyVerified = 101
	zarinpalCodeSessionNotPaid  = -51
	zarinpalDefaultGraphQL      = "https://api.zarinpal.com/api/v4/graphql"
	zarinpalDefaultBase         = "https://api.zarinpal.com/pg/v4"
	zarinpalSandboxBase         = "https://sandbox.zarinpal.com/pg/v4"
	zarinpalDefaultStartPay     = "https://www.zarinpal.com/pg/StartPay/"
	zarinpalSandboxStartPay     = "https://sandbox.zarinpal.com/pg/StartPay/"
)

// ZarinPalGateway implements adapter.PaymentGateway using REST v4 for request/verify
// and GraphQL v4 for refunds. Sessions are ZarinPal authorities.
type ZarinPalGateway struct {
	merchantID      string
	client          *http.Client
	accessToken     string // OAuth2 access token (GraphQL)
	baseURL         string
	startPayURL     string
	graphqlEndpoint string
}

func NewZarinPalGateway(merchantID string, sandbox bool) (*ZarinPalGateway, error) {
	if merchantID == "" {
		return nil, errors.New("merchant id empty")
	}
	z := &ZarinPalGateway{
		merchantID:      merchantID,
		client:          &http.Client{Timeout: 15 * time.Second},
		baseURL:         zarinpalDefaultBase,
		startPayURL:     zarinpalDefaultStartPay,
		graphqlEndpoint: zarinpalDefaultGraphQL,
	}
	if sandbox {
		z.baseURL = zarinpalSandboxBase
		z.startPayURL = zarinpalSandboxStartPay
	}
	return z, nil
}

// SetRefundAuth configures the OAuth token and optionally the GraphQL endpoint for refunds.
func (z *ZarinPalGateway) SetRefundAuth(accessToken, graphqlEndpoint string) {
	z.accessToken = accessToken
	if graphqlEndpoint != "" {
		z.graphqlEndpoint = graphqlEndpoint
	}
}

// SetEndpoints overrides the REST base and StartPay prefix.
func (z *ZarinPalGateway) SetEndpoints(baseURL, startPayURL string) {
	if baseURL != "" {
		z.baseURL = baseURL
	}
	if startPayURL != "" {
		z.startPayURL = startPayURL
	}
}

func (z *ZarinPalGateway) Name() string { return "zarinpal" }

type zarinpalEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type zarinpalError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// post sends payload and decodes the data member into out. Errors are returned
// with the provider code when ZarinPal reports one.
func (z *ZarinPalGateway) post(ctx context.Context, path string, payload any, out any) (int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := z.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var env zarinpalEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return 0, fmt.Errorf("zarinpal %s: decode: %w", path, err)
	}
	// errors is [] on success and an object on failure
	if len(env.Errors) > 0 && env.Errors[0] == '{' {
		var ze zarinpalError
		if err := json.Unmarshal(env.Errors, &ze); err != nil {
			return 0, fmt.Errorf("zarinpal %s: decode errors: %w", path, err)
		}
		return ze.Code, fmt.Errorf("zarinpal %s: code %d: %s", path, ze.Code, ze.Message)
	}
	if len(env.Data) == 0 || env.Data[0] != '{' {
		return 0, fmt.Errorf("zarinpal %s: empty data (http %d)", path, resp.StatusCode)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return 0, fmt.Errorf("zarinpal %s: decode data: %w", path, err)
	}
	return 0, nil
}

// CreateSession calls /payment/request.json; the authority is the session id.
func (z *ZarinPalGateway) CreateSession(ctx context.Context, req adapter.CheckoutRequest) (adapter.CheckoutSession, error) {
	meta := map[string]any{"order_id": req.ReferenceID}
	if req.CustomerEmail != "" {
		meta["email"] = req.CustomerEmail
	}
	payload := map[string]any{
		"merchant_id":  z.merchantID,
		"amount":       req.Amount,
		"description":  req.Description,
		"callback_url": req.SuccessURL,
		"metadata":     meta,
	}
	if req.Currency != "" {
		payload["currency"] = req.Currency
	}
	var out struct {
		Code      int    `json:"code"`
		Authority string `json:"authority"`
	}
	if _, err := z.post(ctx, "/payment/request.json", payload, &out); err != nil {
		return adapter.CheckoutSession{}, err
	}
	if out.Code != zarinpalCodeOK || out.Authority == "" {
		return adapter.CheckoutSession{}, fmt.Errorf("zarinpal request failed: code %d", out.Code)
	}
	return adapter.CheckoutSession{
		ID:            out.Authority,
		URL:           z.startPayURL + out.Authority,
		CustomerEmail: req.CustomerEmail,
	}, nil
}

// PaymentStatus verifies the authority. ZarinPal settles on verify, so a
// successful (or repeated) verification is "paid" and -51 is "unpaid".
func (z *ZarinPalGateway) PaymentStatus(ctx context.Context, sessionID string, expectedAmount int64) (adapter.PaymentStatus, error) {
	payload := map[string]any{
		"merchant_id": z.merchantID,
		"amount":      expectedAmount,
		"authority":   sessionID,
	}
	var out struct {
		Code  int   `json:"code"`
		RefID int64 `json:"ref_id"`
	}
	code, err := z.post(ctx, "/payment/verify.json", payload, &out)
	if code == zarinpalCodeSessionNotPaid {
		return adapter.PaymentStatusUnpaid, nil
	}
	if err != nil {
		return "", err
	}
	switch out.Code {
	case zarinpalCodeOK, zarinpalCodeAlreadyVerified:
		if out.RefID == 0 {
			return "", errors.New("zarinpal verify returned no ref_id")
		}
		return adapter.PaymentStatusPaid, nil
	default:
		return adapter.PaymentStatusUnpaid, nil
	}
}

// ReceiptURL is always empty; ZarinPal has no hosted receipts.
func (z *ZarinPalGateway) ReceiptURL(ctx context.Context, sessionID string) (string, error) {
	return "", nil
}

// Refund issues a card refund through the GraphQL AddRefund mutation.
func (z *ZarinPalGateway) Refund(ctx context.Context, sessionID string, amount int64) (adapter.RefundResult, error) {
	if z.accessToken == "" {
		return adapter.RefundResult{}, errors.New("zarinpal refund requires access token: configure payment.zarinpal.access_token")
	}
	reqBody := struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}{
		Query: `mutation AddRefund($session_id: ID!, $amount: BigInteger!, $description: String, $method: InstantPayoutActionTypeEnum, $reason: RefundReasonEnum) {
  resource: AddRefund(session_id: $session_id, amount: $amount, description: $description, method: $method, reason: $reason) {
    id
    amount
    timeline { refund_amount refund_time refund_status }
  }
}`,
		Variables: map[string]any{
			"session_id":  sessionID,
			"amount":      amount,
			"description": "membership upgrade refund",
			"method":      "CARD",
			"reason":      "CUSTOMER_REQUEST",
		},
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return adapter.RefundResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, z.graphqlEndpoint, bytes.NewReader(b))
	if err != nil {
		return adapter.RefundResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+z.accessToken)

	resp, err := z.client.Do(httpReq)
	if err != nil {
		return adapter.RefundResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapter.RefundResult{}, fmt.Errorf("refund http %d", resp.StatusCode)
	}
	var out struct {
		Data struct {
			Resource struct {
				ID       string `json:"id"`
				Amount   int64  `json:"amount"`
				Timeline struct {
					RefundAmount int64  `json:"refund_amount"`
					RefundTime   string `json:"refund_time"`
					RefundStatus string `json:"refund_status"`
				} `json:"timeline"`
			} `json:"resource"`
		} `json:"data"`
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return adapter.RefundResult{}, err
	}
	if len(out.Errors) > 0 && string(out.Errors) != "null" && string(out.Errors) != "[]" {
		return adapter.RefundResult{}, fmt.Errorf("refund gql error: %s", out.Errors)
	}
	var rt time.Time
	if t := out.Data.Resource.Timeline.RefundTime; t != "" {
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			rt = parsed
		}
	}
	amt := out.Data.Resource.Timeline.RefundAmount
	if amt == 0 {
		amt = out.Data.Resource.Amount
	}
	return adapter.RefundResult{
		ID:     out.Data.Resource.ID,
		Status: out.Data.Resource.Timeline.RefundStatus,
		Amount: amt,
		Time:   rt,
	}, nil
}
