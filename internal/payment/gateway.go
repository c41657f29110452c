package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"ordersync/internal/apperr"
	"ordersync/internal/buildinfo"
	"ordersync/internal/metrics"
	"ordersync/internal/webhooks"
)

type GatewayOptions struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	Currency   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Gateway is the payment gateway REST client. Calls are made once, bounded
// by the timeout; order creation is not safe to repeat.
type Gateway struct {
	opts GatewayOptions
	hc   *http.Client
	log  *zap.Logger
}

func NewGateway(opts GatewayOptions, log *zap.Logger) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{opts: opts, hc: hc, log: log}
}

// Notes are free-form key/value pairs. The gateway encodes an empty set as [].
type Notes map[string]string

func (n *Notes) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		*n = nil
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Notes, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	*n = out
	return nil
}

type CreateOrderRequest struct {
	Amount   int64  `json:"amount"` // minor units
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
	Notes    Notes  `json:"notes,omitempty"`
}

type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
	Notes    Notes  `json:"notes"`
}

type Payment struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Method    string `json:"method"`
	Captured  bool   `json:"captured"`
	Email     string `json:"email,omitempty"`
	Contact   string `json:"contact,omitempty"`
	Notes     Notes  `json:"notes"`
	CreatedAt int64  `json:"created_at"`
}

// BusinessOrderID is the storefront order id carried in the notes, or the
// gateway order id when the notes do not name one.
func (p Payment) BusinessOrderID() string {
	if id := p.Notes["order_id"]; id != "" {
		return id
	}
	return p.OrderID
}

// MinorUnits converts a major-unit amount (rupees) to minor units (paise).
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func (g *Gateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, apperr.Validation("amount")
	}
	if req.Currency == "" {
		req.Currency = g.opts.Currency
	}
	var out GatewayOrder
	if err := g.do(ctx, "gateway_create_order", http.MethodPost, "/orders", req, &out); err != nil {
		return GatewayOrder{}, err
	}
	return out, nil
}

func (g *Gateway) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	var out Payment
	if err := g.do(ctx, "gateway_fetch_payment", http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return Payment{}, err
	}
	return out, nil
}

func (g *Gateway) FetchOrderPayments(ctx context.Context, gatewayOrderID string) ([]Payment, error) {
	var out struct {
		Items []Payment `json:"items"`
	}
	if err := g.do(ctx, "gateway_order_payments", http.MethodGet, "/orders/"+url.PathEscape(gatewayOrderID)+"/payments", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// PaymentStatus looks a payment up by payment id, or by gateway order id
// (order_ prefix) in which case the first payment of the order is used.
func (g *Gateway) PaymentStatus(ctx context.Context, id string) (Payment, error) {
	if !strings.HasPrefix(id, "order_") {
		return g.FetchPayment(ctx, id)
	}
	items, err := g.FetchOrderPayments(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if len(items) == 0 {
		return Payment{}, fmt.Errorf("payments for %s: %w", id, apperr.ErrNotFound)
	}
	return items[0], nil
}

func (g *Gateway) do(ctx context.Context, op, method, path string, in, out any) error {
	if g.opts.KeyID == "" || g.opts.KeySecret == "" {
		return &apperr.ProviderError{Operation: op, Message: "payment gateway credentials are not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.opts.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.SetBasicAuth(g.opts.KeyID, g.opts.KeySecret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := g.hc.Do(req)
	metrics.ProviderLatency.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(op, "error").Inc()
		msg := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
		g.log.Warn("payment gateway call failed", zap.String("operation", op), zap.Error(err))
		return &apperr.ProviderError{Operation: op, Message: msg}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(op, "error").Inc()
		return &apperr.ProviderError{Operation: op, Message: "reading response failed"}
	}
	if resp.StatusCode == http.StatusNotFound {
		metrics.ProviderCalls.WithLabelValues(op, "not_found").Inc()
		return fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ProviderCalls.WithLabelValues(op, "error").Inc()
		return apperr.Provider(op, resp.StatusCode, data)
	}
	metrics.ProviderCalls.WithLabelValues(op, "ok").Inc()
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &apperr.ProviderError{Operation: op, Message: "malformed response", StatusCode: resp.StatusCode}
	}
	return nil
}

// WebhookEvent is the gateway's {event, payload} callback.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity Payment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// EventPaymentCaptured is the only gateway event acted upon.
const EventPaymentCaptured = "payment.captured"

// ParseWebhook verifies the body signature and decodes it. Without a
// configured secret no body is trusted.
func ParseWebhook(secret string, body []byte, signature string) (WebhookEvent, error) {
	if secret == "" {
		return WebhookEvent{}, fmt.Errorf("gateway webhook secret not configured: %w", apperr.ErrSignatureMismatch)
	}
	if !webhooks.VerifyHMAC(secret, body, signature) {
		return WebhookEvent{}, fmt.Errorf("gateway webhook: %w", apperr.ErrSignatureMismatch)
	}
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, apperr.Invalid("malformed webhook body")
	}
	if ev.Event == "" {
		return WebhookEvent{}, apperr.Validation("event")
	}
	return ev, nil
}
