package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"ordersync/internal/apperr"
	"ordersync/internal/metrics"
	"ordersync/internal/payment"
)

// CreatePaymentOrderHandler opens a gateway order for checkout. The amount
// is in major units (rupees).
func (s *Server) CreatePaymentOrderHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount   float64           `json:"amount"`
		Currency string            `json:"currency"`
		Receipt  string            `json:"receipt"`
		Notes    map[string]string `json:"notes"`
	}
	if err := decodeJSON(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if in.Amount <= 0 {
		s.fail(w, r, apperr.Validation("amount"))
		return
	}
	o, err := s.Gateway.CreateOrder(r.Context(), payment.CreateOrderRequest{
		Amount:   payment.MinorUnits(in.Amount),
		Currency: in.Currency,
		Receipt:  in.Receipt,
		Notes:    in.Notes,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "payment order created", map[string]any{
		"id":       o.ID,
		"amount":   o.Amount,
		"currency": o.Currency,
		"receipt":  o.Receipt,
		"keyId":    s.cfg.Payment.KeyID,
	})
}

// VerifyPaymentHandler checks a checkout callback signature without
// touching any order.
func (s *Server) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GatewayOrderID string `json:"razorpay_order_id"`
		PaymentID      string `json:"razorpay_payment_id"`
		Signature      string `json:"razorpay_signature"`
	}
	if err := decodeJSON(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	var missing []string
	for _, f := range [][2]string{
		{"razorpay_order_id", in.GatewayOrderID},
		{"razorpay_payment_id", in.PaymentID},
		{"razorpay_signature", in.Signature},
	} {
		if f[1] == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		s.fail(w, r, apperr.Validation(missing...))
		return
	}
	if !s.Verifier.Verify(in.GatewayOrderID, in.PaymentID, in.Signature) {
		s.fail(w, r, apperr.ErrSignatureMismatch)
		return
	}
	writeOK(w, "payment verified", map[string]any{"orderId": in.GatewayOrderID, "paymentId": in.PaymentID, "verified": true})
}

func (s *Server) PaymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.Gateway.PaymentStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "", p)
}

// PaymentWebhookHandler acts on payment.captured by confirming the order and
// creating its shipping order in-process. Other events and processing
// failures are acknowledged; only unsigned bodies are rejected, and nothing
// is accepted until a webhook secret is configured.
func (s *Server) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Payment.WebhookSecret == "" {
		metrics.WebhookEvents.WithLabelValues("payment", "rejected").Inc()
		s.log.Error("payment webhook secret not configured; event rejected")
		writeJSON(w, http.StatusServiceUnavailable, envelope{Success: false, Message: "payment webhook not configured", Error: "not_configured"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.fail(w, r, apperr.Invalid("unreadable body"))
		return
	}
	ev, err := payment.ParseWebhook(s.cfg.Payment.WebhookSecret, body, r.Header.Get("X-Razorpay-Signature"))
	if err != nil {
		if errors.Is(err, apperr.ErrSignatureMismatch) {
			metrics.WebhookEvents.WithLabelValues("payment", "rejected").Inc()
			s.log.Warn("payment webhook signature mismatch")
		}
		s.fail(w, r, err)
		return
	}
	if ev.Event != payment.EventPaymentCaptured {
		metrics.WebhookEvents.WithLabelValues(ev.Event, "ignored").Inc()
		writeOK(w, "event ignored", map[string]string{"event": ev.Event})
		return
	}
	p := ev.Payload.Payment.Entity
	res, err := s.Engine.HandlePaymentCaptured(r.Context(), p)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(ev.Event, "failed").Inc()
		s.log.Error("payment capture not applied",
			zap.String("payment_id", p.ID),
			zap.String("order_id", p.BusinessOrderID()),
			zap.Error(err))
		writeOK(w, "event acknowledged: "+strings.ToLower(apperr.PublicMessage(err)), nil)
		return
	}
	metrics.WebhookEvents.WithLabelValues(ev.Event, "applied").Inc()
	writeOK(w, "payment captured", res)
}
