package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ordersync/internal/apperr"
	"ordersync/internal/model"
	"ordersync/internal/webhooks"
)

func expectedSig(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyDeterministic(t *testing.T) {
	v := NewVerifier("s3cret", PolicyBlock, nil)
	sig := expectedSig("s3cret", "o1|p1")
	if !v.Verify("o1", "p1", sig) {
		t.Fatal("valid signature rejected")
	}
	if v.Sign("o1", "p1") != sig {
		t.Fatal("Sign disagrees with HMAC-SHA256 of order|payment")
	}
	for i := range sig {
		mutated := []byte(sig)
		if mutated[i] == 'a' {
			mutated[i] = 'b'
		} else {
			mutated[i] = 'a'
		}
		if v.Verify("o1", "p1", string(mutated)) {
			t.Fatalf("signature with byte %d changed still verified", i)
		}
	}
	if v.Verify("o1", "p2", sig) {
		t.Fatal("signature verified for another payment")
	}
}

func TestCheckBlockPolicy(t *testing.T) {
	v := NewVerifier("s3cret", PolicyBlock, nil)
	_, err := v.Check("VS-1", model.PaymentInfo{Method: "razorpay", GatewayOrderID: "order_1", PaymentID: "pay_1", Signature: "deadbeef"})
	if !errors.Is(err, apperr.ErrSignatureMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	out, err := v.Check("VS-1", model.PaymentInfo{GatewayOrderID: "order_1", PaymentID: "pay_1", Signature: v.Sign("order_1", "pay_1")})
	if out != Verified || err != nil {
		t.Fatalf("valid payment: %v %v", out, err)
	}
}

func TestCheckFallsBackToBusinessOrderID(t *testing.T) {
	v := NewVerifier("s3cret", PolicyBlock, nil)
	out, err := v.Check("VS-1001", model.PaymentInfo{PaymentID: "pay_1", Signature: v.Sign("VS-1001", "pay_1")})
	if out != Verified || err != nil {
		t.Fatalf("expected verification against business id: %v %v", out, err)
	}
}

func TestCheckWarnPolicyLogsOrderID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	v := NewVerifier("s3cret", PolicyWarn, zap.New(core))
	if logs.FilterField(zap.String("policy", "warn")).Len() != 1 {
		t.Fatalf("policy choice not logged: %v", logs.All())
	}
	out, err := v.Check("VS-9", model.PaymentInfo{PaymentID: "pay_9", Signature: "bad"})
	if out != MismatchAllowed || !out.Confirms() || err != nil {
		t.Fatalf("warn policy should proceed unverified: %v %v", out, err)
	}
	if logs.FilterField(zap.String("order_id", "VS-9")).Len() != 1 {
		t.Fatalf("mismatch not logged with order id: %v", logs.All())
	}
}

func TestCheckSkipsCOD(t *testing.T) {
	v := NewVerifier("s3cret", PolicyBlock, nil)
	out, err := v.Check("VS-2", model.PaymentInfo{Method: "COD", Signature: "whatever"})
	if out != CashOnDelivery || err != nil {
		t.Fatalf("cod: %v %v", out, err)
	}
	out, _ = v.Check("VS-3", model.PaymentInfo{Method: "razorpay"})
	if out != NoProof || out.Confirms() {
		t.Fatalf("missing proof: %v", out)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, _ := ParsePolicy(""); p != PolicyBlock {
		t.Fatalf("default policy: %q", p)
	}
	if p, _ := ParsePolicy(" WARN "); p != PolicyWarn {
		t.Fatalf("warn: %q", p)
	}
	if _, err := ParsePolicy("ignore"); err == nil {
		t.Fatal("unknown policy accepted")
	}
}

func TestGatewayCreateOrderAndLookup(t *testing.T) {
	var created CreateOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "rzp_key" || p != "rzp_secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v1/orders":
			_ = json.NewDecoder(r.Body).Decode(&created)
			_, _ = w.Write([]byte(`{"id":"order_abc","amount":499900,"currency":"INR","receipt":"VS-1001","status":"created","notes":[]}`))
		case "/v1/payments/pay_1":
			_, _ = w.Write([]byte(`{"id":"pay_1","order_id":"order_abc","amount":499900,"status":"captured","notes":{"order_id":"VS-1001"}}`))
		case "/v1/orders/order_abc/payments":
			_, _ = w.Write([]byte(`{"count":1,"items":[{"id":"pay_1","order_id":"order_abc","status":"captured"}]}`))
		case "/v1/orders/order_none/payments":
			_, _ = w.Write([]byte(`{"count":0,"items":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"description":"The id provided does not exist"}}`))
		}
	}))
	defer srv.Close()

	g := NewGateway(GatewayOptions{BaseURL: srv.URL + "/v1", KeyID: "rzp_key", KeySecret: "rzp_secret"}, nil)
	ctx := context.Background()

	o, err := g.CreateOrder(ctx, CreateOrderRequest{Amount: MinorUnits(4999), Receipt: "VS-1001"})
	if err != nil || o.ID != "order_abc" {
		t.Fatalf("create: %+v %v", o, err)
	}
	if created.Amount != 499900 || created.Currency != "INR" {
		t.Fatalf("request: %+v", created)
	}

	p, err := g.PaymentStatus(ctx, "pay_1")
	if err != nil || p.Status != "captured" || p.BusinessOrderID() != "VS-1001" {
		t.Fatalf("payment: %+v %v", p, err)
	}
	p, err = g.PaymentStatus(ctx, "order_abc")
	if err != nil || p.ID != "pay_1" {
		t.Fatalf("by order: %+v %v", p, err)
	}
	if _, err := g.PaymentStatus(ctx, "order_none"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("empty order: %v", err)
	}
	if _, err := g.PaymentStatus(ctx, "pay_missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing payment: %v", err)
	}
	if _, err := g.CreateOrder(ctx, CreateOrderRequest{}); err == nil {
		t.Fatal("zero amount accepted")
	}
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_7","order_id":"order_7","notes":{"order_id":"VS-7"}}}}}`)
	sig := webhooks.SignHMAC("whsec", body)

	ev, err := ParseWebhook("whsec", body, sig)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Event != EventPaymentCaptured || ev.Payload.Payment.Entity.BusinessOrderID() != "VS-7" {
		t.Fatalf("event: %+v", ev)
	}
	if _, err := ParseWebhook("whsec", body, "00"); !errors.Is(err, apperr.ErrSignatureMismatch) {
		t.Fatalf("bad signature: %v", err)
	}
	if _, err := ParseWebhook("", body, ""); !errors.Is(err, apperr.ErrSignatureMismatch) {
		t.Fatalf("unsigned body accepted without a secret: %v", err)
	}
	if _, err := ParseWebhook("", body, sig); !errors.Is(err, apperr.ErrSignatureMismatch) {
		t.Fatalf("signed body accepted without a secret: %v", err)
	}
	empty := []byte(`{}`)
	if _, err := ParseWebhook("whsec", empty, webhooks.SignHMAC("whsec", empty)); err == nil {
		t.Fatal("event tag required")
	}
}
