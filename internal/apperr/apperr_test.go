package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrDuplicate, http.StatusOK},
		{Validation("billing_city"), http.StatusBadRequest},
		{fmt.Errorf("save: %w", ErrSignatureMismatch), http.StatusBadRequest},
		{fmt.Errorf("order x: %w", ErrNotFound), http.StatusNotFound},
		{&ProviderError{Operation: "create_order", Message: "boom", StatusCode: 502}, http.StatusInternalServerError},
		{fmt.Errorf("%w: bad creds", ErrAuthenticationFailed), http.StatusInternalServerError},
		{ErrThrottled, http.StatusTooManyRequests},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestPublicMessageHidesUnknownErrors(t *testing.T) {
	if got := PublicMessage(errors.New("dial tcp 10.0.0.1: password=hunter2")); got != "internal error" {
		t.Fatalf("leaked: %q", got)
	}
	got := PublicMessage(fmt.Errorf("wrap: %w", Validation("billing_city", "billing_state")))
	if got != "missing required fields: billing_city, billing_state" {
		t.Fatalf("got %q", got)
	}
}

func TestProviderErrorRetryable(t *testing.T) {
	if !(&ProviderError{StatusCode: 503}).Retryable() {
		t.Fatal("5xx should retry")
	}
	if (&ProviderError{StatusCode: 422}).Retryable() {
		t.Fatal("422 should not retry")
	}
	if !(&ProviderError{}).Retryable() {
		t.Fatal("transport errors should retry")
	}
}

func TestProviderSummarizesBody(t *testing.T) {
	pe := Provider("create_order", 422, []byte(`{"message":"Pincode not serviceable","request":{"password":"x"}}`))
	if pe.Message != "Pincode not serviceable" {
		t.Fatalf("message: %q", pe.Message)
	}
	pe = Provider("create_order", 422, []byte(`{"errors":{"billing_phone":["The billing phone must be 10 digits."]}}`))
	if pe.Message != "billing_phone: The billing phone must be 10 digits." {
		t.Fatalf("errors map: %q", pe.Message)
	}
	pe = Provider("payment_lookup", 400, []byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`))
	if pe.Message != "The id provided does not exist" {
		t.Fatalf("nested error: %q", pe.Message)
	}
	pe = Provider("login", 502, []byte(`<html>bad gateway</html>`))
	if pe.Message != "Bad Gateway" {
		t.Fatalf("non-json: %q", pe.Message)
	}
}
