// Package apperr defines the error taxonomy shared by the sync engine,
// the provider clients and the HTTP layer.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAuthenticationFailed = errors.New("shipping provider authentication failed")
	ErrSignatureMismatch    = errors.New("payment signature mismatch")
	// ErrDuplicate is soft: the shipping order already exists.
	ErrDuplicate = errors.New("shipping order already exists")
	ErrConflict  = errors.New("concurrent update conflict")
	ErrThrottled = errors.New("write dropped: request budget exhausted")
)

// ValidationError lists required fields that were missing or malformed.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// Validation builds a ValidationError naming the given fields.
func Validation(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// Invalid builds a ValidationError with a free-form message.
func Invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ProviderError is a non-success answer from an external API.
// Message is already summarized and safe to show to callers.
type ProviderError struct {
	Operation  string
	Message    string
	StatusCode int
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed (%d): %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Retryable reports whether another attempt may succeed.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusUnauthorized || e.StatusCode >= 500
}

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	var ve *ValidationError
	var pe *ProviderError
	switch {
	case err == nil, errors.Is(err, ErrDuplicate):
		return http.StatusOK
	case errors.As(err, &ve), errors.Is(err, ErrSignatureMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrThrottled):
		return http.StatusTooManyRequests
	case errors.As(err, &pe), errors.Is(err, ErrAuthenticationFailed):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// PublicMessage is the human readable text returned to API callers.
// Unknown errors collapse to a generic message.
func PublicMessage(err error) string {
	var ve *ValidationError
	var pe *ProviderError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &pe):
		return pe.Error()
	case errors.Is(err, ErrAuthenticationFailed):
		return ErrAuthenticationFailed.Error()
	case errors.Is(err, ErrSignatureMismatch), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicate), errors.Is(err, ErrConflict), errors.Is(err, ErrThrottled):
		return err.Error()
	}
	return "internal error"
}

const maxSummary = 200

// Provider builds a ProviderError from a non-success response. Only the
// provider's own message field is kept; the raw body is never echoed.
func Provider(op string, status int, body []byte) *ProviderError {
	return &ProviderError{Operation: op, StatusCode: status, Message: summarize(status, body)}
}

func summarize(status int, body []byte) string {
	var doc map[string]any
	msg := ""
	if json.Unmarshal(body, &doc) == nil {
		msg = messageOf(doc)
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = "unexpected response"
	}
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > maxSummary {
		msg = msg[:maxSummary] + "..."
	}
	return msg
}

func messageOf(doc map[string]any) string {
	if s, ok := doc["message"].(string); ok && s != "" {
		return s
	}
	switch e := doc["error"].(type) {
	case string:
		return e
	case map[string]any:
		for _, k := range []string{"description", "message", "reason"} {
			if s, ok := e[k].(string); ok && s != "" {
				return s
			}
		}
	}
	if errs, ok := doc["errors"].(map[string]any); ok {
		keys := make([]string, 0, len(errs))
		for k := range errs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch v := errs[k].(type) {
			case string:
				return k + ": " + v
			case []any:
				if len(v) > 0 {
					if s, ok := v[0].(string); ok {
						return k + ": " + s
					}
				}
			}
		}
	}
	return ""
}
