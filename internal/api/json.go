package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"ordersync/internal/apperr"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Data    any      `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

func writeCreated(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: message, Data: data})
}

// writeError maps err onto a status and a message safe to show callers.
func writeError(w http.ResponseWriter, err error) {
	env := envelope{Success: false, Message: apperr.PublicMessage(err), Error: errorCode(err)}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		env.Fields = ve.Fields
	}
	writeJSON(w, apperr.HTTPStatus(err), env)
}

func errorCode(err error) string {
	var ve *apperr.ValidationError
	var pe *apperr.ProviderError
	switch {
	case errors.As(err, &ve):
		return "validation_failed"
	case errors.Is(err, apperr.ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrThrottled):
		return "throttled"
	case errors.Is(err, apperr.ErrAuthenticationFailed):
		return "provider_auth_failed"
	case errors.As(err, &pe):
		return "provider_error"
	}
	return "internal"
}

const maxBody = 1 << 20

// decodeJSON reads a JSON request body into v. An empty body leaves v
// untouched when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	case errors.Is(err, io.EOF):
		return apperr.Invalid("request body is required")
	}
	return apperr.Invalid("invalid JSON body")
}
