package api

import (
	"net/http"
	"strings"

	"ordersync/internal/webhooks"
)

// admin guards operator endpoints with the configured admin token, sent as
// "Authorization: Bearer <token>" or X-Admin-Token. An empty configured
// token leaves the endpoints open.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !webhooks.VerifyToken(s.cfg.Admin.Token, adminToken(r)) {
			writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "admin token required", Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}

func adminToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("Bearer "):])
	}
	if t := r.Header.Get("X-Admin-Token"); t != "" {
		return t
	}
	// Browsers cannot set headers on EventSource or WebSocket requests.
	return r.URL.Query().Get("token")
}
