package api

import (
	"net/http"
	"time"

	"ordersync/internal/buildinfo"
	"ordersync/internal/shipping"
)

// DebugJSON reports build info and the non-secret parts of the running
// configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.cfg
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":             c.Port,
			"logLevel":         c.Log.Level,
			"hasDatabaseUrl":   c.Database.URL != "",
			"hasRedisUrl":      c.Redis.URL != "",
			"hasAdminToken":    c.Admin.Token != "",
			"shippingBaseUrl":  c.Shipping.BaseURL,
			"pickupLocation":   c.Shipping.PickupLocation,
			"pickupPincode":    c.Shipping.PickupPincode,
			"shippingRetries":  c.Shipping.Retries,
			"hasWebhookToken":  c.Shipping.WebhookToken != "",
			"paymentBaseUrl":   c.Payment.BaseURL,
			"signaturePolicy":  c.Payment.SignaturePolicy,
			"hasWebhookSecret": c.Payment.WebhookSecret != "",
			"syncFrequency":    c.Sync.Frequency.String(),
			"throttleLimit":    c.Throttle.Limit,
			"throttleWindow":   c.Throttle.Window.String(),
			"tokenExpiry":      s.tokenExpiry(),
		},
		"sync": s.Scheduler.Status(),
	})
}

func (s *Server) tokenExpiry() string {
	c, ok := s.Shipping.(interface{ Tokens() *shipping.TokenCache })
	if !ok {
		return ""
	}
	if exp := c.Tokens().Expiry(); !exp.IsZero() {
		return exp.UTC().Format(time.RFC3339)
	}
	return ""
}
