package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ordersync/internal/metrics"
)

// Routes returns the service handler with logging and metrics applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /openapi.json", s.OpenAPIHandler)
	mux.HandleFunc("GET /docs", s.DocsHandler)
	mux.HandleFunc("GET /debug/info", s.admin(s.DebugJSON))

	// Payments
	mux.HandleFunc("POST /v1/payments/orders", s.CreatePaymentOrderHandler)
	mux.HandleFunc("POST /v1/payments/verify", s.VerifyPaymentHandler)
	mux.HandleFunc("GET /v1/payments/status/{id}", s.PaymentStatusHandler)
	mux.HandleFunc("POST /v1/payments/webhook", s.PaymentWebhookHandler)

	// Orders
	mux.HandleFunc("POST /v1/orders", s.SaveOrderHandler)
	mux.HandleFunc("GET /v1/orders", s.ListOrdersHandler)
	mux.HandleFunc("GET /v1/orders/{orderId}", s.GetOrderHandler)
	mux.HandleFunc("POST /v1/orders/{orderId}/shipping", s.admin(s.CreateShippingHandler))
	mux.HandleFunc("POST /v1/orders/{orderId}/shipping/recover", s.admin(s.RecoverShippingHandler))
	mux.HandleFunc("POST /v1/orders/{orderId}/shipping/cancel", s.admin(s.CancelShippingHandler))
	mux.HandleFunc("POST /v1/orders/{orderId}/shipping/awb", s.admin(s.OrderWaybillHandler))

	// Shipping provider
	mux.HandleFunc("GET /v1/shipping/orders", s.admin(s.ShippingOrdersHandler))
	mux.HandleFunc("GET /v1/shipping/orders/all", s.admin(s.ShippingAllOrdersHandler))
	mux.HandleFunc("GET /v1/shipping/orders/{id}", s.admin(s.ShippingOrderDetailHandler))
	mux.HandleFunc("GET /v1/shipping/track/{awb}", s.TrackHandler)
	mux.HandleFunc("GET /v1/shipping/couriers", s.admin(s.CouriersHandler))
	mux.HandleFunc("POST /v1/shipping/awb/assign", s.admin(s.AssignWaybillHandler))
	mux.HandleFunc("POST /v1/shipping/awb/batch-update", s.admin(s.BatchUpdateHandler))
	mux.HandleFunc("POST /v1/shipping/label", s.admin(s.LabelHandler))
	mux.HandleFunc("POST /v1/shipping/webhook", s.ShippingWebhookHandler)
	mux.HandleFunc("POST /v1/shipping/webhook/test", s.admin(s.ShippingWebhookTestHandler))

	// Sync
	mux.HandleFunc("POST /v1/sync/start", s.admin(s.SyncStartHandler))
	mux.HandleFunc("POST /v1/sync/stop", s.admin(s.SyncStopHandler))
	mux.HandleFunc("GET /v1/sync/status", s.SyncStatusHandler)
	mux.HandleFunc("POST /v1/sync/trigger", s.admin(s.SyncTriggerHandler))
	mux.HandleFunc("POST /v1/sync/frequency", s.admin(s.SyncFrequencyHandler))

	// Cart and wishlist writes
	mux.HandleFunc("POST /v1/lists/{kind}/{userId}", s.SaveListHandler)

	// Event streams
	mux.HandleFunc("GET /v1/events/stream", s.admin(s.EventStreamHandler))
	mux.HandleFunc("GET /v1/events/ws", s.admin(s.EventsWSHandler))

	return s.instrument(mux)
}
