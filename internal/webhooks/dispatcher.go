// Package webhooks verifies and routes inbound provider callbacks.
package webhooks

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"ordersync/internal/apperr"
	"ordersync/internal/metrics"
	"ordersync/internal/model"
)

// Shipping provider event tags.
const (
	EventOrderCreated       = "order.created"
	EventOrderUpdated       = "order.updated"
	EventAWBAssigned        = "awb.assigned"
	EventShipmentDispatched = "shipment.dispatched"
	EventShipmentDelivered  = "shipment.delivered"
	EventShipmentFailed     = "shipment.failed"
	EventTrackingUpdated    = "tracking.updated"
)

// Handlers receive one call per recognized event.
type Handlers interface {
	OrderCreated(ctx context.Context, ev model.ShippingEvent) error
	OrderUpdated(ctx context.Context, ev model.ShippingEvent) error
	AWBAssigned(ctx context.Context, ev model.ShippingEvent) error
	ShipmentDispatched(ctx context.Context, ev model.ShippingEvent) error
	ShipmentDelivered(ctx context.Context, ev model.ShippingEvent) error
	ShipmentFailed(ctx context.Context, ev model.ShippingEvent) error
	TrackingUpdated(ctx context.Context, ev model.ShippingEvent) error
}

// Outcome of a dispatch. Every outcome is acknowledged to the provider.
type Outcome string

const (
	Applied Outcome = "applied"
	Ignored Outcome = "ignored"
	Failed  Outcome = "failed"
)

type handlerFunc func(context.Context, model.ShippingEvent) error

// Dispatcher routes provider events to their handler.
type Dispatcher struct {
	routes map[string]handlerFunc
	log    *zap.Logger
	now    func() time.Time
}

func NewDispatcher(h Handlers, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		routes: map[string]handlerFunc{
			EventOrderCreated:       h.OrderCreated,
			EventOrderUpdated:       h.OrderUpdated,
			EventAWBAssigned:        h.AWBAssigned,
			EventShipmentDispatched: h.ShipmentDispatched,
			EventShipmentDelivered:  h.ShipmentDelivered,
			EventShipmentFailed:     h.ShipmentFailed,
			EventTrackingUpdated:    h.TrackingUpdated,
		},
		log: log,
		now: time.Now,
	}
}

// Events lists the recognized tags.
func (d *Dispatcher) Events() []string {
	return []string{
		EventOrderCreated, EventOrderUpdated, EventAWBAssigned,
		EventShipmentDispatched, EventShipmentDelivered, EventShipmentFailed,
		EventTrackingUpdated,
	}
}

// Decode parses a provider callback body and stamps its receipt time.
func (d *Dispatcher) Decode(body []byte) (model.ShippingEvent, error) {
	var ev model.ShippingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return model.ShippingEvent{}, apperr.Invalid("malformed webhook body")
	}
	ev.Type = strings.TrimSpace(ev.Type)
	if ev.Type == "" {
		return model.ShippingEvent{}, apperr.Validation("event")
	}
	ev.ReceivedAt = d.now()
	return ev, nil
}

// Dispatch runs the handler for ev. Unknown tags and handler failures are
// logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.ShippingEvent) Outcome {
	log := d.log.With(
		zap.String("event", ev.Type),
		zap.String("shipping_order_id", ev.Data.ShippingOrderID()))
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = d.now()
	}
	h, ok := d.routes[ev.Type]
	if !ok {
		log.Warn("unknown webhook event acknowledged")
		metrics.WebhookEvents.WithLabelValues("unknown", string(Ignored)).Inc()
		return Ignored
	}
	if err := h(ctx, ev); err != nil {
		log.Error("webhook handler failed", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues(ev.Type, string(Failed)).Inc()
		return Failed
	}
	log.Info("webhook event applied")
	metrics.WebhookEvents.WithLabelValues(ev.Type, string(Applied)).Inc()
	return Applied
}
