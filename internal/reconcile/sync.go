package reconcile

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"ordersync/internal/apperr"
	"ordersync/internal/events"
	"ordersync/internal/metrics"
	"ordersync/internal/model"
	"ordersync/internal/shipping"
	"ordersync/internal/store"
)

// Sync triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerStartup   = "startup"
)

// RefreshResult is the per-order outcome of a refresh.
type RefreshResult struct {
	OrderID string   `json:"orderId"`
	Changed []string `json:"changed,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// RefreshOrders pulls provider detail for each order and applies what
// changed. One order failing does not stop the others.
func (e *Engine) RefreshOrders(ctx context.Context, orderIDs []string) []RefreshResult {
	out := make([]RefreshResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		res := RefreshResult{OrderID: id}
		o, err := e.store.GetOrderByOrderID(ctx, id)
		if err == nil {
			res.Changed, err = e.refresh(ctx, o)
		}
		if err != nil {
			res.Error = apperr.PublicMessage(err)
			e.log.Warn("order refresh failed", zap.String("order_id", id), zap.Error(err))
		}
		out = append(out, res)
	}
	return out
}

// refresh fetches outside the order lock so a webhook landing meanwhile is
// not blocked; field versions decide which write wins.
func (e *Engine) refresh(ctx context.Context, o model.Order) ([]string, error) {
	if o.ShippingOrderID == nil {
		return nil, apperr.Invalid("order %s has no shipping order", o.OrderID)
	}
	detail, err := e.shipper.GetOrderDetail(ctx, *o.ShippingOrderID)
	if err != nil {
		return nil, err
	}
	at := detail.FetchedAt
	if at.IsZero() {
		at = e.now()
	}
	unlock := e.locks.Lock(o.OrderID)
	defer unlock()
	fresh, err := e.store.GetOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	_, changed, err := e.applyMirror(ctx, fresh, detail.Mirror(), at)
	return changed, err
}

// Sync runs one reconciliation pass. Per-order failures are counted and
// logged; they never abort the pass, and neither does caller cancellation.
func (e *Engine) Sync(ctx context.Context, trigger string) model.SyncRun {
	ctx = context.WithoutCancel(ctx)
	run := model.SyncRun{Trigger: trigger, StartedAt: e.now()}
	log := e.log.With(zap.String("trigger", trigger))

	tracked, err := e.store.QueryOrders(ctx, store.NotNull(model.FieldShippingOrderID))
	if err != nil {
		log.Error("listing tracked orders failed", zap.Error(err))
		run.Errors++
	}
	run.OrdersScanned = len(tracked)

	for _, o := range tracked {
		changed, err := e.refresh(ctx, o)
		switch {
		case err != nil:
			run.Errors++
			metrics.SyncOrders.WithLabelValues("error").Inc()
			log.Warn("order sync failed", zap.String("order_id", o.OrderID), zap.Error(err))
		case len(changed) > 0:
			run.Updated++
			metrics.SyncOrders.WithLabelValues("updated").Inc()
		default:
			metrics.SyncOrders.WithLabelValues("unchanged").Inc()
		}
	}

	for _, o := range tracked {
		if assigned, err := e.autoAssign(ctx, o.ID); err != nil {
			run.Errors++
			metrics.SyncOrders.WithLabelValues("error").Inc()
			log.Warn("waybill assignment failed", zap.String("order_id", o.OrderID), zap.Error(err))
		} else if assigned {
			run.WaybillsAssigned++
			metrics.SyncOrders.WithLabelValues("waybill").Inc()
		}
	}

	created, errs := e.discover(ctx, log)
	run.Created += created
	run.Errors += errs

	run.FinishedAt = e.now()
	outcome := "ok"
	if run.Errors > 0 {
		outcome = "errors"
	}
	metrics.SyncRuns.WithLabelValues(trigger, outcome).Inc()
	metrics.SyncDuration.Observe(run.Duration().Seconds())
	log.Info("sync completed",
		zap.Int("scanned", run.OrdersScanned),
		zap.Int("updated", run.Updated),
		zap.Int("created", run.Created),
		zap.Int("waybills", run.WaybillsAssigned),
		zap.Int("errors", run.Errors),
		zap.Duration("duration", run.Duration()))
	events.Emit(e.broker, events.New(events.TypeSyncCompleted, "", map[string]any{
		"trigger": trigger,
		"updated": run.Updated,
		"created": run.Created,
		"errors":  run.Errors,
	}))
	return run
}

// autoAssign assigns a waybill when the order is eligible: a shipping
// order, no waybill yet, a known pincode and a live shipment.
func (e *Engine) autoAssign(ctx context.Context, id string) (bool, error) {
	o, err := e.store.GetOrder(ctx, id)
	if err != nil {
		return false, err
	}
	if o.WaybillCode != "" || o.ShippingOrderID == nil || o.ShippingState().Terminal() {
		return false, nil
	}
	if _, ok := deliveryPincode(o); !ok {
		return false, nil
	}
	unlock := e.locks.Lock(o.OrderID)
	defer unlock()
	if o, err = e.store.GetOrder(ctx, id); err != nil {
		return false, err
	}
	_, assigned, err := e.assignWaybill(ctx, o)
	return assigned, err
}

// discover materializes provider orders that have no local record, and
// reattaches provider ids to local orders that lost them between the
// provider call and the write.
func (e *Engine) discover(ctx context.Context, log *zap.Logger) (created, errs int) {
	remote, err := e.shipper.ListAllOrders(ctx)
	if err != nil {
		log.Warn("listing provider orders failed", zap.Error(err))
		return 0, 1
	}
	for _, s := range remote {
		if s.ID == "" {
			continue
		}
		ok, err := e.materialize(ctx, s, model.SourceDiscovered)
		if err != nil {
			errs++
			metrics.SyncOrders.WithLabelValues("error").Inc()
			log.Warn("materializing provider order failed", zap.String("shipping_order_id", s.ID), zap.Error(err))
			continue
		}
		if ok {
			created++
			metrics.SyncOrders.WithLabelValues("discovered").Inc()
		}
	}
	return created, errs
}

// materialize reports whether a record was created or repaired.
func (e *Engine) materialize(ctx context.Context, s shipping.OrderSummary, source string) (bool, error) {
	businessID := s.ChannelOrderID
	if businessID == "" {
		businessID = s.ID
	}
	unlock := e.locks.Lock(businessID)
	defer unlock()

	known, err := e.store.QueryOrders(ctx, store.Eq(model.FieldShippingOrderID, s.ID))
	if err != nil {
		return false, err
	}
	if len(known) > 0 {
		return false, nil
	}

	local, err := e.store.GetOrderByOrderID(ctx, businessID)
	switch {
	case err == nil:
		if local.ShippingOrderID != nil {
			return false, nil
		}
		shipmentID := s.ShipmentID
		if shipmentID == "" {
			shipmentID = s.ID
		}
		_, err = e.store.UpdateOrder(ctx, local.ID, model.OrderPatch{
			ShippingOrderID:        model.Ptr(s.ID),
			ShipmentID:             model.Ptr(shipmentID),
			ShippingCreated:        model.Ptr(true),
			ShippingStatus:         model.Ptr(model.ShippingCreated),
			ShippingLastError:      model.Ptr(""),
			RequireNoShippingOrder: true,
		})
		if errors.Is(err, store.ErrConflict) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		e.log.Info("shipping order reattached", zap.String("order_id", businessID), zap.String("shipping_order_id", s.ID))
		events.Emit(e.broker, events.New(events.TypeShippingCreated, businessID, map[string]any{"shippingOrderId": s.ID, "repaired": true}))
		return true, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return false, err
	}

	o, err := e.store.CreateOrder(ctx, discoveredRecord(businessID, s, source))
	if errors.Is(err, store.ErrOrderExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.log.Info("provider order discovered",
		zap.String("order_id", o.OrderID),
		zap.String("shipping_order_id", s.ID),
		zap.String("source", source))
	events.Emit(e.broker, events.New(events.TypeOrderDiscovered, o.OrderID, map[string]any{"shippingOrderId": s.ID, "source": source}))
	return true, nil
}

func discoveredRecord(businessID string, s shipping.OrderSummary, source string) model.Order {
	shipmentID := s.ShipmentID
	if shipmentID == "" {
		shipmentID = s.ID
	}
	o := model.Order{
		OrderID:         businessID,
		CartItems:       []model.CartItem{},
		Status:          model.StatusNew,
		Source:          source,
		ShippingOrderID: model.Ptr(s.ID),
		ShipmentID:      shipmentID,
		ShippingCreated: true,
		ShippingStatus:  s.Status,
		WaybillCode:     s.WaybillCode,
		CourierName:     s.CourierName,
	}
	if o.ShippingStatus == "" {
		o.ShippingStatus = model.ShippingCreated
	}
	if total, err := strconv.ParseFloat(strings.ReplaceAll(s.Total, ",", ""), 64); err == nil {
		o.Amount = total
	}
	if s.CustomerName != "" || s.CustomerEmail != "" || s.CustomerPhone != "" || s.Pincode != "" {
		o.CustomerInfo = &model.CustomerInfo{
			Name:    s.CustomerName,
			Email:   s.CustomerEmail,
			Phone:   s.CustomerPhone,
			Address: model.Address{Pincode: s.Pincode},
		}
	}
	return o
}
