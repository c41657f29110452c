package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ordersync/internal/apperr"
	"ordersync/internal/model"
	"ordersync/internal/payment"
	"ordersync/internal/shipping"
	"ordersync/internal/store"
)

// locate finds the local order a provider event refers to, by provider
// order id first and then by the channel (business) order id.
func (e *Engine) locate(ctx context.Context, d model.ShippingEventData) (model.Order, error) {
	if id := d.OrderID.String(); id != "" {
		found, err := e.store.QueryOrders(ctx, store.Eq(model.FieldShippingOrderID, id))
		if err != nil {
			return model.Order{}, err
		}
		if len(found) > 0 {
			return found[0], nil
		}
	}
	if id := d.ChannelOrderID.String(); id != "" {
		return e.store.GetOrderByOrderID(ctx, id)
	}
	return model.Order{}, fmt.Errorf("shipping order %s: %w", d.ShippingOrderID(), apperr.ErrNotFound)
}

// applyEventFields writes values observed at the event's receipt time.
// Events for orders unknown locally are ignored.
func (e *Engine) applyEventFields(ctx context.Context, ev model.ShippingEvent, values map[string]string) error {
	o, err := e.locate(ctx, ev.Data)
	if errors.Is(err, apperr.ErrNotFound) {
		e.log.Info("event for unknown order ignored",
			zap.String("event", ev.Type),
			zap.String("shipping_order_id", ev.Data.ShippingOrderID()))
		return nil
	}
	if err != nil {
		return err
	}
	unlock := e.locks.Lock(o.OrderID)
	defer unlock()
	if o, err = e.store.GetOrder(ctx, o.ID); err != nil {
		return err
	}
	_, changed, err := e.applyMirror(ctx, o, values, ev.ObservedAt())
	if err != nil {
		return err
	}
	e.log.Debug("event applied", zap.String("event", ev.Type), zap.String("order_id", o.OrderID), zap.Strings("changed", changed))
	return nil
}

// OrderCreated materializes an order created directly at the provider.
// Known orders are left alone.
func (e *Engine) OrderCreated(ctx context.Context, ev model.ShippingEvent) error {
	_, err := e.locate(ctx, ev.Data)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return e.createFromEvent(ctx, ev)
}

// OrderUpdated refreshes a known order from provider detail, or creates it
// when it is unknown.
func (e *Engine) OrderUpdated(ctx context.Context, ev model.ShippingEvent) error {
	o, err := e.locate(ctx, ev.Data)
	if errors.Is(err, apperr.ErrNotFound) {
		return e.createFromEvent(ctx, ev)
	}
	if err != nil {
		return err
	}
	if o.ShippingOrderID == nil {
		return e.createFromEvent(ctx, ev)
	}
	_, err = e.refresh(ctx, o)
	return err
}

func (e *Engine) createFromEvent(ctx context.Context, ev model.ShippingEvent) error {
	id := ev.Data.OrderID.String()
	if id == "" {
		return apperr.Validation("order_id")
	}
	s := shipping.OrderSummary{
		ID:             id,
		ChannelOrderID: ev.Data.ChannelOrderID.String(),
		ShipmentID:     ev.Data.ShipmentID.String(),
		Status:         ev.Data.Status,
		WaybillCode:    ev.Data.AWBCode.String(),
		CourierName:    ev.Data.CourierName,
	}
	if detail, err := e.shipper.GetOrderDetail(ctx, id); err == nil {
		s = summaryFromDetail(detail, s)
	} else {
		e.log.Warn("order detail unavailable, using event data", zap.String("shipping_order_id", id), zap.Error(err))
	}
	_, err := e.materialize(ctx, s, model.SourceWebhook)
	return err
}

func summaryFromDetail(d shipping.OrderDetail, fallback shipping.OrderSummary) shipping.OrderSummary {
	s := fallback
	if d.OrderID != "" {
		s.ID = d.OrderID
	}
	if d.ChannelOrderID != "" {
		s.ChannelOrderID = d.ChannelOrderID
	}
	if d.ShipmentID != "" {
		s.ShipmentID = d.ShipmentID
	}
	if d.Status != "" {
		s.Status = d.Status
	}
	if d.WaybillCode != "" {
		s.WaybillCode = d.WaybillCode
	}
	if d.CourierName != "" {
		s.CourierName = d.CourierName
	}
	return s
}

func (e *Engine) AWBAssigned(ctx context.Context, ev model.ShippingEvent) error {
	return e.applyEventFields(ctx, ev, map[string]string{
		model.FieldWaybillCode:    ev.Data.AWBCode.String(),
		model.FieldCourierName:    ev.Data.CourierName,
		model.FieldShippingStatus: model.ShippingAWB,
	})
}

func (e *Engine) ShipmentDispatched(ctx context.Context, ev model.ShippingEvent) error {
	return e.applyEventFields(ctx, ev, map[string]string{
		model.FieldShippingStatus: model.ShippingDispatch,
		model.FieldCourierName:    ev.Data.CourierName,
		model.FieldWaybillCode:    ev.Data.AWBCode.String(),
	})
}

func (e *Engine) ShipmentDelivered(ctx context.Context, ev model.ShippingEvent) error {
	return e.applyEventFields(ctx, ev, map[string]string{
		model.FieldShippingStatus: model.ShippingDelivered,
		model.FieldShipmentStatus: model.ShippingDelivered,
	})
}

func (e *Engine) ShipmentFailed(ctx context.Context, ev model.ShippingEvent) error {
	reason := ev.Data.Reason
	if reason == "" {
		reason = "Shipment failed"
	}
	return e.applyEventFields(ctx, ev, map[string]string{
		model.FieldShippingStatus: model.ShippingFailed,
		model.FieldShipmentStatus: model.ShippingFailed,
		model.FieldFailureReason:  reason,
	})
}

func (e *Engine) TrackingUpdated(ctx context.Context, ev model.ShippingEvent) error {
	return e.applyEventFields(ctx, ev, map[string]string{
		model.FieldTrackingURL:    ev.Data.TrackingURL,
		model.FieldShipmentStatus: ev.Data.Status,
		model.FieldWaybillCode:    ev.Data.AWBCode.String(),
	})
}

// HandlePaymentCaptured confirms the order a captured payment belongs to
// and creates its shipping order in-process.
func (e *Engine) HandlePaymentCaptured(ctx context.Context, p payment.Payment) (ShippingResult, error) {
	orderID := p.BusinessOrderID()
	if orderID == "" {
		return ShippingResult{}, apperr.Validation("order_id")
	}
	if err := e.confirmCaptured(ctx, orderID, p); err != nil {
		return ShippingResult{}, err
	}
	return e.CreateShippingOrder(ctx, orderID)
}

// confirmCaptured marks a pending order confirmed and verified under the
// order lock. CreateShippingOrder takes the same lock, so it is released first.
func (e *Engine) confirmCaptured(ctx context.Context, orderID string, p payment.Payment) error {
	unlock := e.locks.Lock(orderID)
	defer unlock()
	o, err := e.store.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != model.StatusPending {
		return nil
	}
	info := o.PaymentInfo
	info.PaymentID = p.ID
	if p.OrderID != "" {
		info.GatewayOrderID = p.OrderID
	}
	info.Verified = true
	if _, err := e.store.UpdateOrder(ctx, o.ID, model.OrderPatch{
		Status:      model.Ptr(model.StatusConfirmed),
		PaymentInfo: &info,
	}); err != nil {
		return err
	}
	e.log.Info("order confirmed by captured payment", zap.String("order_id", orderID), zap.String("payment_id", p.ID))
	return nil
}
