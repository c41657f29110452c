// Package reconcile keeps orders consistent across the order store, the
// payment gateway and the shipping provider.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"ordersync/internal/apperr"
	"ordersync/internal/events"
	"ordersync/internal/model"
	"ordersync/internal/payment"
	"ordersync/internal/shipping"
	"ordersync/internal/store"
)

// Shipper is the part of the shipping provider the engine drives.
type Shipper interface {
	CreateOrder(ctx context.Context, po shipping.ProviderOrder) (shipping.CreateResult, error)
	AutoAssignWaybill(ctx context.Context, shipmentID, deliveryPincode string, weight float64, cod bool) (shipping.WaybillResult, error)
	GetOrderDetail(ctx context.Context, shippingOrderID string) (shipping.OrderDetail, error)
	ListAllOrders(ctx context.Context) ([]shipping.OrderSummary, error)
	CancelShipments(ctx context.Context, awbs []string, reason string) error
}

// PaymentChecker applies the payment signature policy.
type PaymentChecker interface {
	Check(orderID string, p model.PaymentInfo) (payment.Outcome, error)
}

type Engine struct {
	store    store.Store
	shipper  Shipper
	payments PaymentChecker
	broker   events.Broker
	defaults shipping.Defaults
	locks    *keyedLocks
	log      *zap.Logger
	now      func() time.Time
}

func NewEngine(st store.Store, sh Shipper, pc PaymentChecker, broker events.Broker, defaults shipping.Defaults, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:    st,
		shipper:  sh,
		payments: pc,
		broker:   broker,
		defaults: defaults,
		locks:    newKeyedLocks(),
		log:      log,
		now:      time.Now,
	}
}

// WithClock swaps the time source used for field versions.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// SaveResult describes a checkout save.
type SaveResult struct {
	Order    model.Order     `json:"order"`
	Created  bool            `json:"created"`
	Payment  payment.Outcome `json:"payment"`
	Shipping *ShippingResult `json:"shipping,omitempty"`
	Warning  string          `json:"warning,omitempty"`
}

// ShippingResult identifies the shipping order behind a store order.
// Duplicate is set when the order already had one and no provider call
// was made.
type ShippingResult struct {
	OrderID         string `json:"orderId"`
	ShippingOrderID string `json:"shippingOrderId"`
	ShipmentID      string `json:"shipmentId,omitempty"`
	Status          string `json:"status,omitempty"`
	Duplicate       bool   `json:"duplicate"`
}

// SaveOrder runs the checkout flow: payment policy, persist as pending,
// confirm, then create the shipping order once. A failed shipping create
// does not fail the save; it is reported as a warning and recorded on the
// order for later recovery.
func (e *Engine) SaveOrder(ctx context.Context, in model.Order) (SaveResult, error) {
	in.OrderID = strings.TrimSpace(in.OrderID)
	if in.OrderID == "" {
		return SaveResult{}, apperr.Validation("orderId")
	}
	outcome, err := e.payments.Check(in.OrderID, in.PaymentInfo)
	if err != nil {
		return SaveResult{}, err
	}
	in.PaymentInfo.Verified = outcome == payment.Verified
	res := SaveResult{Payment: outcome}

	o, err := e.store.GetOrderByOrderID(ctx, in.OrderID)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNotFound):
		o, err = e.store.CreateOrder(ctx, checkoutRecord(in))
		if errors.Is(err, store.ErrOrderExists) {
			o, err = e.store.GetOrderByOrderID(ctx, in.OrderID)
		} else if err == nil {
			res.Created = true
		}
		if err != nil {
			return res, err
		}
	default:
		return res, err
	}

	if outcome.Confirms() && o.Status == model.StatusPending {
		patch := model.OrderPatch{Status: model.Ptr(model.StatusConfirmed)}
		if in.PaymentInfo.Verified && !o.PaymentInfo.Verified {
			patch.PaymentInfo = &in.PaymentInfo
		}
		if o, err = e.store.UpdateOrder(ctx, o.ID, patch); err != nil {
			return res, err
		}
	}
	e.log.Info("order saved",
		zap.String("order_id", o.OrderID),
		zap.String("status", o.Status),
		zap.String("payment", string(outcome)),
		zap.Bool("created", res.Created))
	events.Emit(e.broker, events.New(events.TypeOrderSaved, o.OrderID, map[string]any{"status": o.Status}))

	if o.Status != model.StatusConfirmed {
		res.Order = o
		res.Warning = "payment not verified; shipping order deferred"
		return res, nil
	}

	sr, err := e.CreateShippingOrder(ctx, o.OrderID)
	if err != nil {
		res.Warning = "order saved but shipping order failed: " + apperr.PublicMessage(err)
		e.log.Warn("shipping order creation failed during checkout", zap.String("order_id", o.OrderID), zap.Error(err))
	} else {
		res.Shipping = &sr
	}
	if fresh, err := e.store.GetOrder(ctx, o.ID); err == nil {
		o = fresh
	}
	res.Order = o
	return res, nil
}

// checkoutRecord strips anything a checkout payload must not set.
func checkoutRecord(in model.Order) model.Order {
	o := model.Order{
		OrderID:      in.OrderID,
		CustomerInfo: in.CustomerInfo,
		CartItems:    in.CartItems,
		PaymentInfo:  in.PaymentInfo,
		Amount:       in.Amount,
		Attributes:   in.Attributes,
		Status:       model.StatusPending,
		Source:       model.SourceCheckout,
	}
	if o.CartItems == nil {
		o.CartItems = []model.CartItem{}
	}
	return o
}

// CreateShippingOrder creates the provider order for orderID at most once.
func (e *Engine) CreateShippingOrder(ctx context.Context, orderID string) (ShippingResult, error) {
	return e.createShipping(ctx, orderID, shipping.StandardRules, false)
}

// RecoverShippingOrder retries creation for an order that previously failed,
// resolving fields through every historical naming scheme. Success clears
// the recorded error and retry count.
func (e *Engine) RecoverShippingOrder(ctx context.Context, orderID string) (ShippingResult, error) {
	return e.createShipping(ctx, orderID, shipping.RecoveryRules, true)
}

func (e *Engine) createShipping(ctx context.Context, orderID string, rules shipping.Rules, recovery bool) (ShippingResult, error) {
	unlock := e.locks.Lock(orderID)
	defer unlock()

	o, err := e.store.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return ShippingResult{}, err
	}
	if o.ShippingCreated || o.ShippingOrderID != nil {
		return existing(o), nil
	}
	// The flag and id are written together, but a record written by an
	// older process may carry only one of them.
	dups, err := e.store.QueryOrders(ctx,
		store.Eq(model.FieldOrderID, orderID),
		store.NotNull(model.FieldShippingOrderID))
	if err != nil {
		return ShippingResult{}, err
	}
	if len(dups) > 0 {
		e.log.Info("shipping order already exists", zap.String("order_id", orderID), zap.String("shipping_order_id", dups[0].ShippingID()))
		return existing(dups[0]), nil
	}

	po, err := shipping.ToProviderOrder(o, rules, e.defaults)
	if err != nil {
		e.recordFailure(ctx, o, err)
		return ShippingResult{}, err
	}
	created, err := e.shipper.CreateOrder(ctx, po)
	if err != nil {
		e.recordFailure(ctx, o, err)
		return ShippingResult{}, err
	}

	now := e.now()
	patch := model.OrderPatch{
		ShippingOrderID:        model.Ptr(created.OrderID),
		ShipmentID:             model.Ptr(created.ShipmentID),
		ShippingCreated:        model.Ptr(true),
		ShippingStatus:         model.Ptr(model.ShippingCreated),
		FieldVersions:          map[string]time.Time{model.FieldShippingStatus: now},
		RequireNoShippingOrder: true,
	}
	if recovery || o.ShippingLastError != "" {
		patch.ShippingLastError = model.Ptr("")
		patch.ShippingRetryCount = model.Ptr(0)
	}
	updated, err := e.store.UpdateOrder(ctx, o.ID, patch)
	if errors.Is(err, store.ErrConflict) {
		e.log.Error("shipping order created but another writer attached one first",
			zap.String("order_id", orderID),
			zap.String("orphan_shipping_order_id", created.OrderID),
			zap.String("kept_shipping_order_id", updated.ShippingID()))
		return existing(updated), nil
	}
	if err != nil {
		e.log.Error("shipping order created but not persisted",
			zap.String("order_id", orderID),
			zap.String("shipping_order_id", created.OrderID),
			zap.Error(err))
		return ShippingResult{}, err
	}

	e.log.Info("shipping order created",
		zap.String("order_id", orderID),
		zap.String("shipping_order_id", created.OrderID),
		zap.Bool("recovery", recovery))
	events.Emit(e.broker, events.New(events.TypeShippingCreated, orderID, map[string]any{
		"shippingOrderId": created.OrderID,
		"shipmentId":      created.ShipmentID,
	}))
	return ShippingResult{
		OrderID:         orderID,
		ShippingOrderID: created.OrderID,
		ShipmentID:      updated.ShipmentRef(),
		Status:          updated.ShippingStatus,
	}, nil
}

func existing(o model.Order) ShippingResult {
	return ShippingResult{
		OrderID:         o.OrderID,
		ShippingOrderID: o.ShippingID(),
		ShipmentID:      o.ShipmentRef(),
		Status:          o.ShippingStatus,
		Duplicate:       true,
	}
}

// recordFailure notes a failed creation attempt. Shipping identity fields
// are never touched here.
func (e *Engine) recordFailure(ctx context.Context, o model.Order, cause error) {
	patch := model.OrderPatch{
		ShippingLastError:  model.Ptr(apperr.PublicMessage(cause)),
		ShippingRetryCount: model.Ptr(o.ShippingRetryCount + 1),
	}
	if _, err := e.store.UpdateOrder(ctx, o.ID, patch); err != nil {
		e.log.Warn("recording shipping failure failed", zap.String("order_id", o.OrderID), zap.Error(err))
	}
}

// CancelShippingOrder cancels the order's shipment at the provider and
// marks the order cancelled. Cancelling twice is a no-op.
func (e *Engine) CancelShippingOrder(ctx context.Context, orderID, reason string) (model.Order, error) {
	unlock := e.locks.Lock(orderID)
	defer unlock()

	o, err := e.store.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if o.ShippingState() == model.StateCancelled {
		return o, nil
	}
	if o.ShippingOrderID == nil {
		return model.Order{}, apperr.Invalid("order %s has no shipping order", orderID)
	}
	if o.WaybillCode == "" {
		return model.Order{}, apperr.Invalid("order %s has no waybill to cancel", orderID)
	}
	if err := e.shipper.CancelShipments(ctx, []string{o.WaybillCode}, reason); err != nil {
		return model.Order{}, err
	}
	now := e.now()
	o, err = e.store.UpdateOrder(ctx, o.ID, model.OrderPatch{
		Status:         model.Ptr(model.StatusCancelled),
		ShippingStatus: model.Ptr(model.ShippingCancelled),
		FieldVersions:  map[string]time.Time{model.FieldShippingStatus: now},
	})
	if err != nil {
		return model.Order{}, err
	}
	e.log.Info("shipping order cancelled", zap.String("order_id", orderID), zap.String("waybill", o.WaybillCode))
	events.Emit(e.broker, events.New(events.TypeShippingUpdated, orderID, map[string]any{"shippingStatus": o.ShippingStatus}))
	return o, nil
}

// AutoAssignWaybill assigns a waybill through the first-ranked courier.
// An order that already has a waybill is returned unchanged.
func (e *Engine) AutoAssignWaybill(ctx context.Context, orderID string) (model.Order, error) {
	unlock := e.locks.Lock(orderID)
	defer unlock()
	o, err := e.store.GetOrderByOrderID(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	o, _, err = e.assignWaybill(ctx, o)
	return o, err
}

// assignWaybill runs under the order lock.
func (e *Engine) assignWaybill(ctx context.Context, o model.Order) (model.Order, bool, error) {
	if o.WaybillCode != "" {
		return o, false, nil
	}
	if o.ShippingOrderID == nil {
		return o, false, apperr.Invalid("order %s has no shipping order", o.OrderID)
	}
	pincode, ok := deliveryPincode(o)
	if !ok {
		return o, false, apperr.Validation(shipping.AttrPincode)
	}
	started := e.now()
	wb, err := e.shipper.AutoAssignWaybill(ctx, o.ShipmentRef(), pincode,
		shipping.TotalWeight(o, shipping.StandardRules, e.defaults), o.PaymentInfo.IsCOD())
	if err != nil {
		return o, false, err
	}
	updated, changed, err := e.applyMirror(ctx, o, map[string]string{
		model.FieldWaybillCode:    wb.AWBCode,
		model.FieldCourierName:    wb.CourierName,
		model.FieldShippingStatus: model.ShippingAWB,
	}, started)
	if err != nil {
		return o, false, err
	}
	e.log.Info("waybill assigned",
		zap.String("order_id", o.OrderID),
		zap.String("waybill", wb.AWBCode),
		zap.Int("courier_id", wb.CourierID))
	return updated, len(changed) > 0, nil
}

func deliveryPincode(o model.Order) (string, bool) {
	if p, ok := shipping.StandardRules.Resolve(o, shipping.AttrPincode); ok {
		return p, true
	}
	return shipping.RecoveryRules.Resolve(o, shipping.AttrPincode)
}

// applyMirror writes provider values observed at time at onto o, field by
// field. A field is written only when the value differs and no newer
// snapshot already wrote it; empty values never clear stored data.
// Callers hold the order lock and pass a freshly read order.
func (e *Engine) applyMirror(ctx context.Context, o model.Order, values map[string]string, at time.Time) (model.Order, []string, error) {
	patch := model.OrderPatch{FieldVersions: map[string]time.Time{}}
	var changed []string
	for field, v := range values {
		if v == "" {
			continue
		}
		if cur, _ := o.Field(field); cur == v {
			continue
		}
		if ver, ok := o.FieldVersions[field]; ok && at.Before(ver) {
			e.log.Debug("stale value ignored",
				zap.String("order_id", o.OrderID),
				zap.String("field", field),
				zap.Time("snapshot", at),
				zap.Time("stored", ver))
			continue
		}
		patch.SetField(field, v)
		patch.FieldVersions[field] = at
		changed = append(changed, field)
	}
	if len(changed) == 0 {
		return o, nil, nil
	}
	now := e.now()
	patch.LastSyncedAt = &now
	updated, err := e.store.UpdateOrder(ctx, o.ID, patch)
	if err != nil {
		return o, nil, fmt.Errorf("update order %s: %w", o.OrderID, err)
	}
	data := map[string]any{}
	for _, f := range changed {
		v, _ := updated.Field(f)
		data[f] = v
	}
	events.Emit(e.broker, events.New(events.TypeShippingUpdated, o.OrderID, data))
	return updated, changed, nil
}
