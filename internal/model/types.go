package model

import (
	"strings"
	"time"
)

// Order status values owned by the storefront side.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusNew       = "NEW"
)

// Where an order record came from.
const (
	SourceCheckout   = "checkout"
	SourceDiscovered = "discovered"
	SourceWebhook    = "webhook"
)

// Shipping status values written by this service. Provider statuses
// mirrored during sync are stored verbatim next to these.
const (
	ShippingCreated   = "CREATED"
	ShippingAWB       = "AWB_ASSIGNED"
	ShippingDispatch  = "DISPATCHED"
	ShippingDelivered = "DELIVERED"
	ShippingFailed    = "FAILED"
	ShippingCancelled = "CANCELLED"
)

// Field names used by store filters and per-field sync versions.
const (
	FieldOrderID         = "orderId"
	FieldShippingOrderID = "shippingOrderId"
	FieldWaybillCode     = "waybillCode"
	FieldCourierName     = "courierName"
	FieldTrackingURL     = "trackingUrl"
	FieldShippingStatus  = "shippingStatus"
	FieldShipmentStatus  = "shipmentStatus"
	FieldFailureReason   = "failureReason"
	FieldStatus          = "status"
	FieldSource          = "source"
)

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country,omitempty"`
}

type CustomerInfo struct {
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Phone   string  `json:"phone"`
	Address Address `json:"address"`
}

type CartItem struct {
	ID       string  `json:"id,omitempty"`
	SKU      string  `json:"sku,omitempty"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Weight   float64 `json:"weight,omitempty"`
}

type PaymentInfo struct {
	Method         string  `json:"method,omitempty"`
	GatewayOrderID string  `json:"gatewayOrderId,omitempty"`
	PaymentID      string  `json:"paymentId,omitempty"`
	Signature      string  `json:"signature,omitempty"`
	Amount         float64 `json:"amount,omitempty"`
	Verified       bool    `json:"verified"`
}

// IsCOD reports whether the order is paid on delivery.
func (p PaymentInfo) IsCOD() bool {
	switch strings.ToLower(strings.TrimSpace(p.Method)) {
	case "cod", "cash-on-delivery", "cash_on_delivery":
		return true
	}
	return false
}

// Order is the stored order document. ShippingOrderID is always serialized
// (null until the provider assigns one) so presence queries are well defined.
type Order struct {
	ID           string        `json:"id"`
	OrderID      string        `json:"orderId"`
	CustomerInfo *CustomerInfo `json:"customerInfo,omitempty"`
	CartItems    []CartItem    `json:"cartItems"`
	PaymentInfo  PaymentInfo   `json:"paymentInfo"`
	Amount       float64       `json:"amount,omitempty"`
	Status       string        `json:"status"`
	Source       string        `json:"source,omitempty"`

	ShippingOrderID    *string `json:"shippingOrderId"`
	ShipmentID         string  `json:"shipmentId,omitempty"`
	ShippingCreated    bool    `json:"shippingCreated"`
	ShippingStatus     string  `json:"shippingStatus,omitempty"`
	WaybillCode        string  `json:"waybillCode,omitempty"`
	CourierName        string  `json:"courierName,omitempty"`
	TrackingURL        string  `json:"trackingUrl,omitempty"`
	ShipmentStatus     string  `json:"shipmentStatus,omitempty"`
	FailureReason      string  `json:"failureReason,omitempty"`
	ShippingLastError  string  `json:"shippingLastError,omitempty"`
	ShippingRetryCount int     `json:"shippingRetryCount"`

	// Attributes holds flattened storefront fields (billingCity, customerEmail, ...).
	Attributes map[string]any `json:"attributes,omitempty"`
	// FieldVersions records the provider snapshot time that last wrote each mirrored field.
	FieldVersions map[string]time.Time `json:"fieldVersions,omitempty"`

	LastSyncedAt *time.Time `json:"lastSyncedAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// ShippingID returns the provider order id or "".
func (o Order) ShippingID() string {
	if o.ShippingOrderID == nil {
		return ""
	}
	return *o.ShippingOrderID
}

// ShipmentRef is the id used for waybill and label calls.
func (o Order) ShipmentRef() string {
	if o.ShipmentID != "" {
		return o.ShipmentID
	}
	return o.ShippingID()
}

// Field returns the string value of a named field and whether it is set.
// Empty strings count as unset.
func (o Order) Field(name string) (string, bool) {
	var v string
	switch name {
	case FieldOrderID:
		v = o.OrderID
	case FieldShippingOrderID:
		v = o.ShippingID()
	case FieldWaybillCode:
		v = o.WaybillCode
	case FieldCourierName:
		v = o.CourierName
	case FieldTrackingURL:
		v = o.TrackingURL
	case FieldShippingStatus:
		v = o.ShippingStatus
	case FieldShipmentStatus:
		v = o.ShipmentStatus
	case FieldFailureReason:
		v = o.FailureReason
	case FieldStatus:
		v = o.Status
	case FieldSource:
		v = o.Source
	default:
		return "", false
	}
	return v, v != ""
}

// Clone returns a deep copy safe to hand out of a store.
func (o Order) Clone() Order {
	c := o
	if o.CustomerInfo != nil {
		ci := *o.CustomerInfo
		c.CustomerInfo = &ci
	}
	if o.CartItems != nil {
		c.CartItems = append([]CartItem(nil), o.CartItems...)
	}
	if o.ShippingOrderID != nil {
		id := *o.ShippingOrderID
		c.ShippingOrderID = &id
	}
	if o.Attributes != nil {
		c.Attributes = make(map[string]any, len(o.Attributes))
		for k, v := range o.Attributes {
			c.Attributes[k] = v
		}
	}
	if o.FieldVersions != nil {
		c.FieldVersions = make(map[string]time.Time, len(o.FieldVersions))
		for k, v := range o.FieldVersions {
			c.FieldVersions[k] = v
		}
	}
	if o.LastSyncedAt != nil {
		t := *o.LastSyncedAt
		c.LastSyncedAt = &t
	}
	return c
}

// ShippingState is the derived shipping sub-lifecycle of an order.
type ShippingState string

const (
	StateNone            ShippingState = "NONE"
	StateCreating        ShippingState = "CREATING"
	StateCreated         ShippingState = "CREATED"
	StateWaybillAssigned ShippingState = "WAYBILL_ASSIGNED"
	StateDispatched      ShippingState = "DISPATCHED"
	StateDelivered       ShippingState = "DELIVERED"
	StateFailed          ShippingState = "FAILED"
	StateCancelled       ShippingState = "CANCELLED"
)

// ShippingState derives the lifecycle state from the stored fields.
// CREATING is never derived: it only exists while a creation lock is held.
func (o Order) ShippingState() ShippingState {
	st := strings.ToUpper(o.ShippingStatus + " " + o.ShipmentStatus)
	switch {
	case strings.Contains(st, "CANCEL"):
		return StateCancelled
	case strings.Contains(st, "DELIVERED") && !strings.Contains(st, "UNDELIVERED"):
		return StateDelivered
	case strings.Contains(st, "FAIL") || strings.Contains(st, "RTO") || strings.Contains(st, "UNDELIVERED"):
		return StateFailed
	case strings.Contains(st, "DISPATCH") || strings.Contains(st, "TRANSIT") || strings.Contains(st, "PICKED") || strings.Contains(st, "SHIPPED"):
		return StateDispatched
	}
	if o.WaybillCode != "" {
		return StateWaybillAssigned
	}
	if o.ShippingOrderID != nil || o.ShippingCreated {
		return StateCreated
	}
	return StateNone
}

// Terminal reports whether no further shipping transitions are expected.
func (s ShippingState) Terminal() bool {
	return s == StateDelivered || s == StateFailed || s == StateCancelled
}

// SyncRun summarizes one reconciliation pass.
type SyncRun struct {
	Trigger          string    `json:"trigger"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt,omitempty"`
	OrdersScanned    int       `json:"ordersScanned"`
	Created          int       `json:"created"`
	Updated          int       `json:"updated"`
	WaybillsAssigned int       `json:"waybillsAssigned"`
	Errors           int       `json:"errors"`
	Skipped          bool      `json:"skipped"`
}

// Duration of the run; zero when skipped.
func (r SyncRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
