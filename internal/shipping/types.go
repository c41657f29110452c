package shipping

import (
	"context"
	"time"

	"ordersync/internal/model"
)

// Provider is the subset of the shipping API the sync engine drives.
type Provider interface {
	CreateOrder(ctx context.Context, po ProviderOrder) (CreateResult, error)
	AssignWaybill(ctx context.Context, shipmentID string, courierID int) (WaybillResult, error)
	Serviceability(ctx context.Context, q ServiceabilityQuery) ([]Courier, error)
	AutoAssignWaybill(ctx context.Context, shipmentID, deliveryPincode string, weight float64, cod bool) (WaybillResult, error)
	GenerateLabel(ctx context.Context, shipmentID string) (string, error)
	TrackShipment(ctx context.Context, awb string) (map[string]any, error)
	GetOrderDetail(ctx context.Context, shippingOrderID string) (OrderDetail, error)
	ListOrders(ctx context.Context, q ListQuery) (OrderPage, error)
	ListAllOrders(ctx context.Context) ([]OrderSummary, error)
	CancelShipments(ctx context.Context, awbs []string, reason string) error
}

// ProviderOrder is the orders/create/adhoc payload.
type ProviderOrder struct {
	OrderID           string      `json:"order_id"`
	OrderDate         string      `json:"order_date"`
	PickupLocation    string      `json:"pickup_location"`
	BillingName       string      `json:"billing_customer_name"`
	BillingLastName   string      `json:"billing_last_name"`
	BillingAddress    string      `json:"billing_address"`
	BillingCity       string      `json:"billing_city"`
	BillingPincode    string      `json:"billing_pincode"`
	BillingState      string      `json:"billing_state"`
	BillingCountry    string      `json:"billing_country"`
	BillingEmail      string      `json:"billing_email"`
	BillingPhone      string      `json:"billing_phone"`
	ShippingIsBilling bool        `json:"shipping_is_billing"`
	ShippingName      string      `json:"shipping_customer_name"`
	ShippingLastName  string      `json:"shipping_last_name"`
	ShippingAddress   string      `json:"shipping_address"`
	ShippingCity      string      `json:"shipping_city"`
	ShippingPincode   string      `json:"shipping_pincode"`
	ShippingState     string      `json:"shipping_state"`
	ShippingCountry   string      `json:"shipping_country"`
	ShippingEmail     string      `json:"shipping_email"`
	ShippingPhone     string      `json:"shipping_phone"`
	Items             []OrderItem `json:"order_items"`
	PaymentMethod     string      `json:"payment_method"`
	SubTotal          float64     `json:"sub_total"`
	Length            float64     `json:"length"`
	Breadth           float64     `json:"breadth"`
	Height            float64     `json:"height"`
	Weight            float64     `json:"weight"`
	OrderNotes        string      `json:"order_notes,omitempty"`
}

type OrderItem struct {
	Name            string  `json:"name"`
	SKU             string  `json:"sku"`
	Units           int     `json:"units"`
	SellingPrice    float64 `json:"selling_price"`
	Discount        float64 `json:"discount"`
	Tax             float64 `json:"tax"`
	HSN             int     `json:"hsn,omitempty"`
	ProductCategory string  `json:"product_category,omitempty"`
}

// CreateResult identifies the order the provider created.
type CreateResult struct {
	OrderID    string `json:"orderId"`
	ShipmentID string `json:"shipmentId,omitempty"`
	Status     string `json:"status,omitempty"`
}

type WaybillResult struct {
	AWBCode     string `json:"awbCode"`
	CourierID   int    `json:"courierId,omitempty"`
	CourierName string `json:"courierName,omitempty"`
}

type ServiceabilityQuery struct {
	PickupPincode   string
	DeliveryPincode string
	Weight          float64
	COD             bool
}

// Courier is one serviceability result, in provider ranking order.
type Courier struct {
	ID   int     `json:"id"`
	Name string  `json:"name"`
	Rate float64 `json:"rate,omitempty"`
	ETD  string  `json:"etd,omitempty"`
}

// OrderDetail is the normalized orders/show answer.
type OrderDetail struct {
	OrderID        string         `json:"orderId"`
	ChannelOrderID string         `json:"channelOrderId,omitempty"`
	ShipmentID     string         `json:"shipmentId,omitempty"`
	WaybillCode    string         `json:"waybillCode,omitempty"`
	CourierName    string         `json:"courierName,omitempty"`
	TrackingURL    string         `json:"trackingUrl,omitempty"`
	Status         string         `json:"status,omitempty"`
	ShipmentStatus string         `json:"shipmentStatus,omitempty"`
	Raw            map[string]any `json:"raw,omitempty"`
	// FetchedAt is when the request for this snapshot was started.
	FetchedAt time.Time `json:"fetchedAt"`
}

// Mirror lists the detail's values for the fields sync copies onto an order.
func (d OrderDetail) Mirror() map[string]string {
	return map[string]string{
		model.FieldWaybillCode:    d.WaybillCode,
		model.FieldCourierName:    d.CourierName,
		model.FieldTrackingURL:    d.TrackingURL,
		model.FieldShippingStatus: d.Status,
		model.FieldShipmentStatus: d.ShipmentStatus,
	}
}

// ListQuery filters one page of the provider order list.
type ListQuery struct {
	Page    int
	PerPage int
	Status  string
	From    string
	To      string
	Search  string
}

// OrderSummary is one row of the provider order list.
type OrderSummary struct {
	ID             string `json:"id"`
	ChannelOrderID string `json:"channelOrderId,omitempty"`
	ShipmentID     string `json:"shipmentId,omitempty"`
	Status         string `json:"status,omitempty"`
	WaybillCode    string `json:"waybillCode,omitempty"`
	CourierName    string `json:"courierName,omitempty"`
	CustomerName   string `json:"customerName,omitempty"`
	CustomerEmail  string `json:"customerEmail,omitempty"`
	CustomerPhone  string `json:"customerPhone,omitempty"`
	Pincode        string `json:"pincode,omitempty"`
	Total          string `json:"total,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
}

type OrderPage struct {
	Orders     []OrderSummary `json:"orders"`
	Page       int            `json:"page"`
	TotalPages int            `json:"totalPages,omitempty"`
}
