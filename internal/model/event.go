package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// FlexString accepts a JSON string or number. Provider ids arrive as either.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Int parses the value as an int, returning 0 when it is not numeric.
func (f FlexString) Int() int {
	n, _ := strconv.Atoi(string(f))
	return n
}

// ShippingEvent is an inbound shipping provider webhook.
type ShippingEvent struct {
	Type       string            `json:"event"`
	Data       ShippingEventData `json:"data"`
	ReceivedAt time.Time         `json:"-"`
}

type ShippingEventData struct {
	OrderID        FlexString `json:"order_id"`
	ChannelOrderID FlexString `json:"channel_order_id"`
	ShipmentID     FlexString `json:"shipment_id"`
	AWBCode        FlexString `json:"awb_code"`
	CourierName    string     `json:"courier_name"`
	TrackingURL    string     `json:"tracking_url"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason"`
}

// ShippingOrderID is the provider order id the event refers to.
func (d ShippingEventData) ShippingOrderID() string {
	if d.OrderID != "" {
		return d.OrderID.String()
	}
	return d.ChannelOrderID.String()
}

// ObservedAt is the local receipt time. Provider clocks are not compared
// against local fetch times.
func (e ShippingEvent) ObservedAt() time.Time {
	if e.ReceivedAt.IsZero() {
		return time.Now()
	}
	return e.ReceivedAt
}
