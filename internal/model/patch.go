package model

import "time"

// OrderPatch is a partial update. Nil fields are left untouched.
type OrderPatch struct {
	Status             *string
	PaymentInfo        *PaymentInfo
	ShippingOrderID    *string
	ShipmentID         *string
	ShippingCreated    *bool
	ShippingStatus     *string
	WaybillCode        *string
	CourierName        *string
	TrackingURL        *string
	ShipmentStatus     *string
	FailureReason      *string
	ShippingLastError  *string
	ShippingRetryCount *int
	LastSyncedAt       *time.Time
	// FieldVersions is merged key by key into the stored map.
	FieldVersions map[string]time.Time

	// RequireNoShippingOrder makes the update conditional on the stored
	// order having no shipping order id yet.
	RequireNoShippingOrder bool
}

// Empty reports whether the patch would change nothing.
func (p OrderPatch) Empty() bool {
	return p.Status == nil && p.PaymentInfo == nil && p.ShippingOrderID == nil &&
		p.ShipmentID == nil && p.ShippingCreated == nil && p.ShippingStatus == nil &&
		p.WaybillCode == nil && p.CourierName == nil && p.TrackingURL == nil &&
		p.ShipmentStatus == nil && p.FailureReason == nil && p.ShippingLastError == nil &&
		p.ShippingRetryCount == nil && p.LastSyncedAt == nil && len(p.FieldVersions) == 0
}

// SetField sets one mirrored string field by name. Unknown names are ignored.
func (p *OrderPatch) SetField(name, value string) {
	v := value
	switch name {
	case FieldWaybillCode:
		p.WaybillCode = &v
	case FieldCourierName:
		p.CourierName = &v
	case FieldTrackingURL:
		p.TrackingURL = &v
	case FieldShippingStatus:
		p.ShippingStatus = &v
	case FieldShipmentStatus:
		p.ShipmentStatus = &v
	case FieldFailureReason:
		p.FailureReason = &v
	case FieldStatus:
		p.Status = &v
	}
}

// Apply writes the patch onto o and bumps UpdatedAt.
func (p OrderPatch) Apply(o *Order, now time.Time) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.PaymentInfo != nil {
		o.PaymentInfo = *p.PaymentInfo
	}
	if p.ShippingOrderID != nil {
		id := *p.ShippingOrderID
		o.ShippingOrderID = &id
	}
	if p.ShipmentID != nil {
		o.ShipmentID = *p.ShipmentID
	}
	if p.ShippingCreated != nil {
		o.ShippingCreated = *p.ShippingCreated
	}
	if p.ShippingStatus != nil {
		o.ShippingStatus = *p.ShippingStatus
	}
	if p.WaybillCode != nil {
		o.WaybillCode = *p.WaybillCode
	}
	if p.CourierName != nil {
		o.CourierName = *p.CourierName
	}
	if p.TrackingURL != nil {
		o.TrackingURL = *p.TrackingURL
	}
	if p.ShipmentStatus != nil {
		o.ShipmentStatus = *p.ShipmentStatus
	}
	if p.FailureReason != nil {
		o.FailureReason = *p.FailureReason
	}
	if p.ShippingLastError != nil {
		o.ShippingLastError = *p.ShippingLastError
	}
	if p.ShippingRetryCount != nil {
		o.ShippingRetryCount = *p.ShippingRetryCount
	}
	if p.LastSyncedAt != nil {
		t := *p.LastSyncedAt
		o.LastSyncedAt = &t
	}
	if len(p.FieldVersions) > 0 {
		if o.FieldVersions == nil {
			o.FieldVersions = map[string]time.Time{}
		}
		for k, v := range p.FieldVersions {
			o.FieldVersions[k] = v
		}
	}
	o.UpdatedAt = now
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
