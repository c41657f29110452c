package shipping

import (
	"fmt"
	"strconv"
	"strings"

	"ordersync/internal/model"
)

// FieldRule lists, in priority order, where a logical attribute may live on
// an order. Paths starting with "customerInfo." or "paymentInfo." read the
// typed order; anything else reads Attributes, with dots walking nested maps.
type FieldRule struct {
	Attr  string // provider field name, used in validation errors
	Paths []string
}

// Rules is an ordered rule set keyed by provider field.
type Rules []FieldRule

// Rule returns the rule for attr.
func (rs Rules) Rule(attr string) (FieldRule, bool) {
	for _, r := range rs {
		if r.Attr == attr {
			return r, true
		}
	}
	return FieldRule{}, false
}

// Resolve returns the first non-empty value for attr.
func (rs Rules) Resolve(o model.Order, attr string) (string, bool) {
	r, ok := rs.Rule(attr)
	if !ok {
		return "", false
	}
	return r.Resolve(o)
}

// Resolve evaluates the rule's paths in order.
func (r FieldRule) Resolve(o model.Order) (string, bool) {
	for _, p := range r.Paths {
		if v, ok := lookup(o, p); ok {
			return v, true
		}
	}
	return "", false
}

// Provider field names the resolver fills.
const (
	AttrName     = "billing_customer_name"
	AttrAddress  = "billing_address"
	AttrCity     = "billing_city"
	AttrPincode  = "billing_pincode"
	AttrState    = "billing_state"
	AttrCountry  = "billing_country"
	AttrEmail    = "billing_email"
	AttrPhone    = "billing_phone"
	AttrPayment  = "payment_method"
	AttrSubTotal = "sub_total"
	AttrWeight   = "weight"
	AttrLength   = "length"
	AttrBreadth  = "breadth"
	AttrHeight   = "height"
	AttrNotes    = "order_notes"
)

// RequiredAttrs must resolve to non-empty values before any provider call.
var RequiredAttrs = []string{AttrName, AttrAddress, AttrCity, AttrPincode, AttrState, AttrEmail, AttrPhone}

// StandardRules prefer flattened storefront fields over the nested
// customerInfo object.
var StandardRules = Rules{
	{Attr: AttrName, Paths: []string{"billingCustomerName", "customerName", "customerInfo.name"}},
	{Attr: AttrEmail, Paths: []string{"billingEmail", "customerEmail", "customerInfo.email"}},
	{Attr: AttrPhone, Paths: []string{"billingPhone", "customerPhone", "customerInfo.phone"}},
	{Attr: AttrAddress, Paths: []string{"billingAddress", "customerInfo.address.street"}},
	{Attr: AttrCity, Paths: []string{"billingCity", "customerInfo.address.city"}},
	{Attr: AttrPincode, Paths: []string{"billingPincode", "customerInfo.address.pincode"}},
	{Attr: AttrState, Paths: []string{"billingState", "customerInfo.address.state"}},
	{Attr: AttrCountry, Paths: []string{"billingCountry", "customerInfo.address.country"}},
	{Attr: AttrPayment, Paths: []string{"paymentMethod", "paymentInfo.method"}},
	{Attr: AttrSubTotal, Paths: []string{"subTotal"}},
	{Attr: AttrWeight, Paths: []string{"weight"}},
	{Attr: AttrLength, Paths: []string{"length"}},
	{Attr: AttrBreadth, Paths: []string{"breadth"}},
	{Attr: AttrHeight, Paths: []string{"height"}},
	{Attr: AttrNotes, Paths: []string{"orderNotes"}},
}

// RecoveryRules extend StandardRules with every historical naming scheme,
// tried after the standard paths.
var RecoveryRules = extend(StandardRules, map[string][]string{
	AttrName:     {"shippingAddress.name", "customer.name", "name", "loggedInUserEmail"},
	AttrEmail:    {"shippingAddress.email", "customer.email", "email", "loggedInUserEmail"},
	AttrPhone:    {"shippingAddress.phone", "customer.phone", "phone", "mobile"},
	AttrAddress:  {"shippingAddress.street", "shippingAddress.address", "address.street", "address", "addressLine1"},
	AttrCity:     {"shippingAddress.city", "address.city", "city"},
	AttrPincode:  {"shippingAddress.pincode", "shippingAddress.zip", "address.pincode", "pincode", "zip", "postalCode"},
	AttrState:    {"shippingAddress.state", "address.state", "state"},
	AttrCountry:  {"shippingAddress.country", "address.country", "country"},
	AttrSubTotal: {"totalAmount", "paymentInfo.amount", "amount"},
})

func extend(base Rules, extra map[string][]string) Rules {
	out := make(Rules, 0, len(base))
	for _, r := range base {
		paths := append(append([]string(nil), r.Paths...), extra[r.Attr]...)
		out = append(out, FieldRule{Attr: r.Attr, Paths: paths})
	}
	return out
}

func lookup(o model.Order, path string) (string, bool) {
	switch {
	case strings.HasPrefix(path, "customerInfo."):
		if o.CustomerInfo == nil {
			return "", false
		}
		ci := o.CustomerInfo
		switch strings.TrimPrefix(path, "customerInfo.") {
		case "name":
			return nonEmpty(ci.Name)
		case "email":
			return nonEmpty(ci.Email)
		case "phone":
			return nonEmpty(ci.Phone)
		case "address.street":
			return nonEmpty(ci.Address.Street)
		case "address.city":
			return nonEmpty(ci.Address.City)
		case "address.pincode":
			return nonEmpty(ci.Address.Pincode)
		case "address.state":
			return nonEmpty(ci.Address.State)
		case "address.country":
			return nonEmpty(ci.Address.Country)
		}
		return "", false
	case strings.HasPrefix(path, "paymentInfo."):
		switch strings.TrimPrefix(path, "paymentInfo.") {
		case "method":
			return nonEmpty(o.PaymentInfo.Method)
		case "amount":
			if o.PaymentInfo.Amount > 0 {
				return formatNumber(o.PaymentInfo.Amount), true
			}
		}
		return "", false
	case path == "amount":
		if o.Amount > 0 {
			return formatNumber(o.Amount), true
		}
		return attrLookup(o.Attributes, path)
	}
	return attrLookup(o.Attributes, path)
}

func attrLookup(attrs map[string]any, path string) (string, bool) {
	var cur any = attrs
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[part]
		if !ok {
			return "", false
		}
	}
	return stringify(cur)
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return nonEmpty(t)
	case float64:
		return formatNumber(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	case fmt.Stringer:
		return nonEmpty(t.String())
	}
	return "", false
}

func nonEmpty(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// resolveNumber resolves a numeric attribute; non-numeric or non-positive
// values are treated as absent.
func resolveNumber(rs Rules, o model.Order, attr string) (float64, bool) {
	s, ok := rs.Resolve(o, attr)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}
