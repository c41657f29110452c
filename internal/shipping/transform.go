package shipping

import (
	"math"
	"strconv"
	"strings"
	"time"

	"ordersync/internal/apperr"
	"ordersync/internal/model"
)

// Defaults fill package and catalogue values an order does not carry.
type Defaults struct {
	PickupLocation string
	PickupPincode  string
	Length         float64
	Breadth        float64
	Height         float64
	ItemWeight     float64
	HSN            int
	Category       string
	Notes          string
	Country        string
	Now            func() time.Time
}

// MinWeight is the smallest package weight the provider accepts, in kg.
const MinWeight = 0.1

// ToProviderOrder maps an order onto the provider's ad-hoc order payload.
// It performs no I/O; missing required destination fields yield a
// *apperr.ValidationError naming every missing provider field.
func ToProviderOrder(o model.Order, rules Rules, d Defaults) (ProviderOrder, error) {
	get := func(attr string) string {
		v, _ := rules.Resolve(o, attr)
		return v
	}

	var missing []string
	for _, attr := range RequiredAttrs {
		if get(attr) == "" {
			missing = append(missing, attr)
		}
	}
	if len(missing) > 0 {
		return ProviderOrder{}, apperr.Validation(missing...)
	}

	items := orderItems(o)
	name := get(AttrName)
	lastName := ""
	if parts := strings.Fields(name); len(parts) > 1 {
		lastName = strings.Join(parts[1:], " ")
	}
	country := get(AttrCountry)
	if country == "" {
		country = d.Country
	}

	subTotal, ok := resolveNumber(rules, o, AttrSubTotal)
	if !ok {
		subTotal = itemsValue(items)
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	po := ProviderOrder{
		OrderID:         o.OrderID,
		OrderDate:       now().Format("2006-01-02"),
		PickupLocation:  d.PickupLocation,
		BillingName:     name,
		BillingLastName: lastName,
		BillingAddress:  get(AttrAddress),
		BillingCity:     get(AttrCity),
		BillingPincode:  get(AttrPincode),
		BillingState:    get(AttrState),
		BillingCountry:  country,
		BillingEmail:    get(AttrEmail),
		BillingPhone:    get(AttrPhone),
		PaymentMethod:   paymentMethod(get(AttrPayment)),
		SubTotal:        round2(subTotal),
		Length:          numberOr(rules, o, AttrLength, d.Length),
		Breadth:         numberOr(rules, o, AttrBreadth, d.Breadth),
		Height:          numberOr(rules, o, AttrHeight, d.Height),
		Weight:          TotalWeight(o, rules, d),
		OrderNotes:      get(AttrNotes),
	}
	if po.OrderNotes == "" {
		po.OrderNotes = d.Notes
	}
	po.ShippingIsBilling = true
	po.ShippingName = po.BillingName
	po.ShippingLastName = po.BillingLastName
	po.ShippingAddress = po.BillingAddress
	po.ShippingCity = po.BillingCity
	po.ShippingPincode = po.BillingPincode
	po.ShippingState = po.BillingState
	po.ShippingCountry = po.BillingCountry
	po.ShippingEmail = po.BillingEmail
	po.ShippingPhone = po.BillingPhone

	for _, it := range items {
		sku := it.SKU
		if sku == "" {
			sku = it.ID
		}
		if sku == "" {
			sku = it.Name
		}
		po.Items = append(po.Items, OrderItem{
			Name:            it.Name,
			SKU:             sku,
			Units:           it.Quantity,
			SellingPrice:    it.Price,
			HSN:             d.HSN,
			ProductCategory: d.Category,
		})
	}
	return po, nil
}

// TotalWeight is the explicit order weight when present, otherwise the sum
// of item weights with d.ItemWeight for items that lack one. Never below MinWeight.
func TotalWeight(o model.Order, rules Rules, d Defaults) float64 {
	w, ok := resolveNumber(rules, o, AttrWeight)
	if !ok {
		for _, it := range orderItems(o) {
			if it.Weight > 0 {
				w += it.Weight
			} else {
				w += d.ItemWeight
			}
		}
	}
	w = math.Round(w*1000) / 1000
	if w < MinWeight {
		w = MinWeight
	}
	return w
}

// orderItems returns cartItems, or the legacy orderItems attribute.
func orderItems(o model.Order) []model.CartItem {
	if len(o.CartItems) > 0 {
		return o.CartItems
	}
	raw, ok := o.Attributes["orderItems"].([]any)
	if !ok {
		return nil
	}
	out := make([]model.CartItem, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		it := model.CartItem{}
		it.Name, _ = stringify(m["name"])
		it.SKU, _ = stringify(m["sku"])
		it.ID, _ = stringify(m["id"])
		it.Quantity = int(firstNumber(m, "quantity", "units"))
		it.Price = firstNumber(m, "price", "sellingPrice", "selling_price")
		it.Weight = firstNumber(m, "weight")
		out = append(out, it)
	}
	return out
}

func firstNumber(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		s, ok := stringify(m[k])
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}

func itemsValue(items []model.CartItem) float64 {
	total := 0.0
	for _, it := range items {
		total += it.Price * float64(it.Quantity)
	}
	return total
}

func paymentMethod(m string) string {
	switch strings.ToLower(strings.TrimSpace(m)) {
	case "cod", "cash-on-delivery", "cash_on_delivery":
		return "COD"
	}
	return "Prepaid"
}

func numberOr(rules Rules, o model.Order, attr string, def float64) float64 {
	if v, ok := resolveNumber(rules, o, attr); ok {
		return v
	}
	return def
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
