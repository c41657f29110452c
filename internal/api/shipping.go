package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"ordersync/internal/apperr"
	"ordersync/internal/metrics"
	"ordersync/internal/shipping"
	"ordersync/internal/webhooks"
)

func (s *Server) ShippingOrdersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lq := shipping.ListQuery{
		Status: q.Get("status"),
		From:   q.Get("from"),
		To:     q.Get("to"),
		Search: q.Get("search"),
	}
	var err error
	if lq.Page, err = intParam(q.Get("page"), 1); err != nil {
		s.fail(w, r, apperr.Validation("page"))
		return
	}
	if lq.PerPage, err = intParam(q.Get("per_page"), 0); err != nil {
		s.fail(w, r, apperr.Validation("per_page"))
		return
	}
	page, err := s.Shipping.ListOrders(r.Context(), lq)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "", page)
}

func (s *Server) ShippingAllOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := s.Shipping.ListAllOrders(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "", map[string]any{"orders": orders, "count": len(orders)})
}

func (s *Server) ShippingOrderDetailHandler(w http.ResponseWriter, r *http.Request) {
	d, err := s.Shipping.GetOrderDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "", d)
}

func (s *Server) TrackHandler(w http.ResponseWriter, r *http.Request) {
	t, err := s.Shipping.TrackShipment(r.Context(), r.PathValue("awb"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "", t)
}

// CouriersHandler answers serviceability for a delivery pincode. The
// pickup pincode defaults to the configured warehouse.
func (s *Server) CouriersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sq := shipping.ServiceabilityQuery{
		PickupPincode:   q.Get("pickup_postcode"),
		DeliveryPincode: q.Get("delivery_postcode"),
		COD:             q.Get("cod") == "1" || strings.EqualFold(q.Get("cod"), "true"),
	}
	if sq.PickupPincode == "" {
		sq.PickupPincode = s.cfg.Shipping.PickupPincode
	}
	if sq.DeliveryPincode == "" {
		s.fail(w, r, apperr.Validation("delivery_postcode"))
		return
	}
	sq.Weight = shipping.MinWeight
	if v := q.Get("weight"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			s.fail(w, r, apperr.Validation("weight"))
			return
		}
		sq.Weight = f
	}
	couriers, err := s.Shipping.Serviceability(r.Context(), sq)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "", map[string]any{"couriers": couriers})
}

// AssignWaybillHandler assigns through a chosen courier when courierId is
// given, or through the first-ranked courier for orderId otherwise.
func (s *Server) AssignWaybillHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OrderID    string `json:"orderId"`
		ShipmentID string `json:"shipmentId"`
		CourierID  int    `json:"courierId"`
	}
	if err := decodeJSON(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	switch {
	case in.ShipmentID != "" && in.CourierID > 0:
		wb, err := s.Shipping.AssignWaybill(r.Context(), in.ShipmentID, in.CourierID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeOK(w, "waybill assigned", wb)
	case in.OrderID != "":
		s.OrderWaybillHandler(w, withPathValue(r, "orderId", in.OrderID))
	default:
		s.fail(w, r, apperr.Invalid("orderId, or shipmentId with courierId, is required"))
	}
}

// BatchUpdateHandler refreshes the given orders from the provider.
func (s *Server) BatchUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OrderIDs []string `json:"orderIds"`
	}
	if err := decodeJSON(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(in.OrderIDs) == 0 {
		s.fail(w, r, apperr.Validation("orderIds"))
		return
	}
	results := s.Engine.RefreshOrders(r.Context(), in.OrderIDs)
	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}
	writeOK(w, strconv.Itoa(len(results)-failed)+" of "+strconv.Itoa(len(results))+" orders refreshed", results)
}

func (s *Server) LabelHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ShipmentID string `json:"shipmentId"`
	}
	if err := decodeJSON(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	if in.ShipmentID == "" {
		s.fail(w, r, apperr.Validation("shipmentId"))
		return
	}
	url, err := s.Shipping.GenerateLabel(r.Context(), in.ShipmentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "label generated", map[string]string{"labelUrl": url})
}

// ShippingWebhookHandler receives provider events. Any authenticated body is
// acknowledged with 200, including malformed ones, unknown tags and handler
// failures; the provider retries everything else.
func (s *Server) ShippingWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if !webhooks.VerifyToken(s.cfg.Shipping.WebhookToken, r.Header.Get("x-api-key")) {
		writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "invalid webhook token", Error: "unauthorized"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.fail(w, r, apperr.Invalid("unreadable body"))
		return
	}
	ev, err := s.Webhooks.Decode(body)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", string(webhooks.Ignored)).Inc()
		s.log.Warn("malformed shipping webhook ignored", zap.Error(err), zap.Int("bytes", len(body)))
		writeOK(w, "event ignored", map[string]string{"outcome": string(webhooks.Ignored)})
		return
	}
	out := s.Webhooks.Dispatch(r.Context(), ev)
	writeOK(w, "event "+string(out), map[string]string{"event": ev.Type, "outcome": string(out)})
}

// ShippingWebhookTestHandler dispatches a synthetic event. The body may
// override any event field; the default is a tracking update.
func (s *Server) ShippingWebhookTestHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.fail(w, r, apperr.Invalid("unreadable body"))
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte(`{"event":"` + webhooks.EventTrackingUpdated + `","data":{"order_id":"test","status":"IN TRANSIT"}}`)
	}
	ev, err := s.Webhooks.Decode(body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := s.Webhooks.Dispatch(r.Context(), ev)
	writeOK(w, "test event "+string(out), map[string]any{"event": ev, "outcome": out, "supported": s.Webhooks.Events()})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Invalid("bad integer %q", v)
	}
	return n, nil
}

func withPathValue(r *http.Request, key, value string) *http.Request {
	r2 := r.Clone(r.Context())
	r2.SetPathValue(key, value)
	return r2
}
