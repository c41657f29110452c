package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"ordersync/internal/model"
)

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface{ Ping(ctx context.Context) error }
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	for name, dep := range map[string]any{"store": s.Store, "events": s.Broker} {
		if p, ok := dep.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, envelope{Success: false, Message: name + " not ready", Error: "not_ready"})
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// SaveOrderHandler is the checkout endpoint: persist the order, apply the
// payment policy and create the shipping order.
func (s *Server) SaveOrderHandler(w http.ResponseWriter, r *http.Request) {
	var in model.Order
	if err := decodeJSON(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.Engine.SaveOrder(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msg := "order saved"
	if res.Warning != "" {
		msg = res.Warning
	}
	if res.Created {
		writeCreated(w, msg, res)
		return
	}
	writeOK(w, msg, res)
}

func (s *Server) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "limit must be between 1 and 500", Error: "validation_failed"})
			return
		}
		limit = n
	}
	items, next, err := s.Store.ListOrders(r.Context(), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "", map[string]any{"orders": items, "nextCursor": next})
}

func (s *Server) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	o, err := s.Store.GetOrderByOrderID(r.Context(), r.PathValue("orderId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "", map[string]any{"order": o, "shippingState": o.ShippingState()})
}

func (s *Server) CreateShippingHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.CreateShippingOrder(r.Context(), r.PathValue("orderId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msg := "shipping order created"
	if res.Duplicate {
		msg = "shipping order already exists"
	}
	writeOK(w, msg, res)
}

func (s *Server) RecoverShippingHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.RecoverShippingOrder(r.Context(), r.PathValue("orderId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msg := "shipping order recovered"
	if res.Duplicate {
		msg = "shipping order already exists"
	}
	writeOK(w, msg, res)
}

func (s *Server) CancelShippingHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &in, true); err != nil {
		s.fail(w, r, err)
		return
	}
	o, err := s.Engine.CancelShippingOrder(r.Context(), r.PathValue("orderId"), in.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "shipping order cancelled", o)
}

func (s *Server) OrderWaybillHandler(w http.ResponseWriter, r *http.Request) {
	o, err := s.Engine.AutoAssignWaybill(r.Context(), r.PathValue("orderId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, "waybill assigned", map[string]any{
		"orderId":     o.OrderID,
		"waybillCode": o.WaybillCode,
		"courierName": o.CourierName,
	})
}

// SaveListHandler stores a cart or wishlist. Writes over the budget are
// dropped and answered with 429.
func (s *Server) SaveListHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Items []map[string]any `json:"items"`
	}
	if err := decodeJSON(r, &in, false); err != nil {
		s.fail(w, r, err)
		return
	}
	kind, user := r.PathValue("kind"), r.PathValue("userId")
	if err := s.Store.SaveList(r.Context(), kind, user, in.Items); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, kind+" saved", map[string]any{"userId": user, "count": len(in.Items)})
}
