// Package shipping talks to the shipping aggregator: bearer token cache,
// order payload mapping and a typed REST client.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ordersync/internal/apperr"
	"ordersync/internal/buildinfo"
	"ordersync/internal/metrics"
	"ordersync/internal/model"
)

type Options struct {
	BaseURL       string
	Email         string
	Password      string
	TokenTTL      time.Duration
	PickupPincode string
	Timeout       time.Duration // per attempt
	Retries       int           // extra attempts after the first
	RetryDelay    time.Duration
	PageSize      int
	MaxPages      int
	HTTPClient    *http.Client
}

// Client is the shipping provider REST client. Every call fetches its
// bearer token from the shared TokenCache right before the request.
type Client struct {
	opts   Options
	hc     *http.Client
	tokens *TokenCache
	log    *zap.Logger
}

func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 240 * time.Hour
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{opts: opts, hc: hc, log: log}
	c.tokens = NewTokenCache(c.Login, opts.TokenTTL).
		WithLoginTimeout(opts.Timeout*time.Duration(opts.Retries+1) + opts.RetryDelay*time.Duration(opts.Retries))
	return c
}

// Tokens exposes the cache so operators can reset it.
func (c *Client) Tokens() *TokenCache { return c.tokens }

// Login exchanges the configured credentials for a bearer token.
func (c *Client) Login(ctx context.Context) (string, error) {
	if c.opts.Email == "" || c.opts.Password == "" {
		return "", errors.New("shipping credentials are not configured")
	}
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": c.opts.Email, "password": c.opts.Password}
	if err := c.call(ctx, "login", http.MethodPost, "/auth/login", nil, body, &out, false); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) CreateOrder(ctx context.Context, po ProviderOrder) (CreateResult, error) {
	var out struct {
		OrderID        model.FlexString `json:"order_id"`
		ChannelOrderID model.FlexString `json:"channel_order_id"`
		ShipmentID     model.FlexString `json:"shipment_id"`
		Status         string           `json:"status"`
	}
	if err := c.call(ctx, "create_order", http.MethodPost, "/orders/create/adhoc", nil, po, &out, true); err != nil {
		return CreateResult{}, err
	}
	id := out.OrderID.String()
	if id == "" {
		id = out.ChannelOrderID.String()
	}
	if id == "" {
		return CreateResult{}, &apperr.ProviderError{Operation: "create_order", Message: "response carried no order id"}
	}
	res := CreateResult{OrderID: id, ShipmentID: out.ShipmentID.String(), Status: out.Status}
	if res.ShipmentID == "" {
		res.ShipmentID = id
	}
	return res, nil
}

func (c *Client) AssignWaybill(ctx context.Context, shipmentID string, courierID int) (WaybillResult, error) {
	var out struct {
		AWBCode     model.FlexString `json:"awb_code"`
		CourierName string           `json:"courier_name"`
		Response    struct {
			Data struct {
				AWBCode     model.FlexString `json:"awb_code"`
				CourierName string           `json:"courier_name"`
			} `json:"data"`
		} `json:"response"`
	}
	body := map[string]any{"shipment_id": shipmentID}
	if courierID > 0 {
		body["courier_id"] = courierID
	}
	if err := c.call(ctx, "assign_awb", http.MethodPost, "/courier/assign/awb", nil, body, &out, true); err != nil {
		return WaybillResult{}, err
	}
	res := WaybillResult{AWBCode: out.AWBCode.String(), CourierID: courierID, CourierName: out.CourierName}
	if res.AWBCode == "" {
		res.AWBCode = out.Response.Data.AWBCode.String()
		res.CourierName = out.Response.Data.CourierName
	}
	if res.AWBCode == "" {
		return WaybillResult{}, &apperr.ProviderError{Operation: "assign_awb", Message: "response carried no waybill"}
	}
	return res, nil
}

type wireCourier struct {
	CompanyID model.FlexString `json:"courier_company_id"`
	CourierID model.FlexString `json:"courier_id"`
	ID        model.FlexString `json:"id"`
	Name      string           `json:"courier_name"`
	AltName   string           `json:"name"`
	Rate      float64          `json:"rate"`
	ETD       string           `json:"etd"`
}

func (w wireCourier) courier() Courier {
	c := Courier{Name: w.Name, Rate: w.Rate, ETD: w.ETD}
	for _, id := range []model.FlexString{w.CompanyID, w.CourierID, w.ID} {
		if n := id.Int(); n > 0 {
			c.ID = n
			break
		}
	}
	if c.Name == "" {
		c.Name = w.AltName
	}
	return c
}

// Serviceability lists couriers for a destination in provider ranking order.
func (c *Client) Serviceability(ctx context.Context, q ServiceabilityQuery) ([]Courier, error) {
	if q.PickupPincode == "" {
		q.PickupPincode = c.opts.PickupPincode
	}
	if q.Weight <= 0 {
		q.Weight = 0.49
	}
	cod := "0"
	if q.COD {
		cod = "1"
	}
	params := url.Values{
		"pickup_postcode":   {q.PickupPincode},
		"delivery_postcode": {q.DeliveryPincode},
		"weight":            {strconv.FormatFloat(q.Weight, 'f', -1, 64)},
		"cod":               {cod},
	}
	var out struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.call(ctx, "serviceability", http.MethodGet, "/courier/serviceability/", params, nil, &out, true); err != nil {
		return nil, err
	}
	var rows []wireCourier
	data := bytes.TrimSpace(out.Data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
	case data[0] == '[':
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, &apperr.ProviderError{Operation: "serviceability", Message: "malformed courier list"}
		}
	default:
		var wrapped struct {
			Companies []wireCourier `json:"available_courier_companies"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, &apperr.ProviderError{Operation: "serviceability", Message: "malformed courier list"}
		}
		rows = wrapped.Companies
	}
	couriers := make([]Courier, 0, len(rows))
	for _, r := range rows {
		couriers = append(couriers, r.courier())
	}
	return couriers, nil
}

// AutoAssignWaybill picks the first-ranked serviceable courier and assigns it.
func (c *Client) AutoAssignWaybill(ctx context.Context, shipmentID, deliveryPincode string, weight float64, cod bool) (WaybillResult, error) {
	couriers, err := c.Serviceability(ctx, ServiceabilityQuery{DeliveryPincode: deliveryPincode, Weight: weight, COD: cod})
	if err != nil {
		return WaybillResult{}, err
	}
	if len(couriers) == 0 {
		return WaybillResult{}, &apperr.ProviderError{Operation: "serviceability", Message: "no couriers available for pincode " + deliveryPincode}
	}
	pick := couriers[0]
	c.log.Info("courier selected", zap.String("shipment_id", shipmentID), zap.Int("courier_id", pick.ID), zap.String("courier", pick.Name))
	res, err := c.AssignWaybill(ctx, shipmentID, pick.ID)
	if err != nil {
		return WaybillResult{}, err
	}
	if res.CourierName == "" {
		res.CourierName = pick.Name
	}
	res.CourierID = pick.ID
	return res, nil
}

func (c *Client) GenerateLabel(ctx context.Context, shipmentID string) (string, error) {
	var out struct {
		LabelURL string `json:"label_url"`
	}
	body := map[string]any{"shipment_id": []string{shipmentID}}
	if err := c.call(ctx, "generate_label", http.MethodPost, "/courier/generate/label", nil, body, &out, true); err != nil {
		return "", err
	}
	if out.LabelURL == "" {
		return "", &apperr.ProviderError{Operation: "generate_label", Message: "response carried no label url"}
	}
	return out.LabelURL, nil
}

func (c *Client) TrackShipment(ctx context.Context, awb string) (map[string]any, error) {
	var out map[string]any
	if err := c.call(ctx, "track", http.MethodGet, "/courier/track/awb/"+url.PathEscape(awb), nil, nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

type wireShipment struct {
	ID          model.FlexString `json:"id"`
	AWB         model.FlexString `json:"awb"`
	Courier     string           `json:"courier"`
	TrackingURL string           `json:"tracking_url"`
}

type wireOrder struct {
	ID               model.FlexString `json:"id"`
	OrderID          model.FlexString `json:"order_id"`
	ChannelOrderID   model.FlexString `json:"channel_order_id"`
	Status           string           `json:"status"`
	ShipmentStatus   model.FlexString `json:"shipment_status"`
	AWBCode          model.FlexString `json:"awb_code"`
	LastMileAWB      model.FlexString `json:"last_mile_awb"`
	CourierName      string           `json:"courier_name"`
	LastMileCourier  string           `json:"last_mile_courier_name"`
	TrackingURL      string           `json:"tracking_url"`
	LastMileTrackURL string           `json:"last_mile_awb_track_url"`
	CustomerName     string           `json:"customer_name"`
	CustomerEmail    string           `json:"customer_email"`
	CustomerPhone    model.FlexString `json:"customer_phone"`
	CustomerPincode  model.FlexString `json:"customer_pincode"`
	Total            model.FlexString `json:"total"`
	CreatedAt        string           `json:"created_at"`
	Shipments        json.RawMessage  `json:"shipments"`
}

func (w wireOrder) id() string {
	if w.ID != "" {
		return w.ID.String()
	}
	return w.OrderID.String()
}

// shipments accepts the provider's object-or-array encoding.
func (w wireOrder) shipments() []wireShipment {
	raw := bytes.TrimSpace(w.Shipments)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		var list []wireShipment
		if json.Unmarshal(raw, &list) != nil {
			return nil
		}
		return list
	}
	var one wireShipment
	if json.Unmarshal(raw, &one) != nil {
		return nil
	}
	return []wireShipment{one}
}

// waybill returns the first shipment carrying a waybill, falling back to
// the order-level fields.
func (w wireOrder) waybill() (awb, courier, trackURL, shipmentID string) {
	ships := w.shipments()
	if len(ships) > 0 {
		shipmentID = ships[0].ID.String()
	}
	for _, s := range ships {
		if s.AWB != "" {
			return s.AWB.String(), s.Courier, s.TrackingURL, s.ID.String()
		}
	}
	awb = w.AWBCode.String()
	if awb == "" {
		awb = w.LastMileAWB.String()
	}
	courier = w.CourierName
	if courier == "" {
		courier = w.LastMileCourier
	}
	trackURL = w.TrackingURL
	if trackURL == "" {
		trackURL = w.LastMileTrackURL
	}
	return awb, courier, trackURL, shipmentID
}

func (w wireOrder) summary() OrderSummary {
	awb, courier, _, shipmentID := w.waybill()
	return OrderSummary{
		ID:             w.id(),
		ChannelOrderID: w.ChannelOrderID.String(),
		ShipmentID:     shipmentID,
		Status:         w.Status,
		WaybillCode:    awb,
		CourierName:    courier,
		CustomerName:   w.CustomerName,
		CustomerEmail:  w.CustomerEmail,
		CustomerPhone:  w.CustomerPhone.String(),
		Pincode:        w.CustomerPincode.String(),
		Total:          w.Total.String(),
		CreatedAt:      w.CreatedAt,
	}
}

// GetOrderDetail fetches one provider order and normalizes its waybill
// data. FetchedAt is the request start time.
func (c *Client) GetOrderDetail(ctx context.Context, shippingOrderID string) (OrderDetail, error) {
	started := time.Now()
	var out struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.call(ctx, "order_detail", http.MethodGet, "/orders/show/"+url.PathEscape(shippingOrderID), nil, nil, &out, true); err != nil {
		return OrderDetail{}, err
	}
	data := bytes.TrimSpace(out.Data)
	if len(data) == 0 || data[0] != '{' {
		return OrderDetail{}, fmt.Errorf("shipping order %s: %w", shippingOrderID, apperr.ErrNotFound)
	}
	var w wireOrder
	if err := json.Unmarshal(data, &w); err != nil {
		return OrderDetail{}, &apperr.ProviderError{Operation: "order_detail", Message: "malformed order detail"}
	}
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)

	awb, courier, trackURL, shipmentID := w.waybill()
	d := OrderDetail{
		OrderID:        w.id(),
		ChannelOrderID: w.ChannelOrderID.String(),
		ShipmentID:     shipmentID,
		WaybillCode:    awb,
		CourierName:    courier,
		TrackingURL:    trackURL,
		Status:         w.Status,
		ShipmentStatus: w.ShipmentStatus.String(),
		Raw:            raw,
		FetchedAt:      started,
	}
	if d.OrderID == "" {
		d.OrderID = shippingOrderID
	}
	return d, nil
}

// ListOrders fetches one page of provider orders.
func (c *Client) ListOrders(ctx context.Context, q ListQuery) (OrderPage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = c.opts.PageSize
	}
	params := url.Values{
		"page":     {strconv.Itoa(q.Page)},
		"per_page": {strconv.Itoa(q.PerPage)},
	}
	for k, v := range map[string]string{"filter": q.Status, "from": q.From, "to": q.To, "search": q.Search} {
		if v != "" {
			params.Set(k, v)
		}
	}
	if q.Status != "" {
		params.Set("filter_by", "status")
	}
	var out struct {
		Data []wireOrder `json:"data"`
		Meta struct {
			Pagination struct {
				TotalPages  int `json:"total_pages"`
				CurrentPage int `json:"current_page"`
			} `json:"pagination"`
		} `json:"meta"`
	}
	if err := c.call(ctx, "list_orders", http.MethodGet, "/orders", params, nil, &out, true); err != nil {
		return OrderPage{}, err
	}
	page := OrderPage{Page: q.Page, TotalPages: out.Meta.Pagination.TotalPages}
	for _, w := range out.Data {
		page.Orders = append(page.Orders, w.summary())
	}
	return page, nil
}

// ListAllOrders walks pages until a short page, the reported last page
// or MaxPages.
func (c *Client) ListAllOrders(ctx context.Context) ([]OrderSummary, error) {
	var all []OrderSummary
	for page := 1; page <= c.opts.MaxPages; page++ {
		p, err := c.ListOrders(ctx, ListQuery{Page: page, PerPage: c.opts.PageSize})
		if err != nil {
			return nil, err
		}
		all = append(all, p.Orders...)
		if len(p.Orders) < c.opts.PageSize {
			return all, nil
		}
		if p.TotalPages > 0 && page >= p.TotalPages {
			return all, nil
		}
	}
	c.log.Warn("order listing stopped at page cap", zap.Int("max_pages", c.opts.MaxPages), zap.Int("orders", len(all)))
	return all, nil
}

func (c *Client) CancelShipments(ctx context.Context, awbs []string, reason string) error {
	if len(awbs) == 0 {
		return apperr.Validation("awbs")
	}
	if reason == "" {
		reason = "Order cancelled by merchant"
	}
	body := map[string]any{"awbs": awbs, "reason": reason}
	return c.call(ctx, "cancel_shipments", http.MethodPost, "/orders/cancel/shipment/awbs", nil, body, nil, true)
}

// call performs one logical request with per-attempt timeouts and a fixed
// delay between attempts. Transport errors, 401, 429 and 5xx are retried;
// a 401 also drops the cached token.
func (c *Client) call(ctx context.Context, op, method, path string, params url.Values, in, out any, auth bool) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		payload = b
	}
	endpoint := c.opts.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	for attempt := 0; ; attempt++ {
		err := c.attempt(ctx, op, method, endpoint, payload, out, auth)
		if err == nil {
			metrics.ProviderCalls.WithLabelValues(op, "ok").Inc()
			return nil
		}
		var pe *apperr.ProviderError
		if !errors.As(err, &pe) {
			metrics.ProviderCalls.WithLabelValues(op, "error").Inc()
			return err
		}
		if pe.StatusCode == http.StatusUnauthorized && auth {
			c.tokens.Invalidate()
		}
		badCredentials := pe.StatusCode == http.StatusUnauthorized && !auth
		if !pe.Retryable() || badCredentials || attempt >= c.opts.Retries {
			metrics.ProviderCalls.WithLabelValues(op, "error").Inc()
			return err
		}
		c.log.Warn("provider call failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Int("status", pe.StatusCode),
			zap.String("error", pe.Message))
		if err := sleepCtx(ctx, c.opts.RetryDelay); err != nil {
			metrics.ProviderCalls.WithLabelValues(op, "error").Inc()
			return &apperr.ProviderError{Operation: op, Message: "cancelled while waiting to retry"}
		}
	}
}

func (c *Client) attempt(ctx context.Context, op, method, endpoint string, payload []byte, out any, auth bool) error {
	actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(actx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	metrics.ProviderLatency.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		msg := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
		return &apperr.ProviderError{Operation: op, Message: msg}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &apperr.ProviderError{Operation: op, Message: "reading response failed"}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.Provider(op, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &apperr.ProviderError{Operation: op, Message: "malformed response", StatusCode: resp.StatusCode}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
