package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"ordersync/internal/apperr"
)

type fakeProvider struct {
	logins   int32
	requests int32
	mux      *http.ServeMux
}

func newFakeProvider(t *testing.T) (*fakeProvider, *httptest.Server) {
	t.Helper()
	f := &fakeProvider{mux: http.NewServeMux()}
	f.mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.logins, 1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Invalid email and password combination"}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"tok-` + strconv.Itoa(int(atomic.LoadInt32(&f.logins))) + `"}`))
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.requests, 1)
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Options{
		BaseURL:       srv.URL,
		Email:         "ops@example.com",
		Password:      "secret",
		PickupPincode: "110001",
		Timeout:       2 * time.Second,
		Retries:       2,
		RetryDelay:    time.Millisecond,
		PageSize:      2,
		MaxPages:      50,
	}, nil)
}

func requireBearer(t *testing.T, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		t.Errorf("%s called without bearer token", r.URL.Path)
	}
}

func TestClientCreateOrderEndToEnd(t *testing.T) {
	f, srv := newFakeProvider(t)
	var got ProviderOrder
	f.mux.HandleFunc("/orders/create/adhoc", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"order_id":55501,"shipment_id":77701,"status":"NEW"}`))
	})
	c := newTestClient(srv)

	po, err := ToProviderOrder(sampleOrder(), StandardRules, testDefaults())
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.CreateOrder(context.Background(), po)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.OrderID != "55501" || res.ShipmentID != "77701" {
		t.Fatalf("result: %+v", res)
	}
	if got.Weight != 0.5 || got.SubTotal != 4999 || got.OrderID != "VS-1001" {
		t.Fatalf("payload sent: %+v", got)
	}
}

func TestClientReusesTokenAcrossCalls(t *testing.T) {
	f, srv := newFakeProvider(t)
	f.mux.HandleFunc("/courier/generate/label", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"label_created":1,"label_url":"https://labels.example/1.pdf"}`))
	})
	c := newTestClient(srv)
	for i := 0; i < 3; i++ {
		if _, err := c.GenerateLabel(context.Background(), "77701"); err != nil {
			t.Fatal(err)
		}
	}
	if n := atomic.LoadInt32(&f.logins); n != 1 {
		t.Fatalf("expected one login, got %d", n)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	f, srv := newFakeProvider(t)
	var calls int32
	f.mux.HandleFunc("/courier/track/awb/AWB1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"tracking_data":{"shipment_status":7}}`))
	})
	c := newTestClient(srv)
	out, err := c.TrackShipment(context.Background(), "AWB1")
	if err != nil || out["tracking_data"] == nil {
		t.Fatalf("track: %v %v", out, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	f, srv := newFakeProvider(t)
	var calls int32
	f.mux.HandleFunc("/orders/create/adhoc", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Wrong Pickup location entered.","echo":{"password":"secret"}}`))
	})
	c := newTestClient(srv)
	_, err := c.CreateOrder(context.Background(), ProviderOrder{OrderID: "X"})
	var pe *apperr.ProviderError
	if !errors.As(err, &pe) || pe.Operation != "create_order" || pe.StatusCode != 422 {
		t.Fatalf("expected provider error, got %v", err)
	}
	if pe.Message != "Wrong Pickup location entered." {
		t.Fatalf("message not summarized: %q", pe.Message)
	}
	if calls != 1 {
		t.Fatalf("4xx retried %d times", calls)
	}
}

func TestClientUnauthorizedRefreshesToken(t *testing.T) {
	f, srv := newFakeProvider(t)
	f.mux.HandleFunc("/orders/show/9", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":9,"status":"NEW"}}`))
	})
	c := newTestClient(srv)
	if _, err := c.GetOrderDetail(context.Background(), "9"); err != nil {
		t.Fatalf("detail after re-login: %v", err)
	}
	if n := atomic.LoadInt32(&f.logins); n != 2 {
		t.Fatalf("expected re-login, got %d logins", n)
	}
}

func TestClientLoginFailure(t *testing.T) {
	f, srv := newFakeProvider(t)
	c := NewClient(Options{BaseURL: srv.URL, Email: "ops@example.com", Password: "wrong", Retries: 3, RetryDelay: time.Millisecond}, nil)
	_, err := c.ListOrders(context.Background(), ListQuery{})
	if !errors.Is(err, apperr.ErrAuthenticationFailed) {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if n := atomic.LoadInt32(&f.logins); n != 1 {
		t.Fatalf("bad credentials retried: %d logins", n)
	}
}

func TestGetOrderDetailShipmentShapes(t *testing.T) {
	f, srv := newFakeProvider(t)
	f.mux.HandleFunc("/orders/show/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":1,"status":"READY TO SHIP","shipments":{"id":11,"awb":"AWB-OBJ","courier":"Delhivery"}}}`))
	})
	f.mux.HandleFunc("/orders/show/2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":2,"shipments":[{"id":21,"awb":null},{"id":22,"awb":"AWB-ARR","courier":"Bluedart","tracking_url":"https://t/22"}]}}`))
	})
	f.mux.HandleFunc("/orders/show/3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":3,"shipments":[],"last_mile_awb":"LM-3","last_mile_courier_name":"Ekart","shipment_status":6}}`))
	})
	c := newTestClient(srv)
	ctx := context.Background()

	before := time.Now()
	d1, err := c.GetOrderDetail(ctx, "1")
	if err != nil || d1.WaybillCode != "AWB-OBJ" || d1.CourierName != "Delhivery" || d1.ShipmentID != "11" {
		t.Fatalf("object shipments: %+v %v", d1, err)
	}
	if d1.FetchedAt.Before(before) {
		t.Fatal("FetchedAt should be the request start time")
	}
	d2, _ := c.GetOrderDetail(ctx, "2")
	if d2.WaybillCode != "AWB-ARR" || d2.TrackingURL != "https://t/22" || d2.ShipmentID != "22" {
		t.Fatalf("array shipments: %+v", d2)
	}
	d3, _ := c.GetOrderDetail(ctx, "3")
	if d3.WaybillCode != "LM-3" || d3.CourierName != "Ekart" || d3.ShipmentStatus != "6" {
		t.Fatalf("order-level fallback: %+v", d3)
	}
}

func TestAutoAssignPicksFirstRankedCourier(t *testing.T) {
	f, srv := newFakeProvider(t)
	f.mux.HandleFunc("/courier/serviceability/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("delivery_postcode") != "411001" || r.URL.Query().Get("pickup_postcode") != "110001" {
			t.Errorf("query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"data":{"available_courier_companies":[{"courier_company_id":7,"courier_name":"X"},{"courier_company_id":9,"courier_name":"Y"}]}}`))
	})
	var assigned map[string]any
	f.mux.HandleFunc("/courier/assign/awb", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&assigned)
		_, _ = w.Write([]byte(`{"awb_assign_status":1,"response":{"data":{"awb_code":"AWB777"}}}`))
	})
	c := newTestClient(srv)
	res, err := c.AutoAssignWaybill(context.Background(), "77701", "411001", 0.5, false)
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if res.CourierID != 7 || res.CourierName != "X" || res.AWBCode != "AWB777" {
		t.Fatalf("result: %+v", res)
	}
	if assigned["courier_id"] != float64(7) || assigned["shipment_id"] != "77701" {
		t.Fatalf("assign body: %v", assigned)
	}
}

func TestAutoAssignNoCouriers(t *testing.T) {
	f, srv := newFakeProvider(t)
	f.mux.HandleFunc("/courier/serviceability/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	c := newTestClient(srv)
	_, err := c.AutoAssignWaybill(context.Background(), "1", "000000", 0, false)
	var pe *apperr.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestListAllOrdersStopsOnShortPage(t *testing.T) {
	f, srv := newFakeProvider(t)
	var pages int32
	f.mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pages, 1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 3 {
			fmt.Fprintf(w, `{"data":[{"id":%d1,"channel_order_id":"VS-%d1"},{"id":%d2,"channel_order_id":"VS-%d2"}]}`, page, page, page, page)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":31,"channel_order_id":"VS-31","shipments":{"id":310,"awb":"A31"}}]}`))
	})
	c := newTestClient(srv)
	all, err := c.ListAllOrders(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 || pages != 3 {
		t.Fatalf("got %d orders over %d pages", len(all), pages)
	}
	if all[4].WaybillCode != "A31" || all[4].ChannelOrderID != "VS-31" {
		t.Fatalf("summary: %+v", all[4])
	}
}

func TestListAllOrdersPageCap(t *testing.T) {
	f, srv := newFakeProvider(t)
	var pages int32
	f.mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&pages, 1)
		fmt.Fprintf(w, `{"data":[{"id":%d},{"id":%d}]}`, n*10, n*10+1)
	})
	c := newTestClient(srv)
	c.opts.MaxPages = 4
	all, err := c.ListAllOrders(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pages != 4 || len(all) != 8 {
		t.Fatalf("runaway guard: %d pages, %d orders", pages, len(all))
	}
}

func TestCancelShipments(t *testing.T) {
	f, srv := newFakeProvider(t)
	var body map[string]any
	f.mux.HandleFunc("/orders/cancel/shipment/awbs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"message":"Bulk Shipment cancellation is in progress."}`))
	})
	c := newTestClient(srv)
	if err := c.CancelShipments(context.Background(), []string{"AWB1"}, ""); err != nil {
		t.Fatal(err)
	}
	if body["reason"] != "Order cancelled by merchant" {
		t.Fatalf("body: %v", body)
	}
	if err := c.CancelShipments(context.Background(), nil, ""); err == nil {
		t.Fatal("empty awb list should fail validation")
	}
}
