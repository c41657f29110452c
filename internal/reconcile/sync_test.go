package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ordersync/internal/model"
	"ordersync/internal/payment"
	"ordersync/internal/shipping"
)

// shippedOrder saves a COD order and returns it with its shipping id.
func shippedOrder(t *testing.T, e *Engine, id string) model.Order {
	t.Helper()
	res, err := e.SaveOrder(context.Background(), checkoutOrder(id))
	if err != nil || res.Order.ShippingOrderID == nil {
		t.Fatalf("save %s: %+v %v", id, res, err)
	}
	return res.Order
}

func TestSyncConvergesWithZeroWrites(t *testing.T) {
	e, st, sh := newTestEngine(t, payment.PolicyBlock)
	ctx := context.Background()
	o := shippedOrder(t, e, "VS-1001")
	sh.setDetail(shipping.OrderDetail{
		OrderID:        o.ShippingID(),
		WaybillCode:    "AWB123",
		CourierName:    "Blue Dart",
		TrackingURL:    "https://track.example/AWB123",
		Status:         "IN TRANSIT",
		ShipmentStatus: "IN TRANSIT",
		FetchedAt:      time.Now(),
	})

	run := e.Sync(ctx, TriggerManual)
	if run.Errors != 0 || run.Updated != 1 || run.OrdersScanned != 1 {
		t.Fatalf("first pass: %+v", run)
	}
	first, _ := st.GetOrder(ctx, o.ID)
	if first.WaybillCode != "AWB123" || first.ShippingStatus != "IN TRANSIT" || first.LastSyncedAt == nil {
		t.Fatalf("mirrored fields: %+v", first)
	}

	run = e.Sync(ctx, TriggerManual)
	if run.Updated != 0 || run.Errors != 0 {
		t.Fatalf("second pass: %+v", run)
	}
	second, _ := st.GetOrder(ctx, o.ID)
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatal("converged pass wrote to the store")
	}
	if _, assigns := sh.counts(); assigns != 0 {
		t.Fatal("waybill assigned for an order that already has one")
	}
}

func TestSyncIsolatesFailuresAndAssignsWaybills(t *testing.T) {
	e, st, sh := newTestEngine(t, payment.PolicyBlock)
	ctx := context.Background()
	a := shippedOrder(t, e, "VS-A")
	b := shippedOrder(t, e, "VS-B")
	sh.setDetail(shipping.OrderDetail{OrderID: a.ShippingID(), Status: "NEW", FetchedAt: time.Now()})
	// VS-B has no provider detail, so its refresh fails.

	run := e.Sync(ctx, TriggerScheduled)
	if run.Errors != 1 {
		t.Fatalf("errors = %d", run.Errors)
	}
	if run.WaybillsAssigned != 2 {
		t.Fatalf("waybills = %d", run.WaybillsAssigned)
	}
	for _, id := range []string{a.ID, b.ID} {
		got, _ := st.GetOrder(ctx, id)
		if got.WaybillCode == "" {
			t.Fatalf("%s has no waybill", got.OrderID)
		}
	}
}

func TestTriggeredPassSurvivesCallerCancellation(t *testing.T) {
	e, st, sh := newTestEngine(t, payment.PolicyBlock)
	ids := []string{"VS-C1", "VS-C2", "VS-C3"}
	var orders []model.Order
	for _, id := range ids {
		o := shippedOrder(t, e, id)
		sh.setDetail(shipping.OrderDetail{
			OrderID:     o.ShippingID(),
			Status:      "PICKUP SCHEDULED",
			TrackingURL: "https://track.example/" + id,
			FetchedAt:   time.Now(),
		})
		orders = append(orders, o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	sh.onDetail = func() { once.Do(cancel) }

	run := NewScheduler(e, zap.NewNop()).Trigger(ctx)
	if ctx.Err() == nil {
		t.Fatal("caller context was not cancelled during the pass")
	}
	if run.Skipped || run.Errors != 0 || run.OrdersScanned != 3 || run.Updated != 3 || run.WaybillsAssigned != 3 {
		t.Fatalf("run: %+v", run)
	}
	sh.mu.Lock()
	detailCalls := sh.detailN
	sh.mu.Unlock()
	if detailCalls != 3 {
		t.Fatalf("detail calls = %d", detailCalls)
	}
	for _, o := range orders {
		got, _ := st.GetOrder(context.Background(), o.ID)
		if got.WaybillCode == "" || got.TrackingURL != "https://track.example/"+got.OrderID {
			t.Fatalf("%s not refreshed: waybill=%q tracking=%q", got.OrderID, got.WaybillCode, got.TrackingURL)
		}
	}
}

func TestStaleSnapshotDoesNotOverwriteWebhook(t *testing.T) {
	e, st, sh := newTestEngine(t, payment.PolicyBlock)
	ctx := context.Background()
	o := shippedOrder(t, e, "VS-LWW")

	fetched := time.Now()
	received := fetched.Add(time.Second)
	err := e.ShipmentDelivered(ctx, model.ShippingEvent{
		Type:       "shipment.delivered",
		Data:       model.ShippingEventData{OrderID: model.FlexString(o.ShippingID())},
		ReceivedAt: received,
	})
	if err != nil {
		t.Fatal(err)
	}
	sh.setDetail(shipping.OrderDetail{
		OrderID:     o.ShippingID(),
		Status:      "IN TRANSIT",
		TrackingURL: "https://track.example/x",
		FetchedAt:   fetched,
	})
	res := e.RefreshOrders(ctx, []string{"VS-LWW"})
	if len(res) != 1 || res[0].Error != "" {
		t.Fatalf("refresh: %+v", res)
	}
	got, _ := st.GetOrder(ctx, o.ID)
	if got.ShippingStatus != model.ShippingDelivered {
		t.Fatalf("stale snapshot overwrote webhook: %q", got.ShippingStatus)
	}
	if got.TrackingURL != "https://track.example/x" {
		t.Fatalf("unversioned field not written: %q", got.TrackingURL)
	}
}

func TestDiscoveryMaterializesAndRepairs(t *testing.T) {
	e, st, sh := newTestEngine(t, payment.PolicyBlock)
	ctx := context.Background()
	lost, _ := st.CreateOrder(ctx, checkoutOrder("VS-LOST"))
	sh.remote = []shipping.OrderSummary{
		{ID: "900", ChannelOrderID: "VS-PORTAL", Status: "NEW", CustomerName: "Ravi", Pincode: "110001", Total: "1,250.50"},
		{ID: "901", ChannelOrderID: "VS-LOST", ShipmentID: "s901"},
	}

	run := e.Sync(ctx, TriggerManual)
	if run.Created != 2 || run.Errors != 0 {
		t.Fatalf("pass: %+v", run)
	}
	portal, err := st.GetOrderByOrderID(ctx, "VS-PORTAL")
	if err != nil {
		t.Fatal(err)
	}
	if portal.Status != model.StatusNew || portal.Source != model.SourceDiscovered || portal.ShippingID() != "900" {
		t.Fatalf("discovered order: %+v", portal)
	}
	if portal.Amount != 1250.5 || portal.CustomerInfo == nil || portal.CustomerInfo.Address.Pincode != "110001" {
		t.Fatalf("discovered details: %+v", portal)
	}
	repaired, _ := st.GetOrder(ctx, lost.ID)
	if repaired.ShippingID() != "901" || repaired.ShipmentID != "s901" || !repaired.ShippingCreated {
		t.Fatalf("repaired order: %+v", repaired)
	}

	if run = e.Sync(ctx, TriggerManual); run.Created != 0 {
		t.Fatalf("discovery not idempotent: %+v", run)
	}
}

func TestEventHandlers(t *testing.T) {
	e, st, sh := newTestEngine(t, payment.PolicyBlock)
	ctx := context.Background()
	o := shippedOrder(t, e, "VS-EV")
	data := model.ShippingEventData{OrderID: model.FlexString(o.ShippingID())}
	at := time.Now()
	ev := func(typ string, d model.ShippingEventData) model.ShippingEvent {
		at = at.Add(time.Second)
		return model.ShippingEvent{Type: typ, Data: d, ReceivedAt: at}
	}

	d := data
	d.AWBCode, d.CourierName = "AWB9", "Ekart"
	if err := e.AWBAssigned(ctx, ev("awb.assigned", d)); err != nil {
		t.Fatal(err)
	}
	got, _ := st.GetOrder(ctx, o.ID)
	if got.WaybillCode != "AWB9" || got.CourierName != "Ekart" || got.ShippingStatus != model.ShippingAWB {
		t.Fatalf("awb.assigned: %+v", got)
	}

	d = data
	d.TrackingURL, d.Status = "https://t.example/AWB9", "OUT FOR DELIVERY"
	_ = e.TrackingUpdated(ctx, ev("tracking.updated", d))
	got, _ = st.GetOrder(ctx, o.ID)
	if got.TrackingURL != "https://t.example/AWB9" || got.ShipmentStatus != "OUT FOR DELIVERY" || got.WaybillCode != "AWB9" {
		t.Fatalf("tracking.updated: %+v", got)
	}

	_ = e.ShipmentFailed(ctx, ev("shipment.failed", data))
	got, _ = st.GetOrder(ctx, o.ID)
	if got.ShippingStatus != model.ShippingFailed || got.FailureReason != "Shipment failed" {
		t.Fatalf("shipment.failed: %+v", got)
	}

	unknown := model.ShippingEventData{OrderID: "no-such-order"}
	if err := e.ShipmentDelivered(ctx, ev("shipment.delivered", unknown)); err != nil {
		t.Fatalf("unknown order must be ignored: %v", err)
	}

	sh.setDetail(shipping.OrderDetail{OrderID: "777", ChannelOrderID: "VS-HOOK", Status: "NEW"})
	if err := e.OrderCreated(ctx, ev("order.created", model.ShippingEventData{OrderID: "777"})); err != nil {
		t.Fatal(err)
	}
	hook, err := st.GetOrderByOrderID(ctx, "VS-HOOK")
	if err != nil || hook.Source != model.SourceWebhook || hook.ShippingID() != "777" {
		t.Fatalf("order.created: %+v %v", hook, err)
	}
	if err := e.OrderCreated(ctx, ev("order.created", model.ShippingEventData{OrderID: "777"})); err != nil {
		t.Fatal(err)
	}
	if all, _ := st.QueryOrders(ctx); len(all) != 2 {
		t.Fatalf("duplicate record from repeated order.created: %d", len(all))
	}
}

type blockingSyncer struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (b *blockingSyncer) Sync(ctx context.Context, trigger string) model.SyncRun {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.started <- struct{}{}
	<-b.release
	return model.SyncRun{Trigger: trigger, StartedAt: time.Now(), FinishedAt: time.Now()}
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	bs := &blockingSyncer{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewScheduler(bs, zap.New(core))

	done := make(chan model.SyncRun)
	go func() { done <- s.Trigger(context.Background()) }()
	<-bs.started

	skipped := s.Trigger(context.Background())
	if !skipped.Skipped {
		t.Fatalf("overlapping trigger ran: %+v", skipped)
	}
	if logs.FilterMessage("sync already in progress").Len() != 1 {
		t.Fatalf("skip not logged: %v", logs.All())
	}
	if !s.Status().InFlight {
		t.Fatal("status does not report the in-flight pass")
	}

	close(bs.release)
	if run := <-done; run.Skipped || run.Trigger != TriggerManual {
		t.Fatalf("first run: %+v", run)
	}
	st := s.Status()
	if st.InFlight || st.LastRun == nil || st.LastRun.Trigger != TriggerManual {
		t.Fatalf("status after run: %+v", st)
	}
	if bs.calls != 1 {
		t.Fatalf("syncer calls = %d", bs.calls)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	bs := &blockingSyncer{started: make(chan struct{}, 1), release: make(chan struct{})}
	close(bs.release)
	s := NewScheduler(bs, nil)
	if err := s.SetFrequency(0); err == nil {
		t.Fatal("zero frequency accepted")
	}
	if err := s.Start(time.Hour); err != nil {
		t.Fatal(err)
	}
	<-bs.started
	if st := s.Status(); !st.Running || st.Frequency != "1h0m0s" {
		t.Fatalf("status: %+v", st)
	}
	s.Stop()
	s.Wait()
	if s.Status().Running {
		t.Fatal("still running after stop")
	}
}

func TestKeyedLocksRelease(t *testing.T) {
	k := newKeyedLocks()
	unlock := k.Lock("a")
	acquired, released := make(chan struct{}), make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
		close(released)
	}()
	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	other := k.Lock("b")
	other()
	unlock()
	<-released
	if k.held() != 0 {
		t.Fatalf("entries left: %d", k.held())
	}
}
