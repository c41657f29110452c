package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ordersync/internal/apperr"
	"ordersync/internal/model"
)

func TestMemoryCreateGetDuplicate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	o, err := m.CreateOrder(ctx, model.Order{OrderID: "VS-1", Status: model.StatusPending})
	if err != nil || o.ID == "" {
		t.Fatalf("create: %v %+v", err, o)
	}
	if _, err := m.CreateOrder(ctx, model.Order{OrderID: "VS-1"}); !errors.Is(err, ErrOrderExists) {
		t.Fatalf("duplicate create: %v", err)
	}
	got, err := m.GetOrderByOrderID(ctx, "VS-1")
	if err != nil || got.ID != o.ID {
		t.Fatalf("get by orderId: %v %+v", err, got)
	}
	if _, err := m.GetOrder(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	o, _ := m.CreateOrder(ctx, model.Order{OrderID: "VS-2", Attributes: map[string]any{"billingCity": "Pune"}})
	o.Attributes["billingCity"] = "Mumbai"
	got, _ := m.GetOrder(ctx, o.ID)
	if got.Attributes["billingCity"] != "Pune" {
		t.Fatalf("store mutated through returned copy: %v", got.Attributes)
	}
}

func TestMemoryQueryNullSemantics(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	a, _ := m.CreateOrder(ctx, model.Order{OrderID: "A"})
	_, _ = m.CreateOrder(ctx, model.Order{OrderID: "B"})
	_, _ = m.UpdateOrder(ctx, a.ID, model.OrderPatch{ShippingOrderID: model.Ptr("sr-a")})

	with, _ := m.QueryOrders(ctx, NotNull(model.FieldShippingOrderID))
	if len(with) != 1 || with[0].OrderID != "A" {
		t.Fatalf("not-null query: %+v", with)
	}
	without, _ := m.QueryOrders(ctx, IsNull(model.FieldShippingOrderID))
	if len(without) != 1 || without[0].OrderID != "B" {
		t.Fatalf("is-null query: %+v", without)
	}
	both, _ := m.QueryOrders(ctx, Eq(model.FieldOrderID, "A"), NotNull(model.FieldShippingOrderID), IsNull(model.FieldWaybillCode))
	if len(both) != 1 {
		t.Fatalf("combined query: %+v", both)
	}
}

func TestMemoryConditionalUpdate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	o, _ := m.CreateOrder(ctx, model.Order{OrderID: "C"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "sr-" + string(rune('a'+i))
			_, err := m.UpdateOrder(ctx, o.ID, model.OrderPatch{ShippingOrderID: &id, RequireNoShippingOrder: true})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestMemoryListOrdersCursor(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		_, _ = m.CreateOrder(ctx, model.Order{OrderID: id})
	}
	page, next, _ := m.ListOrders(ctx, "", 2)
	if len(page) != 2 || next == "" {
		t.Fatalf("first page: %d %q", len(page), next)
	}
	page, next, _ = m.ListOrders(ctx, next, 2)
	if len(page) != 1 || next != "" {
		t.Fatalf("second page: %d %q", len(page), next)
	}
}

func TestThrottledDropsOverBudget(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	mem := NewMemory()
	th := NewThrottled(mem, 2, time.Hour, zap.New(core))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := th.SaveList(ctx, ListCart, "u1", []map[string]any{{"sku": i}}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := th.SaveList(ctx, ListCart, "u1", []map[string]any{{"sku": 99}}); !errors.Is(err, apperr.ErrThrottled) {
		t.Fatalf("expected throttled, got %v", err)
	}
	if got := mem.List(ListCart, "u1"); len(got) != 1 || got[0]["sku"] != 1 {
		t.Fatalf("dropped write reached store: %v", got)
	}
	if logs.FilterMessage("write dropped: request budget exhausted").Len() != 1 {
		t.Fatalf("expected one drop warning, got %v", logs.All())
	}

	th.Reset()
	if err := th.SaveList(ctx, ListWishlist, "u1", nil); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}
