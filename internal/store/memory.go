package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ordersync/internal/apperr"
	"ordersync/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	orders    map[string]model.Order      // id -> order
	byOrderID map[string]string           // orderId -> id
	ids       []string                    // insertion order
	lists     map[string][]map[string]any // kind:user -> items
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		orders:    map[string]model.Order{},
		byOrderID: map[string]string{},
		lists:     map[string][]map[string]any{},
		now:       time.Now,
	}
}

func (m *Memory) GetOrder(ctx context.Context, id string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o.Clone(), nil
}

func (m *Memory) GetOrderByOrderID(ctx context.Context, orderID string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOrderID[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return m.orders[id].Clone(), nil
}

func (m *Memory) CreateOrder(ctx context.Context, o model.Order) (model.Order, error) {
	if strings.TrimSpace(o.OrderID) == "" {
		return model.Order{}, fmt.Errorf("create order: empty orderId")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byOrderID[o.OrderID]; ok {
		return model.Order{}, fmt.Errorf("order %s: %w", o.OrderID, ErrOrderExists)
	}
	o = o.Clone()
	o.ID = uuid.New().String()
	now := m.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	m.orders[o.ID] = o
	m.byOrderID[o.OrderID] = o.ID
	m.ids = append(m.ids, o.ID)
	return o.Clone(), nil
}

func (m *Memory) UpdateOrder(ctx context.Context, id string, patch model.OrderPatch) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if patch.RequireNoShippingOrder && o.ShippingOrderID != nil {
		return o.Clone(), fmt.Errorf("order %s already has shipping order %s: %w", o.OrderID, *o.ShippingOrderID, ErrConflict)
	}
	o = o.Clone()
	patch.Apply(&o, m.now().UTC())
	m.orders[id] = o
	return o.Clone(), nil
}

func (m *Memory) ListOrders(ctx context.Context, cursor string, limit int) ([]model.Order, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if cursor != "" {
		for i, id := range m.ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Order{}
	var next string
	for i := start; i < len(m.ids) && len(out) < limit; i++ {
		out = append(out, m.orders[m.ids[i]].Clone())
		next = m.ids[i]
	}
	if start+len(out) >= len(m.ids) {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) QueryOrders(ctx context.Context, filters ...Filter) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for _, id := range m.ids {
		o := m.orders[id]
		if matchAll(o, filters) {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (m *Memory) SaveList(ctx context.Context, kind, userID string, items []map[string]any) error {
	if !ValidListKind(kind) {
		return apperr.Invalid("unknown list kind %q", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[kind+":"+userID] = append([]map[string]any(nil), items...)
	return nil
}

// List returns a stored cart or wishlist.
func (m *Memory) List(kind, userID string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.lists[kind+":"+userID]...)
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }
