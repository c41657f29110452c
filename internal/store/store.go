package store

import (
	"context"
	"errors"

	"ordersync/internal/apperr"
	"ordersync/internal/model"
)

// Store is the order persistence interface used by the sync engine and the API.
type Store interface {
	// Orders
	GetOrder(ctx context.Context, id string) (model.Order, error)
	GetOrderByOrderID(ctx context.Context, orderID string) (model.Order, error)
	CreateOrder(ctx context.Context, o model.Order) (model.Order, error)
	UpdateOrder(ctx context.Context, id string, patch model.OrderPatch) (model.Order, error)
	ListOrders(ctx context.Context, cursor string, limit int) (items []model.Order, nextCursor string, err error)
	QueryOrders(ctx context.Context, filters ...Filter) ([]model.Order, error)

	// Cart / wishlist writes
	SaveList(ctx context.Context, kind, userID string, items []map[string]any) error
}

var (
	ErrNotFound = apperr.ErrNotFound
	// ErrConflict is returned when a conditional update's guard fails.
	ErrConflict = apperr.ErrConflict
	// ErrOrderExists is returned by CreateOrder for a duplicate business key.
	ErrOrderExists = errors.New("order already exists")
)

// List kinds accepted by SaveList.
const (
	ListCart     = "cart"
	ListWishlist = "wishlist"
)

// ValidListKind reports whether kind names a supported list.
func ValidListKind(kind string) bool { return kind == ListCart || kind == ListWishlist }
