package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ordersync/internal/apperr"
	"ordersync/internal/metrics"
)

// Throttled wraps a Store and caps SaveList calls to a fixed budget per
// window. Over-budget writes are dropped with a warning, never queued.
// All other Store methods pass through untouched.
type Throttled struct {
	Store
	log    *zap.Logger
	limit  int
	window time.Duration

	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewThrottled(s Store, limit int, window time.Duration, log *zap.Logger) *Throttled {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Throttled{Store: s, log: log, limit: limit, window: window}
	t.Reset()
	return t
}

// Reset restores the full budget.
func (t *Throttled) Reset() {
	every := rate.Every(t.window / time.Duration(t.limit))
	t.mu.Lock()
	t.limiter = rate.NewLimiter(every, t.limit)
	t.mu.Unlock()
}

func (t *Throttled) allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limiter.Allow()
}

func (t *Throttled) SaveList(ctx context.Context, kind, userID string, items []map[string]any) error {
	if !t.allow() {
		metrics.ThrottleDrops.WithLabelValues(kind).Inc()
		t.log.Warn("write dropped: request budget exhausted",
			zap.String("kind", kind), zap.String("user_id", userID),
			zap.Int("limit", t.limit), zap.Duration("window", t.window))
		return apperr.ErrThrottled
	}
	return t.Store.SaveList(ctx, kind, userID, items)
}

// Ping forwards to the wrapped store when it supports readiness checks.
func (t *Throttled) Ping(ctx context.Context) error {
	if p, ok := t.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
