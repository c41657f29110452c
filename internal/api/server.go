// Package api exposes the order, payment, shipping and sync operations
// over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"ordersync/internal/apperr"
	"ordersync/internal/config"
	"ordersync/internal/events"
	"ordersync/internal/logging"
	"ordersync/internal/payment"
	"ordersync/internal/reconcile"
	"ordersync/internal/shipping"
	"ordersync/internal/store"
	"ordersync/internal/webhooks"
)

// Gateway is the payment gateway surface the API calls.
type Gateway interface {
	CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (payment.GatewayOrder, error)
	PaymentStatus(ctx context.Context, id string) (payment.Payment, error)
}

type Server struct {
	cfg *config.Config
	log *zap.Logger

	Store     store.Store
	Broker    events.Broker
	Shipping  shipping.Provider
	Verifier  *payment.Verifier
	Gateway   Gateway
	Engine    *reconcile.Engine
	Scheduler *reconcile.Scheduler
	Webhooks  *webhooks.Dispatcher

	closers []func() error
}

// NewServer wires the service from configuration. Without a database URL
// orders live in memory; without a Redis URL events stay in-process.
func NewServer(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, log: logging.Component(log, "api")}

	var base store.Store
	if strings.TrimSpace(cfg.Database.URL) == "" {
		base = store.NewMemory()
		log.Info("using in-memory order store")
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.Database.Migrate {
			if err := pg.Migrate(context.Background()); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		s.closers = append(s.closers, pg.Close)
		base = pg
	}
	s.Store = store.NewThrottled(base, cfg.Throttle.Limit, cfg.Throttle.Window, logging.Component(log, "throttle"))

	s.Broker = events.NewMemory()
	if cfg.Redis.URL != "" {
		rb, err := events.NewRedis(cfg.Redis.URL, logging.Component(log, "events"))
		if err != nil {
			log.Warn("redis broker unavailable, using in-process events", zap.Error(err))
		} else {
			s.Broker = rb
			s.closers = append(s.closers, rb.Close)
		}
	}

	client := shipping.NewClient(shipping.Options{
		BaseURL:       cfg.Shipping.BaseURL,
		Email:         cfg.Shipping.Email,
		Password:      cfg.Shipping.Password,
		TokenTTL:      cfg.Shipping.TokenTTL,
		PickupPincode: cfg.Shipping.PickupPincode,
		Timeout:       cfg.Shipping.Timeout,
		Retries:       cfg.Shipping.Retries,
		RetryDelay:    cfg.Shipping.RetryDelay,
		PageSize:      cfg.Shipping.PageSize,
		MaxPages:      cfg.Shipping.MaxPages,
	}, logging.Component(log, "shipping"))
	s.Shipping = client

	policy, err := payment.ParsePolicy(cfg.Payment.SignaturePolicy)
	if err != nil {
		return nil, err
	}
	s.Verifier = payment.NewVerifier(cfg.Payment.KeySecret, policy, logging.Component(log, "payment"))
	s.Gateway = payment.NewGateway(payment.GatewayOptions{
		BaseURL:   cfg.Payment.BaseURL,
		KeyID:     cfg.Payment.KeyID,
		KeySecret: cfg.Payment.KeySecret,
		Currency:  cfg.Payment.Currency,
		Timeout:   cfg.Payment.Timeout,
	}, logging.Component(log, "gateway"))

	s.Engine = reconcile.NewEngine(s.Store, client, s.Verifier, s.Broker, shipping.Defaults{
		PickupLocation: cfg.Shipping.PickupLocation,
		PickupPincode:  cfg.Shipping.PickupPincode,
		Length:         cfg.Package.Length,
		Breadth:        cfg.Package.Breadth,
		Height:         cfg.Package.Height,
		ItemWeight:     cfg.Package.ItemWeight,
		HSN:            cfg.Package.HSN,
		Category:       cfg.Package.Category,
		Notes:          cfg.Package.Notes,
		Country:        cfg.Package.Country,
	}, logging.Component(log, "reconcile"))
	s.Scheduler = reconcile.NewScheduler(s.Engine, logging.Component(log, "scheduler"))
	if err := s.Scheduler.SetFrequency(cfg.Sync.Frequency); err != nil {
		return nil, err
	}
	s.Webhooks = webhooks.NewDispatcher(s.Engine, logging.Component(log, "webhooks"))
	return s, nil
}

// Close stops the scheduler and releases store and broker connections.
func (s *Server) Close() error {
	s.Scheduler.Stop()
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// fail logs server-side failures and writes the error envelope.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := apperr.HTTPStatus(err); status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, err)
}
