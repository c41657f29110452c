package shipping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ordersync/internal/apperr"
	"ordersync/internal/metrics"
)

// LoginFunc exchanges configured credentials for a bearer token.
type LoginFunc func(ctx context.Context) (string, error)

// TokenCache holds the provider bearer token. Concurrent callers that find
// it missing or expired share a single in-flight login.
type TokenCache struct {
	login   LoginFunc
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time

	group singleflight.Group
}

// defaultLoginTimeout bounds a shared login once it is detached from the
// caller that started it.
const defaultLoginTimeout = 30 * time.Second

func NewTokenCache(login LoginFunc, ttl time.Duration) *TokenCache {
	return &TokenCache{login: login, ttl: ttl, timeout: defaultLoginTimeout, now: time.Now}
}

// WithLoginTimeout bounds each shared login.
func (c *TokenCache) WithLoginTimeout(d time.Duration) *TokenCache {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// WithClock swaps the time source.
func (c *TokenCache) WithClock(now func() time.Time) *TokenCache {
	c.now = now
	return c
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiry) {
		return c.token, true
	}
	return "", false
}

// Token returns a valid bearer token, logging in when needed.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}
	v, err, _ := c.group.Do("login", func() (any, error) {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		// Waiters share this login, so one caller's cancellation must not
		// fail the rest.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		tok, err := c.login(lctx)
		if err != nil {
			metrics.TokenRefreshes.WithLabelValues("error").Inc()
			return "", fmt.Errorf("%w: %s", apperr.ErrAuthenticationFailed, apperr.PublicMessage(err))
		}
		if tok == "" {
			metrics.TokenRefreshes.WithLabelValues("error").Inc()
			return "", fmt.Errorf("%w: empty token", apperr.ErrAuthenticationFailed)
		}
		metrics.TokenRefreshes.WithLabelValues("ok").Inc()
		c.mu.Lock()
		c.token = tok
		c.expiry = c.now().Add(c.ttl)
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call logs in again.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
}

// Reset invalidates the token and forgets any in-flight login.
func (c *TokenCache) Reset() {
	c.Invalidate()
	c.group.Forget("login")
}

// Expiry reports when the cached token expires; zero when none is cached.
func (c *TokenCache) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiry
}
