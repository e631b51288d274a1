// Package base provides the BaseConnector that built-in connectors and bank
// plugins embed. It owns the per-instance plumbing every source needs: the
// configuration map, a rate limiter, a response cache, a retry policy, an
// HTTP client and the authenticated flag.
//
// # Usage
//
//	type MyConnector struct {
//	    *base.BaseConnector
//	}
//
//	func NewMyConnector(id string, settings map[string]interface{}) (*MyConnector, error) {
//	    b := base.NewBaseConnector(id, myMetadata, settings)
//	    if err := b.ValidateConfig("api_key"); err != nil {
//	        return nil, err
//	    }
//	    return &MyConnector{BaseConnector: b}, nil
//	}
//
// Fetches go through Fetch, which waits on the limiter, applies the retry
// policy and records metrics:
//
//	rows, err := base.Fetch(ctx, c.BaseConnector, "/positions", func(ctx context.Context) ([]row, error) {
//	    var out []row
//	    return out, c.HTTP().GetJSON(ctx, url, nil, &out)
//	})
//
// # Settings
//
// Besides connector-specific keys, every connector understands
// rate_limit_per_minute, rate_limit_per_second, cache_ttl, max_retries and
// retry_delay.
package base

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/wealthsync/pkg/clients"
	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/logger"
	"github.com/ajitpratap0/wealthsync/pkg/metrics"
)

// Option customizes a BaseConnector.
type Option func(*BaseConnector)

// WithClock drives the limiter from clock.
func WithClock(clock clients.Clock) Option {
	return func(b *BaseConnector) { b.clock = clock }
}

// WithRetryPolicy replaces the retry policy built from settings.
func WithRetryPolicy(rp *RetryPolicy) Option {
	return func(b *BaseConnector) { b.retryPolicy = rp }
}

// WithHTTPConfig replaces the default HTTP client configuration.
func WithHTTPConfig(cfg *clients.HTTPConfig) Option {
	return func(b *BaseConnector) { b.httpConfig = cfg }
}

// BaseConnector provides common functionality for all connectors.
type BaseConnector struct {
	id       string
	metadata core.Metadata
	settings Settings
	logger   *zap.Logger

	clock       clients.Clock
	httpConfig  *clients.HTTPConfig
	rateLimiter *clients.RateLimiter
	cache       *clients.ResponseCache
	retryPolicy *RetryPolicy
	httpClient  *clients.HTTPClient
	collector   *metrics.Collector

	authenticated atomic.Bool
}

// NewBaseConnector creates the shared state for one configured source. The
// metadata's RateLimitPerMinute is the default call ceiling.
func NewBaseConnector(id string, md core.Metadata, settings map[string]interface{}, opts ...Option) *BaseConnector {
	if settings == nil {
		settings = map[string]interface{}{}
	}
	b := &BaseConnector{
		id:       id,
		metadata: md,
		settings: Settings(settings),
		logger:   logger.Get().With(zap.String("connector", md.Name), zap.String("source", id)),
	}
	for _, opt := range opts {
		opt(b)
	}

	perMinute := md.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = clients.DefaultRateLimiterConfig().CallsPerMinute
	}
	b.rateLimiter = clients.NewRateLimiter(clients.RateLimiterConfig{
		CallsPerMinute: b.settings.Int("rate_limit_per_minute", perMinute),
		CallsPerSecond: b.settings.Float("rate_limit_per_second", float64(perMinute)/60),
		Clock:          b.clock,
	})
	b.cache = clients.NewResponseCache(b.settings.Duration("cache_ttl", clients.DefaultCacheTTL))

	if b.retryPolicy == nil {
		b.retryPolicy = NewRetryPolicy(
			b.settings.Int("max_retries", 3),
			b.settings.Duration("retry_delay", time.Second),
		)
	}
	b.collector = metrics.NewCollector(id)
	if b.retryPolicy.OnRetry == nil {
		b.retryPolicy.OnRetry = func(err error, attempt int) {
			b.collector.RecordRetry()
			b.logger.Warn("retrying after error", zap.Int("attempt", attempt), zap.Error(err))
		}
	}

	b.httpClient = clients.NewHTTPClient(id, b.httpConfig, b.logger)
	return b
}

// ID returns the configured source id.
func (b *BaseConnector) ID() string { return b.id }

// Metadata returns the connector type description.
func (b *BaseConnector) Metadata() core.Metadata { return b.metadata }

// Settings returns the configuration map.
func (b *BaseConnector) Settings() Settings { return b.settings }

// Logger returns the connector logger.
func (b *BaseConnector) Logger() *zap.Logger { return b.logger }

// RateLimiter returns the per-instance limiter.
func (b *BaseConnector) RateLimiter() *clients.RateLimiter { return b.rateLimiter }

// Cache returns the per-instance response cache.
func (b *BaseConnector) Cache() *clients.ResponseCache { return b.cache }

// RetryPolicy returns the retry policy.
func (b *BaseConnector) RetryPolicy() *RetryPolicy { return b.retryPolicy }

// HTTP returns the HTTP client.
func (b *BaseConnector) HTTP() *clients.HTTPClient { return b.httpClient }

// SetHTTP replaces the HTTP client, e.g. with an OAuth2-backed one.
func (b *BaseConnector) SetHTTP(c *clients.HTTPClient) { b.httpClient = c }

// Collector returns the source's metrics collector.
func (b *BaseConnector) Collector() *metrics.Collector { return b.collector }

// Now reads the connector clock.
func (b *BaseConnector) Now() time.Time {
	if b.clock == nil {
		return time.Now()
	}
	return b.clock.Now()
}

// NewRateLimiter builds an additional limiter on the connector clock, for
// connectors that fan out to several upstream accounts.
func (b *BaseConnector) NewRateLimiter(perMinute int, perSecond float64) *clients.RateLimiter {
	return clients.NewRateLimiter(clients.RateLimiterConfig{
		CallsPerMinute: perMinute,
		CallsPerSecond: perSecond,
		Clock:          b.clock,
	})
}

// ValidateConfig checks that every required key is present and non-empty,
// reporting all missing keys at once.
func (b *BaseConnector) ValidateConfig(required ...string) error {
	if missing := b.settings.Missing(required...); len(missing) > 0 {
		return errors.NewMissingConfig(missing)
	}
	return nil
}

// IsAuthenticated reports whether Authenticate succeeded.
func (b *BaseConnector) IsAuthenticated() bool { return b.authenticated.Load() }

// SetAuthenticated records the authentication outcome.
func (b *BaseConnector) SetAuthenticated(ok bool) { b.authenticated.Store(ok) }

// RequireAuthenticated fails fetches attempted before authentication.
func (b *BaseConnector) RequireAuthenticated() error {
	if b.IsAuthenticated() {
		return nil
	}
	return errors.NewDataFetch("not authenticated", b.id, "")
}

// HealthCheck reports the authentication state.
func (b *BaseConnector) HealthCheck(ctx context.Context) core.Status {
	if b.IsAuthenticated() {
		return core.StatusOK("authenticated")
	}
	return core.StatusFailed("not authenticated")
}

// Disconnect clears the authenticated flag, cache and limiter history. It
// is safe to call repeatedly.
func (b *BaseConnector) Disconnect(ctx context.Context) error {
	b.authenticated.Store(false)
	b.cache.Clear()
	b.rateLimiter.Reset()
	return b.httpClient.Close()
}

// Call runs fn under the limiter and retry policy. Each attempt waits on the
// limiter first.
func (b *BaseConnector) Call(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	_, err := Fetch(ctx, b, endpoint, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Fetch runs fn under b's limiter and retry policy and records metrics.
func Fetch[T any](ctx context.Context, b *BaseConnector, endpoint string, fn func(ctx context.Context) (T, error)) (T, error) {
	return Do(ctx, b.retryPolicy, func() (T, error) {
		var zero T
		waited, err := b.rateLimiter.Wait(ctx)
		b.collector.RecordLimiterWait(waited)
		if err != nil {
			return zero, err
		}

		start := time.Now()
		v, err := fn(ctx)
		status := "success"
		if err != nil {
			status = string(errors.TypeOf(err))
			if status == "" {
				status = "error"
			}
		}
		b.collector.RecordFetch(endpoint, status, time.Since(start))
		return v, err
	})
}

// Cached returns the cached value for key or computes and stores it. Values
// of another type are treated as a miss.
func Cached[T any](b *BaseConnector, key string, compute func() (T, error)) (T, error) {
	if v, ok := b.cache.Get(key); ok {
		if typed, ok := v.(T); ok {
			b.collector.RecordCache(true)
			return typed, nil
		}
	}
	b.collector.RecordCache(false)
	v, err := compute()
	if err != nil {
		return v, err
	}
	b.cache.Set(key, v)
	return v, nil
}
