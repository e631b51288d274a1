// Package clients provides the outbound-call utilities shared by connectors:
// rate limiting, response caching, an HTTP client and OAuth2 token sources.
package clients

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time for the limiter and cache so tests can drive it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// CallsPerMinute is the ceiling within one Window.
	CallsPerMinute int `json:"calls_per_minute"`

	// CallsPerSecond bounds the minimum spacing between calls.
	CallsPerSecond float64 `json:"calls_per_second"`

	// Window is the sliding window length, 60s by default.
	Window time.Duration `json:"window"`

	// Clock defaults to SystemClock.
	Clock Clock `json:"-"`
}

// DefaultRateLimiterConfig returns 60 calls per minute and 1 call per second.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		CallsPerMinute: 60,
		CallsPerSecond: 1,
		Window:         time.Minute,
	}
}

// RateLimiterStats provides statistics about limiter state for monitoring.
type RateLimiterStats struct {
	CallsInWindow int           `json:"calls_in_window"`
	TotalCalls    int64         `json:"total_calls"`
	TotalWaits    int64         `json:"total_waits"`
	TotalDelay    time.Duration `json:"total_delay"`
	MinInterval   time.Duration `json:"min_interval"`
}

// RateLimiter throttles calls under two simultaneous constraints: at most
// CallsPerMinute calls inside a sliding Window, and a minimum interval of
// max(1/CallsPerSecond, 60/CallsPerMinute) seconds between calls.
//
// A limiter belongs to one connector instance and is never shared across
// sources.
type RateLimiter struct {
	cfg      RateLimiterConfig
	clock    Clock
	interval time.Duration
	spacing  *rate.Limiter
	calls    []time.Time

	totalCalls int64
	totalWaits int64
	totalDelay time.Duration

	mu sync.Mutex
}

// NewRateLimiter creates a limiter. Zero fields take the defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.CallsPerMinute <= 0 {
		cfg.CallsPerMinute = def.CallsPerMinute
	}
	if cfg.CallsPerSecond <= 0 {
		cfg.CallsPerSecond = def.CallsPerSecond
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}

	interval := time.Duration(float64(time.Second) / cfg.CallsPerSecond)
	if perMinute := time.Minute / time.Duration(cfg.CallsPerMinute); perMinute > interval {
		interval = perMinute
	}

	return &RateLimiter{
		cfg:      cfg,
		clock:    clock,
		interval: interval,
		spacing:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Wait blocks until a call is allowed and returns the delay incurred. The
// only error is the context's.
func (rl *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		rl.mu.Lock()
		now := rl.clock.Now()
		rl.prune(now)

		if len(rl.calls) >= rl.cfg.CallsPerMinute {
			delay := rl.calls[0].Add(rl.cfg.Window).Sub(now)
			rl.mu.Unlock()
			if err := rl.sleep(ctx, delay); err != nil {
				return waited, err
			}
			waited += delay
			continue
		}

		r := rl.spacing.ReserveN(now, 1)
		delay := r.DelayFrom(now)
		at := now.Add(delay)
		rl.calls = append(rl.calls, at)
		rl.totalCalls++
		waited += delay
		if waited > 0 {
			rl.totalWaits++
			rl.totalDelay += waited
		}
		rl.mu.Unlock()

		if delay <= 0 {
			return waited, nil
		}
		if err := rl.sleep(ctx, delay); err != nil {
			rl.release(r, at, now)
			return waited - delay, err
		}
		return waited, nil
	}
}

// Reset clears the call history.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.calls = nil
	rl.spacing = rate.NewLimiter(rate.Every(rl.interval), 1)
}

// Stats returns a snapshot of the limiter counters.
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.prune(rl.clock.Now())
	return RateLimiterStats{
		CallsInWindow: len(rl.calls),
		TotalCalls:    rl.totalCalls,
		TotalWaits:    rl.totalWaits,
		TotalDelay:    rl.totalDelay,
		MinInterval:   rl.interval,
	}
}

// MinInterval returns the enforced spacing between calls.
func (rl *RateLimiter) MinInterval() time.Duration {
	return rl.interval
}

// prune drops timestamps that left the window. Caller holds mu.
func (rl *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rl.cfg.Window)
	i := 0
	for i < len(rl.calls) && !rl.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.calls = append(rl.calls[:0], rl.calls[i:]...)
	}
}

// release undoes a reservation abandoned by a cancelled caller.
func (rl *RateLimiter) release(r *rate.Reservation, at, now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	r.CancelAt(now)
	for i := len(rl.calls) - 1; i >= 0; i-- {
		if rl.calls[i].Equal(at) {
			rl.calls = append(rl.calls[:i], rl.calls[i+1:]...)
			break
		}
	}
	rl.totalCalls--
}

func (rl *RateLimiter) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-rl.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
