package base

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// DefaultRetryOn is the set of error kinds retried unless configured otherwise.
var DefaultRetryOn = []errors.ErrorType{
	errors.ErrorTypeRateLimit,
	errors.ErrorTypeDataFetch,
	errors.ErrorTypeTimeout,
	errors.ErrorTypeConnection,
}

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64

	// RetryOn is the closed set of retryable error kinds. Errors of any
	// other kind, and plain errors, fail immediately.
	RetryOn []errors.ErrorType

	// OnRetry observes each retry before its backoff. attempt is 1-based.
	OnRetry func(err error, attempt int)

	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns 3 retries starting at 1s, doubling, capped at 60s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		RetryOn:      append([]errors.ErrorType(nil), DefaultRetryOn...),
	}
}

// NewRetryPolicy creates a policy with exponential backoff and default settings
// for everything but the retry budget and initial delay.
func NewRetryPolicy(maxRetries int, initialDelay time.Duration) *RetryPolicy {
	rp := DefaultRetryPolicy()
	rp.MaxRetries = maxRetries
	if initialDelay > 0 {
		rp.InitialDelay = initialDelay
	}
	return rp
}

// NoRetryPolicy returns a policy that doesn't retry
func NoRetryPolicy() *RetryPolicy {
	rp := DefaultRetryPolicy()
	rp.MaxRetries = 0
	return rp
}

// Execute runs fn up to MaxRetries+1 times. When retries are exhausted the
// last error is returned unchanged. Cancellation during a backoff returns
// the context error.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	_, err := Do(ctx, rp, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do is Execute for operations that produce a value.
func Do[T any](ctx context.Context, rp *RetryPolicy, fn func() (T, error)) (T, error) {
	var zero T
	if rp == nil {
		rp = DefaultRetryPolicy()
	}

	for attempt := 0; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if attempt >= rp.MaxRetries || !rp.ShouldRetry(err) {
			return zero, err
		}

		delay := rp.GetDelay(attempt)
		if hint, ok := errors.RetryAfter(err); ok && hint > delay {
			delay = hint
			if rp.MaxDelay > 0 && delay > rp.MaxDelay {
				delay = rp.MaxDelay
			}
		}

		if rp.OnRetry != nil {
			rp.OnRetry(err, attempt+1)
		}

		if err := rp.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// ShouldRetry reports whether err's kind is in RetryOn.
func (rp *RetryPolicy) ShouldRetry(err error) bool {
	kind := errors.TypeOf(err)
	if kind == "" {
		return false
	}
	// Client errors other than 408 and 429 repeat on retry.
	if code, ok := errors.StatusCode(err); ok && code >= 400 && code < 500 &&
		code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return false
	}
	retryOn := rp.RetryOn
	if retryOn == nil {
		retryOn = DefaultRetryOn
	}
	for _, k := range retryOn {
		if k == kind {
			return true
		}
	}
	return false
}

// GetDelay returns the backoff before retry number attempt (0-based):
// min(InitialDelay * Multiplier^attempt, MaxDelay), with optional jitter.
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))

	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta
	}

	return time.Duration(delay)
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	cp := *rp
	cp.RetryOn = append([]errors.ErrorType(nil), rp.RetryOn...)
	return &cp
}

// WithMaxRetries returns a new policy with an updated retry budget
func (rp *RetryPolicy) WithMaxRetries(retries int) *RetryPolicy {
	policy := rp.Clone()
	policy.MaxRetries = retries
	return policy
}

// WithDelay returns a new policy with updated delays
func (rp *RetryPolicy) WithDelay(initial, max time.Duration) *RetryPolicy {
	policy := rp.Clone()
	policy.InitialDelay = initial
	policy.MaxDelay = max
	return policy
}

// WithRetryOn returns a new policy retrying only the given kinds
func (rp *RetryPolicy) WithRetryOn(kinds ...errors.ErrorType) *RetryPolicy {
	policy := rp.Clone()
	policy.RetryOn = append([]errors.ErrorType{}, kinds...)
	return policy
}

func (rp *RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if rp.Sleep != nil {
		return rp.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
