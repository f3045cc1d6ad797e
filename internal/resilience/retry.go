package resilience

import (
	"context"
	"errors"
	"time"
)

// Policy bounds the retries of an operation that may fail transiently.
// Delays double from attempt to attempt: BaseDelay, 2*BaseDelay, 4*BaseDelay...
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // 0 means uncapped
}

// Delay returns the wait after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay << (attempt - 1)
	if d < p.BaseDelay { // overflow
		d = p.MaxDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Delays returns the full delay sequence, one entry per attempt.
func (p Policy) Delays() []time.Duration {
	out := make([]time.Duration, 0, p.MaxAttempts)
	for i := 1; i <= p.MaxAttempts; i++ {
		out = append(out, p.Delay(i))
	}
	return out
}

// Retryable is implemented by errors that know whether another attempt may succeed.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err, or any error it wraps, is marked retryable.
func IsRetryable(err error) bool {
	var r Retryable
	return errors.As(err, &r) && r.Retryable()
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Wait is the default WaitFunc: it parks on a timer rather than sleeping the
// goroutine unconditionally, so cancellation ends the wait immediately.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrier executes operations under a Policy.
type Retrier struct {
	Policy  Policy
	Wait    WaitFunc
	OnRetry func(attempt int, delay time.Duration, err error)
}

// NewRetrier creates a Retrier with the default Wait function.
func NewRetrier(p Policy) *Retrier {
	return &Retrier{Policy: p, Wait: Wait}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. No wait happens after the final attempt. The
// returned error is the last one fn produced; if ctx ends during a wait the
// context error is joined to it.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := r.Policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	wait := r.Wait
	if wait == nil {
		wait = Wait
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == attempts {
			return lastErr
		}

		delay := r.Policy.Delay(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt, delay, lastErr)
		}
		if err := wait(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return lastErr
}
