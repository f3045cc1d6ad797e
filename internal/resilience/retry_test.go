package resilience

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

type transientErr struct{ retry bool }

func (e *transientErr) Error() string   { return "transient" }
func (e *transientErr) Retryable() bool { return e.retry }

func recordingWait(waits *[]time.Duration) WaitFunc {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestPolicyDelays(t *testing.T) {
	tests := []struct {
		base time.Duration
		want []time.Duration
	}{
		{2 * time.Second, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}},
		{time.Second, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
	}
	for _, tt := range tests {
		p := Policy{MaxAttempts: 3, BaseDelay: tt.base}
		if got := p.Delays(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Delays(base=%v) = %v, want %v", tt.base, got, tt.want)
		}
	}
}

func TestPolicyDelay_Capped(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	if got := p.Delay(3); got != 3*time.Second {
		t.Fatalf("expected capped delay 3s, got %v", got)
	}
}

func TestRetrier_RetriesUntilBudgetSpent(t *testing.T) {
	var waits []time.Duration
	r := &Retrier{Policy: Policy{MaxAttempts: 3, BaseDelay: time.Second}, Wait: recordingWait(&waits)}

	calls := 0
	err := r.Do(context.Background(), func(_ context.Context, _ int) error {
		calls++
		return &transientErr{retry: true}
	})

	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	var te *transientErr
	if !errors.As(err, &te) {
		t.Fatalf("expected last transient error, got %v", err)
	}
	// No wait after the final attempt.
	if want := []time.Duration{time.Second, 2 * time.Second}; !reflect.DeepEqual(waits, want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
}

func TestRetrier_StopsOnNonRetryable(t *testing.T) {
	var waits []time.Duration
	r := &Retrier{Policy: Policy{MaxAttempts: 3, BaseDelay: time.Second}, Wait: recordingWait(&waits)}

	calls := 0
	err := r.Do(context.Background(), func(_ context.Context, _ int) error {
		calls++
		return &transientErr{retry: false}
	})

	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	if err == nil {
		t.Fatal("expected error")
	}
	if len(waits) != 0 {
		t.Fatalf("expected no waits, got %v", waits)
	}
}

func TestRetrier_SucceedsAfterTransientFailure(t *testing.T) {
	var waits []time.Duration
	r := &Retrier{Policy: Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, Wait: recordingWait(&waits)}

	var retried []int
	r.OnRetry = func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }

	err := r.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt < 2 {
			return &transientErr{retry: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(retried, []int{1}) {
		t.Fatalf("expected one retry hook call, got %v", retried)
	}
}

func TestRetrier_PlainErrorsAreNotRetried(t *testing.T) {
	r := NewRetrier(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	calls := 0
	_ = r.Do(context.Background(), func(_ context.Context, _ int) error {
		calls++
		return errors.New("boom")
	})
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}

func TestRetrier_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(Policy{MaxAttempts: 3, BaseDelay: time.Hour})

	calls := 0
	start := time.Now()
	err := r.Do(ctx, func(_ context.Context, _ int) error {
		calls++
		cancel()
		return &transientErr{retry: true}
	})

	if time.Since(start) > 5*time.Second {
		t.Fatal("wait did not observe cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled joined, got %v", err)
	}
	var te *transientErr
	if !errors.As(err, &te) {
		t.Fatalf("expected last error preserved, got %v", err)
	}
}

func TestWait_ZeroDuration(t *testing.T) {
	if err := Wait(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
