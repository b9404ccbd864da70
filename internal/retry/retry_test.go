package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelay_ForumSchedule(t *testing.T) {
	b := Backoff{Base: 2, Min: 2 * time.Second, Max: 8 * time.Second}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := b.Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestDelay_TakedownStage2Schedule(t *testing.T) {
	b := Backoff{Base: 2, Min: 5 * time.Minute, Max: 80 * time.Minute}
	want := []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute, 40 * time.Minute, 80 * time.Minute}
	for i, w := range want {
		if got := b.Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestDelay_JitterStaysWithinBounds(t *testing.T) {
	b := Backoff{Base: 2, Min: 2 * time.Second, Max: 8 * time.Second, Jitter: 0.2}
	for attempt := 0; attempt < 3; attempt++ {
		for trial := 0; trial < 50; trial++ {
			d := b.delay(attempt, func() float64 { return float64(trial) / 50 })
			base := b.delay(attempt, func() float64 { return 0.5 })
			lo := float64(base) * 0.8
			hi := float64(base) * 1.2
			if float64(d) < lo-1 || float64(d) > hi+1 {
				t.Errorf("Delay(%d) = %v, want within [%v,%v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, Backoff{Min: time.Millisecond}, nil, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, Backoff{Min: time.Millisecond}, func(error) bool { return true }, func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_StopsWhenNotRetryable(t *testing.T) {
	calls := 0
	wantErr := errors.New("terminal")
	err := Do(context.Background(), 5, Backoff{Min: time.Millisecond}, func(error) bool { return false }, func(ctx context.Context, attempt int) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do() = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (should not retry non-retryable errors)", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("always fails")
	err := Do(context.Background(), 3, Backoff{Min: time.Millisecond}, func(error) bool { return true }, func(ctx context.Context, attempt int) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Do() = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

type retryAfterErr struct{ after time.Duration }

func (e *retryAfterErr) Error() string             { return "rate limited" }
func (e *retryAfterErr) RetryAfter() time.Duration { return e.after }

func TestDo_HonorsRetryAfterOverComputedBackoff(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Do(context.Background(), 2, Backoff{Min: time.Hour}, func(error) bool { return true }, func(ctx context.Context, attempt int) error {
		calls++
		if calls == 1 {
			return &retryAfterErr{after: 10 * time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Do() took %v, want it to honor the short RetryAfter delay instead of the 1h backoff", elapsed)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 5, Backoff{Min: 50 * time.Millisecond}, func(error) bool { return true }, func(ctx context.Context, attempt int) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() = %v, want context.Canceled", err)
	}
}
