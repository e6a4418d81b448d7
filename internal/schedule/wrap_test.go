package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"hueplan/pkg/logx"
)

var errBoom = errors.New("boom")

func TestReliableRetriesThenSwallows(t *testing.T) {
	t.Parallel()
	var calls int
	task := Reliable(func(ctx context.Context) error {
		calls++
		return errBoom
	}, RetryOptions{MaxRetries: 3, BaseBackoff: time.Millisecond}, logx.Nop())

	if err := task(context.Background()); err != nil {
		t.Fatalf("exhausted retries must not surface the error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("invocations = %d, want exactly MaxRetries (3)", calls)
	}
}

func TestReliableStopsAfterSuccess(t *testing.T) {
	t.Parallel()
	var calls int
	task := Reliable(func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errBoom
		}
		return nil
	}, RetryOptions{MaxRetries: 5, BaseBackoff: time.Millisecond}, logx.Nop())

	if err := task(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("invocations = %d, want 2", calls)
	}
}

func TestReliableFatalNotRetried(t *testing.T) {
	t.Parallel()
	var calls int
	task := Reliable(func(ctx context.Context) error {
		calls++
		return errBoom
	}, RetryOptions{MaxRetries: 5, BaseBackoff: time.Millisecond, Fatal: []error{errBoom}}, logx.Nop())

	if err := task(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("fatal error must surface, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("invocations = %d, want 1", calls)
	}
}

func TestReliableCancellationAlwaysFatal(t *testing.T) {
	t.Parallel()
	var calls int
	ctx, cancel := context.WithCancel(context.Background())
	task := Reliable(func(ctx context.Context) error {
		calls++
		cancel()
		return ctx.Err()
	}, RetryOptions{MaxRetries: 5, BaseBackoff: time.Millisecond}, logx.Nop())

	if err := task(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation must surface, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("invocations = %d, want 1", calls)
	}
}

func TestBoundedPastDeadlineNeverStarts(t *testing.T) {
	t.Parallel()
	var calls int
	task := Bounded(func(ctx context.Context) error {
		calls++
		return nil
	}, time.Now().Add(-time.Second), logx.Nop())

	if err := task(context.Background()); err != nil {
		t.Fatalf("past deadline must return silently, got %v", err)
	}
	if calls != 0 {
		t.Fatal("task body must not run when the deadline already passed")
	}
}

func TestBoundedExpirySwallowed(t *testing.T) {
	t.Parallel()
	task := Bounded(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, time.Now().Add(30*time.Millisecond), logx.Nop())

	start := time.Now()
	if err := task(context.Background()); err != nil {
		t.Fatalf("deadline expiry must return silently, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Bounded did not return near the deadline")
	}
}

func TestBoundedParentCancellationSurfaces(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	task := Bounded(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, time.Now().Add(time.Minute), logx.Nop())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := task(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("parent cancellation must surface, got %v", err)
	}
}

func TestBoundedCompletesBeforeDeadline(t *testing.T) {
	t.Parallel()
	task := Bounded(func(ctx context.Context) error {
		return nil
	}, time.Now().Add(time.Minute), logx.Nop())
	if err := task(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBackoffGrowth(t *testing.T) {
	t.Parallel()
	opts := RetryOptions{BaseBackoff: 100 * time.Millisecond}
	for attempt := 1; attempt <= 4; attempt++ {
		base := opts.BaseBackoff << uint(attempt-1)
		got := opts.backoff(attempt)
		if got < base || got > base+base/10 {
			t.Fatalf("backoff(%d) = %v, want within [%v, %v]", attempt, got, base, base+base/10)
		}
	}
}
