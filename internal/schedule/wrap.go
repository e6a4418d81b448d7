package schedule

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"hueplan/pkg/logx"
)

// Task is a unit of schedulable work. It must honor ctx cancellation.
type Task func(ctx context.Context) error

// RetryOptions controls the Reliable wrapper.
type RetryOptions struct {
	// MaxRetries is the total number of attempts, not the number of
	// additional tries after the first.
	MaxRetries int
	// BaseBackoff seeds the exponential delay between attempts.
	BaseBackoff time.Duration
	// Fatal lists errors (matched with errors.Is) that must never be
	// retried. Context cancellation is always fatal regardless of this
	// list.
	Fatal []error
}

// DefaultRetry matches the scheduler's stock execution policy.
var DefaultRetry = RetryOptions{MaxRetries: 3, BaseBackoff: 2 * time.Second}

func (o RetryOptions) fatal(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	for _, f := range o.Fatal {
		if errors.Is(err, f) {
			return true
		}
	}
	return false
}

// backoff computes the sleep before the attempt following attempt (1-based):
// base*2^(attempt-1) plus up to 10% random jitter.
func (o RetryOptions) backoff(attempt int) time.Duration {
	d := o.BaseBackoff << uint(attempt-1)
	return d + time.Duration(rand.Float64()*0.1*float64(d))
}

// Reliable wraps t with retries. Retryable failures are retried up to
// opts.MaxRetries attempts with exponential backoff; fatal failures are
// returned to the caller immediately. When every attempt fails the error is
// logged and swallowed, so a chronically broken job cannot take down its
// schedule.
func Reliable(t Task, opts RetryOptions, log logx.Logger) Task {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return func(ctx context.Context) error {
		for attempt := 1; ; attempt++ {
			err := t(ctx)
			if err == nil {
				return nil
			}
			if opts.fatal(err) {
				log.Debug("task failed with non-retryable error",
					logx.Err(err),
					logx.Int("attempt", attempt),
				)
				return err
			}
			if attempt >= opts.MaxRetries {
				log.Error("task failed, all retries exhausted",
					logx.Err(err),
					logx.Int("attempts", attempt),
				)
				return nil
			}
			delay := opts.backoff(attempt)
			log.Warn("task failed, retrying",
				logx.Err(err),
				logx.Int("attempt", attempt),
				logx.Duration("backoff", delay),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// Bounded wraps t with an absolute deadline. A task whose deadline already
// passed never starts; a task still running at the deadline is cancelled.
// Both cases return nil: missing a window is routine (the next occurrence
// covers it), not an error.
func Bounded(t Task, runUntil time.Time, log logx.Logger) Task {
	return func(ctx context.Context) error {
		if !time.Now().Before(runUntil) {
			log.Warn("task deadline already passed, skipping",
				logx.Time("run_until", runUntil),
			)
			return nil
		}
		dctx, cancel := context.WithDeadline(ctx, runUntil)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("task panicked: %v", r)
				}
			}()
			done <- t(dctx)
		}()

		select {
		case err := <-done:
			if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				log.Warn("task timed out", logx.Time("run_until", runUntil))
				return nil
			}
			return err
		case <-dctx.Done():
			if ctx.Err() != nil {
				// Parent cancellation outranks the deadline.
				return ctx.Err()
			}
			log.Warn("task timed out", logx.Time("run_until", runUntil))
			return nil
		}
	}
}
