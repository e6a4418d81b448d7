package schedule

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"hueplan/pkg/logx"
)

const (
	// driftTolerance is how far before the target instant a wake-up may
	// land before the loop goes back to sleep instead of executing.
	driftTolerance = 1500 * time.Millisecond
	// wakeSlack pads the sleep so the timer fires at or just past the
	// target rather than a hair before it.
	wakeSlack = time.Millisecond
	// executeMargin keeps an execution from bleeding into the next
	// occurrence's slot.
	executeMargin = 10 * time.Millisecond
)

// Tags is a task's label set.
type Tags map[string]struct{}

// NewTags builds a tag set from names, dropping empties.
func NewTags(names ...string) Tags {
	t := make(Tags, len(names))
	for _, n := range names {
		if n != "" {
			t[n] = struct{}{}
		}
	}
	return t
}

// HasAll reports whether t contains every tag in want.
func (t Tags) HasAll(want Tags) bool {
	for k := range want {
		if _, ok := t[k]; !ok {
			return false
		}
	}
	return true
}

func (t Tags) Equal(other Tags) bool {
	return len(t) == len(other) && t.HasAll(other)
}

func (t Tags) String() string {
	if len(t) == 0 {
		return "-"
	}
	names := make([]string, 0, len(t))
	for k := range t {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// SchedulerTask binds a job to a schedule entry under a unique alias.
// Construct via the Scheduler registration methods.
type SchedulerTask struct {
	Schedule Entry
	Job      Task
	Alias    string
	Tags     Tags

	loc   *time.Location
	retry RetryOptions
	log   logx.Logger
	bus   publisher
}

func (t *SchedulerTask) now() time.Time {
	loc := t.loc
	if loc == nil {
		loc = time.Local
	}
	return time.Now().In(loc)
}

// Equal compares tasks by value, except the job itself which is compared by
// function identity.
func (t *SchedulerTask) Equal(other *SchedulerTask) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.Alias == other.Alias &&
		t.Tags.Equal(other.Tags) &&
		entryEqual(t.Schedule, other.Schedule) &&
		reflect.ValueOf(t.Job).Pointer() == reflect.ValueOf(other.Job).Pointer()
}

// Execute runs the job once through the retry wrapper, bounded to end just
// before the schedule's next occurrence when one exists. Plan actions use
// this to fire a task outside its own loop.
func (t *SchedulerTask) Execute(ctx context.Context) error {
	wrapped := Reliable(t.Job, t.retry, t.log)
	if next, ok := Next(t.Schedule, t.now()); ok {
		wrapped = Bounded(wrapped, next.Add(-executeMargin), t.log)
	}
	return wrapped(ctx)
}

// run is the task's lifecycle loop: sleep until the next occurrence, execute,
// repeat. It returns nil when the schedule is exhausted, ctx.Err() on
// cancellation, and a non-nil error only when something escapes both
// wrappers, which signals a defect in the machinery rather than a job
// failure.
func (t *SchedulerTask) run(ctx context.Context) error {
	consume := true
	var nextRun time.Time
	var ok bool
	for {
		if consume {
			nextRun, ok = Next(t.Schedule, t.now())
		}
		consume = true
		if !ok {
			t.log.Debug("task ran for the last time, completing")
			return nil
		}

		wait := time.Until(nextRun) + wakeSlack
		if wait < 0 {
			wait = 0
		}
		t.log.Debug("task sleeping until next occurrence",
			logx.Time("next_run", nextRun),
			logx.Duration("wait", wait),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.log.Debug("task cancelled while waiting")
			return ctx.Err()
		case <-timer.C:
		}

		// A wake-up well before the target means the clock jumped or the
		// timer misfired. Keep the occurrence and sleep again.
		if now := t.now(); now.Before(nextRun.Add(-driftTolerance)) {
			t.log.Warn("woke up too early, possible clock drift",
				logx.Time("now", now),
				logx.Time("next_run", nextRun),
			)
			consume = false
			continue
		}

		t.publish(EventTaskStarted)
		err := t.executeRace(ctx)
		switch {
		case err == nil:
			t.publish(EventTaskExecuted)
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			t.log.Debug("task cancelled during execution")
			t.publish(EventTaskCancelled)
			return ctx.Err()
		default:
			t.log.Error("task execution machinery failed", logx.Err(err))
			t.publish(EventTaskFailed)
			return err
		}
	}
}

// executeRace runs Execute in its own goroutine so a job that ignores ctx
// cannot wedge the run loop past a stop request. A panicking job is reported
// as an error instead of taking the process down.
func (t *SchedulerTask) executeRace(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task %s panicked: %v", t.Alias, r)
			}
		}()
		done <- t.Execute(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SchedulerTask) publish(typ string) {
	publish(t.bus, typ, TaskEvent{Alias: t.Alias, Tags: t.Tags.String()})
}
