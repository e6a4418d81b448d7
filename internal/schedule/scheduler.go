package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hueplan/internal/eventbus"
	"hueplan/pkg/logx"
)

const (
	// pollInterval bounds how long the run loop sleeps between bookkeeping
	// passes when nothing wakes it explicitly.
	pollInterval = time.Second
	// shutdownGrace is the total time Run waits for task goroutines after
	// cancelling them.
	shutdownGrace = 5 * time.Second
)

// TaskOptions tune a single registration.
type TaskOptions struct {
	// Alias names the task. Empty picks a default from the schedule kind;
	// duplicates get an incrementing suffix either way.
	Alias string
	// Tags label the task for closest-task queries.
	Tags []string
	// ShiftIfLate moves a Once registration whose time of day already
	// passed to tomorrow instead of letting it complete immediately.
	ShiftIfLate bool
	// Anchor overrides the phase anchor for Periodic registrations. Nil
	// anchors at the moment of registration.
	Anchor *TimeOfDay
}

// RunOptions tune a Run invocation.
type RunOptions struct {
	// ExitOnEmpty makes Run return once no tasks remain registered or
	// pending.
	ExitOnEmpty bool
	// AutoUnschedule drops finished tasks from the registry. Without it
	// completed tasks stay visible in GetSchedule until Reset.
	AutoUnschedule bool
}

// unit is a promoted task: a SchedulerTask with its running goroutine.
type unit struct {
	task   *SchedulerTask
	cancel context.CancelFunc
	done   chan struct{}
	err    error // written before done closes
}

func (u *unit) finished() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

// Scheduler owns task registration and execution. Registrations from any
// goroutine land in a pending queue; the single Run loop promotes them, so
// the active registry has one writer.
type Scheduler struct {
	loc *time.Location
	log logx.Logger
	bus eventbus.Bus // optional

	retry RetryOptions

	mu      sync.Mutex
	pending []*SchedulerTask
	units   []*unit
	aliases aliasGenerator
	wake    chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBus publishes scheduler.* lifecycle events to bus.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithRetry overrides the execution retry policy for every task.
func WithRetry(r RetryOptions) Option {
	return func(s *Scheduler) { s.retry = r }
}

// New returns a scheduler whose occurrence arithmetic runs in loc.
func New(loc *time.Location, log logx.Logger, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		loc:   loc,
		log:   log,
		retry: DefaultRetry,
		wake:  make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Location returns the scheduler's time zone.
func (s *Scheduler) Location() *time.Location { return s.loc }

func (s *Scheduler) now() time.Time { return time.Now().In(s.loc) }

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Once registers job to run a single time at the given time of day. When the
// time already passed today the task completes immediately unless
// opt.ShiftIfLate moves it to tomorrow.
func (s *Scheduler) Once(job Task, at TimeOfDay, opt TaskOptions) *SchedulerTask {
	now := s.now()
	runAt := at.On(now, s.loc)
	if !runAt.After(now) && opt.ShiftIfLate {
		runAt = runAt.AddDate(0, 0, 1)
	}
	return s.add(job, Once{RunAt: runAt}, opt, "once")
}

// Periodic registers job to run every interval, anchored at opt.Anchor or at
// the moment of registration.
func (s *Scheduler) Periodic(job Task, interval time.Duration, opt TaskOptions) *SchedulerTask {
	anchor := TimeOfDayOf(s.now())
	if opt.Anchor != nil {
		anchor = *opt.Anchor
	}
	return s.add(job, Periodic{Interval: interval, Anchor: anchor, Loc: s.loc}, opt, "periodic")
}

// Cron registers job against a cron expression evaluated in the scheduler's
// time zone.
func (s *Scheduler) Cron(job Task, spec string, opt TaskOptions) (*SchedulerTask, error) {
	entry, err := NewCron(spec, s.loc)
	if err != nil {
		return nil, err
	}
	return s.add(job, entry, opt, "cron"), nil
}

func (s *Scheduler) add(job Task, entry Entry, opt TaskOptions, defaultAlias string) *SchedulerTask {
	alias := opt.Alias
	if alias == "" {
		alias = defaultAlias
	}
	alias = s.aliases.generate(alias)

	t := &SchedulerTask{
		Schedule: entry,
		Job:      job,
		Alias:    alias,
		Tags:     NewTags(opt.Tags...),
		loc:      s.loc,
		retry:    s.retry,
		log:      s.log.With(logx.String("task", alias)),
		bus:      s.bus,
	}

	s.mu.Lock()
	s.pending = append(s.pending, t)
	s.mu.Unlock()
	s.nudge()

	s.log.Info("task scheduled",
		logx.String("task", alias),
		logx.String("schedule", entryString(entry)),
		logx.String("tags", t.Tags.String()),
	)
	publish(s.bus, EventTaskScheduled, TaskEvent{Alias: alias, Tags: t.Tags.String()})
	return t
}

// Run drives the scheduler until ctx is cancelled, the registry drains with
// opts.ExitOnEmpty set, or a task goroutine reports a machinery defect. On
// return every task goroutine has been cancelled and awaited (bounded by the
// shutdown grace).
func (s *Scheduler) Run(ctx context.Context, opts RunOptions) error {
	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()),
		logx.Bool("exit_on_empty", opts.ExitOnEmpty),
		logx.Bool("auto_unschedule", opts.AutoUnschedule),
	)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var defect error
loop:
	for {
		s.promote(runCtx)
		if err := s.reap(opts.AutoUnschedule); err != nil {
			defect = err
			break
		}
		if opts.ExitOnEmpty && s.empty() {
			s.log.Info("no tasks left to run, exiting")
			break
		}
		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			break loop
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}

	s.shutdown(cancel)
	s.log.Info("scheduler stopped")
	return defect
}

// promote moves pending registrations into running units.
func (s *Scheduler) promote(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, t := range batch {
		uctx, cancel := context.WithCancel(ctx)
		u := &unit{task: t, cancel: cancel, done: make(chan struct{})}

		s.mu.Lock()
		s.units = append(s.units, u)
		s.mu.Unlock()

		task := t
		go func() {
			defer func() {
				if r := recover(); r != nil {
					u.err = fmt.Errorf("task %s panicked: %v", task.Alias, r)
					task.log.Error("panic in task goroutine",
						logx.Any("panic", r),
						logx.Stack(logx.StackTrace(2, 32)),
					)
				}
				close(u.done)
				s.nudge()
			}()
			u.err = task.run(uctx)
		}()
	}
}

// reap inspects finished units. Cancellation and normal completion are
// routine; anything else escaped the execution wrappers and aborts Run.
func (s *Scheduler) reap(remove bool) error {
	s.mu.Lock()
	units := make([]*unit, len(s.units))
	copy(units, s.units)
	s.mu.Unlock()

	var keep []*unit
	for _, u := range units {
		if !u.finished() {
			keep = append(keep, u)
			continue
		}
		// A deadline on the run ctx stops units with DeadlineExceeded
		// instead of Canceled; both are routine stops, not defects.
		if err := u.err; err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !remove {
			keep = append(keep, u)
		} else {
			s.log.Debug("task unscheduled", logx.String("task", u.task.Alias))
		}
	}

	s.mu.Lock()
	s.units = keep
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units) == 0 && len(s.pending) == 0
}

// shutdown cancels every unit and waits, bounded by shutdownGrace.
func (s *Scheduler) shutdown(cancel context.CancelFunc) {
	cancel()

	s.mu.Lock()
	units := make([]*unit, len(s.units))
	copy(units, s.units)
	s.mu.Unlock()

	deadline := time.NewTimer(shutdownGrace)
	defer deadline.Stop()
	for _, u := range units {
		select {
		case <-u.done:
		case <-deadline.C:
			s.log.Warn("task did not stop within shutdown grace",
				logx.String("task", u.task.Alias),
			)
		}
	}
}

// Reset cancels and forgets every task, pending included, and resets alias
// de-duplication. The scheduler is reusable afterwards.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	units := s.units
	s.units = nil
	s.pending = nil
	s.mu.Unlock()

	for _, u := range units {
		u.cancel()
	}
	deadline := time.NewTimer(shutdownGrace)
	defer deadline.Stop()
	for _, u := range units {
		select {
		case <-u.done:
		case <-deadline.C:
		}
	}
	s.aliases.reset()
	s.log.Info("scheduler reset", logx.Int("cancelled", len(units)))
}

// GetSchedule returns the registered tasks ordered by next occurrence.
// Exhausted schedules sort first.
func (s *Scheduler) GetSchedule() []*SchedulerTask {
	s.mu.Lock()
	tasks := make([]*SchedulerTask, 0, len(s.units)+len(s.pending))
	for _, u := range s.units {
		tasks = append(tasks, u.task)
	}
	tasks = append(tasks, s.pending...)
	s.mu.Unlock()

	now := s.now()
	sort.SliceStable(tasks, func(i, j int) bool {
		return Before(tasks[i].Schedule, tasks[j].Schedule, now)
	})
	return tasks
}

// tagged returns tasks whose tag set contains every requested tag. No tags
// matches everything.
func (s *Scheduler) tagged(tags ...string) []*SchedulerTask {
	want := NewTags(tags...)
	var out []*SchedulerTask
	for _, t := range s.GetSchedule() {
		if t.Tags.HasAll(want) {
			out = append(out, t)
		}
	}
	return out
}

// PreviousClosestTask returns the task whose most recent occurrence is
// nearest in the past, among tasks matching tags. Nil when nothing matches
// or nothing has occurred yet.
func (s *Scheduler) PreviousClosestTask(tags ...string) *SchedulerTask {
	now := s.now()
	var best *SchedulerTask
	var bestAt time.Time
	for _, t := range s.tagged(tags...) {
		at, ok := Prev(t.Schedule, now)
		if !ok {
			continue
		}
		if best == nil || at.After(bestAt) {
			best, bestAt = t, at
		}
	}
	return best
}

// NextClosestTask returns the task whose next occurrence is soonest, among
// tasks matching tags. Nil when nothing matches or every schedule is
// exhausted.
func (s *Scheduler) NextClosestTask(tags ...string) *SchedulerTask {
	now := s.now()
	var best *SchedulerTask
	var bestAt time.Time
	for _, t := range s.tagged(tags...) {
		at, ok := Next(t.Schedule, now)
		if !ok {
			continue
		}
		if best == nil || at.Before(bestAt) {
			best, bestAt = t, at
		}
	}
	return best
}
