package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hueplan/internal/schedule"
	"hueplan/pkg/logx"
)

// ActionLog writes a line at the configured level when the task runs.
type ActionLog struct {
	Level   string
	Message string
}

func (a ActionLog) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	if a.Message == "" {
		return nil, errors.New("log action: message is required")
	}
	log := pc.logger()
	var emit func(msg string, fields ...logx.Field)
	switch a.Level {
	case "", "info":
		emit = log.Info
	case "debug":
		emit = log.Debug
	case "warn", "warning":
		emit = log.Warn
	case "error":
		emit = log.Error
	default:
		return nil, fmt.Errorf("log action: unknown level %q", a.Level)
	}
	return func(ctx context.Context) error {
		emit(a.Message)
		return nil
	}, nil
}

// ActionSequence runs its actions in order, stopping at the first error.
// Nested sequences are flattened at construction.
type ActionSequence struct {
	Actions []Action
}

// NewSequence flattens nested sequences into one level.
func NewSequence(actions ...Action) ActionSequence {
	flat := make([]Action, 0, len(actions))
	for _, a := range actions {
		if seq, ok := a.(ActionSequence); ok {
			flat = append(flat, seq.Actions...)
			continue
		}
		flat = append(flat, a)
	}
	return ActionSequence{Actions: flat}
}

func (a ActionSequence) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	tasks := make([]schedule.Task, 0, len(a.Actions))
	for i, sub := range a.Actions {
		task, err := sub.Define(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("sequence item %d: %w", i, err)
		}
		tasks = append(tasks, task)
	}
	return func(ctx context.Context) error {
		for _, task := range tasks {
			if err := task(ctx); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// ActionDelay waits before running the wrapped action. The wait respects
// cancellation.
type ActionDelay struct {
	Delay  time.Duration
	Action Action
}

func (a ActionDelay) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	if a.Action == nil {
		return nil, errors.New("delay action: missing wrapped action")
	}
	task, err := a.Action.Define(ctx, pc)
	if err != nil {
		return nil, err
	}
	log := pc.logger()
	return func(ctx context.Context) error {
		log.Debug("delaying action", logx.Duration("delay", a.Delay))
		timer := time.NewTimer(a.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		return task(ctx)
	}, nil
}

// ActionRunIf runs the wrapped action only while the condition holds. The
// condition is checked at run time, not at apply time.
type ActionRunIf struct {
	Condition Condition
	Action    Action
}

func (a ActionRunIf) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	if a.Condition == nil || a.Action == nil {
		return nil, errors.New("run_if action: condition and action are required")
	}
	pred, err := a.Condition.Define(ctx, pc)
	if err != nil {
		return nil, err
	}
	task, err := a.Action.Define(ctx, pc)
	if err != nil {
		return nil, err
	}
	log := pc.logger()
	return func(ctx context.Context) error {
		ok, err := pred(ctx)
		if err != nil {
			return fmt.Errorf("run_if condition: %w", err)
		}
		if !ok {
			log.Debug("action skipped, condition not met")
			return nil
		}
		return task(ctx)
	}, nil
}

// ActionPrintSchedule logs the rendered schedule table.
type ActionPrintSchedule struct{}

func (ActionPrintSchedule) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	log := pc.logger()
	return func(ctx context.Context) error {
		table := schedule.RenderSchedule(pc.Scheduler.GetSchedule(), time.Now().In(pc.zone()))
		log.Info("current schedule:\n" + table)
		return nil
	}, nil
}

// ActionFlushDB clears one storage collection.
type ActionFlushDB struct {
	Collection string
}

func (a ActionFlushDB) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	if a.Collection == "" {
		return nil, errors.New("flush_db action: collection is required")
	}
	log := pc.logger()
	return func(ctx context.Context) error {
		coll, err := pc.Store.Collection(ctx, a.Collection)
		if err != nil {
			return err
		}
		if err := coll.Clear(ctx); err != nil {
			return err
		}
		log.Info("collection flushed", logx.String("collection", a.Collection))
		return nil
	}, nil
}

// ActionReapplyPlan resets the schedule and/or the listener handlers, then
// applies the current plan again. Plans that schedule against solar
// variables use this from a nightly cron to pick up the new day's times.
type ActionReapplyPlan struct {
	ResetSchedule  bool
	ResetListeners bool
}

func (a ActionReapplyPlan) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	log := pc.logger()
	return func(ctx context.Context) error {
		p := pc.current
		if p == nil {
			return errors.New("reapply_plan action: no plan applied yet")
		}
		log.Warn("plan re-apply requested",
			logx.Bool("reset_schedule", a.ResetSchedule),
			logx.Bool("reset_listeners", a.ResetListeners))
		// Resetting the schedule cancels the very task running this
		// action, so the re-apply happens on a detached goroutine with a
		// context that survives the cancellation.
		detached := context.WithoutCancel(ctx)
		go func() {
			if a.ResetListeners && pc.Listener != nil {
				pc.Listener.ResetHandlers()
			}
			if a.ResetSchedule {
				pc.Scheduler.Reset()
			}
			if err := Apply(detached, pc, p); err != nil {
				log.Error("plan re-apply failed", logx.Err(err))
				return
			}
			log.Info("plan re-applied")
		}()
		return nil
	}, nil
}
