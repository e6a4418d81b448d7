// Package plan turns a declarative YAML plan into scheduler registrations
// and event listener handlers. A plan is a list of entries; each entry
// binds a trigger (when to run) to an action (what to run). Actions are
// defined once at apply time, which lets them resolve bridge resources and
// storage collections up front and fail fast, and return a closure that the
// scheduler executes later.
package plan

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"hueplan/internal/schedule"
	"hueplan/pkg/logx"
)

// Action produces an executable task. Define runs at plan apply time;
// expensive lookups belong there, not in the returned task.
type Action interface {
	Define(ctx context.Context, pc *Context) (schedule.Task, error)
}

// Trigger wires a defined task into the scheduler or the event listener.
type Trigger interface {
	Apply(ctx context.Context, pc *Context, task schedule.Task) error
}

// Condition produces a runtime predicate for run_if actions.
type Condition interface {
	Define(ctx context.Context, pc *Context) (Predicate, error)
}

// Predicate is an evaluated condition.
type Predicate func(ctx context.Context) (bool, error)

// Entry is one plan line: trigger plus action.
type Entry struct {
	Trigger Trigger
	Action  Action
}

// Plan is an ordered list of entries. Order matters: earlier entries are
// applied first, so a store_scene entry can feed a later toggle_scene one.
type Plan struct {
	Entries []Entry
}

// Apply defines every action and applies every trigger, in order. The
// first failing entry aborts the apply; entries already applied stay
// registered.
func Apply(ctx context.Context, pc *Context, p *Plan) error {
	pc.current = p
	log := pc.logger()
	for i, entry := range p.Entries {
		task, err := entry.Action.Define(ctx, pc)
		if err != nil {
			return fmt.Errorf("plan entry %d: define action: %w", i, err)
		}
		task = traced(task, pc.logger())
		if err := entry.Trigger.Apply(ctx, pc, task); err != nil {
			return fmt.Errorf("plan entry %d: apply trigger: %w", i, err)
		}
	}
	log.Info("plan applied", logx.Int("entries", len(p.Entries)))
	return nil
}

// traced tags every execution of a task with a fresh id so runs of the
// same plan action can be told apart in the logs.
func traced(task schedule.Task, log logx.Logger) schedule.Task {
	return func(ctx context.Context) error {
		execID := uuid.NewString()
		l := log.With(logx.String("exec_id", execID))
		l.Debug("plan action started")
		if err := task(ctx); err != nil {
			l.Error("plan action failed", logx.Err(err))
			return err
		}
		l.Debug("plan action finished")
		return nil
	}
}
