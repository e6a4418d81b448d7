package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hueplan/internal/hue"
	"hueplan/internal/listener"
	"hueplan/internal/schedule"
	"hueplan/pkg/logx"
)

// TriggerOnce schedules the action at the instant ActOn evaluates to.
// ActOn is a time expression ("19:30", "@sunset - 30M"). The alias defaults
// to the expression itself, which keeps the rendered schedule readable.
type TriggerOnce struct {
	ActOn       string
	Alias       string
	Tags        []string
	ShiftIfLate bool
}

func (t TriggerOnce) Apply(ctx context.Context, pc *Context, task schedule.Task) error {
	if t.ActOn == "" {
		return errors.New("once trigger: act_on is required")
	}
	parser, err := pc.times(ctx)
	if err != nil {
		return err
	}
	at, err := parser.Parse(ctx, t.ActOn)
	if err != nil {
		return fmt.Errorf("once trigger: %w", err)
	}
	alias := t.Alias
	if alias == "" {
		alias = t.ActOn
	}
	pc.Scheduler.Once(task, schedule.TimeOfDayOf(at), schedule.TaskOptions{
		Alias:       alias,
		Tags:        t.Tags,
		ShiftIfLate: t.ShiftIfLate,
	})
	return nil
}

// TriggerPeriodic schedules the action on a fixed interval. StartAt, when
// set, is a time expression anchoring the phase of the cycle.
type TriggerPeriodic struct {
	Interval time.Duration
	StartAt  string
	Alias    string
	Tags     []string
}

func (t TriggerPeriodic) Apply(ctx context.Context, pc *Context, task schedule.Task) error {
	if t.Interval <= 0 {
		return errors.New("periodic trigger: interval must be positive")
	}
	opt := schedule.TaskOptions{Alias: t.Alias, Tags: t.Tags}
	if t.StartAt != "" {
		parser, err := pc.times(ctx)
		if err != nil {
			return err
		}
		at, err := parser.Parse(ctx, t.StartAt)
		if err != nil {
			return fmt.Errorf("periodic trigger: %w", err)
		}
		anchor := schedule.TimeOfDayOf(at)
		opt.Anchor = &anchor
	}
	pc.Scheduler.Periodic(task, t.Interval, opt)
	return nil
}

// TriggerCron schedules the action on a five-field cron spec.
type TriggerCron struct {
	Spec  string
	Alias string
	Tags  []string
}

func (t TriggerCron) Apply(ctx context.Context, pc *Context, task schedule.Task) error {
	_, err := pc.Scheduler.Cron(task, t.Spec, schedule.TaskOptions{Alias: t.Alias, Tags: t.Tags})
	if err != nil {
		return fmt.Errorf("cron trigger: %w", err)
	}
	return nil
}

// TriggerImmediately executes the action once, at apply time. Useful for
// populate-style actions the rest of the plan depends on.
type TriggerImmediately struct{}

func (TriggerImmediately) Apply(ctx context.Context, pc *Context, task schedule.Task) error {
	return task(ctx)
}

// TriggerOnButton executes the action whenever the bridge reports the
// given press kind (e.g. "short_release") on the given button resource.
type TriggerOnButton struct {
	ResourceID string
	Action     string
}

func (t TriggerOnButton) matches(ev hue.Event) bool {
	changes, err := ev.Changes()
	if err != nil {
		return false
	}
	for _, ch := range changes {
		for _, res := range ch.Data {
			if res.Type != "button" || res.ID != t.ResourceID {
				continue
			}
			if res.ButtonEvent() == t.Action {
				return true
			}
		}
	}
	return false
}

func (t TriggerOnButton) Apply(ctx context.Context, pc *Context, task schedule.Task) error {
	if t.ResourceID == "" || t.Action == "" {
		return errors.New("on_button trigger: resource_id and action are required")
	}
	if pc.Listener == nil {
		return errors.New("on_button trigger: no event listener configured")
	}
	log := pc.logger()
	pc.Listener.Register(listener.Handler{
		Check: t.matches,
		Handle: func(ctx context.Context, ev hue.Event) error {
			log.Info("button event matched, executing action",
				logx.String("resource_id", t.ResourceID),
				logx.String("action", t.Action))
			return task(ctx)
		},
	})
	return nil
}
