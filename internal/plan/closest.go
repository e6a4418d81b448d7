package plan

import (
	"context"
	"fmt"
	"time"

	"hueplan/internal/schedule"
	"hueplan/pkg/logx"
)

// RunStrategy selects which neighbouring occurrence run_closest_schedule
// chases.
type RunStrategy string

const (
	// StrategyPrev runs the task whose last occurrence is most recent.
	StrategyPrev RunStrategy = "PREV"
	// StrategyNext runs the task whose next occurrence is soonest.
	StrategyNext RunStrategy = "NEXT"
	// StrategyPrevNext tries PREV first, then NEXT.
	StrategyPrevNext RunStrategy = "PREV_NEXT"
	// StrategyNextPrev tries NEXT first, then PREV.
	StrategyNextPrev RunStrategy = "NEXT_PREV"
)

func closestPrev(tasks []*schedule.SchedulerTask, now time.Time, overlap bool) *schedule.SchedulerTask {
	var best *schedule.SchedulerTask
	var bestAt time.Time
	for _, t := range tasks {
		at, ok := schedule.Prev(t.Schedule, now)
		if ok && (best == nil || at.After(bestAt)) {
			best, bestAt = t, at
		}
	}
	if best != nil || !overlap {
		return best
	}
	// Nothing has occurred yet; with overlap allowed, fall forward to the
	// soonest upcoming task instead.
	for _, t := range tasks {
		at, ok := schedule.Next(t.Schedule, now)
		if ok && (best == nil || at.Before(bestAt)) {
			best, bestAt = t, at
		}
	}
	return best
}

func closestNext(tasks []*schedule.SchedulerTask, now time.Time, overlap bool) *schedule.SchedulerTask {
	var best *schedule.SchedulerTask
	var bestAt time.Time
	for _, t := range tasks {
		at, ok := schedule.Next(t.Schedule, now)
		if ok && (best == nil || at.Before(bestAt)) {
			best, bestAt = t, at
		}
	}
	if best != nil || !overlap {
		return best
	}
	for _, t := range tasks {
		at, ok := schedule.Prev(t.Schedule, now)
		if ok && (best == nil || at.After(bestAt)) {
			best, bestAt = t, at
		}
	}
	return best
}

func pickClosest(strategy RunStrategy, tasks []*schedule.SchedulerTask, now time.Time, overlap bool) (*schedule.SchedulerTask, error) {
	switch strategy {
	case StrategyPrev:
		return closestPrev(tasks, now, overlap), nil
	case StrategyNext:
		return closestNext(tasks, now, overlap), nil
	case StrategyPrevNext:
		if t := closestPrev(tasks, now, overlap); t != nil {
			return t, nil
		}
		return closestNext(tasks, now, overlap), nil
	case StrategyNextPrev:
		if t := closestNext(tasks, now, overlap); t != nil {
			return t, nil
		}
		return closestPrev(tasks, now, overlap), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

// ActionRunClosestSchedule executes a neighbouring scheduled task out of
// band, right now. Plans use it at startup to catch up on the schedule
// entry that would already have fired today: the scene that should be
// active at boot time gets applied immediately instead of waiting for
// tomorrow's occurrence.
type ActionRunClosestSchedule struct {
	Strategy RunStrategy
	// AllowOverlap lets a strategy fall through to the opposite direction
	// within a single lookup.
	AllowOverlap bool
	// Tags restricts candidates to tagged tasks whose tags are all listed
	// here. Empty means every task is a candidate.
	Tags []string
}

func (a ActionRunClosestSchedule) candidates(pc *Context) []*schedule.SchedulerTask {
	all := pc.Scheduler.GetSchedule()
	if len(a.Tags) == 0 {
		return all
	}
	want := schedule.NewTags(a.Tags...)
	var out []*schedule.SchedulerTask
	for _, t := range all {
		if len(t.Tags) > 0 && want.HasAll(t.Tags) {
			out = append(out, t)
		}
	}
	return out
}

func (a ActionRunClosestSchedule) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	switch a.Strategy {
	case StrategyPrev, StrategyNext, StrategyPrevNext, StrategyNextPrev:
	default:
		return nil, fmt.Errorf("run_closest_schedule action: unknown strategy %q", a.Strategy)
	}
	log := pc.logger()
	return func(ctx context.Context) error {
		now := time.Now().In(pc.zone())
		task, err := pickClosest(a.Strategy, a.candidates(pc), now, a.AllowOverlap)
		if err != nil {
			return err
		}
		if task == nil {
			log.Warn("no closest task found", logx.String("strategy", string(a.Strategy)))
			return nil
		}
		log.Info("executing closest task off schedule",
			logx.String("task", task.Alias),
			logx.String("strategy", string(a.Strategy)))
		return task.Execute(ctx)
	}, nil
}
