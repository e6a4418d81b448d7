package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// cronLookback bounds the backward scan in Cron.PrevMany. 36h covers every
// expression that fires at least daily; sparser specs simply report no
// previous occurrence, which catch-up logic treats the same as "none yet".
const cronLookback = 36 * time.Hour

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Cron fires according to a standard five-field cron expression evaluated in
// Loc. Descriptors like @hourly are accepted.
type Cron struct {
	Spec string
	Loc  *time.Location

	sched cron.Schedule
}

// NewCron parses spec and returns the entry. The expression is validated
// eagerly so a bad plan fails at load time, not at the first occurrence.
func NewCron(spec string, loc *time.Location) (*Cron, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, err
	}
	return &Cron{Spec: spec, Loc: loc, sched: sched}, nil
}

func (c *Cron) loc() *time.Location {
	if c.Loc != nil {
		return c.Loc
	}
	return time.Local
}

func (c *Cron) NextMany(n int, pivot time.Time) []time.Time {
	if n <= 0 || c.sched == nil {
		return nil
	}
	out := make([]time.Time, 0, n)
	t := pivot.In(c.loc())
	for i := 0; i < n; i++ {
		t = c.sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

// PrevMany walks forward from pivot-cronLookback and keeps the trailing
// occurrences at or before pivot. The cron library only computes forward,
// so the backward view is reconstructed from a bounded forward scan.
func (c *Cron) PrevMany(n int, pivot time.Time) []time.Time {
	if n <= 0 || c.sched == nil {
		return nil
	}
	pivot = pivot.In(c.loc())
	var hits []time.Time
	// Start just before the window so an occurrence exactly at the window
	// edge is still found.
	t := pivot.Add(-cronLookback - time.Second)
	for {
		t = c.sched.Next(t)
		if t.IsZero() || t.After(pivot) {
			break
		}
		hits = append(hits, t)
		if len(hits) > n {
			hits = hits[1:]
		}
	}
	// Reverse into most-recent-first order.
	out := make([]time.Time, 0, len(hits))
	for i := len(hits) - 1; i >= 0; i-- {
		out = append(out, hits[i])
	}
	return out
}

func (c *Cron) String() string {
	return "cron " + c.Spec
}
