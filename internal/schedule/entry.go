package schedule

import (
	"fmt"
	"time"
)

// Entry computes occurrence times for a schedule. Implementations are pure:
// repeated calls with the same pivot return the same result and nothing is
// mutated.
type Entry interface {
	// NextMany returns up to n occurrences strictly after pivot, ascending.
	NextMany(n int, pivot time.Time) []time.Time
	// PrevMany returns up to n occurrences at or before pivot, descending
	// (most recent first).
	PrevMany(n int, pivot time.Time) []time.Time
}

// Next returns the single occurrence strictly after pivot, if any.
func Next(e Entry, pivot time.Time) (time.Time, bool) {
	ts := e.NextMany(1, pivot)
	if len(ts) == 0 {
		return time.Time{}, false
	}
	return ts[0], true
}

// Prev returns the most recent occurrence at or before pivot, if any.
func Prev(e Entry, pivot time.Time) (time.Time, bool) {
	ts := e.PrevMany(1, pivot)
	if len(ts) == 0 {
		return time.Time{}, false
	}
	return ts[0], true
}

// Before orders two entries by their next occurrence relative to pivot. An
// entry with no next occurrence sorts before one that still has a future
// occurrence; downstream catch-up logic relies on exhausted entries
// surfacing first, so keep that ordering.
func Before(a, b Entry, pivot time.Time) bool {
	an, aok := Next(a, pivot)
	bn, bok := Next(b, pivot)
	if !aok {
		return true
	}
	if !bok {
		return false
	}
	return an.Before(bn)
}

// TimeOfDay is a wall-clock time within a day, independent of any date.
type TimeOfDay struct {
	Hour, Minute, Second int
	Nanosecond           int
}

// TimeOfDayOf extracts the wall-clock portion of t.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(), Nanosecond: t.Nanosecond()}
}

// On anchors the time of day onto the calendar date of ref in loc.
func (d TimeOfDay) On(ref time.Time, loc *time.Location) time.Time {
	ref = ref.In(loc)
	return time.Date(ref.Year(), ref.Month(), ref.Day(), d.Hour, d.Minute, d.Second, d.Nanosecond, loc)
}

func (d TimeOfDay) String() string {
	if d.Second == 0 && d.Nanosecond == 0 {
		return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
	}
	return fmt.Sprintf("%02d:%02d:%02d", d.Hour, d.Minute, d.Second)
}

// Once fires exactly once at RunAt.
type Once struct {
	RunAt time.Time
}

func (o Once) NextMany(n int, pivot time.Time) []time.Time {
	if n <= 0 || !o.RunAt.After(pivot) {
		return nil
	}
	return []time.Time{o.RunAt}
}

func (o Once) PrevMany(n int, pivot time.Time) []time.Time {
	if n <= 0 || o.RunAt.After(pivot) {
		return nil
	}
	return []time.Time{o.RunAt}
}

func (o Once) String() string {
	return "once at " + o.RunAt.Format("2006-01-02 15:04:05 MST")
}

// Periodic fires every Interval, phase-anchored to Anchor on the pivot's
// calendar date in Loc. Occurrence arithmetic works on absolute instants, so
// across a DST transition intervals keep their real-time length and the
// local wall-clock time of occurrences may shift.
type Periodic struct {
	Interval time.Duration
	Anchor   TimeOfDay
	Loc      *time.Location
}

func (p Periodic) loc() *time.Location {
	if p.Loc != nil {
		return p.Loc
	}
	return time.Local
}

// first returns the earliest candidate strictly after pivot.
func (p Periodic) first(pivot time.Time) time.Time {
	first := p.Anchor.On(pivot, p.loc())
	if !first.After(pivot) {
		k := pivot.Sub(first)/p.Interval + 1
		first = first.Add(time.Duration(k) * p.Interval)
	}
	return first
}

func (p Periodic) NextMany(n int, pivot time.Time) []time.Time {
	if n <= 0 || p.Interval <= 0 {
		return nil
	}
	pivot = pivot.In(p.loc())
	out := make([]time.Time, 0, n)
	t := p.first(pivot)
	for i := 0; i < n; i++ {
		out = append(out, t)
		t = t.Add(p.Interval)
	}
	return out
}

func (p Periodic) PrevMany(n int, pivot time.Time) []time.Time {
	if n <= 0 || p.Interval <= 0 {
		return nil
	}
	pivot = pivot.In(p.loc())
	anchor := p.Anchor.On(pivot, p.loc())
	if anchor.After(pivot) {
		anchor = anchor.AddDate(0, 0, -1)
	}
	last := anchor.Add(pivot.Sub(anchor) / p.Interval * p.Interval)
	if last.After(pivot) {
		last = last.Add(-p.Interval)
	}
	out := make([]time.Time, 0, n)
	t := last
	for i := 0; i < n; i++ {
		out = append(out, t)
		t = t.Add(-p.Interval)
	}
	return out
}

func (p Periodic) String() string {
	return fmt.Sprintf("every %s from %s", p.Interval, p.Anchor)
}

func entryString(e Entry) string {
	if s, ok := e.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", e)
}

// entryEqual reports whether two entries describe the same schedule.
func entryEqual(a, b Entry) bool {
	switch av := a.(type) {
	case Once:
		bv, ok := b.(Once)
		return ok && av.RunAt.Equal(bv.RunAt)
	case Periodic:
		bv, ok := b.(Periodic)
		return ok && av.Interval == bv.Interval && av.Anchor == bv.Anchor && av.loc().String() == bv.loc().String()
	case *Cron:
		bv, ok := b.(*Cron)
		return ok && av.Spec == bv.Spec && av.loc().String() == bv.loc().String()
	}
	return false
}
