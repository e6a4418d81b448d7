// Package geo computes the day's solar events for a coordinate pair so
// plans can schedule against @dawn, @sunset and friends.
package geo

import (
	"time"

	"github.com/nathan-osman/go-sunrise"

	"hueplan/pkg/logx"
)

// Solar event names, in chronological order for a typical day.
var EventNames = []string{"dawn", "sunrise", "noon", "sunset", "dusk", "midnight"}

// defaultTimes cover polar edge cases where an event does not occur on a
// given date. Midnight's fallback lands on the next day.
var defaultTimes = map[string]struct{ hour, min int }{
	"dawn":     {6, 0},
	"sunrise":  {6, 30},
	"noon":     {12, 0},
	"sunset":   {18, 30},
	"dusk":     {19, 0},
	"midnight": {0, 0},
}

// civilTwilightAngle is the solar elevation defining dawn and dusk.
const civilTwilightAngle = 6.0

// Location is a fixed observer position.
type Location struct {
	Latitude  float64
	Longitude float64
	Loc       *time.Location
	Log       logx.Logger
}

// Variables returns the solar event instants for now's date in the
// location's time zone. Events that cannot be computed (high latitudes) get
// their fixed fallback time; "midnight" is the upcoming solar midnight, on
// the next calendar day.
func (l Location) Variables(now time.Time) map[string]time.Time {
	loc := l.Loc
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	year, month, day := now.Date()

	rise, set := sunrise.SunriseSunset(l.Latitude, l.Longitude, year, month, day)
	dawnAt, duskAt := sunrise.TimeOfElevation(l.Latitude, l.Longitude, -civilTwilightAngle, year, month, day)

	out := make(map[string]time.Time, len(EventNames))
	put := func(name string, at time.Time) {
		if at.IsZero() {
			d := defaultTimes[name]
			at = time.Date(year, month, day, d.hour, d.min, 0, 0, loc)
			if name == "midnight" {
				at = at.AddDate(0, 0, 1)
			}
			l.Log.Warn("solar event not computable, using fallback",
				logx.String("event", name),
				logx.Time("fallback", at),
			)
		}
		out[name] = at.In(loc)
	}

	put("dawn", dawnAt)
	put("sunrise", rise)
	put("sunset", set)
	put("dusk", duskAt)

	// Solar noon is the midpoint of the sun's arc; solar midnight is half a
	// day later.
	if rise.IsZero() || set.IsZero() {
		put("noon", time.Time{})
		put("midnight", time.Time{})
	} else {
		noon := rise.Add(set.Sub(rise) / 2)
		put("noon", noon)
		put("midnight", noon.Add(12*time.Hour))
	}
	return out
}
