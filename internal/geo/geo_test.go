package geo

import (
	"testing"
	"time"

	"hueplan/pkg/logx"
)

func TestVariablesMidLatitude(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	l := Location{Latitude: 52.37, Longitude: 4.89, Loc: loc, Log: logx.Nop()}
	now := time.Date(2026, 6, 21, 10, 0, 0, 0, loc)
	vars := l.Variables(now)

	for _, name := range EventNames {
		if _, ok := vars[name]; !ok {
			t.Fatalf("missing event %q", name)
		}
	}
	order := []string{"dawn", "sunrise", "noon", "sunset", "dusk", "midnight"}
	for i := 1; i < len(order); i++ {
		if !vars[order[i]].After(vars[order[i-1]]) {
			t.Fatalf("%s (%v) not after %s (%v)", order[i], vars[order[i]], order[i-1], vars[order[i-1]])
		}
	}
	// Midsummer in Amsterdam: sunrise well before 07:00, sunset after 21:00.
	if h := vars["sunrise"].In(loc).Hour(); h > 6 {
		t.Fatalf("sunrise hour = %d", h)
	}
	if h := vars["sunset"].In(loc).Hour(); h < 21 {
		t.Fatalf("sunset hour = %d", h)
	}
	if !vars["midnight"].After(now) {
		t.Fatalf("midnight %v must be upcoming", vars["midnight"])
	}
}

func TestVariablesPolarFallback(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	// Svalbard in December: no sunrise at all.
	l := Location{Latitude: 78.22, Longitude: 15.64, Loc: loc, Log: logx.Nop()}
	now := time.Date(2026, 12, 21, 10, 0, 0, 0, loc)
	vars := l.Variables(now)

	if got := vars["sunrise"]; got.Hour() != 6 || got.Minute() != 30 {
		t.Fatalf("sunrise fallback = %v, want 06:30", got)
	}
	if got := vars["midnight"]; got.Day() != 22 {
		t.Fatalf("midnight fallback = %v, want next day", got)
	}
}
