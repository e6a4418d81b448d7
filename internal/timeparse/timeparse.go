// Package timeparse evaluates the time expressions used by plan triggers:
// a bare wall-clock time ("19:30"), a stored variable ("@sunset") or either
// with an offset modifier ("@sunset - 30M", "07:00 + 1H15M").
package timeparse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"hueplan/internal/storage"
)

var (
	variableRe = regexp.MustCompile(`^@(\w+)`)
	clockRe    = regexp.MustCompile(`^(\d{1,2}):(\d{2})`)
	modifierRe = regexp.MustCompile(`([-+])\s*(?:(\d+)[hH])?\s*(?:(\d+)[mM])?\s*$`)
)

// Parser resolves expressions against a variables collection. Variables are
// stored as RFC 3339 instants by the geo populate action.
type Parser struct {
	Loc  *time.Location
	Vars storage.Collection
}

// Parse evaluates expr to an instant in the parser's zone. "@now" always
// resolves without a stored variable.
func (p Parser) Parse(ctx context.Context, expr string) (time.Time, error) {
	loc := p.Loc
	if loc == nil {
		loc = time.Local
	}
	expr = strings.TrimSpace(expr)

	if m := variableRe.FindStringSubmatch(expr); m != nil {
		name := m[1]
		var base time.Time
		if name == "now" {
			base = time.Now().In(loc)
		} else {
			if p.Vars == nil {
				return time.Time{}, fmt.Errorf("time variable @%s: no variable storage", name)
			}
			var raw time.Time
			err := p.Vars.Get(ctx, name, &raw)
			if errors.Is(err, storage.ErrNotFound) {
				return time.Time{}, fmt.Errorf("time variable @%s is not defined", name)
			}
			if err != nil {
				return time.Time{}, err
			}
			base = raw.In(loc)
		}
		return applyModifier(base, expr[len(m[0]):])
	}

	if m := clockRe.FindStringSubmatch(expr); m != nil {
		hour, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if hour > 23 || min > 59 {
			return time.Time{}, fmt.Errorf("time %q out of range", expr)
		}
		now := time.Now().In(loc)
		base := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, loc)
		return applyModifier(base, expr[len(m[0]):])
	}

	return time.Time{}, fmt.Errorf("time expression %q is not recognized", expr)
}

// applyModifier parses an optional trailing "+/- NNh NNm" offset.
func applyModifier(base time.Time, rest string) (time.Time, error) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return base, nil
	}
	m := modifierRe.FindStringSubmatch(rest)
	if m == nil || (m[2] == "" && m[3] == "") {
		return time.Time{}, fmt.Errorf("bad time modifier %q", rest)
	}
	var d time.Duration
	if m[2] != "" {
		h, _ := strconv.Atoi(m[2])
		d += time.Duration(h) * time.Hour
	}
	if m[3] != "" {
		min, _ := strconv.Atoi(m[3])
		d += time.Duration(min) * time.Minute
	}
	if m[1] == "-" {
		d = -d
	}
	return base.Add(d), nil
}
