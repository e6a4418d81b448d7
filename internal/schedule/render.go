package schedule

import (
	"fmt"
	"strings"
	"time"
)

const cellCutoff = 40

// RenderSchedule formats tasks as a fixed-width table for logs and the
// debug endpoint.
func RenderSchedule(tasks []*SchedulerTask, now time.Time) string {
	headers := []string{"Type", "Alias", "Tags", "Time Left", "Next Run", "Previous Run"}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		next, prev, left := "-", "-", "-"
		if at, ok := Next(t.Schedule, now); ok {
			next = at.Format("2006-01-02 15:04:05")
			left = at.Sub(now).Truncate(time.Second).String()
		}
		if at, ok := Prev(t.Schedule, now); ok {
			prev = at.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{
			entryKind(t.Schedule),
			cut(t.Alias),
			cut(t.Tags.String()),
			left,
			next,
			prev,
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, c := range r {
			if len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, c := range cells {
			fmt.Fprintf(&b, "| %-*s ", widths[i], c)
		}
		b.WriteString("|\n")
	}
	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = strings.Repeat("-", widths[i])
	}
	writeRow(headers)
	writeRow(sep)
	for _, r := range rows {
		writeRow(r)
	}
	return b.String()
}

func entryKind(e Entry) string {
	switch e.(type) {
	case Once:
		return "Once"
	case Periodic:
		return "Periodic"
	case *Cron:
		return "Cron"
	}
	return "?"
}

func cut(s string) string {
	if len(s) > cellCutoff {
		return s[:cellCutoff-3] + "..."
	}
	return s
}
