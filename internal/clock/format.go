package clock

import (
	"fmt"
	"time"
)

// Format renders t in loc for user-facing messages, e.g. "March 05, 2025 at 05:00 PM PKT".
func Format(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("January 02, 2006 at 03:04 PM MST")
}

// FormatClock renders only the time of day in loc.
func FormatClock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("03:04 PM MST")
}

// Describe renders t relative to now, in now's zone.
func Describe(t, now time.Time) string {
	t = t.In(now.Location())
	diff := t.Sub(now)
	switch {
	case diff < 0:
		return "in the past"
	case diff < time.Hour:
		return plural(int(diff/time.Minute), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff/time.Hour), "hour")
	}
	ty, tm, td := t.Date()
	ny, nm, nd := now.AddDate(0, 0, 1).Date()
	if ty == ny && tm == nm && td == nd {
		return "tomorrow at " + t.Format("03:04 PM")
	}
	days := int(diff / (24 * time.Hour))
	return fmt.Sprintf("%s (%s)", plural(days, "day"), t.Format("January 02 at 03:04 PM"))
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("in 1 %s", unit)
	}
	return fmt.Sprintf("in %d %ss", n, unit)
}
