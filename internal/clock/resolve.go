package clock

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnrecognized means the phrase matched no supported time expression.
var ErrUnrecognized = errors.New("time expression not recognized")

var (
	reRelative = regexp.MustCompile(`\bin\s+(\d+)\s*(minutes?|mins?|hours?|hrs?|days?|weeks?)\b`)
	reBefore   = regexp.MustCompile(`\bbefore\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	reWeekday  = regexp.MustCompile(`\b(next\s+)?(monday|mon|tuesday|tues|tue|wednesday|wed|thursday|thurs|thu|friday|fri|saturday|sat|sunday|sun)\b`)
	reClock12  = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	reClock24  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reAtHour   = regexp.MustCompile(`\bat\s+(\d{1,2})\b`)
	reSpaces   = regexp.MustCompile(`\s+`)
)

// dayKeywords are checked in order; longer phrases first so "day after tomorrow" is not read as "tomorrow".
var dayKeywords = []struct {
	phrase string
	offset int
}{
	{"day after tomorrow", 2},
	{"tomorrow", 1},
	{"today", 0},
	{"next week", 7},
}

// filler words may surround a time expression without changing it.
var filler = map[string]bool{"at": true, "on": true, "by": true, "around": true, "this": true, "the": true}

var absoluteLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 3:04pm",
}

// Resolve turns a natural-language time phrase into an absolute time, anchored at now
// and interpreted in now's zone.
func Resolve(input string, now time.Time) (time.Time, error) {
	s := reSpaces.ReplaceAllString(strings.ToLower(strings.TrimSpace(input)), " ")
	if s == "" {
		return time.Time{}, ErrUnrecognized
	}
	loc := now.Location()

	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return at(t, 9, 0), nil
	}

	if m := reRelative.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n > maxRelative[unitName(m[2])] {
			return time.Time{}, ErrUnrecognized
		}
		if rest := strings.Replace(s, m[0], "", 1); !onlyFiller(rest) {
			return time.Time{}, ErrUnrecognized
		}
		return now.Add(unitDuration(m[2], n)), nil
	}

	offset, hasDay := 0, false
	for _, kw := range dayKeywords {
		if strings.Contains(s, kw.phrase) {
			offset, hasDay = kw.offset, true
			s = strings.Replace(s, kw.phrase, " ", 1)
			break
		}
	}
	day := at(now, 0, 0).AddDate(0, 0, offset)

	if m := reBefore.FindStringSubmatch(s); m != nil {
		h, min, ok := clock12(m[1], m[2], m[3])
		if !ok || !onlyFiller(strings.Replace(s, m[0], "", 1)) {
			return time.Time{}, ErrUnrecognized
		}
		return at(day, h, min), nil
	}

	weekday, hasWeekday, next := time.Sunday, false, false
	if m := reWeekday.FindStringSubmatch(s); m != nil {
		if hasDay {
			return time.Time{}, ErrUnrecognized
		}
		weekday, hasWeekday, next = parseWeekday(m[2]), true, m[1] != ""
		s = strings.Replace(s, m[0], " ", 1)
	}

	h, min, hasClock, rest, ok := clockOfDay(s)
	if !ok || !onlyFiller(rest) {
		return time.Time{}, ErrUnrecognized
	}

	switch {
	case hasWeekday:
		if !hasClock {
			h, min = 9, 0
		}
		ahead := (int(weekday) - int(now.Weekday()) + 7) % 7
		if ahead == 0 && (next || !at(now, h, min).After(now)) {
			ahead = 7
		}
		return at(now, h, min).AddDate(0, 0, ahead), nil
	case hasDay:
		if !hasClock {
			h, min = 9, 0
		}
		return at(day, h, min), nil
	case hasClock:
		t := at(now, h, min)
		if t.Before(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	return time.Time{}, ErrUnrecognized
}

// clockOfDay extracts one time-of-day fragment and returns the text around it.
func clockOfDay(s string) (h, min int, found bool, rest string, ok bool) {
	switch {
	case strings.Contains(s, "noon"):
		return 12, 0, true, strings.Replace(s, "noon", " ", 1), true
	case strings.Contains(s, "midnight"):
		return 0, 0, true, strings.Replace(s, "midnight", " ", 1), true
	}
	if m := reClock12.FindStringSubmatch(s); m != nil {
		h, min, ok := clock12(m[1], m[2], m[3])
		return h, min, true, strings.Replace(s, m[0], " ", 1), ok
	}
	if m := reClock24.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		return h, min, true, strings.Replace(s, m[0], " ", 1), h <= 23 && min <= 59
	}
	if m := reAtHour.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		return h, 0, true, strings.Replace(s, m[0], " ", 1), h <= 23
	}
	return 0, 0, false, s, true
}

func clock12(hour, minute, meridiem string) (int, int, bool) {
	h, _ := strconv.Atoi(hour)
	min := 0
	if minute != "" {
		min, _ = strconv.Atoi(minute)
	}
	if h < 1 || h > 12 || min > 59 {
		return 0, 0, false
	}
	switch {
	case meridiem == "pm" && h != 12:
		h += 12
	case meridiem == "am" && h == 12:
		h = 0
	}
	return h, min, true
}

// maxRelative caps "in N <unit>" at roughly ten years.
var maxRelative = map[string]int{
	"minute": 10 * 366 * 24 * 60,
	"hour":   10 * 366 * 24,
	"day":    10 * 366,
	"week":   10 * 53,
}

func unitName(unit string) string {
	switch {
	case strings.HasPrefix(unit, "min"):
		return "minute"
	case strings.HasPrefix(unit, "h"):
		return "hour"
	case strings.HasPrefix(unit, "day"):
		return "day"
	case strings.HasPrefix(unit, "week"):
		return "week"
	}
	return ""
}

func unitDuration(unit string, n int) time.Duration {
	switch unitName(unit) {
	case "minute":
		return time.Duration(n) * time.Minute
	case "hour":
		return time.Duration(n) * time.Hour
	case "day":
		return time.Duration(n) * 24 * time.Hour
	case "week":
		return time.Duration(n) * 7 * 24 * time.Hour
	}
	return 0
}

func parseWeekday(s string) time.Weekday {
	switch s[:3] {
	case "mon":
		return time.Monday
	case "tue":
		return time.Tuesday
	case "wed":
		return time.Wednesday
	case "thu":
		return time.Thursday
	case "fri":
		return time.Friday
	case "sat":
		return time.Saturday
	}
	return time.Sunday
}

func onlyFiller(s string) bool {
	for _, w := range strings.Fields(s) {
		if !filler[w] {
			return false
		}
	}
	return true
}

// at returns the date of t at h:m in t's zone.
func at(t time.Time, h, m int) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, h, m, 0, 0, t.Location())
}
