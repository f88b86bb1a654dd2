package clock

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var weekdayNames = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// Property: a weekday phrase lands on that weekday and hour, strictly after now, at most a week out.
func TestWeekdayResolutionIsNextUpcoming(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("weekday resolves to next upcoming occurrence", prop.ForAll(
		func(offsetMin int64, day int, hour int) bool {
			now := wednesday.Add(time.Duration(offsetMin) * time.Minute)
			got, err := Resolve(fmt.Sprintf("%s %02d:00", weekdayNames[day], hour), now)
			if err != nil {
				return false
			}
			return got.Weekday() == time.Weekday(day) &&
				got.Hour() == hour && got.Minute() == 0 &&
				got.After(now) &&
				!got.After(now.Add(7*24*time.Hour))
		},
		gen.Int64Range(0, 14*24*60),
		gen.IntRange(0, 6),
		gen.IntRange(0, 23),
	))

	properties.TestingRun(t)
}

// Property: "in N minutes" is exactly now + N minutes.
func TestRelativeMinutesAreExact(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("in N minutes adds N minutes", prop.ForAll(
		func(offsetMin int64, n int) bool {
			now := wednesday.Add(time.Duration(offsetMin) * time.Minute)
			got, err := Resolve(fmt.Sprintf("in %d minutes", n), now)
			return err == nil && got.Equal(now.Add(time.Duration(n)*time.Minute))
		},
		gen.Int64Range(0, 14*24*60),
		gen.IntRange(0, 10000),
	))

	properties.TestingRun(t)
}

// Property: a bare clock time never resolves into the past and never more than a day out.
func TestBareClockTimeRollsForward(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("bare clock time is within the next 24h", prop.ForAll(
		func(offsetMin int64, hour, minute int) bool {
			now := wednesday.Add(time.Duration(offsetMin) * time.Minute)
			got, err := Resolve(fmt.Sprintf("%02d:%02d", hour, minute), now)
			if err != nil {
				return false
			}
			return !got.Before(now) && got.Before(now.Add(24*time.Hour)) &&
				got.Hour() == hour && got.Minute() == minute
		},
		gen.Int64Range(0, 14*24*60),
		gen.IntRange(0, 23),
		gen.IntRange(0, 59),
	))

	properties.TestingRun(t)
}
