package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pkt = time.FixedZone("PKT", 5*60*60)

// wednesday is 2025-03-05 10:00 PKT.
var wednesday = time.Date(2025, 3, 5, 10, 0, 0, 0, pkt)

func TestResolve(t *testing.T) {
	d := func(month time.Month, day, h, m int) time.Time {
		return time.Date(2025, month, day, h, m, 0, 0, pkt)
	}
	cases := []struct {
		in   string
		want time.Time
	}{
		{"Thursday 5pm", d(3, 6, 17, 0)},
		{"wednesday 5pm", d(3, 5, 17, 0)},
		{"Wednesday", d(3, 12, 9, 0)},
		{"wednesday 9am", d(3, 12, 9, 0)},
		{"next wednesday 5pm", d(3, 12, 17, 0)},
		{"on mon", d(3, 10, 9, 0)},
		{"friday at noon", d(3, 7, 12, 0)},
		{"tomorrow at 9am", d(3, 6, 9, 0)},
		{"tomorrow", d(3, 6, 9, 0)},
		{"tomorrow 18:30", d(3, 6, 18, 30)},
		{"day after tomorrow 6pm", d(3, 7, 18, 0)},
		{"today 3pm", d(3, 5, 15, 0)},
		{"next week", d(3, 12, 9, 0)},
		{"in 20 minutes", d(3, 5, 10, 20)},
		{"in 1 min", d(3, 5, 10, 1)},
		{"in 2 hours", d(3, 5, 12, 0)},
		{"in 3 days", d(3, 8, 10, 0)},
		{"in 1 week", d(3, 12, 10, 0)},
		{"before 5pm", d(3, 5, 17, 0)},
		{"tomorrow before 11am", d(3, 6, 11, 0)},
		{"9am", d(3, 6, 9, 0)},
		{"9:30 PM", d(3, 5, 21, 30)},
		{"14:30", d(3, 5, 14, 30)},
		{"at 8", d(3, 6, 8, 0)},
		{"at 11", d(3, 5, 11, 0)},
		{"noon", d(3, 5, 12, 0)},
		{"midnight", d(3, 6, 0, 0)},
		{"12am", d(3, 6, 0, 0)},
		{"2025-04-01 08:15", d(4, 1, 8, 15)},
		{"2025-04-01", d(4, 1, 9, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Resolve(tc.in, wednesday)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestResolveRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "whenever", "banana 5pm", "25:00", "13pm", "tomorrow monday", "in a while",
		"in 99999999999999999999 minutes", "in 100000 weeks"} {
		t.Run(in, func(t *testing.T) {
			_, err := Resolve(in, wednesday)
			assert.ErrorIs(t, err, ErrUnrecognized)
		})
	}
}

func TestDescribe(t *testing.T) {
	cases := []struct {
		at   time.Time
		want string
	}{
		{wednesday.Add(-time.Minute), "in the past"},
		{wednesday.Add(time.Minute), "in 1 minute"},
		{wednesday.Add(45 * time.Minute), "in 45 minutes"},
		{wednesday.Add(5 * time.Hour), "in 5 hours"},
		{time.Date(2025, 3, 6, 11, 0, 0, 0, pkt), "tomorrow at 11:00 AM"},
		{time.Date(2025, 3, 8, 17, 0, 0, 0, pkt), "in 3 days (March 08 at 05:00 PM)"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Describe(tc.at, wednesday))
	}
}

func TestFormat(t *testing.T) {
	at := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "March 05, 2025 at 05:00 PM PKT", Format(at, pkt))
	assert.Equal(t, "05:00 PM PKT", FormatClock(at, pkt))
}

func TestManualClock(t *testing.T) {
	c := NewManual(wednesday)
	c.Advance(time.Hour)
	assert.True(t, c.Now().Equal(wednesday.Add(time.Hour)))
	assert.Equal(t, pkt, c.Location())
	c.Set(wednesday)
	assert.True(t, c.Now().Equal(wednesday))
}
