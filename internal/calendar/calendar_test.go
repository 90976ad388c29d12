package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlots_PartitionWindow(t *testing.T) {
	cal := Default(time.UTC)
	date := DateOf(2025, time.November, 10)

	for _, session := range Sessions {
		t.Run(string(session), func(t *testing.T) {
			slots, err := cal.Slots(date, session)
			require.NoError(t, err)
			require.Len(t, slots, DefaultSlotsPerSession)

			w, _ := cal.Window(session)
			var total time.Duration
			for i, s := range slots {
				assert.Equal(t, i+1, s.Number)
				assert.Equal(t, session, s.Session)
				if i > 0 {
					assert.True(t, slots[i-1].End.Equal(s.Start), "gap or overlap before slot %d", s.Number)
					assert.Equal(t, slots[0].Duration(), s.Duration())
				}
				total += s.Duration()
			}
			assert.Equal(t, w.Duration(), total)
			assert.Equal(t, w.Start, slots[0].Start.Sub(time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)))
		})
	}
}

func TestSlots_PartitionHoldsForOtherCounts(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	for _, n := range []int{1, 2, 3, 4, 5, 6, 10} {
		cal, err := New(map[Session]Window{
			Morning:   {Start: 8 * time.Hour, End: 12 * time.Hour},
			Afternoon: {Start: 13 * time.Hour, End: 19 * time.Hour},
		}, n, loc)
		if err != nil {
			// window not divisible by n is rejected up front
			continue
		}
		for _, session := range Sessions {
			slots, err := cal.Slots(DateOf(2025, time.March, 30), session)
			require.NoError(t, err)
			w, _ := cal.Window(session)
			assert.Equal(t, w.Duration(), slots[len(slots)-1].End.Sub(slots[0].Start))
		}
	}
}

func TestNew_RejectsIndivisibleWindow(t *testing.T) {
	_, err := New(map[Session]Window{
		Morning:   {Start: 7 * time.Hour, End: 7*time.Hour + 7*time.Nanosecond},
		Afternoon: {Start: 13 * time.Hour, End: 18 * time.Hour},
	}, 5, time.UTC)
	assert.Error(t, err)

	_, err = New(map[Session]Window{Morning: {Start: time.Hour, End: 2 * time.Hour}}, 5, time.UTC)
	assert.Error(t, err)
}

func TestSlot_Bounds(t *testing.T) {
	cal := Default(time.UTC)
	date := DateOf(2025, time.November, 10)

	s, err := cal.Slot(date, Morning, 3)
	require.NoError(t, err)
	assert.Equal(t, "09:00:00", s.Start.Format(ClockFormat))
	assert.Equal(t, "10:00:00", s.End.Format(ClockFormat))

	_, err = cal.Slot(date, Morning, 0)
	assert.ErrorIs(t, err, ErrInvalidSlot)
	_, err = cal.Slot(date, Afternoon, 6)
	assert.ErrorIs(t, err, ErrInvalidSlot)
	_, err = cal.Slot(date, Session("EVENING"), 1)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestParseSession(t *testing.T) {
	s, err := ParseSession("morning")
	require.NoError(t, err)
	assert.Equal(t, Morning, s)

	_, err = ParseSession("NIGHT")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("07:00-12:00")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Hour, w.Duration())

	_, err = ParseWindow("12:00-07:00")
	assert.Error(t, err)
	_, err = ParseWindow("noon")
	assert.Error(t, err)
}

func TestIsPastDate(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	cal := Default(loc)

	// 2025-11-10 03:00 UTC is still 2025-11-09 in New York.
	now := time.Date(2025, 11, 10, 3, 0, 0, 0, time.UTC)
	assert.False(t, cal.IsPastDate(DateOf(2025, 11, 9), now))
	assert.True(t, cal.IsPastDate(DateOf(2025, 11, 8), now))
	assert.False(t, cal.IsPastDate(DateOf(2025, 11, 10), now))
}

func TestParseDate(t *testing.T) {
	cal := Default(time.UTC)
	d, err := cal.ParseDate("2025-11-10")
	require.NoError(t, err)
	assert.Equal(t, DateOf(2025, 11, 10), d)

	_, err = cal.ParseDate("10/11/2025")
	assert.ErrorIs(t, err, ErrInvalidDate)
}
