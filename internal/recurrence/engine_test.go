package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEngine_Expand(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil)

	tests := []struct {
		name  string
		start time.Time
		kind  Kind
		until *time.Time
		want  []time.Time
	}{
		{
			name:  "daily is inclusive of both ends",
			start: date(2025, time.March, 3),
			kind:  KindDaily,
			until: ptr(date(2025, time.March, 6)),
			want: []time.Time{
				date(2025, time.March, 3),
				date(2025, time.March, 4),
				date(2025, time.March, 5),
				date(2025, time.March, 6),
			},
		},
		{
			name:  "weekly steps seven days",
			start: date(2025, time.March, 3),
			kind:  KindWeekly,
			until: ptr(date(2025, time.March, 20)),
			want: []time.Time{
				date(2025, time.March, 3),
				date(2025, time.March, 10),
				date(2025, time.March, 17),
			},
		},
		{
			name:  "monthly clamps and keeps the original day",
			start: date(2025, time.January, 31),
			kind:  KindMonthly,
			until: ptr(date(2025, time.April, 30)),
			want: []time.Time{
				date(2025, time.January, 31),
				date(2025, time.February, 28),
				date(2025, time.March, 31),
				date(2025, time.April, 30),
			},
		},
		{
			name:  "monthly handles leap years and year rollover",
			start: date(2023, time.December, 29),
			kind:  KindMonthly,
			until: ptr(date(2024, time.March, 1)),
			want: []time.Time{
				date(2023, time.December, 29),
				date(2024, time.January, 29),
				date(2024, time.February, 29),
			},
		},
		{
			name:  "start time of day is ignored",
			start: time.Date(2025, time.March, 3, 15, 30, 0, 0, time.UTC),
			kind:  KindDaily,
			until: ptr(time.Date(2025, time.March, 4, 8, 0, 0, 0, time.UTC)),
			want: []time.Time{
				date(2025, time.March, 3),
				date(2025, time.March, 4),
			},
		},
		{
			name:  "none yields nothing",
			start: date(2025, time.March, 3),
			kind:  KindNone,
			until: ptr(date(2025, time.March, 6)),
		},
		{
			name:  "unknown kind yields nothing",
			start: date(2025, time.March, 3),
			kind:  Kind("yearly"),
			until: ptr(date(2026, time.March, 3)),
		},
		{
			name:  "missing end yields nothing",
			start: date(2025, time.March, 3),
			kind:  KindDaily,
		},
		{
			name:  "end before start yields nothing",
			start: date(2025, time.March, 3),
			kind:  KindDaily,
			until: ptr(date(2025, time.March, 1)),
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := engine.Expand(tc.start, tc.kind, tc.until)
			require.Len(t, got, len(tc.want))
			for i := range tc.want {
				assert.True(t, tc.want[i].Equal(got[i]), "index %d: want %s got %s", i, tc.want[i], got[i])
			}
		})
	}
}

func TestEngine_ExpandUsesEngineLocation(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	engine := NewEngine(tokyo)

	// 2025-03-03 20:00 UTC is already 2025-03-04 in Tokyo.
	start := time.Date(2025, time.March, 3, 20, 0, 0, 0, time.UTC)
	until := time.Date(2025, time.March, 5, 0, 0, 0, 0, tokyo)

	got := engine.Expand(start, KindDaily, &until)
	require.Len(t, got, 2)
	assert.Equal(t, 4, got[0].Day())
	assert.Equal(t, tokyo, got[0].Location())
}

func TestEngine_Slots(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil)
	start := time.Date(2025, time.March, 3, 9, 30, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)

	t.Run("none returns the base slot", func(t *testing.T) {
		t.Parallel()
		slots, err := engine.Slots(start, end, KindNone, nil)
		require.NoError(t, err)
		require.Len(t, slots, 1)
		assert.True(t, slots[0].Start.Equal(start))
		assert.True(t, slots[0].End.Equal(end))
	})

	t.Run("keeps time of day and duration", func(t *testing.T) {
		t.Parallel()
		until := date(2025, time.March, 17)
		slots, err := engine.Slots(start, end, KindWeekly, &until)
		require.NoError(t, err)
		require.Len(t, slots, 3)
		for i, slot := range slots {
			assert.Equal(t, 9, slot.Start.Hour())
			assert.Equal(t, 30, slot.Start.Minute())
			assert.Equal(t, 45*time.Minute, slot.End.Sub(slot.Start))
			assert.True(t, slot.Start.Equal(start.AddDate(0, 0, 7*i)))
		}
	})

	t.Run("rejects missing end for recurring kinds", func(t *testing.T) {
		t.Parallel()
		_, err := engine.Slots(start, end, KindDaily, nil)
		assert.ErrorIs(t, err, ErrMissingEnd)
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		t.Parallel()
		until := date(2025, time.March, 17)
		_, err := engine.Slots(start, end, Kind("hourly"), &until)
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("rejects non positive durations", func(t *testing.T) {
		t.Parallel()
		_, err := engine.Slots(start, start, KindNone, nil)
		assert.ErrorIs(t, err, ErrInvalidDuration)
	})

	t.Run("rejects expansions above the cap", func(t *testing.T) {
		t.Parallel()
		until := start.AddDate(2, 0, 0)
		_, err := engine.Slots(start, end, KindDaily, &until)
		assert.ErrorIs(t, err, ErrTooManyOccurrences)
	})
}

func TestEngine_MoveToDate(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil)
	start := time.Date(2025, time.March, 3, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	movedStart, movedEnd := engine.MoveToDate(start, end, date(2025, time.April, 9))
	assert.True(t, movedStart.Equal(time.Date(2025, time.April, 9, 14, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Hour, movedEnd.Sub(movedStart))
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]Kind{
		"":        KindNone,
		"none":    KindNone,
		"Daily":   KindDaily,
		" weekly": KindWeekly,
		"MONTHLY": KindMonthly,
	} {
		got, err := ParseKind(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseKind("fortnightly")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func ptr(t time.Time) *time.Time {
	return &t
}
