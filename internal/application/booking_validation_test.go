package application

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/example/roombooking/internal/persistence"
	"github.com/example/roombooking/internal/recurrence"
)

func validCandidate() bookingCandidate {
	now := time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)
	start := now.Add(24 * time.Hour)
	return bookingCandidate{
		Room: &persistence.Room{
			ID:          "room-1",
			Capacity:    10,
			Resources:   "Projector, Whiteboard",
			IsAvailable: true,
		},
		Start:     start,
		End:       start.Add(time.Hour),
		Attendees: 4,
		Kind:      recurrence.KindNone,
		Now:       now,
		Location:  time.UTC,
	}
}

func TestValidateBooking(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(c *bookingCandidate)
		want   map[string]string
	}{
		{
			name:   "valid",
			mutate: func(*bookingCandidate) {},
			want:   nil,
		},
		{
			name:   "missing room",
			mutate: func(c *bookingCandidate) { c.Room = nil },
			want:   map[string]string{"room_id": "room does not exist"},
		},
		{
			name:   "unavailable room",
			mutate: func(c *bookingCandidate) { c.Room.IsAvailable = false },
			want:   map[string]string{"room_id": "room is not available for booking"},
		},
		{
			name: "unavailable room while editing",
			mutate: func(c *bookingCandidate) {
				c.Room.IsAvailable = false
				c.Editing = true
			},
			want: nil,
		},
		{
			name:   "twenty minutes",
			mutate: func(c *bookingCandidate) { c.End = c.Start.Add(20 * time.Minute) },
			want:   map[string]string{"time": "booking must last at least 30 minutes"},
		},
		{
			name:   "exactly thirty minutes",
			mutate: func(c *bookingCandidate) { c.End = c.Start.Add(30 * time.Minute) },
			want:   nil,
		},
		{
			name:   "end before start",
			mutate: func(c *bookingCandidate) { c.End = c.Start.Add(-time.Hour) },
			want:   map[string]string{"time": "end time must be after start time"},
		},
		{
			name:   "start in the past",
			mutate: func(c *bookingCandidate) { c.Start, c.End = c.Now, c.Now.Add(time.Hour) },
			want:   map[string]string{"start": "booking must be in the future"},
		},
		{
			name:   "over capacity",
			mutate: func(c *bookingCandidate) { c.Room.Capacity, c.Attendees = 5, 10 },
			want:   map[string]string{"attendees": "room does not have enough capacity"},
		},
		{
			name:   "no attendees",
			mutate: func(c *bookingCandidate) { c.Attendees = 0 },
			want:   map[string]string{"attendees": "at least one attendee is required"},
		},
		{
			name:   "resource matched case insensitively",
			mutate: func(c *bookingCandidate) { c.RequiredResources = " projector " },
			want:   nil,
		},
		{
			name:   "resource missing",
			mutate: func(c *bookingCandidate) { c.RequiredResources = "TV" },
			want:   map[string]string{"required_resources": "requested resource not available in room"},
		},
		{
			name:   "unknown recurrence",
			mutate: func(c *bookingCandidate) { c.KindErr = errors.New("bad") },
			want:   map[string]string{"recurrence": "recurrence must be one of none, daily, weekly, monthly"},
		},
		{
			name:   "recurring without end",
			mutate: func(c *bookingCandidate) { c.Kind = recurrence.KindWeekly },
			want:   map[string]string{"recurrence_end": "recurrence end date is required for recurring bookings"},
		},
		{
			name: "recurrence end before start",
			mutate: func(c *bookingCandidate) {
				until := c.Start.Add(-48 * time.Hour)
				c.Kind = recurrence.KindDaily
				c.RecurrenceEnd = &until
			},
			want: map[string]string{"recurrence_end": "recurrence end date must not be before the start date"},
		},
		{
			name: "recurrence end on the start day",
			mutate: func(c *bookingCandidate) {
				until := time.Date(c.Start.Year(), c.Start.Month(), c.Start.Day(), 0, 0, 0, 0, time.UTC)
				c.Kind = recurrence.KindDaily
				c.RecurrenceEnd = &until
			},
			want: nil,
		},
		{
			name: "every failure reported together",
			mutate: func(c *bookingCandidate) {
				c.Start, c.End = c.Now.Add(-time.Hour), c.Now.Add(-50*time.Minute)
				c.Attendees = 40
			},
			want: map[string]string{
				"time":      "booking must last at least 30 minutes",
				"start":     "booking must be in the future",
				"attendees": "room does not have enough capacity",
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := validCandidate()
			tc.mutate(&c)
			vErr := validateBooking(c)
			if tc.want == nil {
				assert.False(t, vErr.HasErrors(), "unexpected errors: %v", vErr.FieldErrors)
				return
			}
			assert.Equal(t, tc.want, vErr.FieldErrors)
		})
	}
}

func TestSeriesSizeError(t *testing.T) {
	t.Parallel()

	vErr := seriesSizeError(recurrence.ErrTooManyOccurrences)
	assert.Equal(t, "a series may not exceed 366 occurrences", vErr.FieldErrors["recurrence_end"])

	vErr = seriesSizeError(recurrence.ErrMissingEnd)
	assert.Contains(t, vErr.FieldErrors, "recurrence")
}
