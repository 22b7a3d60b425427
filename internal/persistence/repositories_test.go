package persistence_test

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roombooking/internal/persistence"
	"github.com/example/roombooking/internal/recurrence"
	"github.com/example/roombooking/internal/testfixtures"
)

func forEachBackend(t *testing.T, fn func(t *testing.T, h *testfixtures.StorageHarness)) {
	t.Helper()
	for _, open := range testfixtures.StorageBackends() {
		h := open(t)
		t.Run(h.Name, func(t *testing.T) {
			fn(t, h)
		})
	}
}

func TestRoomRepository(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, h *testfixtures.StorageHarness) {
		ctx := context.Background()
		room := testfixtures.NewRoom(testfixtures.WithRoomID("room-a"), testfixtures.WithRoomName("Aurora"))
		require.NoError(t, h.Rooms.CreateRoom(ctx, room))

		got, err := h.Rooms.GetRoom(ctx, "room-a")
		require.NoError(t, err)
		assert.Equal(t, room.Name, got.Name)
		assert.Equal(t, room.Capacity, got.Capacity)
		assert.True(t, got.IsAvailable)
		assert.True(t, got.CreatedAt.Equal(room.CreatedAt))

		t.Run("rejects duplicate name and location ignoring case", func(t *testing.T) {
			dup := testfixtures.NewRoom(testfixtures.WithRoomName(" aurora "), testfixtures.WithRoomLocation("hq"))
			assert.ErrorIs(t, h.Rooms.CreateRoom(ctx, dup), persistence.ErrDuplicate)
		})

		t.Run("rejects non positive capacity", func(t *testing.T) {
			bad := testfixtures.NewRoom(testfixtures.WithRoomCapacity(0))
			assert.ErrorIs(t, h.Rooms.CreateRoom(ctx, bad), persistence.ErrConstraintViolation)
		})

		t.Run("updates and lists", func(t *testing.T) {
			got.Capacity = 12
			got.Resources = "TV"
			require.NoError(t, h.Rooms.UpdateRoom(ctx, got))

			second := testfixtures.NewRoom(testfixtures.WithRoomName("Borealis"))
			require.NoError(t, h.Rooms.CreateRoom(ctx, second))

			rooms, err := h.Rooms.ListRooms(ctx)
			require.NoError(t, err)
			require.Len(t, rooms, 2)
			assert.Equal(t, "Aurora", rooms[0].Name)
			assert.Equal(t, 12, rooms[0].Capacity)
			assert.Equal(t, "TV", rooms[0].Resources)
		})

		t.Run("missing rooms", func(t *testing.T) {
			_, err := h.Rooms.GetRoom(ctx, "nope")
			assert.ErrorIs(t, err, persistence.ErrNotFound)
			assert.ErrorIs(t, h.Rooms.UpdateRoom(ctx, testfixtures.NewRoom(testfixtures.WithRoomID("nope"))), persistence.ErrNotFound)
			assert.ErrorIs(t, h.Rooms.DeleteRoom(ctx, "nope"), persistence.ErrNotFound)
		})

		t.Run("delete cascades to bookings", func(t *testing.T) {
			booking := testfixtures.NewBooking(testfixtures.WithBookingRoom("room-a"))
			require.NoError(t, h.Bookings.CreateBooking(ctx, booking))
			require.NoError(t, h.Rooms.DeleteRoom(ctx, "room-a"))

			_, err := h.Bookings.GetBooking(ctx, booking.ID)
			assert.ErrorIs(t, err, persistence.ErrNotFound)
		})
	})
}

func TestBookingRepository_Overlap(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, h *testfixtures.StorageHarness) {
		ctx := context.Background()
		h.SeedRooms(t, testfixtures.NewRoom(testfixtures.WithRoomID("room-1")), testfixtures.NewRoom(testfixtures.WithRoomID("room-2")))

		base := testfixtures.ReferenceTime().Add(24 * time.Hour)
		first := testfixtures.NewBooking(testfixtures.WithBookingInterval(base, base.Add(time.Hour)))
		require.NoError(t, h.Bookings.CreateBooking(ctx, first))

		cases := []struct {
			name    string
			room    string
			start   time.Time
			end     time.Time
			exclude string
			want    bool
		}{
			{name: "inside", room: "room-1", start: base.Add(15 * time.Minute), end: base.Add(45 * time.Minute), want: true},
			{name: "straddles start", room: "room-1", start: base.Add(-30 * time.Minute), end: base.Add(30 * time.Minute), want: true},
			{name: "touching end", room: "room-1", start: base.Add(time.Hour), end: base.Add(2 * time.Hour), want: false},
			{name: "touching start", room: "room-1", start: base.Add(-time.Hour), end: base, want: false},
			{name: "other room", room: "room-2", start: base, end: base.Add(time.Hour), want: false},
			{name: "excluding itself", room: "room-1", start: base, end: base.Add(time.Hour), exclude: first.ID, want: false},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				got, err := h.Bookings.HasOverlap(ctx, tc.room, tc.start, tc.end, tc.exclude)
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			})
		}

		t.Run("overlapping insert is refused", func(t *testing.T) {
			clash := testfixtures.NewBooking(testfixtures.WithBookingInterval(base.Add(30*time.Minute), base.Add(90*time.Minute)))
			err := h.Bookings.CreateBooking(ctx, clash)

			var overlap *persistence.OverlapError
			require.ErrorAs(t, err, &overlap)
			assert.Equal(t, 0, overlap.Index)
			assert.ErrorIs(t, err, persistence.ErrConflict)
		})

		t.Run("cancelled bookings do not block", func(t *testing.T) {
			applied, err := h.Bookings.TransitionBooking(ctx, first.ID, persistence.Transition{Kind: persistence.TransitionCancel, At: base.Add(-time.Hour), By: "user-1"})
			require.NoError(t, err)
			require.True(t, applied)

			again := testfixtures.NewBooking(testfixtures.WithBookingInterval(base, base.Add(time.Hour)))
			assert.NoError(t, h.Bookings.CreateBooking(ctx, again))
		})
	})
}

func TestBookingRepository_BatchesAreAtomic(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, h *testfixtures.StorageHarness) {
		ctx := context.Background()
		h.SeedRooms(t, testfixtures.NewRoom(testfixtures.WithRoomID("room-1")))

		base := testfixtures.ReferenceTime().Add(24 * time.Hour)
		blocker := testfixtures.NewBooking(testfixtures.WithBookingInterval(base.Add(48*time.Hour), base.Add(49*time.Hour)))
		h.SeedBookings(t, blocker)

		series := make([]persistence.Booking, 0, 4)
		for day := 0; day < 4; day++ {
			start := base.Add(time.Duration(day) * 24 * time.Hour)
			series = append(series, testfixtures.NewBooking(
				testfixtures.WithBookingInterval(start, start.Add(time.Hour)),
				testfixtures.WithBookingSeries("series-1", "g", "daily", base.Add(72*time.Hour)),
			))
		}

		err := h.Bookings.CreateBookings(ctx, series)
		var overlap *persistence.OverlapError
		require.ErrorAs(t, err, &overlap)
		assert.Equal(t, 2, overlap.Index)

		stored, err := h.Bookings.ListBookings(ctx, persistence.BookingFilter{SeriesID: "series-1"})
		require.NoError(t, err)
		assert.Empty(t, stored)

		t.Run("batch entries conflicting with each other", func(t *testing.T) {
			a := testfixtures.NewBooking(testfixtures.WithBookingInterval(base.Add(5*time.Hour), base.Add(7*time.Hour)))
			b := testfixtures.NewBooking(testfixtures.WithBookingInterval(base.Add(6*time.Hour), base.Add(8*time.Hour)))
			err := h.Bookings.CreateBookings(ctx, []persistence.Booking{a, b})
			require.ErrorAs(t, err, &overlap)
			assert.Equal(t, 1, overlap.Index)

			_, err = h.Bookings.GetBooking(ctx, a.ID)
			assert.ErrorIs(t, err, persistence.ErrNotFound)
		})

		t.Run("batch update rolls back", func(t *testing.T) {
			a := testfixtures.NewBooking(testfixtures.WithBookingInterval(base.Add(10*time.Hour), base.Add(11*time.Hour)))
			b := testfixtures.NewBooking(testfixtures.WithBookingInterval(base.Add(12*time.Hour), base.Add(13*time.Hour)))
			h.SeedBookings(t, a, b)

			a.Attendees = 5
			b.Start, b.End = blocker.Start, blocker.End
			err := h.Bookings.UpdateBookings(ctx, []persistence.Booking{a, b})
			require.ErrorAs(t, err, &overlap)
			assert.Equal(t, 1, overlap.Index)

			got, err := h.Bookings.GetBooking(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, got.Attendees)
		})

		t.Run("batch update may swap slots", func(t *testing.T) {
			a := testfixtures.NewBooking(testfixtures.WithBookingInterval(base.Add(20*time.Hour), base.Add(21*time.Hour)))
			b := testfixtures.NewBooking(testfixtures.WithBookingInterval(base.Add(21*time.Hour), base.Add(22*time.Hour)))
			h.SeedBookings(t, a, b)

			a.Start, a.End, b.Start, b.End = b.Start, b.End, a.Start, a.End
			assert.NoError(t, h.Bookings.UpdateBookings(ctx, []persistence.Booking{b, a}))
		})

		t.Run("unknown room and duplicate id", func(t *testing.T) {
			orphan := testfixtures.NewBooking(testfixtures.WithBookingRoom("missing"), testfixtures.WithBookingStartIn(200*time.Hour, time.Hour))
			assert.ErrorIs(t, h.Bookings.CreateBooking(ctx, orphan), persistence.ErrForeignKeyViolation)

			assert.ErrorIs(t, h.Bookings.CreateBooking(ctx, blocker), persistence.ErrDuplicate)
		})
	})
}

func TestBookingRepository_ListBookings(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, h *testfixtures.StorageHarness) {
		ctx := context.Background()
		h.SeedRooms(t, testfixtures.NewRoom(testfixtures.WithRoomID("room-1")), testfixtures.NewRoom(testfixtures.WithRoomID("room-2")))

		ref := testfixtures.ReferenceTime()
		until := ref.Add(72 * time.Hour)
		early := testfixtures.NewBooking(testfixtures.WithBookingStartIn(time.Hour, time.Hour))
		late := testfixtures.NewBooking(testfixtures.WithBookingStartIn(5*time.Hour, time.Hour), testfixtures.WithBookingOwner("user-2", ""))
		other := testfixtures.NewBooking(testfixtures.WithBookingStartIn(3*time.Hour, time.Hour), testfixtures.WithBookingRoom("room-2"),
			testfixtures.WithBookingSeries("s", "g", "weekly", until))
		done := testfixtures.NewBooking(testfixtures.WithBookingStartIn(7*time.Hour, time.Hour), testfixtures.WithBookingCheckedIn())
		gone := testfixtures.NewBooking(testfixtures.WithBookingStartIn(9*time.Hour, time.Hour), testfixtures.WithBookingCancelled(ref, ""))
		h.SeedBookings(t, late, early, other, done, gone)

		ids := func(filter persistence.BookingFilter) []string {
			t.Helper()
			bookings, err := h.Bookings.ListBookings(ctx, filter)
			require.NoError(t, err)
			out := make([]string, 0, len(bookings))
			for _, b := range bookings {
				out = append(out, b.ID)
			}
			return out
		}

		assert.Equal(t, []string{early.ID, other.ID, late.ID, done.ID, gone.ID}, ids(persistence.BookingFilter{}))
		assert.Equal(t, []string{late.ID}, ids(persistence.BookingFilter{UserID: "user-2"}))
		assert.Equal(t, []string{other.ID}, ids(persistence.BookingFilter{RoomID: "room-2"}))
		assert.Equal(t, []string{other.ID}, ids(persistence.BookingFilter{SeriesID: "s"}))
		assert.Equal(t, []string{other.ID}, ids(persistence.BookingFilter{RecurrenceGroup: "g"}))

		after := early.Start
		assert.Equal(t, []string{other.ID, late.ID}, ids(persistence.BookingFilter{StartsAfter: &after, ExcludeCancelled: true, ExcludeCheckedIn: true}))

		before := late.Start
		assert.Equal(t, []string{early.ID, other.ID}, ids(persistence.BookingFilter{StartsBefore: &before}))

		windowStart, windowEnd := early.End, late.Start
		assert.Equal(t, []string{other.ID}, ids(persistence.BookingFilter{OverlapStart: &windowStart, OverlapEnd: &windowEnd}))

		got, err := h.Bookings.GetBooking(ctx, other.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RecurrenceEnd)
		assert.Equal(t, until.Format("2006-01-02"), got.RecurrenceEnd.Format("2006-01-02"))
		assert.Equal(t, "weekly", got.Recurrence)

		cancelled, err := h.Bookings.GetBooking(ctx, gone.ID)
		require.NoError(t, err)
		assert.True(t, cancelled.Cancelled)
		assert.False(t, cancelled.IsActive)
		require.NotNil(t, cancelled.CancelledAt)
		assert.True(t, cancelled.CancelledAt.Equal(ref))
	})
}

func TestBookingRepository_TransitionBooking(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, h *testfixtures.StorageHarness) {
		ctx := context.Background()
		room := testfixtures.NewRoom(testfixtures.WithRoomID("room-1"), testfixtures.WithRoomUnavailable())
		h.SeedRooms(t, room)
		at := testfixtures.ReferenceTime()

		t.Run("check-in applies once", func(t *testing.T) {
			booking := testfixtures.NewBooking()
			h.SeedBookings(t, booking)

			applied, err := h.Bookings.TransitionBooking(ctx, booking.ID, persistence.Transition{Kind: persistence.TransitionCheckIn, At: at})
			require.NoError(t, err)
			assert.True(t, applied)

			applied, err = h.Bookings.TransitionBooking(ctx, booking.ID, persistence.Transition{Kind: persistence.TransitionAutoCancel, At: at})
			require.NoError(t, err)
			assert.False(t, applied)

			got, err := h.Bookings.GetBooking(ctx, booking.ID)
			require.NoError(t, err)
			assert.True(t, got.CheckedIn)
			assert.False(t, got.Cancelled)
		})

		t.Run("auto-cancel releases the room and leaves no canceller", func(t *testing.T) {
			booking := testfixtures.NewBooking(testfixtures.WithBookingStartIn(48*time.Hour, time.Hour))
			h.SeedBookings(t, booking)

			applied, err := h.Bookings.TransitionBooking(ctx, booking.ID, persistence.Transition{Kind: persistence.TransitionAutoCancel, At: at, By: "ignored"})
			require.NoError(t, err)
			assert.True(t, applied)

			got, err := h.Bookings.GetBooking(ctx, booking.ID)
			require.NoError(t, err)
			assert.True(t, got.Cancelled)
			assert.False(t, got.IsActive)
			assert.Empty(t, got.CancelledBy)
			require.NotNil(t, got.CancelledAt)

			r, err := h.Rooms.GetRoom(ctx, "room-1")
			require.NoError(t, err)
			assert.True(t, r.IsAvailable)
		})

		t.Run("concurrent cancels apply exactly once", func(t *testing.T) {
			booking := testfixtures.NewBooking(testfixtures.WithBookingStartIn(96*time.Hour, time.Hour))
			h.SeedBookings(t, booking)

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				applied int
			)
			for i := 0; i < 6; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := h.Bookings.TransitionBooking(ctx, booking.ID, persistence.Transition{Kind: persistence.TransitionCancel, At: at, By: "user-1"})
					if assert.NoError(t, err) && ok {
						mu.Lock()
						applied++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, applied)
		})

		t.Run("missing booking", func(t *testing.T) {
			_, err := h.Bookings.TransitionBooking(ctx, "nope", persistence.Transition{Kind: persistence.TransitionCheckIn, At: at})
			assert.ErrorIs(t, err, persistence.ErrNotFound)
		})
	})
}

func TestBookingRepository_ConcurrentCreateKeepsOne(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, h *testfixtures.StorageHarness) {
		ctx := context.Background()
		h.SeedRooms(t, testfixtures.NewRoom(testfixtures.WithRoomID("room-1")))

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < 8; i++ {
			booking := testfixtures.NewBooking()
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := h.Bookings.CreateBooking(ctx, booking); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, persistence.ErrConflict)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		stored, err := h.Bookings.ListBookings(ctx, persistence.BookingFilter{RoomID: "room-1"})
		require.NoError(t, err)
		assert.Len(t, stored, 1)
	})
}

func TestBookingRepository_SubSecondOverlap(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, h *testfixtures.StorageHarness) {
		ctx := context.Background()
		h.SeedRooms(t, testfixtures.NewRoom(testfixtures.WithRoomID("room-1")))

		base := testfixtures.ReferenceTime().Add(24 * time.Hour)
		existingStart := base.Add(900 * time.Millisecond)
		existing := testfixtures.NewBooking(testfixtures.WithBookingInterval(existingStart, existingStart.Add(time.Hour)))
		require.NoError(t, h.Bookings.CreateBooking(ctx, existing))

		stored, err := h.Bookings.GetBooking(ctx, existing.ID)
		require.NoError(t, err)
		assert.True(t, stored.Start.Equal(existing.Start), "stored %s", stored.Start)
		assert.True(t, stored.End.Equal(existing.End), "stored %s", stored.End)

		// Overlaps the existing booking by 400ms.
		clashStart := base.Add(time.Hour + 500*time.Millisecond)
		overlaps, err := h.Bookings.HasOverlap(ctx, "room-1", clashStart, clashStart.Add(time.Hour), "")
		require.NoError(t, err)
		assert.True(t, overlaps)

		clash := testfixtures.NewBooking(testfixtures.WithBookingInterval(clashStart, clashStart.Add(time.Hour)))
		assert.ErrorIs(t, h.Bookings.CreateBooking(ctx, clash), persistence.ErrConflict)

		touching := testfixtures.NewBooking(testfixtures.WithBookingInterval(existing.End, existing.End.Add(time.Hour)))
		assert.NoError(t, h.Bookings.CreateBooking(ctx, touching))
	})
}

func TestBookingRepository_RecurrenceEndKeepsLocalDate(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	engine := recurrence.NewEngine(loc)

	forEachBackend(t, func(t *testing.T, h *testfixtures.StorageHarness) {
		ctx := context.Background()
		h.SeedRooms(t, testfixtures.NewRoom(testfixtures.WithRoomID("room-1")))

		start := time.Date(2025, time.January, 6, 9, 0, 0, 0, loc)
		until := time.Date(2025, time.January, 10, 0, 0, 0, 0, loc)
		booking := testfixtures.NewBooking(
			testfixtures.WithBookingInterval(start, start.Add(time.Hour)),
			testfixtures.WithBookingSeries("series-1", "group-1", "daily", until),
		)
		require.NoError(t, h.Bookings.CreateBooking(ctx, booking))
		require.Len(t, engine.Expand(start, recurrence.KindDaily, &until), 5)

		got, err := h.Bookings.GetBooking(ctx, booking.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RecurrenceEnd)
		assert.True(t, got.RecurrenceEnd.Equal(until), "stored %s", got.RecurrenceEnd)
		assert.Equal(t, "2025-01-10", got.RecurrenceEnd.In(loc).Format("2006-01-02"))

		dates := engine.Expand(got.Start, recurrence.KindDaily, got.RecurrenceEnd)
		require.Len(t, dates, 5)
		assert.Equal(t, "2025-01-10", dates[4].Format("2006-01-02"))
	})
}
