package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roombooking/internal/application"
	"github.com/example/roombooking/internal/lifecycle"
	"github.com/example/roombooking/internal/lock"
	"github.com/example/roombooking/internal/notify"
	"github.com/example/roombooking/internal/persistence"
	"github.com/example/roombooking/internal/testfixtures"
)

var alice = application.Principal{UserID: "alice", Email: "alice@example.com"}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) sent() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.messages...)
}

type countingRecorder struct {
	mu        sync.Mutex
	created   map[string]int
	rejected  map[string]int
	checkIns  int
	cancelled map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{created: map[string]int{}, rejected: map[string]int{}, cancelled: map[string]int{}}
}

func (r *countingRecorder) BookingsCreated(kind string, n int) {
	r.mu.Lock()
	r.created[kind] += n
	r.mu.Unlock()
}

func (r *countingRecorder) BookingRejected(reason string) {
	r.mu.Lock()
	r.rejected[reason]++
	r.mu.Unlock()
}

func (r *countingRecorder) CheckedIn() {
	r.mu.Lock()
	r.checkIns++
	r.mu.Unlock()
}

func (r *countingRecorder) Cancelled(source string) {
	r.mu.Lock()
	r.cancelled[source]++
	r.mu.Unlock()
}

type flushCounter struct {
	mu sync.Mutex
	n  int
}

func (f *flushCounter) Invalidate() {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
}

func (f *flushCounter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

type bookingEnv struct {
	clock    *testfixtures.Clock
	harness  *testfixtures.StorageHarness
	service  *application.BookingService
	notifier *recordingNotifier
	recorder *countingRecorder
	cache    *flushCounter
}

func newBookingEnv(t *testing.T, rooms ...persistence.Room) *bookingEnv {
	t.Helper()

	env := &bookingEnv{
		clock:    testfixtures.NewClock(time.Time{}),
		harness:  testfixtures.NewMemoryHarness(t),
		notifier: &recordingNotifier{},
		recorder: newCountingRecorder(),
		cache:    &flushCounter{},
	}
	if len(rooms) == 0 {
		rooms = []persistence.Room{testfixtures.NewRoom(testfixtures.WithRoomID("room-1"), testfixtures.WithRoomName("Aurora"))}
	}
	env.harness.SeedRooms(t, rooms...)

	factory := testfixtures.NewServiceFactory(testfixtures.WithClock(env.clock))
	env.service = factory.NewBookingService(env.harness,
		application.WithLocker(lock.NewLocalLocker()),
		application.WithNotifier(env.notifier),
		application.WithRecorder(env.recorder),
		application.WithCacheInvalidator(env.cache),
	)
	return env
}

func (e *bookingEnv) book(t *testing.T, principal application.Principal, start time.Time, d time.Duration) persistence.Booking {
	t.Helper()
	result, err := e.service.CreateBooking(context.Background(), application.CreateBookingParams{
		Principal: principal,
		Input:     application.BookingInput{RoomID: "room-1", Start: start, End: start.Add(d), Attendees: 2},
	})
	require.NoError(t, err)
	require.Len(t, result.Bookings, 1)
	return result.Bookings[0]
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	var vErr *application.ValidationError
	require.ErrorAs(t, err, &vErr)
	return vErr.FieldErrors
}

func TestCreateBooking_Single(t *testing.T) {
	t.Parallel()

	env := newBookingEnv(t)
	start := env.clock.Now().Add(24 * time.Hour)

	booking := env.book(t, alice, start, time.Hour)

	assert.Equal(t, "alice", booking.UserID)
	assert.Equal(t, "none", booking.Recurrence)
	assert.Empty(t, booking.SeriesID)
	assert.True(t, booking.IsActive)

	stored, err := env.harness.Bookings.GetBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.True(t, stored.Start.Equal(start))

	sent := env.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Equal(t, "Room Booking Confirmed", sent[0].Subject)
	assert.Equal(t, "Your booking for Aurora on 2025-01-07 09:00 is confirmed.", sent[0].Body)

	assert.Equal(t, 1, env.recorder.created["none"])
	assert.Equal(t, 1, env.cache.count())
}

func TestCreateBooking_Rejections(t *testing.T) {
	t.Parallel()

	small := testfixtures.NewRoom(testfixtures.WithRoomID("room-1"), testfixtures.WithRoomCapacity(5))
	env := newBookingEnv(t, small)
	ctx := context.Background()
	start := env.clock.Now().Add(24 * time.Hour)

	t.Run("capacity", func(t *testing.T) {
		_, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
			Principal: alice,
			Input:     application.BookingInput{RoomID: "room-1", Start: start, End: start.Add(time.Hour), Attendees: 10},
		})
		assert.Equal(t, "room does not have enough capacity", fieldErrors(t, err)["attendees"])
	})

	t.Run("too short", func(t *testing.T) {
		_, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
			Principal: alice,
			Input:     application.BookingInput{RoomID: "room-1", Start: start, End: start.Add(20 * time.Minute), Attendees: 2},
		})
		assert.Equal(t, "booking must last at least 30 minutes", fieldErrors(t, err)["time"])
	})

	t.Run("unknown room", func(t *testing.T) {
		_, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
			Principal: alice,
			Input:     application.BookingInput{RoomID: "nowhere", Start: start, End: start.Add(time.Hour), Attendees: 2},
		})
		assert.Equal(t, "room does not exist", fieldErrors(t, err)["room_id"])
	})

	t.Run("anonymous", func(t *testing.T) {
		_, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
			Input: application.BookingInput{RoomID: "room-1", Start: start, End: start.Add(time.Hour), Attendees: 2},
		})
		assert.ErrorIs(t, err, application.ErrUnauthorized)
	})

	t.Run("overlap", func(t *testing.T) {
		env.book(t, alice, start.Add(48*time.Hour), time.Hour)
		_, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
			Principal: application.Principal{UserID: "bob"},
			Input:     application.BookingInput{RoomID: "room-1", Start: start.Add(48*time.Hour + 30*time.Minute), End: start.Add(50 * time.Hour), Attendees: 2},
		})
		var conflict *application.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "Conflict for slot 2025-01-09 09:30", conflict.Error())
	})

	stored, err := env.harness.Bookings.ListBookings(ctx, persistence.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Equal(t, 1, env.recorder.rejected["conflict"])
	assert.Equal(t, 3, env.recorder.rejected["validation"])
}

func TestCreateBooking_WeeklySeries(t *testing.T) {
	t.Parallel()

	env := newBookingEnv(t)
	ctx := context.Background()
	start := time.Date(2025, time.January, 7, 10, 0, 0, 0, time.UTC)
	until := time.Date(2025, time.January, 28, 0, 0, 0, 0, time.UTC)

	result, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: alice,
		Input: application.BookingInput{
			RoomID: "room-1", Start: start, End: start.Add(time.Hour), Attendees: 3,
			Recurrence: "weekly", RecurrenceEnd: &until,
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Bookings, 4)
	assert.Equal(t, "id-1", result.SeriesID)

	for i, booking := range result.Bookings {
		assert.True(t, booking.Start.Equal(start.AddDate(0, 0, 7*i)), "occurrence %d", i)
		assert.Equal(t, "id-1", booking.SeriesID)
		assert.Equal(t, result.Bookings[0].ID, booking.RecurrenceGroup)
		assert.Equal(t, "weekly", booking.Recurrence)
	}
	assert.Empty(t, env.notifier.sent())
	assert.Equal(t, 4, env.recorder.created["weekly"])

	groups, err := env.service.ListBookings(ctx, alice)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Bookings, 1)
	assert.Len(t, groups[0].Bookings[0].RecurrenceDates, 4)
}

func TestCreateBooking_SeriesConflictWritesNothing(t *testing.T) {
	t.Parallel()

	env := newBookingEnv(t)
	ctx := context.Background()
	start := time.Date(2025, time.January, 7, 10, 0, 0, 0, time.UTC)
	until := time.Date(2025, time.January, 12, 0, 0, 0, 0, time.UTC)

	env.book(t, application.Principal{UserID: "bob"}, time.Date(2025, time.January, 10, 10, 30, 0, 0, time.UTC), time.Hour)

	_, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: alice,
		Input: application.BookingInput{
			RoomID: "room-1", Start: start, End: start.Add(time.Hour), Attendees: 3,
			Recurrence: "daily", RecurrenceEnd: &until,
		},
	})
	var conflict *application.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "Conflict for slot 2025-01-10 10:00", conflict.Error())

	stored, err := env.harness.Bookings.ListBookings(ctx, persistence.BookingFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestCreateBooking_SeriesMissingEnd(t *testing.T) {
	t.Parallel()

	env := newBookingEnv(t)
	start := env.clock.Now().Add(24 * time.Hour)

	_, err := env.service.CreateBooking(context.Background(), application.CreateBookingParams{
		Principal: alice,
		Input: application.BookingInput{
			RoomID: "room-1", Start: start, End: start.Add(time.Hour), Attendees: 3, Recurrence: "monthly",
		},
	})
	assert.Equal(t, "recurrence end date is required for recurring bookings", fieldErrors(t, err)["recurrence_end"])
}

func TestCreateBooking_ConcurrentRequestsKeepOne(t *testing.T) {
	t.Parallel()

	for _, open := range testfixtures.StorageBackends() {
		h := open(t)
		t.Run(h.Name, func(t *testing.T) {
			h.SeedRooms(t, testfixtures.NewRoom(testfixtures.WithRoomID("room-1")))
			factory := testfixtures.NewServiceFactory()
			service := factory.NewBookingService(h, application.WithLocker(lock.NewLocalLocker()))
			start := factory.Clock.Now().Add(24 * time.Hour)

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				conflicts int
			)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := service.CreateBooking(context.Background(), application.CreateBookingParams{
						Principal: alice,
						Input:     application.BookingInput{RoomID: "room-1", Start: start, End: start.Add(time.Hour), Attendees: 2},
					})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, application.ErrConflict):
						conflicts++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, succeeded)
			assert.Equal(t, 9, conflicts)
		})
	}
}

func TestCheckIn(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		offset  time.Duration
		wantErr error
	}{
		{name: "at start", offset: 0},
		{name: "at the end of the window", offset: 10 * time.Minute},
		{name: "before start", offset: -time.Minute, wantErr: lifecycle.ErrCheckInWindowClosed},
		{name: "after the window", offset: 11 * time.Minute, wantErr: lifecycle.ErrCheckInWindowClosed},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := newBookingEnv(t)
			start := env.clock.Now().Add(2 * time.Hour)
			booking := env.book(t, alice, start, time.Hour)

			env.clock.Set(start.Add(tc.offset))
			got, err := env.service.CheckIn(context.Background(), alice, booking.ID)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Zero(t, env.recorder.checkIns)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.CheckedIn)
			assert.Equal(t, 1, env.recorder.checkIns)

			_, err = env.service.CheckIn(context.Background(), alice, booking.ID)
			assert.ErrorIs(t, err, lifecycle.ErrAlreadyCheckedIn)
		})
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{name: "fifteen minutes ahead", now: time.Date(2025, time.January, 6, 14, 45, 0, 0, time.UTC)},
		{name: "one second short", now: time.Date(2025, time.January, 6, 14, 45, 1, 0, time.UTC), wantErr: lifecycle.ErrCancellationTooLate},
		{name: "fourteen minutes ahead", now: time.Date(2025, time.January, 6, 14, 46, 0, 0, time.UTC), wantErr: lifecycle.ErrCancellationTooLate},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			room := testfixtures.NewRoom(testfixtures.WithRoomID("room-1"), testfixtures.WithRoomUnavailable())
			env := newBookingEnv(t, room)
			start := time.Date(2025, time.January, 6, 15, 0, 0, 0, time.UTC)
			env.harness.SeedBookings(t, testfixtures.NewBooking(
				testfixtures.WithBookingID("b-1"),
				testfixtures.WithBookingOwner("alice", "alice@example.com"),
				testfixtures.WithBookingInterval(start, start.Add(time.Hour)),
			))

			env.clock.Set(tc.now)
			got, err := env.service.Cancel(context.Background(), alice, "b-1")
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Cancelled)
			assert.False(t, got.IsActive)
			assert.Equal(t, "alice", got.CancelledBy)
			assert.Equal(t, 1, env.recorder.cancelled["user"])

			stored, err := env.harness.Rooms.GetRoom(context.Background(), "room-1")
			require.NoError(t, err)
			assert.True(t, stored.IsAvailable)

			_, err = env.service.Cancel(context.Background(), alice, "b-1")
			assert.ErrorIs(t, err, lifecycle.ErrAlreadyCancelled)
		})
	}
}

func TestForeignBookingsAreHidden(t *testing.T) {
	t.Parallel()

	env := newBookingEnv(t)
	ctx := context.Background()
	booking := env.book(t, alice, env.clock.Now().Add(24*time.Hour), time.Hour)
	bob := application.Principal{UserID: "bob"}

	_, err := env.service.CheckIn(ctx, bob, booking.ID)
	assert.ErrorIs(t, err, application.ErrNotFound)

	_, err = env.service.Cancel(ctx, bob, booking.ID)
	assert.ErrorIs(t, err, application.ErrNotFound)

	assert.ErrorIs(t, env.service.DeleteBooking(ctx, bob, booking.ID), application.ErrNotFound)

	_, err = env.service.RoomBookings(ctx, bob, "room-1")
	assert.ErrorIs(t, err, application.ErrNotFound)
}

func TestUpdateOccurrence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	start := time.Date(2025, time.January, 7, 10, 0, 0, 0, time.UTC)
	until := time.Date(2025, time.January, 9, 0, 0, 0, 0, time.UTC)

	newSeries := func(t *testing.T) (*bookingEnv, []persistence.Booking) {
		t.Helper()
		env := newBookingEnv(t)
		result, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
			Principal: alice,
			Input: application.BookingInput{
				RoomID: "room-1", Start: start, End: start.Add(time.Hour), Attendees: 3,
				Recurrence: "daily", RecurrenceEnd: &until,
			},
		})
		require.NoError(t, err)
		require.Len(t, result.Bookings, 3)
		return env, result.Bookings
	}

	t.Run("moves one occurrence keeping the time of day", func(t *testing.T) {
		env, series := newSeries(t)
		date := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)

		updated, err := env.service.UpdateOccurrence(ctx, application.UpdateOccurrenceParams{
			Principal: alice, BookingID: series[1].ID, NewDate: &date,
		})
		require.NoError(t, err)
		require.Len(t, updated, 1)
		assert.True(t, updated[0].Start.Equal(time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)))
		assert.Equal(t, time.Hour, updated[0].End.Sub(updated[0].Start))
	})

	t.Run("refuses to move onto a sibling", func(t *testing.T) {
		env, series := newSeries(t)
		date := series[2].Start

		_, err := env.service.UpdateOccurrence(ctx, application.UpdateOccurrenceParams{
			Principal: alice, BookingID: series[0].ID, NewDate: &date,
		})
		assert.ErrorIs(t, err, application.ErrConflict)
	})

	t.Run("attendees for the whole group", func(t *testing.T) {
		env, series := newSeries(t)
		attendees := 6

		updated, err := env.service.UpdateOccurrence(ctx, application.UpdateOccurrenceParams{
			Principal: alice, BookingID: series[0].ID, Attendees: &attendees, ApplyToGroup: true,
		})
		require.NoError(t, err)
		assert.Len(t, updated, 3)

		for _, booking := range series {
			stored, err := env.harness.Bookings.GetBooking(ctx, booking.ID)
			require.NoError(t, err)
			assert.Equal(t, 6, stored.Attendees)
		}
	})

	t.Run("attendees over capacity", func(t *testing.T) {
		env, series := newSeries(t)
		attendees := 50

		_, err := env.service.UpdateOccurrence(ctx, application.UpdateOccurrenceParams{
			Principal: alice, BookingID: series[0].ID, Attendees: &attendees,
		})
		assert.Equal(t, "room does not have enough capacity", fieldErrors(t, err)["attendees"])
	})

	t.Run("checked-in occurrences are final", func(t *testing.T) {
		env, series := newSeries(t)
		env.clock.Set(series[0].Start.Add(5 * time.Minute))
		_, err := env.service.CheckIn(ctx, alice, series[0].ID)
		require.NoError(t, err)

		date := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)
		attendees := 2
		_, err = env.service.UpdateOccurrence(ctx, application.UpdateOccurrenceParams{
			Principal: alice, BookingID: series[0].ID, NewDate: &date, Attendees: &attendees,
		})
		assert.ErrorIs(t, err, lifecycle.ErrAlreadyCheckedIn)

		stored, err := env.harness.Bookings.GetBooking(ctx, series[0].ID)
		require.NoError(t, err)
		assert.True(t, stored.Start.Equal(series[0].Start))
		assert.Equal(t, 3, stored.Attendees)
	})

	t.Run("nothing to update", func(t *testing.T) {
		env, series := newSeries(t)
		_, err := env.service.UpdateOccurrence(ctx, application.UpdateOccurrenceParams{Principal: alice, BookingID: series[0].ID})
		assert.Equal(t, "nothing to update", fieldErrors(t, err)["booking"])
	})
}

func TestCreateBookingWithoutLocker(t *testing.T) {
	t.Parallel()

	h := testfixtures.NewMemoryHarness(t)
	h.SeedRooms(t, testfixtures.NewRoom(testfixtures.WithRoomID("room-1")))
	service := testfixtures.NewServiceFactory().NewBookingService(h)

	ctx := context.Background()
	start := testfixtures.ReferenceTime().Add(2 * time.Hour)
	input := application.BookingInput{RoomID: "room-1", Start: start, End: start.Add(time.Hour), Attendees: 2}

	_, err := service.CreateBooking(ctx, application.CreateBookingParams{Principal: alice, Input: input})
	require.NoError(t, err)
	_, err = service.CreateBooking(ctx, application.CreateBookingParams{Principal: alice, Input: input})
	assert.ErrorIs(t, err, application.ErrConflict)
}

func TestDeleteBookingLeavesSiblings(t *testing.T) {
	t.Parallel()

	env := newBookingEnv(t)
	ctx := context.Background()
	start := time.Date(2025, time.January, 7, 10, 0, 0, 0, time.UTC)
	until := time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC)
	result, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: alice,
		Input: application.BookingInput{
			RoomID: "room-1", Start: start, End: start.Add(time.Hour), Attendees: 3,
			Recurrence: "daily", RecurrenceEnd: &until,
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Bookings, 2)

	require.NoError(t, env.service.DeleteBooking(ctx, alice, result.Bookings[0].ID))

	group, err := env.service.RoomBookings(ctx, alice, "room-1")
	require.NoError(t, err)
	require.Len(t, group.Bookings, 1)
	assert.Equal(t, result.Bookings[1].ID, group.Bookings[0].Booking.ID)
}

func TestListBookings_Views(t *testing.T) {
	t.Parallel()

	env := newBookingEnv(t,
		testfixtures.NewRoom(testfixtures.WithRoomID("room-1"), testfixtures.WithRoomName("Zephyr")),
		testfixtures.NewRoom(testfixtures.WithRoomID("room-2"), testfixtures.WithRoomName("Aurora")),
	)
	ref := env.clock.Now()
	env.harness.SeedBookings(t,
		testfixtures.NewBooking(testfixtures.WithBookingID("soon"), testfixtures.WithBookingOwner("alice", ""),
			testfixtures.WithBookingStartIn(5*time.Minute, time.Hour)),
		testfixtures.NewBooking(testfixtures.WithBookingID("missed"), testfixtures.WithBookingOwner("alice", ""),
			testfixtures.WithBookingRoom("room-2"), testfixtures.WithBookingStartIn(-2*time.Hour, time.Hour)),
		testfixtures.NewBooking(testfixtures.WithBookingID("other"), testfixtures.WithBookingOwner("bob", ""),
			testfixtures.WithBookingStartIn(3*time.Hour, time.Hour)),
	)

	groups, err := env.service.ListBookings(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Aurora", groups[0].Room.Name)
	assert.Equal(t, "Zephyr", groups[1].Room.Name)

	missed := groups[0].Bookings[0]
	assert.Equal(t, lifecycle.StatusMissed, missed.Status)
	assert.False(t, missed.CheckInAllowed)

	require.Len(t, groups[1].Bookings, 1)
	soon := groups[1].Bookings[0]
	assert.Equal(t, lifecycle.StatusActive, soon.Status)
	assert.False(t, soon.CanCancel)
	assert.False(t, soon.CheckInAllowed)

	env.clock.Set(ref.Add(6 * time.Minute))
	groups, err = env.service.ListBookings(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, groups[1].Bookings[0].CheckInAllowed)
}
