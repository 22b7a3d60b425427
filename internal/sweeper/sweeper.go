// Package sweeper auto-cancels bookings nobody checked in to.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/roombooking/internal/lifecycle"
	"github.com/example/roombooking/internal/logging"
	"github.com/example/roombooking/internal/notify"
	"github.com/example/roombooking/internal/persistence"
)

// Recorder receives sweep statistics.
type Recorder interface {
	SweepCompleted(elapsed time.Duration, transitions, failures int)
}

// Sweeper cancels scheduled bookings whose check-in window closed.
type Sweeper struct {
	bookings persistence.BookingRepository
	rooms    persistence.RoomRepository
	notifier notify.Sender
	recorder Recorder
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
	onSweep  func()
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithNotifier sends the auto-cancel notice to booking owners.
func WithNotifier(sender notify.Sender) Option {
	return func(s *Sweeper) { s.notifier = sender }
}

// WithRecorder sets the metrics sink.
func WithRecorder(recorder Recorder) Option {
	return func(s *Sweeper) { s.recorder = recorder }
}

// WithLocation sets the zone used to format times in notices.
func WithLocation(loc *time.Location) Option {
	return func(s *Sweeper) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithAfterSweep registers a hook run after a sweep that cancelled anything.
func WithAfterSweep(fn func()) Option {
	return func(s *Sweeper) { s.onSweep = fn }
}

// New constructs a Sweeper. rooms may be nil, in which case notices omit the room name.
func New(bookings persistence.BookingRepository, rooms persistence.RoomRepository, now func() time.Time, logger *slog.Logger, opts ...Option) *Sweeper {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		bookings: bookings,
		rooms:    rooms,
		location: time.UTC,
		now:      now,
		logger:   logger.With("component", "sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepOnce cancels every booking that is neither cancelled nor checked in
// and started before now minus the check-in window. Each booking is
// transitioned on its own; a failure is logged, counted and skipped. It
// returns the IDs actually cancelled, so running it again is a no-op.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (cancelled []string, err error) {
	started := time.Now()
	logger := s.loggerFor(ctx)
	failures := 0
	defer func() {
		if s.recorder != nil {
			s.recorder.SweepCompleted(time.Since(started), len(cancelled), failures)
		}
		if err != nil {
			logger.ErrorContext(ctx, "sweep failed", "error", err)
			return
		}
		if len(cancelled) > 0 || failures > 0 {
			logger.InfoContext(ctx, "sweep completed", "cancelled", len(cancelled), "failures", failures)
		}
	}()

	cutoff := lifecycle.AutoCancelCutoff(now)
	var expired []persistence.Booking
	expired, err = s.bookings.ListBookings(ctx, persistence.BookingFilter{
		StartsBefore:     &cutoff,
		ExcludeCancelled: true,
		ExcludeCheckedIn: true,
	})
	if err != nil {
		err = fmt.Errorf("sweeper: list expired bookings: %w", err)
		return
	}

	for _, booking := range expired {
		if err = ctx.Err(); err != nil {
			return
		}
		if !lifecycle.ShouldAutoCancel(snapshotOf(booking), now) {
			continue
		}

		applied, transitionErr := s.bookings.TransitionBooking(ctx, booking.ID, persistence.Transition{
			Kind: persistence.TransitionAutoCancel,
			At:   now,
		})
		if transitionErr != nil {
			failures++
			logger.ErrorContext(ctx, "failed to auto-cancel booking", "booking_id", booking.ID, "error", transitionErr)
			continue
		}
		if !applied {
			continue
		}

		cancelled = append(cancelled, booking.ID)
		logger.InfoContext(ctx, "booking auto-cancelled", "booking_id", booking.ID, "room_id", booking.RoomID)
		s.notify(ctx, booking)
	}

	if len(cancelled) > 0 && s.onSweep != nil {
		s.onSweep()
	}
	return
}

// Run sweeps every interval until ctx is done. The first sweep runs immediately.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("sweeper: interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "sweeper started", "interval", interval.String())
	for {
		if _, err := s.SweepOnce(ctx, s.now()); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "sweep error", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) notify(ctx context.Context, booking persistence.Booking) {
	if s.notifier == nil || booking.OwnerEmail == "" {
		return
	}

	roomName := booking.RoomID
	if s.rooms != nil {
		if room, err := s.rooms.GetRoom(ctx, booking.RoomID); err == nil {
			roomName = room.Name
		}
	}
	msg := notify.Message{
		To:      booking.OwnerEmail,
		Subject: "Booking Auto-Cancelled",
		Body: fmt.Sprintf("Your booking for %s on %s was auto-cancelled because you did not check in within %d minutes of the start time.",
			roomName, booking.Start.In(s.location).Format("2006-01-02 15:04"), int(lifecycle.CheckInWindow/time.Minute)),
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.loggerFor(ctx).WarnContext(ctx, "failed to send auto-cancel notice", "booking_id", booking.ID, "error", err)
	}
}

func (s *Sweeper) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger.With("component", "sweeper")
	}
	return s.logger
}

func snapshotOf(b persistence.Booking) lifecycle.Snapshot {
	return lifecycle.Snapshot{
		Start:       b.Start,
		End:         b.End,
		CheckedIn:   b.CheckedIn,
		Cancelled:   b.Cancelled,
		CancelledBy: b.CancelledBy,
	}
}
