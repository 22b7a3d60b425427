package application

import (
	"context"
	"time"

	"github.com/example/roombooking/internal/persistence"
	"github.com/example/roombooking/internal/recurrence"
	"github.com/example/roombooking/internal/scheduler"
)

// createSeries expands a recurring request and writes every occurrence or
// none. It runs in three phases: build the candidates, check each one against
// the other candidates and the stored bookings, then insert them in one
// transaction that re-checks overlaps. The pure rules were already applied to
// the first occurrence; later occurrences are strictly later by construction.
func (s *BookingService) createSeries(ctx context.Context, principal Principal, room persistence.Room, input BookingInput, kind recurrence.Kind, now time.Time) (CreateBookingResult, error) {
	slots, err := s.engine.Slots(input.Start, input.End, kind, input.RecurrenceEnd)
	if err != nil {
		return CreateBookingResult{}, seriesSizeError(err)
	}

	seriesID := s.idGenerator()
	candidates := make([]persistence.Booking, 0, len(slots))
	for _, slot := range slots {
		booking := s.newBooking(principal, room, input, kind, slot.Start, slot.End, now)
		booking.SeriesID = seriesID
		candidates = append(candidates, booking)
	}
	group := candidates[0].ID
	for i := range candidates {
		candidates[i].RecurrenceGroup = group
	}

	batch := make([]scheduler.Slot, len(candidates))
	for i, candidate := range candidates {
		batch[i] = scheduler.Slot{ID: candidate.ID, RoomID: candidate.RoomID, Start: candidate.Start, End: candidate.End}
	}
	if idx := scheduler.FirstInternalConflict(batch); idx >= 0 {
		return CreateBookingResult{}, conflictFor(candidates[idx])
	}
	for _, candidate := range candidates {
		overlap, err := s.bookings.HasOverlap(ctx, room.ID, candidate.Start, candidate.End, "")
		if err != nil {
			return CreateBookingResult{}, mapBookingRepoError(err)
		}
		if overlap {
			return CreateBookingResult{}, conflictFor(candidate)
		}
	}

	if err := s.bookings.CreateBookings(ctx, candidates); err != nil {
		return CreateBookingResult{}, mapBookingWriteError(err, candidates)
	}
	return CreateBookingResult{Bookings: candidates, SeriesID: seriesID}, nil
}
