package application

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/example/roombooking/internal/lifecycle"
	"github.com/example/roombooking/internal/persistence"
)

// DefaultTopRooms is how many rooms the usage ranking returns by default.
const DefaultTopRooms = 5

// AnalyticsService computes usage statistics over rooms and bookings.
type AnalyticsService struct {
	rooms    persistence.RoomRepository
	bookings persistence.BookingRepository
	location *time.Location
	logger   *slog.Logger
}

// NewAnalyticsService constructs the service. Heatmap hours are evaluated in location.
func NewAnalyticsService(rooms persistence.RoomRepository, bookings persistence.BookingRepository, location *time.Location, logger *slog.Logger) *AnalyticsService {
	if location == nil {
		location = time.UTC
	}
	return &AnalyticsService{rooms: rooms, bookings: bookings, location: location, logger: defaultLogger(logger)}
}

// Report returns the top rooms, occupancy, heatmap and auto-cancel rate
// across every booking.
func (s *AnalyticsService) Report(ctx context.Context) (report AnalyticsReport, err error) {
	if s == nil {
		err = fmt.Errorf("AnalyticsService is nil")
		return
	}

	logger := serviceLogger(ctx, s.logger, "AnalyticsService", "Report")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to build analytics", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "analytics built")
	}()

	var (
		rooms    []persistence.Room
		bookings []persistence.Booking
	)
	rooms, bookings, err = s.load(ctx, persistence.BookingFilter{})
	if err != nil {
		return
	}

	report.TopRooms = topRooms(rooms, bookings, DefaultTopRooms, false)
	report.Occupancy = occupancy(rooms, bookings)
	report.Heatmap = s.heatmap(bookings)
	report.AutoCancelledPercent = autoCancelledPercent(bookings)
	return
}

// TopRooms ranks rooms by booking count. With a principal, only that user's
// bookings count and rooms they never booked are omitted.
func (s *AnalyticsService) TopRooms(ctx context.Context, principal *Principal, limit int) (usage []RoomUsage, err error) {
	if s == nil {
		err = fmt.Errorf("AnalyticsService is nil")
		return
	}
	if limit <= 0 {
		limit = DefaultTopRooms
	}

	filter := persistence.BookingFilter{}
	userID := ""
	if principal != nil {
		filter.UserID = principal.UserID
		userID = principal.UserID
	}

	logger := serviceLogger(ctx, s.logger, "AnalyticsService", "TopRooms", "principal_id", userID, "limit", limit)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to rank rooms", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(usage)).InfoContext(ctx, "rooms ranked")
	}()

	rooms, bookings, err := s.load(ctx, filter)
	if err != nil {
		return
	}
	usage = topRooms(rooms, bookings, limit, principal != nil)
	return
}

func (s *AnalyticsService) load(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Room, []persistence.Booking, error) {
	rooms, err := s.rooms.ListRooms(ctx)
	if err != nil {
		return nil, nil, mapRoomRepoError(err)
	}
	bookings, err := s.bookings.ListBookings(ctx, filter)
	if err != nil {
		return nil, nil, mapBookingRepoError(err)
	}
	return rooms, bookings, nil
}

func topRooms(rooms []persistence.Room, bookings []persistence.Booking, limit int, skipEmpty bool) []RoomUsage {
	counts := make(map[string]int, len(rooms))
	for _, booking := range bookings {
		counts[booking.RoomID]++
	}

	usage := make([]RoomUsage, 0, len(rooms))
	for _, room := range rooms {
		count := counts[room.ID]
		if skipEmpty && count == 0 {
			continue
		}
		usage = append(usage, RoomUsage{RoomID: room.ID, RoomName: room.Name, BookingCount: count})
	}
	sort.SliceStable(usage, func(i, j int) bool {
		if usage[i].BookingCount == usage[j].BookingCount {
			return usage[i].RoomName < usage[j].RoomName
		}
		return usage[i].BookingCount > usage[j].BookingCount
	})
	if len(usage) > limit {
		usage = usage[:limit]
	}
	return usage
}

func occupancy(rooms []persistence.Room, bookings []persistence.Booking) []RoomOccupancy {
	type acc struct {
		sum   float64
		count int
	}
	totals := make(map[string]*acc, len(rooms))
	capacity := make(map[string]int, len(rooms))
	for _, room := range rooms {
		capacity[room.ID] = room.Capacity
		totals[room.ID] = &acc{}
	}
	for _, booking := range bookings {
		t, ok := totals[booking.RoomID]
		if !ok || capacity[booking.RoomID] <= 0 {
			continue
		}
		t.sum += float64(booking.Attendees) / float64(capacity[booking.RoomID])
		t.count++
	}

	out := make([]RoomOccupancy, 0, len(rooms))
	for _, room := range rooms {
		entry := RoomOccupancy{RoomID: room.ID, RoomName: room.Name}
		if t := totals[room.ID]; t.count > 0 {
			entry.AverageOccupancy = round2(t.sum / float64(t.count))
		}
		out = append(out, entry)
	}
	return out
}

func (s *AnalyticsService) heatmap(bookings []persistence.Booking) []HeatmapCell {
	type cellKey struct {
		weekday time.Weekday
		hour    int
	}
	counts := make(map[cellKey]int)
	for _, booking := range bookings {
		if !booking.IsActive {
			continue
		}
		local := booking.Start.In(s.location)
		counts[cellKey{weekday: local.Weekday(), hour: local.Hour()}]++
	}

	cells := make([]HeatmapCell, 0, len(counts))
	for key, count := range counts {
		cells = append(cells, HeatmapCell{Weekday: key.weekday, Hour: key.hour, Count: count})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Weekday == cells[j].Weekday {
			return cells[i].Hour < cells[j].Hour
		}
		return cells[i].Weekday < cells[j].Weekday
	})
	return cells
}

func autoCancelledPercent(bookings []persistence.Booking) float64 {
	if len(bookings) == 0 {
		return 0
	}
	auto := 0
	for _, booking := range bookings {
		if lifecycle.StateOf(snapshotOf(booking)) == lifecycle.StateAutoCancelled {
			auto++
		}
	}
	return round2(float64(auto) / float64(len(bookings)) * 100)
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
