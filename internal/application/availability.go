package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/example/roombooking/internal/persistence"
)

// AvailabilityTimeLayout is the minute precision local time accepted for
// availability ranges. RFC 3339 values are accepted too.
const AvailabilityTimeLayout = "2006-01-02T15:04"

// AvailabilityService answers which rooms are free for a range. Results are
// cached briefly and flushed by Invalidate after any write.
type AvailabilityService struct {
	rooms    persistence.RoomRepository
	bookings persistence.BookingRepository
	cache    *cache.Cache
	location *time.Location
	logger   *slog.Logger
}

// NewAvailabilityService constructs the service. A ttl of zero disables caching.
func NewAvailabilityService(rooms persistence.RoomRepository, bookings persistence.BookingRepository, ttl time.Duration, location *time.Location, logger *slog.Logger) *AvailabilityService {
	if location == nil {
		location = time.UTC
	}
	s := &AvailabilityService{
		rooms:    rooms,
		bookings: bookings,
		location: location,
		logger:   defaultLogger(logger),
	}
	if ttl > 0 {
		s.cache = cache.New(ttl, 2*ttl)
	}
	return s
}

// Invalidate drops every cached answer.
func (s *AvailabilityService) Invalidate() {
	if s == nil || s.cache == nil {
		return
	}
	s.cache.Flush()
}

type availabilityRequest struct {
	start       time.Time
	end         time.Time
	minCapacity int
	resources   []string
}

func (r availabilityRequest) key() string {
	return fmt.Sprintf("%s|%s|%d|%s",
		r.start.UTC().Format(time.RFC3339), r.end.UTC().Format(time.RFC3339), r.minCapacity, strings.Join(r.resources, ","))
}

// AvailableRooms returns available rooms with no active booking overlapping
// the requested range, filtered by minimum capacity and required resources.
func (s *AvailabilityService) AvailableRooms(ctx context.Context, query AvailabilityQuery) (rooms []persistence.Room, err error) {
	if s == nil {
		err = fmt.Errorf("AvailabilityService is nil")
		return
	}

	logger := serviceLogger(ctx, s.logger, "AvailabilityService", "AvailableRooms",
		"start", query.Start,
		"end", query.End,
	)
	cached := false
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to compute availability", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(rooms), "cached", cached).DebugContext(ctx, "availability computed")
	}()

	var req availabilityRequest
	req, err = s.parse(query)
	if err != nil {
		return
	}

	key := req.key()
	if s.cache != nil {
		if hit, ok := s.cache.Get(key); ok {
			cached = true
			rooms = cloneRooms(hit.([]persistence.Room))
			return
		}
	}

	var all []persistence.Room
	all, err = s.rooms.ListRooms(ctx)
	if err != nil {
		err = mapRoomRepoError(err)
		return
	}

	var overlapping []persistence.Booking
	overlapping, err = s.bookings.ListBookings(ctx, persistence.BookingFilter{
		OverlapStart:     &req.start,
		OverlapEnd:       &req.end,
		ExcludeCancelled: true,
	})
	if err != nil {
		err = mapBookingRepoError(err)
		return
	}
	busy := make(map[string]struct{}, len(overlapping))
	for _, booking := range overlapping {
		busy[booking.RoomID] = struct{}{}
	}

	rooms = make([]persistence.Room, 0, len(all))
	for _, room := range all {
		if !room.IsAvailable || room.Capacity < req.minCapacity {
			continue
		}
		if _, taken := busy[room.ID]; taken {
			continue
		}
		if !hasResources(room, req.resources) {
			continue
		}
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Name == rooms[j].Name {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].Name < rooms[j].Name
	})

	if s.cache != nil {
		s.cache.SetDefault(key, cloneRooms(rooms))
	}
	return
}

func (s *AvailabilityService) parse(query AvailabilityQuery) (availabilityRequest, error) {
	var req availabilityRequest
	vErr := &ValidationError{}

	startRaw, endRaw := strings.TrimSpace(query.Start), strings.TrimSpace(query.End)
	if startRaw == "" || endRaw == "" {
		vErr.add("range", "both start and end parameters are required")
		return req, vErr
	}

	var err error
	if req.start, err = ParseLocalTime(startRaw, s.location); err != nil {
		vErr.add("start", "datetime format should be YYYY-MM-DDTHH:MM")
	}
	if req.end, err = ParseLocalTime(endRaw, s.location); err != nil {
		vErr.add("end", "datetime format should be YYYY-MM-DDTHH:MM")
	}
	if !vErr.HasErrors() && !req.start.Before(req.end) {
		vErr.add("range", "start time must be before end time")
	}

	if raw := strings.TrimSpace(query.MinCapacity); raw != "" {
		capacity, convErr := strconv.Atoi(raw)
		if convErr != nil {
			vErr.add("capacity", "capacity must be an integer")
		}
		req.minCapacity = capacity
	}

	for _, resource := range strings.Split(query.Resources, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(resource)); trimmed != "" {
			req.resources = append(req.resources, trimmed)
		}
	}
	sort.Strings(req.resources)

	if vErr.HasErrors() {
		return availabilityRequest{}, vErr
	}
	return req, nil
}

// ParseLocalTime accepts RFC 3339 or AvailabilityTimeLayout interpreted in loc.
func ParseLocalTime(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.ParseInLocation(AvailabilityTimeLayout, value, loc)
}

func hasResources(room persistence.Room, required []string) bool {
	available := strings.ToLower(room.Resources)
	for _, resource := range required {
		if !strings.Contains(available, resource) {
			return false
		}
	}
	return true
}

func cloneRooms(rooms []persistence.Room) []persistence.Room {
	out := make([]persistence.Room, len(rooms))
	copy(out, rooms)
	return out
}
