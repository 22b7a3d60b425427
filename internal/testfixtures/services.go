package testfixtures

import (
	"io"
	"log/slog"
	"time"

	"github.com/example/roombooking/internal/application"
	"github.com/example/roombooking/internal/persistence"
	"github.com/example/roombooking/internal/sweeper"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults. Logs are discarded.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(factory)
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		if clock != nil {
			factory.Clock = clock
		}
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		if generator != nil {
			factory.IDGenerator = generator
		}
	}
}

// WithLogger overrides the logger handed to services.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		if logger != nil {
			factory.Logger = logger
		}
	}
}

// NewBookingService builds a booking service over the harness repositories.
func (f *ServiceFactory) NewBookingService(h *StorageHarness, opts ...application.BookingServiceOption) *application.BookingService {
	return application.NewBookingServiceWithLogger(h.Bookings, h.Rooms, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Logger, opts...)
}

// NewRoomService builds a room service over the harness repositories.
func (f *ServiceFactory) NewRoomService(h *StorageHarness, caches ...application.CacheInvalidator) *application.RoomService {
	return application.NewRoomServiceWithLogger(h.Rooms, h.Bookings, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Logger, caches...)
}

// NewAvailabilityService builds an availability service with the given cache ttl.
func (f *ServiceFactory) NewAvailabilityService(h *StorageHarness, ttl time.Duration) *application.AvailabilityService {
	return application.NewAvailabilityService(h.Rooms, h.Bookings, ttl, time.UTC, f.Logger)
}

// NewAnalyticsService builds an analytics service in UTC.
func (f *ServiceFactory) NewAnalyticsService(h *StorageHarness) *application.AnalyticsService {
	return application.NewAnalyticsService(h.Rooms, h.Bookings, time.UTC, f.Logger)
}

// NewSweeper builds a sweeper on the factory clock.
func (f *ServiceFactory) NewSweeper(bookings persistence.BookingRepository, rooms persistence.RoomRepository, opts ...sweeper.Option) *sweeper.Sweeper {
	return sweeper.New(bookings, rooms, f.Clock.NowFunc(), f.Logger, opts...)
}
