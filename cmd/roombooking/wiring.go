package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/example/roombooking/internal/application"
	"github.com/example/roombooking/internal/config"
	httptransport "github.com/example/roombooking/internal/http"
	"github.com/example/roombooking/internal/lock"
	"github.com/example/roombooking/internal/metrics"
	"github.com/example/roombooking/internal/notify"
	"github.com/example/roombooking/internal/persistence"
	"github.com/example/roombooking/internal/persistence/memory"
	"github.com/example/roombooking/internal/persistence/sqlite"
	"github.com/example/roombooking/internal/recurrence"
	"github.com/example/roombooking/internal/sweeper"
)

// storage is the repository pair every command works against.
type storage struct {
	rooms    persistence.RoomRepository
	bookings persistence.BookingRepository
	ping     func(context.Context) error
	close    func() error
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		mem := memory.New()
		logger.WarnContext(ctx, "using in-memory storage; bookings are lost on exit")
		return &storage{rooms: mem, bookings: mem, ping: mem.Ping, close: mem.Close}, nil
	default:
		store, err := openSQLite(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if _, err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return &storage{rooms: store.Rooms(), bookings: store.Bookings(), ping: store.Ping, close: store.Close}, nil
	}
}

func openSQLite(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sqlite.Store, error) {
	sqlCfg := sqlite.DefaultConfig(cfg.Storage.SQLitePath)
	sqlCfg.BusyTimeout = cfg.Storage.BusyTimeout
	store, err := sqlite.Open(ctx, sqlCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Storage.SQLitePath, err)
	}
	return store, nil
}

func newLocker(ctx context.Context, cfg config.Config, logger *slog.Logger) (application.Locker, func() error, error) {
	if !cfg.RedisEnabled() {
		return lock.NewLocalLocker(), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Address, err)
	}
	logger.InfoContext(ctx, "using redis booking lock", "addr", cfg.Redis.Address)
	locker := lock.NewRedisLocker(client, lock.RedisOptions{TTL: cfg.Redis.LockTTL, Wait: cfg.Redis.LockWait}, logger)
	return locker, client.Close, nil
}

func newNotifier(cfg config.Config, logger *slog.Logger) notify.Sender {
	if !cfg.SMTPEnabled() {
		return notify.NewLogSender(logger)
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
}

// components is the fully wired service graph.
type components struct {
	handler http.Handler
	sweeper *sweeper.Sweeper
}

func buildComponents(cfg config.Config, loc *time.Location, store *storage, locker application.Locker, logger *slog.Logger) components {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)
	notifier := newNotifier(cfg, logger)
	now := time.Now
	idGenerator := uuid.NewString

	availability := application.NewAvailabilityService(store.rooms, store.bookings, cfg.Scheduling.CacheTTL, loc, logger)
	analytics := application.NewAnalyticsService(store.rooms, store.bookings, loc, logger)
	rooms := application.NewRoomServiceWithLogger(store.rooms, store.bookings, idGenerator, now, logger, availability)
	bookings := application.NewBookingServiceWithLogger(store.bookings, store.rooms, idGenerator, now, logger,
		application.WithEngine(recurrence.NewEngine(loc)),
		application.WithLocker(locker),
		application.WithNotifier(notifier),
		application.WithRecorder(collector),
		application.WithCacheInvalidator(availability),
	)

	sw := sweeper.New(store.bookings, store.rooms, now, logger,
		sweeper.WithNotifier(notifier),
		sweeper.WithRecorder(collector),
		sweeper.WithLocation(loc),
		sweeper.WithAfterSweep(availability.Invalidate),
	)

	var limiter *httptransport.PrincipalRateLimiter
	if cfg.RateLimit.PerSecond > 0 {
		limiter = httptransport.NewPrincipalRateLimiter(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst)
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Rooms:    httptransport.NewRoomHandler(rooms, logger),
		Bookings: httptransport.NewBookingHandler(bookings, loc, logger),
		Reports:  httptransport.NewReportHandler(availability, analytics, logger),
		Health:   store.ping,
		Metrics:  metricsHandler,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RequirePrincipal(logger),
			httptransport.RateLimit(limiter, logger),
		},
	})

	return components{handler: router, sweeper: sw}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeLocker(); cerr != nil {
			logger.Error("failed to close redis client", "error", cerr)
		}
	}()

	c := buildComponents(cfg, loc, store, locker, logger)
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:           c.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("room booking API listening", "addr", server.Addr, "storage", cfg.Storage.Driver, "time_zone", loc.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return c.sweeper.Run(gctx, cfg.Scheduling.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Info("room booking API stopped")
		return nil
	})
	return g.Wait()
}

func sweepOnce(ctx context.Context, cfg config.Config, logger *slog.Logger) (int, error) {
	loc, err := cfg.Location()
	if err != nil {
		return 0, err
	}
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return 0, err
	}
	defer func() { _ = store.close() }()

	sw := sweeper.New(store.bookings, store.rooms, time.Now, logger,
		sweeper.WithNotifier(newNotifier(cfg, logger)),
		sweeper.WithLocation(loc),
	)
	cancelled, err := sw.SweepOnce(ctx, time.Now())
	return len(cancelled), err
}

func migrate(ctx context.Context, cfg config.Config, logger *slog.Logger, statusOnly bool, out io.Writer) error {
	if cfg.Storage.Driver != config.DriverSQLite {
		return fmt.Errorf("migrate: storage driver %q has no schema", cfg.Storage.Driver)
	}
	store, err := openSQLite(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if !statusOnly {
		applied, err := store.Migrate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "applied %d migration(s)\n", applied)
	}

	status, err := store.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema version %s, %d applied, %d pending\n", status.CurrentVersion, len(status.Applied), len(status.Pending))
	return nil
}
