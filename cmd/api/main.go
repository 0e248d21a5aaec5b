package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wtbooking/internal/api"
	"wtbooking/internal/bot"
	"wtbooking/internal/cache"
	"wtbooking/internal/config"
	"wtbooking/internal/database"
	"wtbooking/internal/domain"
	"wtbooking/internal/events"
	"wtbooking/internal/google"
	"wtbooking/internal/logging"
	"wtbooking/internal/metrics"
	"wtbooking/internal/models"
	"wtbooking/internal/payment"
	"wtbooking/internal/repository"
	"wtbooking/internal/seed"
	"wtbooking/internal/service"
	"wtbooking/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const healthProbeInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

type counters struct {
	available *cache.Counter
	bookings  *cache.Counter
	revenue   *cache.Counter
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	counterStore, redisClient := initCounterStore(ctx, cfg, logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}
	cnt := counters{
		available: cache.NewCounter(models.CounterAvailableUnits, counterStore, logging.Component(logger, "cache")),
		bookings:  cache.NewCounter(models.CounterBookingsTotal, counterStore, logging.Component(logger, "cache")),
		revenue:   cache.NewCounter(models.CounterRevenueMinor, counterStore, logging.Component(logger, "cache")),
	}
	// Счетчики могли пережить рестарт с устаревшими значениями.
	if err := cache.InvalidateAll(ctx, cnt.available, cnt.bookings, cnt.revenue); err != nil {
		logger.Warn().Err(err).Msg("invalidate counters at startup")
	}

	bus := events.NewEventBus(logging.Component(logger, "events"))
	if len(cfg.Events.Kafka.Brokers) > 0 {
		sink, err := events.NewKafkaSink(cfg.Events.Kafka, logging.Component(logger, "kafka"))
		if err != nil {
			return fmt.Errorf("init kafka sink: %w", err)
		}
		defer (func() { _ = sink.Close() })()
		sink.Attach(bus)
		logger.Info().Strs("brokers", cfg.Events.Kafka.Brokers).Str("topic", cfg.Events.Kafka.Topic).Msg("kafka sink attached")
	}

	gateway, err := payment.NewGateway(cfg.Payment, logging.Component(logger, "payment"))
	if err != nil {
		return fmt.Errorf("init payment gateway: %w", err)
	}

	services, bookings, err := buildServices(cfg, db, cnt, gateway, bus, logger)
	if err != nil {
		return err
	}

	if cfg.Seed.UnitsPath != "" {
		if err := seedUnits(ctx, cfg.Seed.UnitsPath, services.Units, logger); err != nil {
			return err
		}
	}

	attachSinks(ctx, cfg, bus, bookings, logger)

	sweeper := worker.NewExpirySweeper(db, bookings, cfg.Booking.ExpiryWindow, cfg.Booking.SweepInterval,
		logging.Component(logger, "expiry-sweeper"))
	go sweeper.Start(ctx)

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
		go backup.Start(ctx)
	}

	startMetrics(ctx, cfg, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go grpcServer.WatchHealth(ctx, healthProbeInterval, db.PingContext)
	}

	httpServer := api.NewHTTPServer(cfg.API, services, logger)

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

// initCounterStore prefers Redis behind a failover to process memory. Without
// a configured address the counters live in memory only.
func initCounterStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.CounterStore, *redis.Client) {
	memory := repository.NewMemoryCounterStore()
	if cfg.Redis.Address == "" {
		logger.Info().Msg("redis not configured, counters kept in memory")
		return memory, nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, starting on in-memory counters")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}

	store := repository.NewFailoverCounterStore(repository.NewRedisCounterStore(client), memory,
		logging.Component(logger, "counter-store"))
	return store, client
}

func buildServices(
	cfg *config.Config,
	db *database.DB,
	cnt counters,
	gateway domain.PaymentGateway,
	bus *events.EventBus,
	logger *zerolog.Logger,
) (api.Services, *service.BookingService, error) {
	markup, err := cfg.Booking.DefaultMarkup()
	if err != nil {
		return api.Services{}, nil, err
	}

	bookings := service.NewBookingService(db, cnt.available, gateway, bus, cfg.Payment.Timeout,
		logging.Component(logger, "booking-service"))
	units := service.NewUnitService(db, cnt.available, bus, markup,
		logging.Component(logger, "unit-service"))
	users := service.NewUserService(db, logging.Component(logger, "user-service"))
	stats := service.NewStatsService(db, cnt.bookings, cnt.revenue, logging.Component(logger, "stats-service"))
	stats.Subscribe(bus)

	return api.Services{
		Bookings: bookings,
		Units:    units,
		Users:    users,
		Stats:    stats,
	}, bookings, nil
}

// attachSinks подключает необязательные получатели событий. Ошибка
// инициализации не мешает запуску API.
func attachSinks(ctx context.Context, cfg *config.Config, bus *events.EventBus, bookings domain.BookingService, logger *zerolog.Logger) {
	if cfg.Telegram.Enabled() {
		notifier, err := bot.NewNotifier(cfg.Telegram, bookings, logging.Component(logger, "telegram"))
		if err != nil {
			logger.Warn().Err(err).Msg("telegram notifier disabled")
		} else {
			notifier.Attach(bus)
			go notifier.Run(ctx)
			logger.Info().Int("chats", len(cfg.Telegram.ManagerChatIDs)).Msg("telegram notifier attached")
		}
	}

	if cfg.Google.Enabled() {
		sheetsLogger := logging.Component(logger, "sheets")
		svc, err := google.NewSheetsService(ctx, cfg.Google.CredentialsFile, cfg.Google.BookingsSpreadsheetID)
		if err != nil {
			logger.Warn().Err(err).Msg("sheets mirror disabled")
			return
		}
		if err := svc.TestConnection(ctx); err != nil {
			sheetsLogger.Warn().Err(err).Msg("sheets connection test failed")
		}
		if err := svc.EnsureHeader(ctx); err != nil {
			sheetsLogger.Warn().Err(err).Msg("write sheets header")
		}
		if err := svc.WarmUpCache(ctx); err != nil {
			sheetsLogger.Warn().Err(err).Msg("warm up sheets row cache")
		}

		r := cfg.Google.Retry
		mirror := google.NewSheetsSync(svc, cfg.Google.QueueSize, worker.RetryPolicy{
			MaxRetries:    r.MaxRetries,
			InitialDelay:  r.InitialDelay,
			MaxDelay:      r.MaxDelay,
			BackoffFactor: r.BackoffFactor,
		}, sheetsLogger)
		mirror.Attach(bus)
		go mirror.Run(ctx)
		logger.Info().Str("spreadsheet_id", cfg.Google.BookingsSpreadsheetID).Msg("sheets mirror attached")
	}
}

func seedUnits(ctx context.Context, path string, units domain.UnitService, logger *zerolog.Logger) error {
	seeds, err := seed.LoadUnits(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("units_path", path).Msg("seed file not found, skipping")
			return nil
		}
		logger.Error().Err(err).Str("units_path", path).Msg("load seed units")
		return err
	}
	if _, err := seed.Apply(ctx, units, seeds, logger); err != nil {
		return fmt.Errorf("seed units: %w", err)
	}
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Bool("grpc", grpcServer != nil).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
