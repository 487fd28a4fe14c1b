package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindbook/internal/api"
	"mindbook/internal/config"
	"mindbook/internal/database"
	"mindbook/internal/domain"
	"mindbook/internal/events"
	"mindbook/internal/gateway"
	"mindbook/internal/logging"
	"mindbook/internal/meeting"
	"mindbook/internal/metrics"
	"mindbook/internal/models"
	"mindbook/internal/repository"
	"mindbook/internal/service"
	"mindbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, therapists, logger, closer, loadErr := loadConfigAndLogger()
	if loadErr != nil {
		return loadErr
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	db, err := initDatabase(cfg, therapists, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	redisClient, attemptStore := initAttemptStore(ctx, cfg, &logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}

	gatewayClient := gateway.NewClient(cfg.Gateway, &logger)

	var meetingLinks domain.MeetingLinks
	if cfg.Meeting.Enabled {
		meetingLinks = meeting.NewClient(cfg.Meeting, &logger)
	}

	eventBus := events.NewEventBus()
	subscribeBookingEvents(eventBus, &logger)

	holdTimeout := time.Duration(cfg.Booking.HoldTimeoutMinutes) * time.Minute
	cancelWindow := time.Duration(cfg.Booking.CancelWindowHours) * time.Hour
	bookingService := service.NewBookingService(
		db, gatewayClient, meetingLinks, attemptStore, eventBus,
		holdTimeout, cancelWindow, &logger,
	)

	sweeper := worker.NewHoldSweeper(
		bookingService,
		time.Duration(cfg.Booking.SweepSeconds)*time.Second,
		worker.SweepRetryPolicy(),
		&logger,
	)
	go sweeper.Start(ctx)

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	apiServer := api.NewHTTPServer(cfg.API, bookingService, &logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("Booking API started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)

	logger.Info().Msg("Booking API stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, []models.Therapist, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	therapistsPath := cfg.TherapistsFile
	if therapistsPath == "" {
		therapistsPath = "configs/therapists.yaml"
	}
	therapistsData, err := os.ReadFile(therapistsPath)
	if err != nil {
		logger.Error().Err(err).Msgf("Failed to read %s", therapistsPath)
		return nil, nil, zerolog.Logger{}, closer, err
	}

	var therapistsConfig struct {
		Therapists []models.Therapist `yaml:"therapists"`
	}
	if err := yaml.Unmarshal(therapistsData, &therapistsConfig); err != nil {
		logger.Error().Err(err).Msg("Failed to parse therapists.yaml")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	return cfg, therapistsConfig.Therapists, logger, closer, nil
}

func initDatabase(cfg *config.Config, therapists []models.Therapist, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Database initialization failed")
		return nil, err
	}

	if err := db.SyncTherapists(context.Background(), therapists); err != nil {
		logger.Error().Err(err).Msg("Therapist sync failed")
	}
	return db, nil
}

func initAttemptStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.AttemptStore) {
	ttl := time.Duration(cfg.Booking.HoldTimeoutMinutes) * time.Minute

	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if errPing := repository.Ping(ctx, redisClient); errPing != nil {
			logger.Warn().Err(errPing).Msg("Redis unavailable")
		}
	}

	primary := repository.NewRedisAttemptRepository(redisClient, ttl)
	fallback := repository.NewMemoryAttemptRepository(ttl)
	return redisClient, repository.NewFailoverAttemptRepository(primary, fallback, logger)
}

// subscribeBookingEvents attaches log sinks to the event bus. Compensation
// events get a dedicated loud sink: they are the manual-reconciliation queue.
func subscribeBookingEvents(bus *events.EventBus, logger *zerolog.Logger) {
	decode := func(ev *events.Event) (events.BookingEventPayload, error) {
		var payload events.BookingEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return payload, err
		}
		return payload, nil
	}

	auditHandler := func(ev *events.Event) error {
		payload, err := decode(ev)
		if err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}
		logger.Info().
			Str("event", ev.Type).
			Str("transaction_ref", payload.TransactionRef).
			Str("session_id", payload.SessionID).
			Int64("slot_id", payload.SlotID).
			Msg("booking event")
		return nil
	}

	compensationHandler := func(ev *events.Event) error {
		payload, err := decode(ev)
		if err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}
		logger.Error().
			Str("transaction_ref", payload.TransactionRef).
			Str("client_id", payload.ClientID).
			Int64("slot_id", payload.SlotID).
			Int64("amount", payload.Amount).
			Str("currency", payload.Currency).
			Str("reason", payload.Reason).
			Msg("ALERT: manual reconciliation required")
		return nil
	}

	bus.Subscribe(events.EventBookingStarted, auditHandler)
	bus.Subscribe(events.EventBookingConfirmed, auditHandler)
	bus.Subscribe(events.EventBookingFailed, auditHandler)
	bus.Subscribe(events.EventSessionCancelled, auditHandler)
	bus.Subscribe(events.EventSessionCompleted, auditHandler)
	bus.Subscribe(events.EventSlotReleased, auditHandler)
	bus.Subscribe(events.EventCompensationRequired, compensationHandler)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
