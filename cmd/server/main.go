package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fleetbook/internal/api"
	"fleetbook/internal/config"
	"fleetbook/internal/database"
	"fleetbook/internal/events"
	"fleetbook/internal/export"
	"fleetbook/internal/metrics"
	"fleetbook/internal/notify"
	"fleetbook/internal/repository"
	"fleetbook/internal/service"
	"fleetbook/internal/sheets"
	"fleetbook/internal/validate"
)

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("FLEETBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.Server.Timezone).Msg("invalid timezone")
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Form session store: Redis when configured, memory otherwise, with
	// failover in between.
	var rdb *redis.Client
	memory := repository.NewMemoryStateRepository(cfg.FormSessionTTL())
	var state repository.StateRepository = memory
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisRepo := repository.NewRedisStateRepository(rdb, cfg.FormSessionTTL(), &logger)
		state = repository.NewFailoverStateRepository(redisRepo, memory, &logger)
	}

	bus := events.NewEventBus()
	clock := service.SystemClock{}

	// Writes feed the sync queue only while the sheets worker consumes it;
	// with the mirror disabled the queue would grow unbounded.
	var queue service.SyncQueue
	if cfg.Sheets.Enabled {
		sheetsSvc, err := sheets.NewSheetsService(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("sheets init error")
		}
		worker := sheets.NewSyncWorker(db, sheetsSvc, cfg.SheetsSyncInterval(), &logger)
		go worker.Run(ctx)
		queue = db
	}

	svc := service.NewReservationService(db, bus, queue, clock, &logger)
	validator := validate.New(clock, loc)
	exporter := export.NewLedgerExporter(svc, &logger)

	if cfg.Telegram.Enabled {
		bot, err := notify.NewBot(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram init error")
		}
		notifier := notify.NewTelegramNotifier(bot, cfg.Telegram.ChatID, &logger)
		notifier.Attach(bus)
		logger.Info().Int64("chat_id", cfg.Telegram.ChatID).Msg("Telegram notifications enabled")
	}

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(cfg.Database.Path, database.BackupConfig{
			Enabled:       true,
			Interval:      cfg.BackupInterval(),
			StoragePath:   cfg.Backup.Path,
			RetentionDays: cfg.Backup.RetentionDays,
		}, &logger)
		go backup.Start(ctx)
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	server := api.NewHTTPServer(svc, db, validator, state, exporter, &logger, api.Options{
		Addr:        cfg.Server.Addr,
		APIKey:      cfg.Server.APIKey,
		SubmitLimit: cfg.SubmitLimit(),
	})

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctxShutdown)
	}()

	logger.Info().Str("timezone", cfg.Server.Timezone).Msg("fleetbook started")
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("http server error")
	}
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		backlog, err := db.PendingTaskCount(ctxPing)
		if err != nil {
			http.Error(w, "sync queue not readable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ready sync_queue=%d", backlog)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
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
