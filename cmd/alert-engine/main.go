// cmd/alert-engine/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"listing-alerts/internal/catalog"
	awsclients "listing-alerts/internal/common/aws"
	"listing-alerts/internal/common/config"
	"listing-alerts/internal/common/database"
	"listing-alerts/internal/common/logger"
	"listing-alerts/internal/common/observability"
	alertdispatcher "listing-alerts/internal/engine/alert-dispatcher"
	eventintake "listing-alerts/internal/engine/event-intake"
	matchengine "listing-alerts/internal/engine/match-engine"
	"listing-alerts/internal/store"
	"listing-alerts/internal/transport/delivery"
	"listing-alerts/internal/transport/rabbitmq"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog, err := logger.Build(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting alert engine...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}
	defer obs.Shutdown(context.Background())

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			_ = pg.Close()
			return err
		}
		return nil
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init RabbitMQ with retry ---
	var conn *amqp.Connection
	err = retryWithBackoff(func() error {
		var err error
		conn, err = amqp.Dial(cfg.RabbitMQ.URL)
		return err
	}, 10, 2*time.Second, zapLog, "RabbitMQ connection")
	if err != nil {
		zapLog.Fatal("rabbitmq failed after retries", zap.Error(err))
	}
	defer conn.Close()
	zapLog.Info("RabbitMQ connected successfully")

	// --- Suppression store ---
	dispatcherCfg := alertdispatcher.LoadConfig(cfg.Dispatcher)
	var suppression alertdispatcher.SuppressionStore
	switch cfg.Dispatcher.SuppressionBackend {
	case "redis":
		var redisClient *database.RedisClient
		err = retryWithBackoff(func() error {
			redisClient = database.NewRedis(cfg.Database.Redis)
			return redisClient.Ping(ctx)
		}, 10, time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()
		suppression = alertdispatcher.NewRedisSuppressionStore(redisClient.Client, cfg.App.Name)
		zapLog.Info("Redis connected successfully")
	default:
		memory := alertdispatcher.NewMemorySuppressionStore(cfg.Dispatcher.CacheMaxSize)
		defer memory.Stop()
		suppression = memory
	}

	// --- Notification sink ---
	var sink eventintake.NotificationSink
	switch cfg.Notifications.Sink {
	case "aws":
		clients, err := awsclients.NewClients(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("aws clients init failed", zap.Error(err))
		}
		sink = delivery.NewAWSSink(delivery.LoadConfig(cfg.Notifications), clients, store.NewContactRepository(pg.DB), log)
	default:
		publisher, err := rabbitmq.NewJobPublisher(conn, cfg.RabbitMQ, log)
		if err != nil {
			zapLog.Fatal("job publisher init failed", zap.Error(err))
		}
		defer publisher.Close()
		sink = publisher
	}
	zapLog.Info("Notification sink ready", zap.String("sink", cfg.Notifications.Sink))

	// --- Saved-search catalog ---
	searches := catalog.New(catalog.LoadConfig(cfg.Catalog), store.NewSavedSearchRepository(pg.DB), log)
	err = retryWithBackoff(func() error {
		return searches.Start(ctx)
	}, 5, 2*time.Second, zapLog, "Saved-search catalog load")
	if err != nil {
		zapLog.Fatal("catalog failed to start", zap.Error(err))
	}
	defer searches.Stop()

	// --- Pipeline ---
	dispatcher := alertdispatcher.NewDispatcher(dispatcherCfg, store.NewPreferenceRepository(pg.DB), suppression, log)
	engine := matchengine.NewEngine(matchengine.LoadConfig(cfg.Engine), log)
	intake := eventintake.NewIntake(
		eventintake.LoadConfig(cfg.Intake),
		searches, engine, dispatcher, sink, log,
		eventintake.WithPriceHistory(store.NewPriceHistoryRepository(pg.DB)),
		eventintake.WithObservability(obs),
	)
	if err := intake.Start(context.Background()); err != nil {
		zapLog.Fatal("intake failed to start", zap.Error(err))
	}

	consumer, err := rabbitmq.NewConsumer(conn, cfg.RabbitMQ, intake, log)
	if err != nil {
		zapLog.Fatal("consumer init failed", zap.Error(err))
	}

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status, code := "ready", http.StatusOK
		if conn.IsClosed() {
			status, code = "broker unavailable", http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":          status,
			"catalogLoadedAt": searches.LoadedAt().Format(time.RFC3339),
			"time":            time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health/metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	zapLog.Info("Alert engine running")
	if err := g.Wait(); err != nil {
		zapLog.Error("alert engine stopped with error", zap.Error(err))
	}

	// --- Graceful Shutdown ---
	zapLog.Info("Shutdown signal received, draining events...")
	intake.Stop()
	if err := consumer.Close(); err != nil {
		zapLog.Error("Error closing consumer", zap.Error(err))
	}

	zapLog.Info("Alert engine stopped gracefully")
}
