package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/foodlots/internal/api"
	"github.com/example/foodlots/internal/api/middleware"
	"github.com/example/foodlots/internal/auth"
	"github.com/example/foodlots/internal/command"
	"github.com/example/foodlots/internal/config"
	"github.com/example/foodlots/internal/infrastructure/idempotency"
	"github.com/example/foodlots/internal/infrastructure/kafka"
	"github.com/example/foodlots/internal/infrastructure/store"
	"github.com/example/foodlots/internal/lifecycle"
	"github.com/example/foodlots/internal/logging"
	"github.com/example/foodlots/internal/metrics"
	"github.com/example/foodlots/internal/notification"
	"github.com/example/foodlots/internal/query"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logger.WithField("component", "api")

	if err := cfg.ValidateAPI(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	log.WithFields(logrus.Fields{
		"addr":    cfg.HTTPAddr,
		"store":   cfg.StoreBackend,
		"brokers": cfg.Brokers(),
		"topic":   cfg.KafkaTopic,
	}).Info("starting food lot reservation service")

	// Store
	lotStore, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer closeStore()

	m := metrics.New()

	// Notifications go to Kafka when brokers are configured, to the log otherwise.
	var sink notification.Sink = notification.LogSink{Log: logger.WithField("component", "notifications")}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer := kafka.NewProducer(brokers, cfg.KafkaTopic)
		defer producer.Close()
		sink = producer
	}
	dispatcher := notification.NewDispatcher(sink, cfg.NotificationBuffer, logger, m)
	go dispatcher.Run()

	retry := command.RetryPolicy{MaxAttempts: cfg.ReservationMaxAttempts, Backoff: command.JitteredBackoff}

	coordinator := command.NewCoordinator(lotStore, dispatcher, logger,
		command.WithRetryPolicy(retry),
		command.WithMetrics(m),
	)
	queries := query.NewHandler(lotStore)

	manager := lifecycle.NewManager(lotStore, dispatcher, logger,
		lifecycle.WithRetryPolicy(retry),
		lifecycle.WithMetrics(m),
	)
	if err := manager.Start(ctx, cfg.SweepSchedule); err != nil {
		log.WithError(err).Fatal("failed to schedule lifecycle sweep")
	}

	// Idempotency keys
	idem, closeIdem, err := openIdempotency(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open idempotency store")
	}
	defer closeIdem()

	stop := make(chan struct{})
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	limiter.StartCleanup(time.Minute, stop)

	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.TokenTTL)

	handlers := api.NewHandlers(coordinator, queries, manager, logger)
	router := api.NewRouter(handlers, api.RouterConfig{
		JWT:         jwtService,
		Metrics:     m,
		RateLimiter: limiter,
		Idempotency: idem,
		Timeout:     cfg.RequestLimit,
		Log:         logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("server started")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	close(stop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server did not shut down cleanly")
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("lifecycle sweep still running")
	}
	cancel()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("pending notifications dropped")
	}
}

func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := store.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("connected to PostgreSQL")
		return store.NewPostgresStore(db), closer(db), nil

	case config.BackendDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		log.WithFields(logrus.Fields{
			"lots_table":         cfg.DynamoLotsTable,
			"reservations_table": cfg.DynamoReservationsTable,
		}).Info("using DynamoDB")
		client := dynamodb.NewFromConfig(awsCfg)
		return store.NewDynamoStore(client, cfg.DynamoLotsTable, cfg.DynamoReservationsTable), func() {}, nil

	default:
		log.Warn("using in-memory store, data is lost on restart")
		return store.NewMemory(), func() {}, nil
	}
}

func closer(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

func openIdempotency(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (idempotency.Store, func(), error) {
	if cfg.RedisURL != "" {
		rdb, err := idempotency.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info("idempotency keys in Redis")
		return idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL).WithPendingTTL(pendingTTL(cfg)), func() { _ = rdb.Close() }, nil
	}

	bs, err := idempotency.OpenBolt(cfg.IdempotencyBoltPath, cfg.IdempotencyTTL)
	if err != nil {
		return nil, nil, err
	}
	bs.WithPendingTTL(pendingTTL(cfg))
	log.WithField("path", cfg.IdempotencyBoltPath).Info("idempotency keys in BoltDB")

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := bs.Purge(); err != nil {
					log.WithError(err).Warn("failed to purge idempotency keys")
				} else if n > 0 {
					log.WithField("purged", n).Debug("expired idempotency keys purged")
				}
			case <-done:
				return
			}
		}
	}()
	return bs, func() {
		close(done)
		_ = bs.Close()
	}, nil
}

// pendingTTL lets a key held by a request that never finished expire shortly
// after the request timeout would have ended it.
func pendingTTL(cfg *config.Config) time.Duration {
	if cfg.RequestLimit <= 0 {
		return idempotency.DefaultPendingTTL
	}
	return cfg.RequestLimit + 5*time.Second
}
