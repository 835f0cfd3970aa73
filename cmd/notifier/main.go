package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/foodlots/internal/config"
	"github.com/example/foodlots/internal/email"
	"github.com/example/foodlots/internal/infrastructure/idempotency"
	"github.com/example/foodlots/internal/infrastructure/kafka"
	"github.com/example/foodlots/internal/logging"
	"github.com/example/foodlots/internal/notification"
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
	log := logger.WithField("component", "notifier")

	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		log.Fatal("KAFKA_BROKERS environment variable is required")
	}

	log.WithFields(logrus.Fields{
		"brokers": brokers,
		"topic":   cfg.KafkaTopic,
		"group":   cfg.KafkaGroup,
		"smtp":    cfg.SMTPHost + ":" + cfg.SMTPPort,
	}).Info("starting e-mail notifier")

	// Kafka delivers at least once; remember sent events so redeliveries are not mailed twice.
	var deduper notification.Deduper
	if cfg.RedisURL != "" {
		rdb, err := idempotency.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		defer rdb.Close()
		deduper = idempotency.NewRedisStore(rdb, idempotency.DefaultTTL)
	} else {
		bs, err := idempotency.OpenBolt(cfg.IdempotencyBoltPath, idempotency.DefaultTTL)
		if err != nil {
			log.WithError(err).Fatal("failed to open dedup store")
		}
		defer bs.Close()
		deduper = bs
	}

	emailSvc := email.NewService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	handler := notification.NewHandler(emailSvc, deduper, logger)

	consumer := kafka.NewConsumer(brokers, cfg.KafkaTopic, cfg.KafkaGroup, logger)
	defer consumer.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("consumer stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-done:
	}

	log.Info("shutting down")
	cancel()
	<-done
}
