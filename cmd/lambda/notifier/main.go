package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/foodlots/internal/config"
	"github.com/example/foodlots/internal/email"
	"github.com/example/foodlots/internal/infrastructure/idempotency"
	"github.com/example/foodlots/internal/infrastructure/kinesis"
	"github.com/example/foodlots/internal/logging"
	"github.com/example/foodlots/internal/notification"
	"github.com/sirupsen/logrus"
)

var (
	notificationHandler *notification.Handler
	log                 logrus.FieldLogger
)

func init() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log = logger.WithField("component", "lambda-notifier")

	var deduper notification.Deduper
	if cfg.RedisURL != "" {
		rdb, err := idempotency.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		deduper = idempotency.NewRedisStore(rdb, idempotency.DefaultTTL)
	}

	emailSvc := email.NewService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	notificationHandler = notification.NewHandler(emailSvc, deduper, logger)

	log.WithField("smtp", cfg.SMTPHost+":"+cfg.SMTPPort).Info("initialized")
}

func handler(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, error) {
	log.WithField("records", len(kinesisEvent.Records)).Debug("batch received")

	var batchItemFailures []events.KinesisBatchItemFailure

	for _, record := range kinesisEvent.Records {
		event, err := kinesis.ConvertFromKinesisRecord(record)
		if err != nil {
			log.WithError(err).WithField("record", record.EventID).Error("failed to convert record")
			batchItemFailures = append(batchItemFailures, events.KinesisBatchItemFailure{
				ItemIdentifier: record.Kinesis.SequenceNumber,
			})
			continue
		}

		// Changes that carry no lifecycle transition
		if event == nil {
			continue
		}

		if err := notificationHandler.Handle(ctx, *event); err != nil {
			log.WithError(err).WithField("event_id", event.ID).Error("failed to process event")
			batchItemFailures = append(batchItemFailures, events.KinesisBatchItemFailure{
				ItemIdentifier: record.Kinesis.SequenceNumber,
			})
		}
	}

	log.WithFields(logrus.Fields{
		"records": len(kinesisEvent.Records),
		"failed":  len(batchItemFailures),
	}).Info("batch processed")

	return events.KinesisEventResponse{
		BatchItemFailures: batchItemFailures,
	}, nil
}

func main() {
	lambda.Start(handler)
}
