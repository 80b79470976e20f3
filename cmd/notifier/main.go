package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/example/ec-checkout-saga/internal/config"
	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/email"
	"github.com/example/ec-checkout-saga/internal/infrastructure/kafka"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/metrics"
	"github.com/example/ec-checkout-saga/internal/notification"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.MustLoad()
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Env: cfg.Env})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("notifier")

	m := metrics.New(prometheus.DefaultRegisterer)

	// The inbox table keeps redelivered events from sending twice.
	db, err := store.ConnectPostgres(cfg.Postgres.URL)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()
	pg := store.NewPostgresStore(db, logger)

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	emailSvc := email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From)
	handler := notification.NewHandler(pg, emailSvc, logger, m)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, contracts.TopicOrderEvents, cfg.Kafka.GroupID(notification.ConsumerName),
		kafka.WithRetryPolicy(cfg.Retry.Policy()),
		kafka.WithDeadLetter(producer),
		kafka.WithLogger(logger),
		kafka.WithMetrics(m),
	)
	defer consumer.Close()

	logger.Info("notifier started",
		zap.String("topic", contracts.TopicOrderEvents),
		zap.String("smtp", cfg.SMTP.Host+":"+cfg.SMTP.Port),
	)
	if err := consumer.Consume(ctx, handler.HandleMessage); err != nil && ctx.Err() == nil {
		logger.Error("consumer stopped", zap.Error(err))
	}
	logger.Info("shutting down")
}
