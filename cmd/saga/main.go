package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/ec-checkout-saga/internal/config"
	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/infrastructure/kafka"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/metrics"
	"github.com/example/ec-checkout-saga/internal/outbox"
	"github.com/example/ec-checkout-saga/internal/saga"
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
	logger = logger.Named("saga")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	db, err := store.ConnectPostgres(cfg.Postgres.URL)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()
	if err := store.Migrate(db, cfg.Postgres.MigrationsPath); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	pg := store.NewPostgresStore(db, logger)

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	opts := []saga.Option{
		saga.WithConflictRetry(cfg.Retry.Policy()),
		saga.WithLogger(logger),
		saga.WithMetrics(m),
	}
	if cfg.Dynamo.JournalTable != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Dynamo.Region))
		if err != nil {
			logger.Fatal("load aws config", zap.Error(err))
		}
		opts = append(opts, saga.WithJournal(store.NewDynamoJournal(dynamodb.NewFromConfig(awsCfg), cfg.Dynamo.JournalTable)))
		logger.Info("saga journal enabled", zap.String("table", cfg.Dynamo.JournalTable))
	}
	orchestrator := saga.New(pg, opts...)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, contracts.TopicCheckoutSagaEvents, cfg.Kafka.GroupID(saga.ConsumerName),
		kafka.WithRetryPolicy(cfg.Retry.Policy()),
		kafka.WithDeadLetter(producer),
		kafka.WithLogger(logger.Named("consumer")),
		kafka.WithMetrics(m),
	)
	defer consumer.Close()

	dispatcher := outbox.NewDispatcher(pg, producer,
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithInterval(cfg.Outbox.Interval),
		outbox.WithLogger(logger.Named("outbox")),
		outbox.WithMetrics(m),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := consumer.Consume(ctx, orchestrator.HandleMessage); err != nil && ctx.Err() == nil {
			logger.Error("saga consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: metrics.Handler(reg), ReadHeaderTimeout: cfg.HTTP.ReadTimeout}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	logger.Info("checkout saga started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", contracts.TopicCheckoutSagaEvents),
	)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	wg.Wait()
}
