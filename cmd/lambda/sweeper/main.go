package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/ec-checkout-saga/internal/config"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/sweeper"
	"go.uber.org/zap"
)

var (
	sweep  *sweeper.Sweeper
	logger *zap.Logger
)

func init() {
	cfg := config.MustLoad()
	var err error
	logger, err = logging.New(logging.Config{Level: cfg.Log.Level, Env: cfg.Env})
	if err != nil {
		panic(err)
	}
	logger = logger.Named("lambda-sweeper")

	db, err := store.ConnectPostgres(cfg.Postgres.URL)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	sweep = sweeper.New(store.NewPostgresStore(db, logger),
		sweeper.WithBatchSize(cfg.Sweeper.BatchSize),
		sweeper.WithCheckoutTimeout(cfg.Sweeper.CheckoutTimeout),
		sweeper.WithLogger(logger),
	)
	logger.Info("initialized")
}

// handler runs one sweep per scheduled CloudWatch event.
func handler(ctx context.Context, event events.CloudWatchEvent) error {
	released, err := sweep.SweepOnce(ctx)
	if err != nil {
		logger.Error("sweep failed", zap.String("event_id", event.ID), zap.Error(err))
		return err
	}
	logger.Info("sweep finished", zap.String("event_id", event.ID), zap.Int("released", released))
	return nil
}

func main() {
	lambda.Start(handler)
}
