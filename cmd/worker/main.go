package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/example/ec-checkout-saga/internal/config"
	"github.com/example/ec-checkout-saga/internal/consumer"
	"github.com/example/ec-checkout-saga/internal/contracts"
	"github.com/example/ec-checkout-saga/internal/infrastructure/cache"
	"github.com/example/ec-checkout-saga/internal/infrastructure/kafka"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/metrics"
	"github.com/example/ec-checkout-saga/internal/payment"
	"github.com/example/ec-checkout-saga/internal/sweeper"
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
	logger = logger.Named("worker")

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

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr)
	if err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	routerOpts := []consumer.RouterOption{
		consumer.WithConflictRetry(cfg.Retry.Policy()),
		consumer.WithLogger(logger),
		consumer.WithMetrics(m),
	}
	routes := consumer.Routes(pg,
		consumer.NewInventory(cfg.Sweeper.ReservationTTL, m.LowStock, logger.Named("inventory")),
		consumer.NewOrdering(logger.Named("ordering")),
		consumer.NewCart(cache.NewCartStore(redisClient, cfg.Redis.CartTTL), logger.Named("cart")),
		routerOpts...,
	)

	if cfg.Payment.AutoSimulate {
		var policy payment.Policy = payment.AlwaysApprove
		limit, ok, err := cfg.Payment.DeclineLimit()
		if err != nil {
			logger.Fatal("payment config", zap.Error(err))
		}
		if ok {
			policy = payment.DeclineAbove(limit)
		}
		simulator := payment.NewSimulator(pg,
			payment.WithPolicy(policy),
			payment.WithConflictRetry(cfg.Retry.Policy()),
			payment.WithLogger(logger.Named("payment")),
		)
		routes = append(routes, consumer.Route{
			Topic: contracts.TopicCheckoutSagaEvents,
			Router: consumer.NewRouter(payment.AutoPaymentConsumer, pg, routerOpts...).
				On(contracts.TypeStockReservationCompleted, simulator.OnStockReserved),
		})
		logger.Info("automatic payment simulation enabled", zap.String("decline_above", cfg.Payment.DeclineAbove))
	}

	var wg sync.WaitGroup
	for _, route := range routes {
		c := kafka.NewConsumer(cfg.Kafka.Brokers, route.Topic, cfg.Kafka.GroupID(route.Router.Name()),
			kafka.WithRetryPolicy(cfg.Retry.Policy()),
			kafka.WithDeadLetter(producer),
			kafka.WithLogger(logger.Named(route.Router.Name())),
			kafka.WithMetrics(m),
		)
		defer c.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Consume(ctx, route.Router.HandleMessage); err != nil && ctx.Err() == nil {
				logger.Error("consumer stopped", zap.String("consumer", route.Router.Name()), zap.Error(err))
				cancel()
			}
		}()
	}

	sweep := sweeper.New(pg,
		sweeper.WithInterval(cfg.Sweeper.Interval),
		sweeper.WithBatchSize(cfg.Sweeper.BatchSize),
		sweeper.WithCheckoutTimeout(cfg.Sweeper.CheckoutTimeout),
		sweeper.WithLogger(logger.Named("sweeper")),
		sweeper.WithMetrics(m),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweep.Start(ctx)
	}()

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: metrics.Handler(reg), ReadHeaderTimeout: cfg.HTTP.ReadTimeout}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	logger.Info("worker started", zap.Int("consumers", len(routes)))
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	wg.Wait()
}
