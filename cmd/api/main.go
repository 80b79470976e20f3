package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/ec-checkout-saga/internal/api"
	"github.com/example/ec-checkout-saga/internal/auth"
	"github.com/example/ec-checkout-saga/internal/command"
	"github.com/example/ec-checkout-saga/internal/config"
	"github.com/example/ec-checkout-saga/internal/domain/cart"
	"github.com/example/ec-checkout-saga/internal/infrastructure/cache"
	"github.com/example/ec-checkout-saga/internal/infrastructure/store"
	"github.com/example/ec-checkout-saga/internal/logging"
	"github.com/example/ec-checkout-saga/internal/metrics"
	"github.com/example/ec-checkout-saga/internal/payment"
	"github.com/example/ec-checkout-saga/internal/query"
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
	logger = logger.Named("api")

	if len(cfg.Auth.JWTSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters long")
	}

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

	conflicts := cfg.Retry.Policy()
	cartSvc := cart.NewService(cache.NewCartStore(redisClient, cfg.Redis.CartTTL), store.NewPostgresCatalog(db))
	simulator := payment.NewSimulator(pg,
		payment.WithConflictRetry(conflicts),
		payment.WithLogger(logger.Named("payment")),
	)
	cmdHandler := command.NewHandler(pg, pg, cartSvc, simulator,
		command.WithConflictRetry(conflicts),
		command.WithLowStockObserver(m.LowStock),
		command.WithLogger(logger.Named("command")),
	)

	queryOpts := []query.Option{query.WithLogger(logger.Named("query"))}
	if cfg.Dynamo.JournalTable != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Dynamo.Region))
		if err != nil {
			logger.Fatal("load aws config", zap.Error(err))
		}
		journal := store.NewDynamoJournal(dynamodb.NewFromConfig(awsCfg), cfg.Dynamo.JournalTable)
		queryOpts = append(queryOpts, query.WithJournal(journal))
	}
	queryHandler := query.NewHandler(pg, queryOpts...)

	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL)
	handlers := api.NewHandlers(cmdHandler, queryHandler, logger)
	router := api.NewRouter(handlers, jwtService, m, metrics.Handler(reg))

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
	}

	go func() {
		logger.Info("server started", zap.String("addr", cfg.HTTP.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
