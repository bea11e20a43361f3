package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/printloop/printloop-backend/internal/affiliates"
	"github.com/printloop/printloop-backend/internal/attribution"
	analyticsconsumer "github.com/printloop/printloop-backend/internal/consumers/analytics"
	ordersconsumer "github.com/printloop/printloop-backend/internal/consumers/orders"
	"github.com/printloop/printloop-backend/internal/cron"
	"github.com/printloop/printloop-backend/internal/fulfillment"
	"github.com/printloop/printloop-backend/internal/orders"
	"github.com/printloop/printloop-backend/pkg/bigquery"
	"github.com/printloop/printloop-backend/pkg/config"
	"github.com/printloop/printloop-backend/pkg/db"
	"github.com/printloop/printloop-backend/pkg/instance"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/metrics"
	"github.com/printloop/printloop-backend/pkg/migrate"
	"github.com/printloop/printloop-backend/pkg/outbox"
	"github.com/printloop/printloop-backend/pkg/outbox/idempotency"
	"github.com/printloop/printloop-backend/pkg/printprovider"
	"github.com/printloop/printloop-backend/pkg/pubsub"
	"github.com/printloop/printloop-backend/pkg/redis"
)

const lockKeyFormat = "pl:worker:cron:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	bigqueryClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer func() {
		if err := bigqueryClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing bigquery", err)
		}
	}()

	providerClient, err := printprovider.NewClient(cfg.PrintProvider)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap print provider client", err)
		os.Exit(1)
	}

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	ordersRepo := orders.NewRepository(dbClient.DB())
	affiliatesRepo := affiliates.NewRepository(dbClient.DB())
	fulfillmentRepo := fulfillment.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	attributionService, err := attribution.NewService(dbClient, ordersRepo, affiliatesRepo, outboxService, pipelineMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create attribution service", err)
		os.Exit(1)
	}

	fulfillmentService, err := fulfillment.NewService(dbClient, fulfillmentRepo, ordersRepo, providerClient, outboxService, pipelineMetrics, cfg.Fulfillment, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}

	idempotencyManager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}

	ordersConsumer, err := ordersconsumer.NewConsumer(attributionService, fulfillmentService, pubsubClient.OrdersSubscription(), idempotencyManager, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders consumer", err)
		os.Exit(1)
	}

	analyticsConsumer, err := analyticsconsumer.NewConsumer(bigqueryClient, cfg.BigQuery.PipelineEventsTable, pubsubClient.AnalyticsSubscription(), idempotencyManager, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create analytics consumer", err)
		os.Exit(1)
	}

	cronService, err := buildCronService(cfg, logg, dbClient, redisClient, ordersRepo, fulfillmentRepo, outboxRepo, outboxService)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:            cfg,
		Logger:            logg,
		DB:                dbClient,
		Redis:             redisClient,
		PubSub:            pubsubClient,
		BigQuery:          bigqueryClient,
		OrdersConsumer:    ordersConsumer,
		AnalyticsConsumer: analyticsConsumer,
		Cron:              cronService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}

func buildCronService(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	ordersRepo orders.Repository,
	fulfillmentRepo fulfillment.Repository,
	outboxRepo *outbox.Repository,
	outboxService *outbox.Service,
) (*cron.Service, error) {
	requeueJob, err := cron.NewFulfillmentRequeueJob(cron.FulfillmentRequeueJobParams{
		Logger:       logg,
		DB:           dbClient,
		Fulfillments: fulfillmentRepo,
		Outbox:       outboxService,
		RequeueAfter: cfg.Fulfillment.RequeueAfter,
	})
	if err != nil {
		return nil, err
	}

	expiryJob, err := cron.NewOrderExpiryJob(cron.OrderExpiryJobParams{
		Logger: logg,
		DB:     dbClient,
		Orders: ordersRepo,
		Outbox: outboxService,
	})
	if err != nil {
		return nil, err
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		return nil, err
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		return nil, err
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(requeueJob, expiryJob, retentionJob),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Fulfillment.RequeueInterval,
	})
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
