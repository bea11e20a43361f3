package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/printloop/printloop-backend/api/controllers"
	"github.com/printloop/printloop-backend/api/routes"
	"github.com/printloop/printloop-backend/internal/affiliates"
	"github.com/printloop/printloop-backend/internal/attribution"
	"github.com/printloop/printloop-backend/internal/catalog"
	"github.com/printloop/printloop-backend/internal/checkout"
	"github.com/printloop/printloop-backend/internal/fulfillment"
	"github.com/printloop/printloop-backend/internal/ledger"
	"github.com/printloop/printloop-backend/internal/orders"
	"github.com/printloop/printloop-backend/internal/payouts"
	stripewebhook "github.com/printloop/printloop-backend/internal/webhooks/stripe"
	"github.com/printloop/printloop-backend/pkg/config"
	"github.com/printloop/printloop-backend/pkg/db"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/metrics"
	"github.com/printloop/printloop-backend/pkg/migrate"
	"github.com/printloop/printloop-backend/pkg/outbox"
	"github.com/printloop/printloop-backend/pkg/printprovider"
	"github.com/printloop/printloop-backend/pkg/redis"
	"github.com/printloop/printloop-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	providerClient, err := printprovider.NewClient(cfg.PrintProvider)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap print provider client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	ordersRepo := orders.NewRepository(dbClient.DB())
	catalogRepo := catalog.NewRepository(dbClient.DB())
	affiliatesRepo := affiliates.NewRepository(dbClient.DB())
	fulfillmentRepo := fulfillment.NewRepository(dbClient.DB())
	payoutsRepo := payouts.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	checkoutService, err := checkout.NewService(dbClient, ordersRepo, catalogRepo, stripeClient, outboxService, pipelineMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(ordersRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), affiliatesRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	payoutsService, err := payouts.NewService(dbClient, payoutsRepo, affiliatesRepo, ledgerService, outboxService, pipelineMetrics, cfg.Payouts.MinimumCents, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payouts service", err)
		os.Exit(1)
	}

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

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Checkout: checkoutService,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookDedupeTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:               cfg,
			Logger:               logg,
			RedisClient:          redisClient,
			CheckoutService:      checkoutService,
			OrdersService:        ordersService,
			LedgerService:        ledgerService,
			PayoutsService:       payoutsService,
			AttributionService:   attributionService,
			FulfillmentService:   fulfillmentService,
			StripeClient:         stripeClient,
			StripeWebhookService: webhookService,
			StripeWebhookGuard:   webhookGuard,
			MetricsHandler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadinessChecks: []controllers.ReadinessCheck{
				{Name: "database", Pinger: dbClient},
				{Name: "redis", Pinger: redisClient},
			},
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
