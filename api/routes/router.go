package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/printloop/printloop-backend/api/controllers"
	webhookcontrollers "github.com/printloop/printloop-backend/api/controllers/webhooks"
	"github.com/printloop/printloop-backend/api/middleware"
	"github.com/printloop/printloop-backend/internal/attribution"
	checkoutsvc "github.com/printloop/printloop-backend/internal/checkout"
	"github.com/printloop/printloop-backend/internal/fulfillment"
	"github.com/printloop/printloop-backend/internal/ledger"
	internalorders "github.com/printloop/printloop-backend/internal/orders"
	"github.com/printloop/printloop-backend/internal/payouts"
	stripewebhook "github.com/printloop/printloop-backend/internal/webhooks/stripe"
	"github.com/printloop/printloop-backend/pkg/config"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/redis"
	"github.com/printloop/printloop-backend/pkg/stripe"
)

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	RedisClient *redis.Client

	CheckoutService    checkoutsvc.Service
	OrdersService      internalorders.Service
	LedgerService      ledger.Service
	PayoutsService     payouts.Service
	AttributionService attribution.Service
	FulfillmentService fulfillment.Service

	StripeClient         *stripe.Client
	StripeWebhookService *stripewebhook.Service
	StripeWebhookGuard   *stripewebhook.IdempotencyGuard

	MetricsHandler  http.Handler
	ReadinessChecks []controllers.ReadinessCheck
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, p.ReadinessChecks...))
	})
	// Back-compat alias used by the deployment probes.
	r.Get("/healthz", controllers.HealthReady(p.Config, p.Logger, p.ReadinessChecks...))

	if p.MetricsHandler != nil {
		r.Handle("/metrics", p.MetricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.StripeWebhookService, p.StripeClient, p.StripeWebhookGuard, p.Logger))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(p.RedisClient, p.Logger))

		r.Post("/checkout", controllers.Checkout(p.CheckoutService, p.Logger))
		r.Get("/orders/{orderId}", controllers.OrderDetail(p.OrdersService, p.Logger))

		r.Route("/affiliate", func(r chi.Router) {
			r.Post("/clicks", controllers.AffiliateClick(p.AttributionService, p.Logger))
			r.Get("/{marketerId}/balance", controllers.AffiliateBalance(p.LedgerService, p.Logger))
			r.Post("/payouts", controllers.AffiliatePayoutRequest(p.PayoutsService, p.Logger))
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Idempotency(p.RedisClient, p.Logger))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.AdminOrderList(p.OrdersService, p.Logger))
			r.Post("/{orderId}/fulfillment/retry", controllers.AdminFulfillmentRetry(p.FulfillmentService, p.Logger))
			r.Post("/{orderId}/fulfillment/complete", controllers.AdminFulfillmentComplete(p.FulfillmentService, p.Logger))
		})
		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", controllers.AdminPayoutList(p.PayoutsService, p.Logger))
			r.Get("/{payoutId}", controllers.AdminPayoutDetail(p.PayoutsService, p.Logger))
			r.Post("/{payoutId}/decision", controllers.AdminPayoutDecision(p.PayoutsService, p.Logger))
		})
		r.Post("/affiliate-transactions/{transactionId}/complete", controllers.AdminTransactionComplete(p.AttributionService, p.Logger))
	})

	return r
}
