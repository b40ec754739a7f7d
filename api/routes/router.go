package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmcardona/orderledger/api/controllers"
	webhookcontrollers "github.com/jmcardona/orderledger/api/controllers/webhooks"
	"github.com/jmcardona/orderledger/api/middleware"
	"github.com/jmcardona/orderledger/internal/checkout"
	"github.com/jmcardona/orderledger/internal/inventory"
	"github.com/jmcardona/orderledger/internal/orders"
	"github.com/jmcardona/orderledger/internal/payments"
	"github.com/jmcardona/orderledger/internal/reconcile"
	"github.com/jmcardona/orderledger/pkg/config"
	"github.com/jmcardona/orderledger/pkg/logger"
	"github.com/jmcardona/orderledger/pkg/outbox/idempotency"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config           *config.Config
	Logger           *logger.Logger
	CheckoutService  checkout.Service
	OrdersService    orders.Service
	InventoryService inventory.Service
	PaymentsService  payments.Service
	Verifier         *payments.Verifier
	WebhookGuard     *idempotency.Manager
	Dispatcher       *reconcile.Dispatcher
	Registry         *prometheus.Registry
	Pingers          map[string]controllers.Pinger
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(deps.Logger),
		middleware.RequestID(deps.Logger),
		middleware.Logging(deps.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(deps.Config))
		r.Get("/ready", controllers.HealthReady(deps.Config, deps.Logger, deps.Pingers))
	})

	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentWebhook(
			deps.Verifier,
			deps.WebhookGuard,
			deps.Dispatcher,
			deps.Config.Gateway,
			deps.Logger,
		))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", controllers.CheckoutCreate(deps.CheckoutService, deps.Logger))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(deps.OrdersService, deps.Logger))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", controllers.OrderGet(deps.OrdersService, deps.Logger))
				r.Get("/payments", controllers.OrderPayments(deps.PaymentsService, deps.Logger))
				r.Post("/transition", controllers.OrderTransition(deps.OrdersService, deps.Logger))
				r.Post("/mark-paid", controllers.OrderMarkPaid(deps.OrdersService, deps.Logger))
			})
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Post("/adjustments", controllers.InventoryAdjust(deps.InventoryService, deps.Logger))
			r.Route("/{warehouseCode}", func(r chi.Router) {
				r.Get("/", controllers.InventoryList(deps.InventoryService, deps.Logger))
				r.Get("/{sku}", controllers.InventoryGet(deps.InventoryService, deps.Logger))
				r.Get("/{sku}/movements", controllers.InventoryMovements(deps.InventoryService, deps.Logger))
			})
		})
	})

	return r
}
