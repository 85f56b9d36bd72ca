package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SparingSoftware/getpaid-go/internal/service"
	"github.com/SparingSoftware/getpaid-go/pkg/health"
	"github.com/SparingSoftware/getpaid-go/pkg/middleware"
)

// NewRouter creates a chi router with all routes registered.
func NewRouter(
	paymentService *service.PaymentService,
	reconciler *service.Reconciler,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("getpaid"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	paymentHandler := NewPaymentHandler(paymentService, logger)
	webhookHandler := NewWebhookHandler(reconciler, logger)

	// Broker callbacks are signed by the broker, not JSON-validated like
	// the API surface, so they stay outside the ContentTypeJSON group.
	r.Post("/callbacks/{brokerID}", webhookHandler.HandleCallback)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Get("/brokers", paymentHandler.ListBrokers)

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", paymentHandler.CreatePayment)
			r.Get("/", paymentHandler.ListPayments)
			r.Get("/{id}", paymentHandler.GetPayment)
			r.Post("/{id}/initiate", paymentHandler.InitiatePayment)
			r.Post("/{id}/cancel", paymentHandler.CancelPayment)
			r.Post("/{id}/refund", paymentHandler.RefundPayment)
			r.Get("/{id}/refunds", paymentHandler.ListRefunds)
		})
	})

	return r
}
