package api

import (
	"net/http"

	"github.com/example/ec-checkout-saga/internal/api/middleware"
	"github.com/example/ec-checkout-saga/internal/auth"
	"github.com/example/ec-checkout-saga/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the checkout API. metricsHandler serves /metrics and may
// be nil.
func NewRouter(handlers *Handlers, jwtService *auth.JWTService, m *metrics.Metrics, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Metrics(m))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", handlers.Health)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtService))

		// Cart
		r.Get("/cart", handlers.GetCart)
		r.Post("/cart/items", handlers.AddToCart)
		r.Delete("/cart/items/{productId}", handlers.RemoveFromCart)

		// Checkout
		r.Post("/checkout", handlers.SubmitCheckout)
		r.Get("/orders/{id}", handlers.GetOrder)
		r.Post("/orders/{id}/payment", handlers.SimulatePayment)

		// Inventory
		r.Get("/inventory/{productId}", handlers.GetStockLevel)
		r.With(middleware.AdminOnly).Post("/inventory/{productId}/adjust", handlers.AdjustStock)
	})

	return r
}
