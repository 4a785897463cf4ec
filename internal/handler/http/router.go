package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront/internal/store"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
)

// RouterConfig holds everything the storefront router serves.
type RouterConfig struct {
	Resolver  Resolver
	Catalog   store.ProductLookup
	Health    *health.Handler
	Metrics   *middleware.HTTPMetrics
	Gatherer  prometheus.Gatherer
	Session   middleware.SessionConfig
	CORS      middleware.CORSConfig
	LoginPath string
	Logger    *slog.Logger
}

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	cartHandler := NewCartHandler(cfg.LoginPath, logger)
	productHandler := NewProductHandler(cfg.Catalog, cfg.LoginPath, logger)
	checkoutHandler := NewCheckoutHandler(cfg.LoginPath, logger)

	// Storefront API endpoints
	r.Group(func(r chi.Router) {
		r.Use(chimw.Compress(5))
		r.Use(middleware.Session(cfg.Session))
		r.Use(middleware.RequestLogging(logger))
		if cfg.Metrics != nil {
			r.Use(cfg.Metrics.Middleware)
		}
		r.Use(middleware.Tracing("storefront"))

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/products/{slug}", productHandler.GetProduct)

			r.Group(func(r chi.Router) {
				r.Use(ContentTypeJSON)
				r.Use(WithSession(cfg.Resolver, cfg.LoginPath, logger))

				r.Get("/cart", cartHandler.GetCart)
				r.Delete("/cart", cartHandler.ClearCart)
				r.Get("/cart/badge", cartHandler.GetBadge)
				r.Post("/cart/refresh", cartHandler.RefreshCart)

				r.Post("/cart/items", cartHandler.AddItem)
				r.Put("/cart/items/{itemId}", cartHandler.UpdateItem)
				r.Delete("/cart/items/{itemId}", cartHandler.RemoveItem)

				r.Post("/cart/coupon", cartHandler.ApplyCoupon)
				r.Delete("/cart/coupon", cartHandler.RemoveCoupon)

				r.Post("/quick-add", productHandler.QuickAdd)
				r.Get("/quick-add/state", productHandler.QuickAddState)

				r.Post("/checkout", checkoutHandler.PlaceOrder)

				r.Get("/notifications", ListNotifications)
				r.Delete("/notifications/{id}", DismissNotification)
			})
		})
	})

	return r
}
