package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/DinerGo/pkg/health"
	"github.com/utafrali/DinerGo/pkg/middleware"
)

// RouterConfig holds the knobs of the HTTP surface.
type RouterConfig struct {
	ServiceName    string
	RequestTimeout time.Duration
	// CheckoutPerMinute and CheckoutBurst limit checkout starts per user.
	CheckoutPerMinute int
	CheckoutBurst     int
}

// Handlers groups the API handlers mounted by NewRouter.
type Handlers struct {
	Menu     *MenuHandler
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrderHandler
	Profile  *ProfileHandler
}

// NewRouter creates a chi router with all diner routes registered.
func NewRouter(
	h Handlers,
	validate middleware.TokenValidator,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "diner"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.CheckoutPerMinute <= 0 {
		cfg.CheckoutPerMinute = 10
	}
	if cfg.CheckoutBurst <= 0 {
		cfg.CheckoutBurst = 5
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(validate))
		r.Use(middleware.RequestLogger(logger))

		r.Route("/menu", func(r chi.Router) {
			r.Get("/", h.Menu.ListItems)
			r.Get("/categories", h.Menu.ListCategories)
			r.Get("/{itemId}", h.Menu.GetItem)
		})

		r.Route("/profile", func(r chi.Router) {
			r.Get("/address", h.Profile.GetAddress)
			r.Put("/address", h.Profile.SaveAddress)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart.GetCart)
			r.Delete("/", h.Cart.ClearCart)
			r.Post("/items", h.Cart.AddItem)
			r.Delete("/items/{itemId}", h.Cart.RemoveItem)
			r.Post("/items/{itemId}/decrement", h.Cart.DecrementItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.With(middleware.RateLimit(cfg.CheckoutPerMinute, cfg.CheckoutBurst, logger)).
				Post("/", h.Checkout.Start)
			r.Get("/{checkoutId}", h.Checkout.Get)
			r.Post("/{checkoutId}/confirmation", h.Checkout.Confirm)
		})

		r.Get("/orders/{orderId}", h.Orders.GetOrder)
	})

	return r
}
