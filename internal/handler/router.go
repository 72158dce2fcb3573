package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/chemik-burger-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса заказов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		// SSE-маршруты вне gzip-группы: сжатие ломает пофреймовый флаш.
		r.Get("/kitchen/stream", h.KitchenStream)
		r.Get("/orders/{orderID}/stream", h.OrderStream)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.GzipMiddleware)

			r.Get("/menu", h.GetMenu)
			r.Post("/checkout", h.Checkout)
			r.Post("/pos/orders", h.CreateCashOrder)

			r.Post("/kitchen/orders/{orderID}/advance", h.AdvanceOrder)
			r.Post("/kitchen/orders/{orderID}/cancel", h.CancelOrder)
			r.Post("/products/{productID}/availability", h.ToggleAvailability)

			r.Post("/webhooks/payu", h.PaymentWebhook)
			r.Get("/reports/daily", h.DailyReport)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
