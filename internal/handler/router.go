package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/ordermart-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса ордермарт.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Post("/", h.CreateItem)
			r.Get("/", h.ListItems)
			r.Get("/{id}", h.GetItem)
			r.Patch("/{id}", h.UpdateItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.PlaceOrder)
			r.Get("/", h.ListOrders)
			r.Get("/{id}", h.GetOrder)
			r.Patch("/{id}/status", h.UpdateOrderStatus)
		})

		r.Route("/tracking", func(r chi.Router) {
			r.Post("/{id}/assign", h.AssignTracking)
			r.Get("/{id}", h.GetTracking)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/revenue", h.Revenue)
			r.Get("/revenue/document", h.RevenueReport)
		})

		r.Route("/taxes", func(r chi.Router) {
			r.Get("/monthly-summary", h.MonthlyTaxSummary)
			r.Post("/send-monthly-alert", h.SendMonthlyTaxAlert)
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
