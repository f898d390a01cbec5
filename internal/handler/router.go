package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/storefront-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса витрины.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/{number}", h.GetOrder)
		r.Post("/{number}/application", h.AttachApplication)

		// Ручные правки статусов доступны только персоналу.
		r.With(h.staffAuth.Middleware).Patch("/{number}", h.UpdateOrder)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/session", h.CreatePaymentSession)
		r.Post("/status-check", h.CheckPaymentStatus)
		r.Post("/callback", h.PaymentCallback)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
