package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/avolkhov/studiomarket/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса studiomarket.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/users", h.RegisterUser)

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/categories", h.GetCategories)
			r.Get("/products", h.GetProducts)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Post("/reserve", h.Reserve)
			r.Post("/quantity", h.SetQuantity)
			r.Post("/decrement", h.Decrement)
			r.Delete("/", h.RemoveLine)
			r.Get("/", h.GetCart)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/checkout", h.Checkout)
			r.Get("/", h.GetOrders)
		})

		r.Post("/payments/proof", h.SubmitProof)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.adminAuth.Middleware)

			r.Get("/users", h.GetUsers)
			r.Delete("/orders", h.DeleteOrders)
			r.Post("/verifications/{id}", h.ResolveVerification)
			r.Post("/sweep", h.Sweep)
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
