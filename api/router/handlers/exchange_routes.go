package handlers

import (
	"capturekit/core"

	"github.com/go-chi/chi/v5"
)

func RegisterExchangeRoutes(r chi.Router, svc *core.Services) {
	h := &exchangeHandlers{svc: svc}
	r.Route("/exchanges", func(r chi.Router) {
		r.Post("/", h.processExchange)
		r.Get("/{requestId}", h.getExchange)
	})
}
