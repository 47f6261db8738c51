package handlers

import (
	"capturekit/core"

	"github.com/go-chi/chi/v5"
)

func RegisterAnnotationRoutes(r chi.Router, svc *core.Services) {
	h := &annotationHandlers{svc: svc}
	r.Route("/annotations", func(r chi.Router) {
		r.Post("/", h.saveAnnotation)
		r.Get("/", h.listAnnotations)
	})
}
