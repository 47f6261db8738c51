package handlers

import (
	"capturekit/core"

	"github.com/go-chi/chi/v5"
)

func RegisterCommentRoutes(r chi.Router, svc *core.Services) {
	h := &commentHandlers{svc: svc}
	r.Post("/comments", h.ingestComments)
	r.Get("/comments/structured", h.listStructuredComments)
	r.Get("/users/{userId}/comment-history", h.commentHistory)
}
