package api

import (
	"net/http"
	"time"

	"capturekit/api/router/handlers"
	"capturekit/core"
	"capturekit/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP API. Every route lives under /api.
func NewRouter(svc *core.Services) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		logger.Debug("API: Unhandled route: %s %s", req.Method, req.URL.Path)
		handlers.WriteError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		handlers.WriteError(w, http.StatusMethodNotAllowed, req.Method+" not allowed on "+req.URL.Path)
	})

	r.Route("/api", func(api chi.Router) {
		handlers.RegisterHealthRoutes(api, svc)
		handlers.RegisterVersionRoutes(api)
		handlers.RegisterExchangeRoutes(api, svc)
		handlers.RegisterCommentRoutes(api, svc)
		handlers.RegisterAnnotationRoutes(api, svc)
		handlers.RegisterRuleRoutes(api, svc)
	})
	return r
}

// requestLogger logs one debug line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("API: %s %s -> %d (%s) [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}
