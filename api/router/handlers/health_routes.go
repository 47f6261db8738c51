package handlers

import (
	"context"
	"net/http"
	"time"

	"capturekit/core"
	"capturekit/logger"
	"capturekit/models"
	"capturekit/version"

	"github.com/go-chi/chi/v5"
)

func RegisterHealthRoutes(r chi.Router, svc *core.Services) {
	r.Get("/health", healthCheckHandler(svc))
}

func RegisterVersionRoutes(r chi.Router) {
	r.Get("/version", GetVersionHandler)
}

// healthCheckHandler reports "ok" when the store answers a ping and
// "degraded" otherwise. The status code is 200 either way.
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Router /health [get]
func healthCheckHandler(svc *core.Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := models.HealthResponse{Status: "ok", Store: svc.Store.Name()}
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := svc.Store.Ping(ctx); err != nil {
			logger.Warn("healthCheckHandler: store ping failed: %v", err)
			resp.Status = "degraded"
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// GetVersionHandler returns the application version.
// @Summary Get application version
// @Tags Version
// @Produce json
// @Success 200 {object} map[string]string "{"version": "0.1.0"}"
// @Router /version [get]
func GetVersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.AppVersion})
}
