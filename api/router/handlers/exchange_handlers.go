package handlers

import (
	"net/http"
	"strings"

	"capturekit/core"
	"capturekit/database"
	"capturekit/logger"
	"capturekit/models"

	"github.com/go-chi/chi/v5"
)

type exchangeHandlers struct {
	svc *core.Services
}

// processExchange runs one captured exchange through the pipeline.
// An exchange that could not be classified or extracted still answers 200;
// the summary carries success=false and the reason.
// @Summary Process a captured exchange
// @Tags Exchanges
// @Accept json
// @Produce json
// @Param exchange body models.CapturedExchange true "Captured request/response pair"
// @Success 200 {object} models.ProcessingSummary
// @Failure 400 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /exchanges [post]
func (h *exchangeHandlers) processExchange(w http.ResponseWriter, r *http.Request) {
	var ex models.CapturedExchange
	if err := decodeJSON(w, r, &ex); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(ex.URL) == "" && strings.TrimSpace(ex.RuleLabel) == "" {
		WriteError(w, http.StatusBadRequest, "exchange needs a url or a ruleLabel")
		return
	}

	summary := h.svc.Pipeline.Process(r.Context(), ex)
	if summary.Retryable {
		logger.Error("processExchange: store failure for %s: %s", summary.RequestID, summary.ErrorMessage)
		writeJSON(w, http.StatusServiceUnavailable, summary)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// getExchange returns a stored exchange with its derived fields.
// @Summary Get a processed exchange
// @Tags Exchanges
// @Produce json
// @Param requestId path string true "Request ID"
// @Success 200 {object} models.CapturedExchange
// @Failure 404 {object} models.ErrorResponse
// @Router /exchanges/{requestId} [get]
func (h *exchangeHandlers) getExchange(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	var ex models.CapturedExchange
	found, err := h.svc.Store.FindOne(r.Context(), database.ExchangesCollection, database.Filter{"requestId": requestID}, &ex)
	if err != nil {
		logger.Error("getExchange: Error loading exchange %s: %v", requestID, err)
		WriteError(w, http.StatusInternalServerError, "failed to load exchange")
		return
	}
	if !found {
		WriteError(w, http.StatusNotFound, "exchange "+requestID+" not found")
		return
	}
	writeJSON(w, http.StatusOK, ex)
}
