package handlers

import (
	"net/http"

	"capturekit/core"

	"github.com/go-chi/chi/v5"
)

func RegisterRuleRoutes(r chi.Router, svc *core.Services) {
	r.Get("/rules", getRulesHandler(svc))
}

// getRulesHandler serves the classifier tables currently in use.
// @Summary Current classification rules
// @Tags Rules
// @Produce json
// @Success 200 {object} models.RuleTable
// @Router /rules [get]
func getRulesHandler(svc *core.Services) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, svc.Classifier.Rules())
	}
}
