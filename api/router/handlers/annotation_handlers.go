package handlers

import (
	"errors"
	"net/http"
	"strings"

	"capturekit/core"
	"capturekit/logger"
	"capturekit/models"
)

type annotationHandlers struct {
	svc *core.Services
}

// saveAnnotation upserts an annotation and links it to a comment when the
// content hint matches one.
// @Summary Save a user annotation
// @Tags Annotations
// @Accept json
// @Produce json
// @Param annotation body models.UserAnnotation true "Annotation"
// @Success 200 {object} models.UserAnnotation
// @Failure 400 {object} models.ErrorResponse
// @Router /annotations [post]
func (h *annotationHandlers) saveAnnotation(w http.ResponseWriter, r *http.Request) {
	var a models.UserAnnotation
	if err := decodeJSON(w, r, &a); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := h.svc.Annotations.Save(r.Context(), a)
	if errors.Is(err, core.ErrMissingKey) {
		WriteError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err != nil {
		logger.Error("saveAnnotation: Error saving annotation for %s: %v", a.UserID, err)
		WriteError(w, http.StatusInternalServerError, "failed to save annotation")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// @Summary List annotations of a user
// @Tags Annotations
// @Produce json
// @Param userId query string true "User ID"
// @Success 200 {array} models.UserAnnotation
// @Failure 400 {object} models.ErrorResponse
// @Router /annotations [get]
func (h *annotationHandlers) listAnnotations(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	annotations, err := h.svc.Annotations.ListByUser(r.Context(), userID)
	if err != nil {
		logger.Error("listAnnotations: Error listing annotations for %s: %v", userID, err)
		WriteError(w, http.StatusInternalServerError, "failed to list annotations")
		return
	}
	writeJSON(w, http.StatusOK, annotations)
}
