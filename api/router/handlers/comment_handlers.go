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

type commentHandlers struct {
	svc *core.Services
}

// ingestComments merges scraped comment trees into raw storage and
// refreshes their flattened rows.
// @Summary Ingest raw comment trees
// @Tags Comments
// @Accept json
// @Produce json
// @Param comments body []models.RawCommentNode true "Top-level comments with nested replies"
// @Success 200 {object} models.CommentIngestResult
// @Failure 400 {object} models.ErrorResponse
// @Router /comments [post]
func (h *commentHandlers) ingestComments(w http.ResponseWriter, r *http.Request) {
	var trees []models.RawCommentNode
	if err := decodeJSON(w, r, &trees); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Comments.Ingest(r.Context(), trees))
}

// @Summary List structured comments by author
// @Tags Comments
// @Produce json
// @Param authorId query string true "Author user ID"
// @Success 200 {array} models.StructuredComment
// @Failure 400 {object} models.ErrorResponse
// @Router /comments/structured [get]
func (h *commentHandlers) listStructuredComments(w http.ResponseWriter, r *http.Request) {
	authorID := strings.TrimSpace(r.URL.Query().Get("authorId"))
	if authorID == "" {
		WriteError(w, http.StatusBadRequest, "authorId query parameter is required")
		return
	}
	comments := []models.StructuredComment{}
	if err := h.svc.Store.Find(r.Context(), database.StructuredCommentsCollection, database.Filter{"authorId": authorID}, &comments); err != nil {
		logger.Error("listStructuredComments: Error loading comments for %s: %v", authorID, err)
		WriteError(w, http.StatusInternalServerError, "failed to load comments")
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// @Summary Comment history of a user, grouped by note
// @Tags Comments
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {array} models.HistoryNote
// @Router /users/{userId}/comment-history [get]
func (h *commentHandlers) commentHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	notes, err := h.svc.History.CommentHistory(r.Context(), userID)
	if err != nil {
		logger.Error("commentHistory: Error building history for %s: %v", userID, err)
		WriteError(w, http.StatusInternalServerError, "failed to load comment history")
		return
	}
	writeJSON(w, http.StatusOK, notes)
}
