package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"capturekit/core"
	"capturekit/database"
	"capturekit/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commentBody = `{"code":0,"success":true,"data":{"comments":[
  {"id":"c9","note_id":"n9","content":"hello","create_time":1710000000000,
   "user_info":{"user_id":"u9","nickname":"Nine"}}]}}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	store, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	svc := core.NewServices(store, core.DefaultClassifier(), nil, 0)
	srv := httptest.NewServer(NewRouter(svc))
	t.Cleanup(func() {
		srv.Close()
		svc.Close(ctx)
	})
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndVersion(t *testing.T) {
	srv := newTestServer(t)

	var health models.HealthResponse
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/health", nil, &health))
	assert.Equal(t, models.HealthResponse{Status: "ok", Store: "sqlite"}, health)

	var v map[string]string
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/version", nil, &v))
	assert.NotEmpty(t, v["version"])
}

func TestExchangeRoutes(t *testing.T) {
	srv := newTestServer(t)

	var sum models.ProcessingSummary
	status := doJSON(t, http.MethodPost, srv.URL+"/api/exchanges", models.CapturedExchange{
		RequestID:    "api-1",
		URL:          "https://edith.xiaohongshu.com/api/sns/web/v2/comment/page?note_id=n9",
		ResponseBody: commentBody,
	}, &sum)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, sum.Success)
	assert.Equal(t, models.KindComment, sum.DataKind)
	assert.Equal(t, 3, sum.ItemsSaved, "one comment, its author and its note")

	var stored models.CapturedExchange
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/exchanges/api-1", nil, &stored))
	assert.True(t, stored.Processed)
	assert.Equal(t, models.KindComment, stored.DataKind)
	assert.Equal(t, 3, stored.ItemsSaved)

	var comments []models.StructuredComment
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/comments/structured?authorId=u9", nil, &comments))
	require.Len(t, comments, 1)
	assert.Equal(t, "c9", comments[0].CommentID)
}

func TestExchangeRoutes_UnclassifiedIsStillOK(t *testing.T) {
	srv := newTestServer(t)

	var sum models.ProcessingSummary
	status := doJSON(t, http.MethodPost, srv.URL+"/api/exchanges", models.CapturedExchange{
		RequestID: "api-2", URL: "https://example.com/static/app.js", ResponseBody: "{}",
	}, &sum)
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, sum.Success)
	assert.NotEmpty(t, sum.ErrorMessage)

	var stored models.CapturedExchange
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/exchanges/api-2", nil, &stored))
	assert.False(t, stored.Processed)
	assert.NotEmpty(t, stored.ProcessingError)
}

func TestExchangeRoutes_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/api/exchanges", `{"url":`, &errResp))
	assert.NotEmpty(t, errResp.Message)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/api/exchanges", `{"requestId":"x"}`, &errResp))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/api/exchanges/missing", nil, &errResp))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/api/nope", nil, &errResp))
}

func TestCommentRoutes(t *testing.T) {
	srv := newTestServer(t)

	trees := []models.RawCommentNode{{
		ID: "c1", NoteID: "n1", AuthorName: "Alice", AuthorURL: "/user/profile/u1",
		Content: "first", Timestamp: "2024-03-10",
		Replies: []models.RawCommentNode{{ID: "r1", AuthorURL: "/user/profile/u2", Content: "reply", Timestamp: "2024-03-11"}},
	}}
	var res models.CommentIngestResult
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/comments", trees, &res))
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Structured.Upserted)

	var comments []models.StructuredComment
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/comments/structured?authorId=u2", nil, &comments))
	require.Len(t, comments, 1)
	require.NotNil(t, comments[0].RepliedID)
	assert.Equal(t, "c1", *comments[0].RepliedID)

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, srv.URL+"/api/comments/structured", nil, &errResp))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/api/comments", `{"id":"c1"}`, &errResp))

	var history []models.HistoryNote
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/users/nobody/comment-history", nil, &history))
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestAnnotationRoutes(t *testing.T) {
	srv := newTestServer(t)

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/api/annotations",
		models.UserAnnotation{NoteText: "no user"}, &errResp))

	var saved models.UserAnnotation
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/annotations",
		models.UserAnnotation{UserID: "u1", NoteText: "regular"}, &saved))
	assert.Equal(t, "u1", saved.UserID)
	assert.NotEmpty(t, saved.AnnotationKey)
	assert.Nil(t, saved.LinkedCommentID)

	var list []models.UserAnnotation
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/annotations?userId=u1", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, saved.AnnotationKey, list[0].AnnotationKey)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, srv.URL+"/api/annotations", nil, &errResp))
}

func TestRulesRoute(t *testing.T) {
	srv := newTestServer(t)

	var rules models.RuleTable
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/rules", nil, &rules))
	assert.Equal(t, models.KindComment, rules.Labels["评论接口"])
	assert.NotEmpty(t, rules.URLRules)
}
