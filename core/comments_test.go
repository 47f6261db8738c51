package core

import (
	"context"
	"testing"
	"time"

	"capturekit/database"
	"capturekit/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newTestCommentService(t *testing.T) (*CommentService, *database.SQLiteGateway, *testClock) {
	t.Helper()
	store := newTestStore(t)
	clk := &testClock{t: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	s := NewCommentService(store, fixedNormalizer(), 0)
	s.Now = clk.Now
	return s, store, clk
}

type structuredRow struct {
	CommentID      string  `json:"commentId"`
	NoteID         string  `json:"noteId"`
	Content        string  `json:"content"`
	AuthorID       *string `json:"authorId"`
	Timestamp      *string `json:"timestamp"`
	RepliedID      *string `json:"repliedId"`
	RepliedOrder   *int    `json:"repliedOrder"`
	FetchTimestamp string  `json:"fetchTimestamp"`
}

func rootTree() models.RawCommentNode {
	return models.RawCommentNode{
		ID: "c1", NoteID: "n1", AuthorName: "Alice",
		AuthorURL: "https://www.xiaohongshu.com/user/profile/u1?xsec_token=abc",
		Content:   "第一条", Timestamp: "2024-03-10", LikeCount: "3",
		Replies: []models.RawCommentNode{
			{ID: "r1", AuthorName: "Bob", AuthorURL: "/user/profile/u2", Content: "回复", Timestamp: "2024-03-11"},
		},
	}
}

func TestCommentService_IngestInsertsAndFlattens(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newTestCommentService(t)

	res := s.Ingest(ctx, []models.RawCommentNode{rootTree()})
	assert.Equal(t, 1, res.Inserted)
	assert.Zero(t, res.Updated)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, models.StructuredWriteResult{Upserted: 2}, res.Structured)

	var rows []structuredRow
	require.NoError(t, store.Find(ctx, database.StructuredCommentsCollection, database.Filter{}, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "c1", rows[0].CommentID)
	require.NotNil(t, rows[0].AuthorID)
	assert.Equal(t, "u1", *rows[0].AuthorID)
	assert.Nil(t, rows[0].RepliedID)
	assert.Nil(t, rows[0].RepliedOrder)

	assert.Equal(t, "r1", rows[1].CommentID)
	assert.Equal(t, "n1", rows[1].NoteID)
	require.NotNil(t, rows[1].RepliedID)
	assert.Equal(t, "c1", *rows[1].RepliedID)
	require.NotNil(t, rows[1].RepliedOrder)
	assert.Equal(t, 0, *rows[1].RepliedOrder)
}

func TestCommentService_RescrapePreservesHistory(t *testing.T) {
	ctx := context.Background()
	s, store, clk := newTestCommentService(t)

	s.Ingest(ctx, []models.RawCommentNode{rootTree()})

	clk.t = clk.t.Add(2 * time.Hour)
	rescrape := rootTree()
	rescrape.Content = "第一条(已编辑)"
	rescrape.Timestamp = "2024-03-12"
	rescrape.Replies = []models.RawCommentNode{
		{ID: "r2", AuthorName: "Carol", Content: "新回复", RepliedToUser: "Bob"},
	}
	res := s.Ingest(ctx, []models.RawCommentNode{rescrape})
	assert.Zero(t, res.Inserted)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, models.StructuredWriteResult{Upserted: 1, Matched: 1}, res.Structured,
		"only the comments in the re-scrape are written")

	var raw models.RawCommentNode
	found, err := store.FindOne(ctx, database.RawCommentsCollection, database.Filter{"id": "c1", "noteId": "n1"}, &raw)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "第一条(已编辑)", raw.Content)
	require.Len(t, raw.Replies, 2)
	assert.Equal(t, "r1", raw.Replies[0].ID, "reply missing from the re-scrape is kept")
	assert.Equal(t, "r2", raw.Replies[1].ID)
	require.NotNil(t, raw.FetchTimestamp)
	assert.True(t, clk.t.Equal(*raw.FetchTimestamp))

	var c1 structuredRow
	found, err = store.FindOne(ctx, database.StructuredCommentsCollection, database.Filter{"commentId": "c1"}, &c1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "第一条(已编辑)", c1.Content)
	require.NotNil(t, c1.Timestamp)
	assert.Equal(t, "2024-03-10T00:00:00Z", *c1.Timestamp, "timestamp is first-write-wins")
	assert.Equal(t, clk.t.Format(time.RFC3339Nano), c1.FetchTimestamp)

	var r2 structuredRow
	found, err = store.FindOne(ctx, database.StructuredCommentsCollection, database.Filter{"commentId": "r2"}, &r2)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, r2.RepliedID)
	assert.Equal(t, "c1", *r2.RepliedID, "Bob is not among the captured siblings")
	assert.Equal(t, 0, *r2.RepliedOrder)
}

func TestCommentService_LinkageFollowsCapturedOrder(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newTestCommentService(t)

	s.Ingest(ctx, []models.RawCommentNode{rootTree()})

	rescrape := rootTree()
	rescrape.Replies = []models.RawCommentNode{
		{ID: "r0", AuthorName: "Carol", AuthorURL: "/user/profile/u3", Content: "抢先回复", RepliedToUser: "Bob"},
		rootTree().Replies[0],
	}
	s.Ingest(ctx, []models.RawCommentNode{rescrape})

	var raw models.RawCommentNode
	found, err := store.FindOne(ctx, database.RawCommentsCollection, database.Filter{"id": "c1", "noteId": "n1"}, &raw)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, raw.Replies, 2)
	assert.Equal(t, []string{"r1", "r0"}, []string{raw.Replies[0].ID, raw.Replies[1].ID}, "merged history appends new replies")

	rows := map[string]structuredRow{}
	for _, id := range []string{"r0", "r1"} {
		var row structuredRow
		found, err := store.FindOne(ctx, database.StructuredCommentsCollection, database.Filter{"commentId": id}, &row)
		require.NoError(t, err)
		require.True(t, found, id)
		rows[id] = row
	}
	require.NotNil(t, rows["r0"].RepliedID)
	assert.Equal(t, "c1", *rows["r0"].RepliedID, "Bob's reply comes after r0 in the capture")
	assert.Equal(t, 0, *rows["r0"].RepliedOrder)
	assert.Equal(t, 1, *rows["r1"].RepliedOrder)
}

func TestCommentService_SkipsInvalidTrees(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestCommentService(t)
	s.MaxDepth = 3

	deep := models.RawCommentNode{ID: "d1", NoteID: "n1"}
	cur := &deep
	for i := 0; i < 3; i++ {
		cur.Replies = []models.RawCommentNode{{ID: "d"}}
		cur = &cur.Replies[0]
	}
	require.Equal(t, 4, deep.Depth())

	res := s.Ingest(ctx, []models.RawCommentNode{
		{ID: "", NoteID: "n1"},
		{ID: "c9"},
		deep,
		{ID: "ok", NoteID: "n1"},
	})
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Structured.Upserted)
}

func TestCommentService_DoesNotMutateInput(t *testing.T) {
	s, _, _ := newTestCommentService(t)
	trees := []models.RawCommentNode{rootTree()}
	s.Ingest(context.Background(), trees)
	assert.Nil(t, trees[0].FetchTimestamp)
	assert.Nil(t, trees[0].Replies[0].FetchTimestamp)
}

func TestStructuredWrite_NullTimestampIsNotInserted(t *testing.T) {
	wm, err := structuredWrite(models.StructuredComment{CommentID: "c1"})
	require.NoError(t, err)
	assert.Nil(t, wm.Update.SetOnInsert)
	_, hasTS := wm.Update.Set["timestamp"]
	assert.False(t, hasTS)
	assert.Equal(t, database.Filter{"commentId": "c1"}, wm.Filter)
}
