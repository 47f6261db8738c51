package database

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMongoGateway_Integration(t *testing.T) {
	uri := os.Getenv("CAPTUREKIT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CAPTUREKIT_TEST_MONGO_URI not set, skipping integration test")
	}
	ctx := context.Background()
	g, err := OpenMongo(ctx, uri, fmt.Sprintf("capturekit_test_%d", time.Now().UnixNano()))
	require.NoError(t, err)
	defer func() {
		_ = g.db.Drop(ctx)
		_ = g.Close(ctx)
	}()

	first, err := g.UpsertOne(ctx, StructuredCommentsCollection, Filter{"commentId": "c1"}, Update{
		Set:         Document{"content": "hello", "repliedOrder": float64(2)},
		SetOnInsert: Document{"timestamp": "2023-12-30T10:00:00Z"},
	})
	require.NoError(t, err)
	assert.True(t, first.Inserted)

	res, err := g.BulkUpsert(ctx, StructuredCommentsCollection, []WriteModel{
		{Filter: Filter{"commentId": "c1"}, Update: Update{Set: Document{"content": "edited"}, SetOnInsert: Document{"timestamp": "2024-01-01T00:00:00Z"}}},
		{Filter: Filter{"commentId": "c2"}, Update: Update{Set: Document{"content": "second", "repliedId": "c1"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Upserted)
	assert.Equal(t, 1, res.Matched)
	assert.Zero(t, res.Failed)

	var row struct {
		Content      string `json:"content"`
		Timestamp    string `json:"timestamp"`
		RepliedOrder *int   `json:"repliedOrder"`
	}
	found, err := g.FindOne(ctx, StructuredCommentsCollection, Filter{"commentId": "c1"}, &row)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "edited", row.Content)
	assert.Equal(t, "2023-12-30T10:00:00Z", row.Timestamp)
	require.NotNil(t, row.RepliedOrder)
	assert.Equal(t, 2, *row.RepliedOrder)

	var replies []map[string]any
	require.NoError(t, g.Find(ctx, StructuredCommentsCollection, Filter{"repliedId": In{"c1"}}, &replies))
	require.Len(t, replies, 1)
	assert.Equal(t, "c2", replies[0]["commentId"])
}

func TestRedisDeduper_Integration(t *testing.T) {
	addr := os.Getenv("CAPTUREKIT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CAPTUREKIT_TEST_REDIS_ADDR not set, skipping integration test")
	}
	ctx := context.Background()
	d, err := NewRedisDeduper(ctx, RedisConfig{Addr: addr, TTL: time.Minute, KeyPrefix: "capturekit:test:"})
	require.NoError(t, err)
	defer d.Close()

	key := uuid.NewString()
	first, err := d.FirstSeen(ctx, key)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(ctx, key)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, d.Forget(ctx, key))
	afterForget, err := d.FirstSeen(ctx, key)
	require.NoError(t, err)
	assert.True(t, afterForget)
	require.NoError(t, d.Forget(ctx, key))
}

func TestToDocument(t *testing.T) {
	type sample struct {
		ID    string  `json:"id"`
		Count int     `json:"count"`
		Ptr   *string `json:"ptr"`
		Skip  string  `json:"skip,omitempty"`
	}
	doc, err := ToDocument(sample{ID: "x", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, Document{"id": "x", "count": float64(2), "ptr": nil}, doc)
}
