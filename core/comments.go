package core

import (
	"context"
	"fmt"
	"time"

	"capturekit/database"
	"capturekit/logger"
	"capturekit/models"
)

const DefaultMaxCommentDepth = 64

// CommentService stores scraped comment trees and keeps the structured
// comment collection in step with them.
type CommentService struct {
	Store     database.Gateway
	Flattener *CommentFlattener
	MaxDepth  int
	Now       func() time.Time
}

func NewCommentService(store database.Gateway, times *TimeNormalizer, maxDepth int) *CommentService {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxCommentDepth
	}
	s := &CommentService{Store: store, MaxDepth: maxDepth, Now: time.Now}
	s.Flattener = &CommentFlattener{Times: times, Now: s.now}
	return s
}

func (s *CommentService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Ingest merges every tree into raw_comments, then flattens the trees as
// received into structured_comments with one unordered bulk upsert. Reply
// order and sibling lookups follow the capture, not the merged history.
// Invalid trees and failed writes are counted, never returned as errors.
func (s *CommentService) Ingest(ctx context.Context, trees []models.RawCommentNode) models.CommentIngestResult {
	var result models.CommentIngestResult
	fetched := s.now()
	var captured []models.RawCommentNode

	for i, tree := range trees {
		if tree.ID == "" || tree.NoteID == "" {
			logger.Warn("CommentService: skipping tree %d without id or noteId: %v", i, ErrMissingKey)
			result.Skipped++
			continue
		}
		if d := tree.Depth(); d > s.MaxDepth {
			logger.Warn("CommentService: skipping comment %s: depth %d: %v", tree.ID, d, ErrTooDeep)
			result.Skipped++
			continue
		}
		tree = stampFetched(tree, fetched)

		inserted, err := s.mergeOne(ctx, tree)
		if err != nil {
			logger.Error("CommentService: storing comment %s/%s: %v", tree.NoteID, tree.ID, err)
			result.Skipped++
			continue
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
		captured = append(captured, tree)
	}

	if len(captured) > 0 {
		result.Structured = s.writeStructured(ctx, s.Flattener.Flatten(captured...))
	}
	logger.Info("CommentService: inserted=%d updated=%d skipped=%d structured upserted=%d matched=%d failed=%d",
		result.Inserted, result.Updated, result.Skipped,
		result.Structured.Upserted, result.Structured.Matched, result.Structured.Failed)
	return result
}

// mergeOne reads the stored tree, merges the incoming one into it and writes
// the result back. The read and the write are not atomic: two concurrent
// re-scrapes of the same comment can each merge against the same stored
// tree, and the later write drops the replies only the earlier one added.
// The next re-scrape restores them.
func (s *CommentService) mergeOne(ctx context.Context, incoming models.RawCommentNode) (bool, error) {
	key := database.Filter{"id": incoming.ID, "noteId": incoming.NoteID}

	var existing models.RawCommentNode
	found, err := s.Store.FindOne(ctx, database.RawCommentsCollection, key, &existing)
	if err != nil {
		return false, fmt.Errorf("loading stored tree: %w", err)
	}
	tree := incoming
	if found {
		tree = MergeCommentTree(existing, incoming)
	}

	doc, err := database.ToDocument(tree)
	if err != nil {
		return false, err
	}
	res, err := s.Store.UpsertOne(ctx, database.RawCommentsCollection, key, database.Update{Set: doc})
	if err != nil {
		return false, err
	}
	return res.Inserted, nil
}

func (s *CommentService) writeStructured(ctx context.Context, comments []models.StructuredComment) models.StructuredWriteResult {
	writes := make([]database.WriteModel, 0, len(comments))
	failed := 0
	for _, c := range comments {
		wm, err := structuredWrite(c)
		if err != nil {
			logger.Warn("CommentService: encoding structured comment %s: %v", c.CommentID, err)
			failed++
			continue
		}
		writes = append(writes, wm)
	}
	if len(writes) == 0 {
		return models.StructuredWriteResult{Failed: failed}
	}

	res, err := s.Store.BulkUpsert(ctx, database.StructuredCommentsCollection, writes)
	if err != nil {
		logger.Error("CommentService: bulk upsert of %d structured comments: %v", len(writes), err)
		return models.StructuredWriteResult{Failed: failed + len(writes)}
	}
	for _, e := range res.Errors {
		logger.Warn("CommentService: structured comment write failed: %v", e)
	}
	return models.StructuredWriteResult{
		Upserted: res.Upserted,
		Matched:  res.Matched,
		Failed:   failed + res.Failed,
	}
}

// structuredWrite keeps timestamp first-write-wins; every other field is
// replaced on each write.
func structuredWrite(c models.StructuredComment) (database.WriteModel, error) {
	doc, err := database.ToDocument(c)
	if err != nil {
		return database.WriteModel{}, err
	}
	update := database.Update{Set: doc}
	ts := doc["timestamp"]
	delete(doc, "timestamp")
	if ts != nil {
		update.SetOnInsert = database.Document{"timestamp": ts}
	}
	return database.WriteModel{
		Filter: database.Filter{"commentId": c.CommentID},
		Update: update,
	}, nil
}

// stampFetched returns a copy of n with every unset fetchTimestamp filled.
func stampFetched(n models.RawCommentNode, at time.Time) models.RawCommentNode {
	if n.FetchTimestamp == nil {
		t := at
		n.FetchTimestamp = &t
	}
	if n.Replies != nil {
		replies := make([]models.RawCommentNode, len(n.Replies))
		for i, r := range n.Replies {
			replies[i] = stampFetched(r, at)
		}
		n.Replies = replies
	}
	return n
}
