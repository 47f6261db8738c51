package core

import (
	"capturekit/models"
)

// MergeCommentTree folds a re-scraped tree into the stored one.
//
// Scalar fields follow the incoming capture, including empty values it
// really sent; fields the capture left out keep what was stored. Replies
// are matched by id: matched pairs merge recursively, stored-only replies
// are kept as they were, and incoming replies that are new or carry no id
// are appended after the stored ones.
// When the incoming node has no replies at all the stored replies are kept.
func MergeCommentTree(existing, incoming models.RawCommentNode) models.RawCommentNode {
	merged := existing
	mergeScalars(&merged, incoming)

	if len(incoming.Replies) == 0 {
		merged.Replies = cloneReplies(existing.Replies)
		return merged
	}

	out := make([]models.RawCommentNode, 0, len(existing.Replies)+len(incoming.Replies))
	processed := make(map[string]bool)
	for _, old := range existing.Replies {
		if old.ID == "" {
			out = append(out, old)
			continue
		}
		match, ok := firstWithID(incoming.Replies, old.ID)
		if !ok {
			out = append(out, old)
			continue
		}
		out = append(out, MergeCommentTree(old, match))
		processed[old.ID] = true
	}
	for _, fresh := range incoming.Replies {
		if fresh.ID == "" || !processed[fresh.ID] {
			out = append(out, fresh)
		}
	}
	merged.Replies = out
	return merged
}

func mergeScalars(dst *models.RawCommentNode, src models.RawCommentNode) {
	take := func(dst *string, value string, field string) {
		if src.Sent(field, value) {
			*dst = value
		}
	}
	take(&dst.ID, src.ID, "id")
	take(&dst.NoteID, src.NoteID, "noteId")
	take(&dst.AuthorName, src.AuthorName, "authorName")
	take(&dst.AuthorURL, src.AuthorURL, "authorUrl")
	take(&dst.AuthorAvatar, src.AuthorAvatar, "authorAvatar")
	take(&dst.Content, src.Content, "content")
	take(&dst.RepliedToUser, src.RepliedToUser, "repliedToUser")
	take(&dst.Timestamp, src.Timestamp, "timestamp")
	take(&dst.IPLocation, src.IPLocation, "ipLocation")
	if src.Sent("likeCount", string(src.LikeCount)) {
		dst.LikeCount = src.LikeCount
	}
	// Stamped at ingestion rather than scraped, so presence is not tracked.
	if src.FetchTimestamp != nil {
		dst.FetchTimestamp = src.FetchTimestamp
	}
}

func firstWithID(nodes []models.RawCommentNode, id string) (models.RawCommentNode, bool) {
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return models.RawCommentNode{}, false
}

func cloneReplies(replies []models.RawCommentNode) []models.RawCommentNode {
	if replies == nil {
		return nil
	}
	out := make([]models.RawCommentNode, len(replies))
	copy(out, replies)
	return out
}
