package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"capturekit/database"
	"capturekit/logger"
	"capturekit/models"
)

// HistoryService builds a user's comment history: what the user wrote and
// what others replied to it, grouped by note.
type HistoryService struct {
	Store database.Gateway
}

func NewHistoryService(store database.Gateway) *HistoryService {
	return &HistoryService{Store: store}
}

// CommentHistory returns notes newest first, each with its comments newest
// first. Notes whose metadata was never captured are left out.
func (s *HistoryService) CommentHistory(ctx context.Context, userID string) ([]models.HistoryNote, error) {
	var own []models.StructuredComment
	if err := s.Store.Find(ctx, database.StructuredCommentsCollection, database.Filter{"authorId": userID}, &own); err != nil {
		return nil, fmt.Errorf("finding comments by %s: %w", userID, err)
	}
	if len(own) == 0 {
		return []models.HistoryNote{}, nil
	}

	ownIDs := make(database.In, 0, len(own))
	for _, c := range own {
		ownIDs = append(ownIDs, c.CommentID)
	}
	var replies []models.StructuredComment
	if err := s.Store.Find(ctx, database.StructuredCommentsCollection, database.Filter{"repliedId": ownIDs}, &replies); err != nil {
		return nil, fmt.Errorf("finding replies to %s: %w", userID, err)
	}

	seen := make(map[string]bool)
	byNote := make(map[string][]models.HistoryComment)
	var noteOrder []string
	noteIDs := database.In{}
	for _, c := range append(own, replies...) {
		if c.NoteID == "" || seen[c.CommentID] {
			continue
		}
		seen[c.CommentID] = true
		if _, ok := byNote[c.NoteID]; !ok {
			noteOrder = append(noteOrder, c.NoteID)
			noteIDs = append(noteIDs, c.NoteID)
		}
		byNote[c.NoteID] = append(byNote[c.NoteID], historyComment(c, userID))
	}

	var notes []models.NoteRecord
	if err := s.Store.Find(ctx, database.NotesCollection, database.Filter{"noteId": noteIDs}, &notes); err != nil {
		return nil, fmt.Errorf("finding notes: %w", err)
	}
	noteInfo := make(map[string]models.NoteRecord, len(notes))
	for _, n := range notes {
		noteInfo[n.NoteID] = n
	}

	out := []models.HistoryNote{}
	for _, id := range noteOrder {
		info, ok := noteInfo[id]
		if !ok {
			continue
		}
		comments := byNote[id]
		sort.SliceStable(comments, func(i, j int) bool { return comments[i].Time > comments[j].Time })
		out = append(out, models.HistoryNote{
			NoteID:      id,
			PublishTime: info.PublishTime,
			Title:       info.Title,
			Comments:    comments,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].PublishTime, out[j].PublishTime
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return a.After(*b)
	})

	logger.Info("HistoryService: %s has %d comments and %d replies across %d notes", userID, len(own), len(replies), len(out))
	return out, nil
}

func historyComment(c models.StructuredComment, userID string) models.HistoryComment {
	hc := models.HistoryComment{
		CommentID:        c.CommentID,
		UserID:           c.AuthorID,
		UserName:         c.AuthorName,
		UserAvatar:       c.AuthorAvatar,
		Content:          c.Content,
		ReplyToCommentID: c.RepliedID,
		IsTargetUser:     c.AuthorID != nil && *c.AuthorID == userID,
	}
	if c.Timestamp != nil {
		hc.Time = c.Timestamp.UTC().Format(time.RFC3339)
	}
	return hc
}
