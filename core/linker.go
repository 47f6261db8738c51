package core

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"capturekit/database"
	"capturekit/logger"
	"capturekit/models"
)

// SimilarityThreshold is the lowest fuzzy score that still links.
const SimilarityThreshold = 0.3

// LinkCandidate is the part of a structured comment the linker compares.
type LinkCandidate struct {
	CommentID string `json:"commentId"`
	Content   string `json:"content"`
}

// CommentFinder returns the comments written by a user in a stable order.
type CommentFinder interface {
	CommentsByAuthor(ctx context.Context, authorID string) ([]LinkCandidate, error)
}

// StoreCommentFinder reads candidates from structured_comments.
type StoreCommentFinder struct {
	Store database.Gateway
}

func (f StoreCommentFinder) CommentsByAuthor(ctx context.Context, authorID string) ([]LinkCandidate, error) {
	var out []LinkCandidate
	if err := f.Store.Find(ctx, database.StructuredCommentsCollection, database.Filter{"authorId": authorID}, &out); err != nil {
		return nil, fmt.Errorf("finding comments by %s: %w", authorID, err)
	}
	return out, nil
}

// AnnotationLinker ties an annotation to the comment its content hint was
// copied from: an exact match on normalized text first, then the closest
// edit-distance match at or above the threshold.
type AnnotationLinker struct {
	Comments  CommentFinder
	Threshold float64
}

func NewAnnotationLinker(comments CommentFinder) *AnnotationLinker {
	return &AnnotationLinker{Comments: comments, Threshold: SimilarityThreshold}
}

// Link returns a with LinkedCommentID filled when a match is found. An
// annotation that is already linked is returned untouched. Finding no match
// is not an error.
func (l *AnnotationLinker) Link(ctx context.Context, a models.UserAnnotation) (models.UserAnnotation, error) {
	if a.LinkedCommentID != nil {
		return a, nil
	}
	if a.UserID == "" || a.RawContentHint == nil {
		return a, nil
	}
	hint := normalizeContent(*a.RawContentHint)
	if hint == "" {
		return a, nil
	}

	candidates, err := l.Comments.CommentsByAuthor(ctx, a.UserID)
	if err != nil {
		return a, err
	}
	if len(candidates) == 0 {
		logger.Debug("AnnotationLinker: user %s has no comments", a.UserID)
		return a, nil
	}

	if id, ok := l.match(hint, candidates); ok {
		a.LinkedCommentID = &id
	}
	return a, nil
}

func (l *AnnotationLinker) match(hint string, candidates []LinkCandidate) (string, bool) {
	normalized := make([]string, len(candidates))
	for i, c := range candidates {
		normalized[i] = normalizeContent(c.Content)
		if normalized[i] == hint {
			logger.Debug("AnnotationLinker: exact match %s", c.CommentID)
			return c.CommentID, true
		}
	}

	threshold := l.Threshold
	if threshold <= 0 {
		threshold = SimilarityThreshold
	}
	best, bestScore := -1, 0.0
	for i, n := range normalized {
		score := similarity(hint, n)
		if score >= threshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return "", false
	}
	logger.Debug("AnnotationLinker: fuzzy match %s (%.2f)", candidates[best].CommentID, bestScore)
	return candidates[best].CommentID, true
}

// normalizeContent keeps CJK ideographs, Latin letters and digits, lower
// cased.
func normalizeContent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 0x4e00 && r <= 0x9fa5:
			b.WriteRune(r)
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// similarity is 1 - lev(a, b) / max(len(a), len(b)) over runes.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, ca := range a {
		cur[0] = i + 1
		for j, cb := range b {
			cost := 1
			if ca == cb {
				cost = 0
			}
			cur[j+1] = min(prev[j+1]+1, cur[j]+1, prev[j]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
