package core

import (
	"regexp"
	"time"

	"capturekit/logger"
	"capturekit/models"
)

var profilePath = regexp.MustCompile(`/user/profile/([^/?#]+)`)

// ParseAuthorID extracts the user id from a profile URL.
func ParseAuthorID(authorURL string) *string {
	if authorURL == "" {
		return nil
	}
	m := profilePath.FindStringSubmatch(authorURL)
	if m == nil {
		logger.Warn("ParseAuthorID: no user id in author url %q", authorURL)
		return nil
	}
	id := m[1]
	return &id
}

// CommentFlattener turns raw comment trees into one StructuredComment per
// node, resolving which comment each reply answers.
type CommentFlattener struct {
	Times *TimeNormalizer
	Now   func() time.Time
}

func NewCommentFlattener(times *TimeNormalizer) *CommentFlattener {
	return &CommentFlattener{Times: times, Now: time.Now}
}

// Flatten walks every tree depth first. Nodes without an id are skipped
// together with their replies.
func (f *CommentFlattener) Flatten(trees ...models.RawCommentNode) []models.StructuredComment {
	times := f.Times
	if times == nil {
		times = NewTimeNormalizer()
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	w := &flattenWalk{times: times, fetched: now().UTC()}
	for _, t := range trees {
		w.visit(t, nil, "", -1, nil)
	}
	return w.out
}

type flattenWalk struct {
	times   *TimeNormalizer
	fetched time.Time
	out     []models.StructuredComment
}

func (w *flattenWalk) visit(node models.RawCommentNode, parent *models.RawCommentNode, noteID string, order int, siblings []models.RawCommentNode) {
	if node.ID == "" {
		logger.Warn("CommentFlattener: skipping comment without id (content %.50q) and its %d replies", node.Content, len(node.Replies))
		return
	}
	if node.NoteID != "" {
		noteID = node.NoteID
	}

	sc := models.StructuredComment{
		CommentID:      node.ID,
		NoteID:         noteID,
		Content:        node.Content,
		AuthorID:       ParseAuthorID(node.AuthorURL),
		AuthorName:     node.AuthorName,
		AuthorAvatar:   node.AuthorAvatar,
		Timestamp:      w.times.Parse(node.Timestamp),
		IPLocation:     node.IPLocation,
		FetchTimestamp: w.fetched,
	}
	if n, ok := node.LikeCount.Int(); ok {
		sc.LikeCount = &n
	}
	if parent != nil {
		target := replyTarget(node, parent, order, siblings)
		sc.RepliedID = &target
		idx := order
		sc.RepliedOrder = &idx
	}
	w.out = append(w.out, sc)

	for i, reply := range node.Replies {
		w.visit(reply, &node, noteID, i, node.Replies)
	}
}

// replyTarget picks the most recent earlier sibling written by the user the
// reply is addressed to, falling back to the parent comment.
func replyTarget(node models.RawCommentNode, parent *models.RawCommentNode, order int, siblings []models.RawCommentNode) string {
	if node.RepliedToUser == "" {
		return parent.ID
	}
	for i := order - 1; i >= 0; i-- {
		s := siblings[i]
		if s.ID != "" && s.AuthorName == node.RepliedToUser {
			return s.ID
		}
	}
	return parent.ID
}
