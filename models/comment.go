package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// FlexString accepts either a JSON string or a JSON number and keeps the
// textual form. Like counts arrive as "12", 12 or "1.2万" depending on the
// client version.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Int returns the numeric value when the text is a plain integer.
func (f FlexString) Int() (int, bool) {
	n, err := strconv.Atoi(string(f))
	if err != nil {
		return 0, false
	}
	return n, true
}

// RawCommentNode is a comment as scraped from the page, with its nested
// replies. Top-level nodes are keyed by (id, noteId).
//
// Scalars are always encoded, empty or not, so a stored tree can be
// overwritten with an empty value the scraper really sent.
type RawCommentNode struct {
	ID             string           `json:"id"`
	NoteID         string           `json:"noteId"`
	AuthorName     string           `json:"authorName"`
	AuthorURL      string           `json:"authorUrl"`
	AuthorAvatar   string           `json:"authorAvatar"`
	Content        string           `json:"content"`
	RepliedToUser  string           `json:"repliedToUser"`
	Timestamp      string           `json:"timestamp"`
	LikeCount      FlexString       `json:"likeCount"`
	IPLocation     string           `json:"ipLocation"`
	Replies        []RawCommentNode `json:"replies,omitempty"`
	FetchTimestamp *time.Time       `json:"fetchTimestamp,omitempty"`

	// sent holds the JSON keys n was decoded from; nil for nodes built in code.
	sent map[string]bool
}

func (n *RawCommentNode) UnmarshalJSON(data []byte) error {
	type plain RawCommentNode
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*n = RawCommentNode(p)
	n.sent = make(map[string]bool, len(keys))
	for k := range keys {
		n.sent[k] = true
	}
	return nil
}

// Sent reports whether the field with the given JSON name carries a value
// from the capture. For a decoded node that means the key was present, even
// with an empty value; for a node built in code, that value is non-empty.
func (n RawCommentNode) Sent(field string, value string) bool {
	if n.sent != nil {
		return n.sent[field]
	}
	return value != ""
}

// Depth returns the number of levels in the tree rooted at n.
func (n RawCommentNode) Depth() int {
	deepest := 0
	for _, r := range n.Replies {
		if d := r.Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

// StructuredComment is one flattened comment. Timestamp is written only on
// first insert; everything else follows the latest capture.
type StructuredComment struct {
	CommentID      string     `json:"commentId"`
	NoteID         string     `json:"noteId,omitempty"`
	Content        string     `json:"content,omitempty"`
	AuthorID       *string    `json:"authorId"`
	AuthorName     string     `json:"authorName,omitempty"`
	AuthorAvatar   string     `json:"authorAvatar,omitempty"`
	Timestamp      *time.Time `json:"timestamp"`
	RepliedID      *string    `json:"repliedId"`
	RepliedOrder   *int       `json:"repliedOrder"`
	LikeCount      *int       `json:"likeCount,omitempty"`
	IPLocation     string     `json:"ipLocation,omitempty"`
	FetchTimestamp time.Time  `json:"fetchTimestamp"`
}

type StructuredWriteResult struct {
	Upserted int `json:"upserted"`
	Matched  int `json:"matched"`
	Failed   int `json:"failed"`
}

// CommentIngestResult summarizes one POST of raw comment trees.
type CommentIngestResult struct {
	Inserted   int                   `json:"inserted"`
	Updated    int                   `json:"updated"`
	Skipped    int                   `json:"skipped"`
	Structured StructuredWriteResult `json:"structured"`
}

type HistoryComment struct {
	CommentID        string  `json:"commentId"`
	UserID           *string `json:"userId"`
	UserName         string  `json:"userName"`
	UserAvatar       string  `json:"userAvatar,omitempty"`
	Content          string  `json:"content"`
	Time             string  `json:"time"`
	ReplyToCommentID *string `json:"replyToCommentId"`
	IsTargetUser     bool    `json:"isTargetUser"`
}

type HistoryNote struct {
	NoteID      string           `json:"noteId"`
	PublishTime *time.Time       `json:"publishTime"`
	Title       string           `json:"title"`
	Comments    []HistoryComment `json:"comments"`
}
