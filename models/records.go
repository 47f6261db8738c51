package models

import (
	"time"
)

// Record is one typed item extracted from an exchange body. The set of
// implementations is closed: CommentRecord, NoteRecord, UserRecord and
// NotificationRecord.
type Record interface {
	Kind() DataKind
	// Key is the natural identifier the record is upserted by.
	Key() string
	isRecord()
}

type CommentRecord struct {
	CommentID       string     `json:"commentId"`
	NoteID          string     `json:"noteId,omitempty"`
	Content         string     `json:"content,omitempty"`
	AuthorID        string     `json:"authorId,omitempty"`
	AuthorName      string     `json:"authorName,omitempty"`
	AuthorAvatar    string     `json:"authorAvatar,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	ParentCommentID string     `json:"parentCommentId,omitempty"`
	LikeCount       *int       `json:"likeCount,omitempty"`
	IPLocation      string     `json:"ipLocation,omitempty"`
}

type NoteRecord struct {
	NoteID          string     `json:"noteId"`
	Title           string     `json:"title,omitempty"`
	NoteContent     string     `json:"noteContent,omitempty"`
	NoteLike        *int       `json:"noteLike,omitempty"`
	NoteCommitCount *int       `json:"noteCommitCount,omitempty"`
	PublishTime     *time.Time `json:"publishTime,omitempty"`
	AuthorID        string     `json:"authorId,omitempty"`
	Cover           string     `json:"cover,omitempty"`
}

type UserRecord struct {
	UserID     string `json:"userId"`
	Nickname   string `json:"nickname,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	Desc       string `json:"desc,omitempty"`
	Gender     *int   `json:"gender,omitempty"`
	IPLocation string `json:"ipLocation,omitempty"`
	Follows    *int   `json:"follows,omitempty"`
	Fans       *int   `json:"fans,omitempty"`
}

type NotificationRecord struct {
	ID           string     `json:"id"`
	Type         string     `json:"type,omitempty"`
	Title        string     `json:"title,omitempty"`
	Content      string     `json:"content,omitempty"`
	QuoteContent string     `json:"quoteContent,omitempty"`
	UserID       string     `json:"userId,omitempty"`
	UserName     string     `json:"userName,omitempty"`
	NoteID       string     `json:"noteId,omitempty"`
	CommentID    string     `json:"commentId,omitempty"`
	Time         *time.Time `json:"time,omitempty"`
}

func (CommentRecord) Kind() DataKind      { return KindComment }
func (NoteRecord) Kind() DataKind         { return KindNote }
func (UserRecord) Kind() DataKind         { return KindUser }
func (NotificationRecord) Kind() DataKind { return KindNotification }

func (r CommentRecord) Key() string      { return r.CommentID }
func (r NoteRecord) Key() string         { return r.NoteID }
func (r UserRecord) Key() string         { return r.UserID }
func (r NotificationRecord) Key() string { return r.ID }

func (CommentRecord) isRecord()      {}
func (NoteRecord) isRecord()         {}
func (UserRecord) isRecord()         {}
func (NotificationRecord) isRecord() {}
