package models

import "time"

// UserAnnotation is a free-text note an operator keeps about a user.
// LinkedCommentID is filled once by the linker and never recomputed.
type UserAnnotation struct {
	UserID          string    `json:"userId"`
	AnnotationKey   string    `json:"annotationKey"`
	NoteText        string    `json:"noteText"`
	RawContentHint  *string   `json:"rawContentHint"`
	LinkedCommentID *string   `json:"linkedCommentId"`
	Editor          *string   `json:"editor"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// LinkResult reports one relink pass over pending annotations.
type LinkResult struct {
	Scanned int `json:"scanned"`
	Linked  int `json:"linked"`
	Failed  int `json:"failed"`
}
