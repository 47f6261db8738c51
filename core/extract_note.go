package core

import (
	"capturekit/logger"
	"capturekit/models"

	"github.com/tidwall/gjson"
)

func extractNotes(x *extraction, root gjson.Result) {
	if list, ok := firstArray(root, "data.items", "data.notes"); ok {
		list.ForEach(func(_, item gjson.Result) bool {
			x.noteItem(item)
			return true
		})
		return
	}
	if single, ok := firstObject(root, "data.note_info", "data.note", "data.note_card"); ok {
		x.noteItem(single)
	}
}

// noteItem reads a note that may be wrapped in note_card or note_info.
func (x *extraction) noteItem(item gjson.Result) {
	card := item
	if c, ok := firstObject(item, "note_card", "note_info"); ok {
		card = c
	}
	id := firstString(card, "note_id", "noteId", "id")
	if id == "" {
		id = firstString(item, "id", "note_id")
	}
	if id == "" {
		x.dropped++
		logger.Debug("extract note: dropping note without id")
		return
	}
	author := userFrom(card.Get("user"))
	if author.UserID == "" {
		author = userFrom(card.Get("user_info"))
	}

	rec := models.NoteRecord{
		NoteID:          id,
		Title:           firstString(card, "title", "display_title"),
		NoteContent:     firstString(card, "desc", "content"),
		NoteLike:        firstCount(card, "interact_info.liked_count", "liked_count"),
		NoteCommitCount: firstCount(card, "interact_info.comment_count", "comment_count"),
		PublishTime:     x.firstTime(card, "time", "publish_time"),
		AuthorID:        author.UserID,
		Cover:           firstString(card, "cover.url_default", "cover.url", "image_list.0.url_default"),
	}
	x.addNote(rec)
	x.addUser(author)
}
