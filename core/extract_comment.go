package core

import (
	"capturekit/logger"
	"capturekit/models"

	"github.com/tidwall/gjson"
)

var commentListPaths = []string{"data.comments", "data.comment_list", "comments"}

func extractComments(x *extraction, root gjson.Result) {
	if list, ok := firstArray(root, commentListPaths...); ok {
		list.ForEach(func(_, c gjson.Result) bool {
			x.comment(c, "", "")
			return true
		})
		return
	}
	if single, ok := firstObject(root, "data.comment", "comment"); ok {
		x.comment(single, "", "")
	}
}

// comment emits c, its author, the user and note it points at, and any sub
// comments. parentID and noteID are inherited from the enclosing comment when
// c does not carry its own.
func (x *extraction) comment(c gjson.Result, parentID, noteID string) {
	id := firstString(c, "id", "comment_id")
	if id == "" {
		x.dropped++
		logger.Debug("extract comment: dropping comment without id")
		return
	}
	if n := firstString(c, "note_id"); n != "" {
		noteID = n
	}
	note, hasNote := firstObject(c, "note_info", "target_note", "item_info")
	if hasNote && noteID == "" {
		noteID = firstString(note, "note_id", "id")
	}
	author := userFrom(c.Get("user_info"))

	rec := models.CommentRecord{
		CommentID:    id,
		NoteID:       noteID,
		Content:      firstString(c, "content"),
		AuthorID:     author.UserID,
		AuthorName:   author.Nickname,
		AuthorAvatar: author.Avatar,
		Timestamp:    x.firstTime(c, "create_time", "time"),
		LikeCount:    firstCount(c, "like_count"),
		IPLocation:   firstString(c, "ip_location"),
	}
	if target := firstString(c, "target_comment.id"); target != "" {
		rec.ParentCommentID = target
	} else {
		rec.ParentCommentID = parentID
	}
	x.add(rec)
	x.addUser(author)
	x.addUser(userFrom(c.Get("target_comment.user_info")))
	if hasNote {
		x.addNote(embeddedNote(note, noteID))
	} else if firstString(c, "note_id") != "" {
		x.addNote(models.NoteRecord{NoteID: noteID})
	}

	c.Get("sub_comments").ForEach(func(_, sub gjson.Result) bool {
		x.comment(sub, id, noteID)
		return true
	})
}

// embeddedNote reads the partial note a comment carries. Fields it lacks are
// left empty so the stored note keeps them.
func embeddedNote(note gjson.Result, noteID string) models.NoteRecord {
	if id := firstString(note, "note_id", "id"); id != "" {
		noteID = id
	}
	return models.NoteRecord{
		NoteID:      noteID,
		Title:       firstString(note, "title", "display_title"),
		NoteContent: firstString(note, "desc", "content"),
		Cover:       firstString(note, "image", "cover.url_default"),
		AuthorID:    firstString(note, "user_info.userid", "user_info.user_id", "user_id"),
	}
}
