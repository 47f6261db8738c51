package core

import (
	"capturekit/logger"
	"capturekit/models"

	"github.com/tidwall/gjson"
)

var notificationListPaths = []string{"data.message_list", "data.items", "data.notifications"}

// extractNotifications handles mention and comment notifications. An item
// that embeds a comment also yields that comment, its target note and the
// sending user.
func extractNotifications(x *extraction, root gjson.Result) {
	list, ok := firstArray(root, notificationListPaths...)
	if !ok {
		return
	}
	list.ForEach(func(_, item gjson.Result) bool {
		x.notification(item)
		return true
	})
}

func (x *extraction) notification(item gjson.Result) {
	id := firstString(item, "id")
	if id == "" {
		x.dropped++
		logger.Debug("extract notification: dropping item without id")
		return
	}
	sender := userFrom(item.Get("user_info"))
	note := item.Get("item_info")
	comment := item.Get("comment_info")
	when := x.firstTime(item, "time", "create_time")

	rec := models.NotificationRecord{
		ID:           id,
		Type:         firstString(item, "type"),
		Title:        firstString(item, "title"),
		Content:      firstString(item, "comment_info.content", "content"),
		QuoteContent: firstString(item, "comment_info.target_comment.content", "quote_content"),
		UserID:       sender.UserID,
		UserName:     sender.Nickname,
		NoteID:       firstString(note, "id", "note_id"),
		CommentID:    firstString(comment, "id"),
		Time:         when,
	}
	x.add(rec)

	if rec.CommentID != "" {
		x.add(models.CommentRecord{
			CommentID:       rec.CommentID,
			NoteID:          rec.NoteID,
			Content:         firstString(comment, "content"),
			AuthorID:        sender.UserID,
			AuthorName:      sender.Nickname,
			AuthorAvatar:    sender.Avatar,
			Timestamp:       when,
			ParentCommentID: firstString(comment, "target_comment.id"),
			LikeCount:       firstCount(comment, "like_count"),
		})
	}
	if rec.NoteID != "" {
		x.addNote(models.NoteRecord{
			NoteID:      rec.NoteID,
			NoteContent: firstString(note, "content", "desc"),
			Cover:       firstString(note, "image", "cover.url_default"),
			AuthorID:    firstString(note, "user_info.userid", "user_info.user_id"),
		})
	}
	x.addUser(sender)
	x.addUser(userFrom(comment.Get("target_comment.user_info")))
}
