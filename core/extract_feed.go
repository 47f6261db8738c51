package core

import (
	"github.com/tidwall/gjson"
)

// extractFeed handles search results and the home feed. Items are notes
// with an embedded author, or user cards.
func extractFeed(x *extraction, root gjson.Result) {
	list, ok := firstArray(root, "data.items", "data.notes", "items")
	if !ok {
		return
	}
	list.ForEach(func(_, item gjson.Result) bool {
		switch {
		case item.Get("note_card").Exists(), item.Get("note_info").Exists(), item.Get("model_type").String() == "note":
			x.noteItem(item)
		case item.Get("user_info").IsObject():
			x.profile(item.Get("user_info"), gjson.Result{}, "")
		case item.Get("user").IsObject() && item.Get("model_type").String() == "user":
			x.profile(item.Get("user"), gjson.Result{}, "")
		default:
			// Ads, hot query bars and other widgets carry no records.
		}
		return true
	})
}
