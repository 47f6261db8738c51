package core

import (
	"capturekit/logger"

	"github.com/tidwall/gjson"
)

// extractUsers handles profile responses. The profile endpoint carries the
// user id only in the request query, so target_user_id/user_id from the
// exchange URL fills in when the body has none.
func extractUsers(x *extraction, root gjson.Result) {
	if list, ok := firstArray(root, "data.users"); ok {
		list.ForEach(func(_, u gjson.Result) bool {
			x.profile(u, gjson.Result{}, "")
			return true
		})
		return
	}
	obj, ok := firstObject(root, "data.basic_info", "data.user_info", "data.user")
	if !ok {
		return
	}
	fallback := x.source.Get("target_user_id")
	if fallback == "" {
		fallback = x.source.Get("user_id")
	}
	x.profile(obj, root.Get("data.interactions"), fallback)
}

func (x *extraction) profile(u, interactions gjson.Result, fallbackID string) {
	rec := userFrom(u)
	if rec.UserID == "" {
		rec.UserID = fallbackID
	}
	if rec.UserID == "" {
		x.dropped++
		logger.Debug("extract user: dropping profile without id")
		return
	}
	interactions.ForEach(func(_, it gjson.Result) bool {
		switch it.Get("type").String() {
		case "follows":
			rec.Follows = parseCount(it.Get("count"))
		case "fans":
			rec.Fans = parseCount(it.Get("count"))
		}
		return true
	})
	x.addUser(rec)
}
