package core

import (
	"errors"
	"testing"
	"time"

	"capturekit/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func testExtractors() *Extractors {
	return NewExtractors(fixedNormalizer())
}

func recordsOf[T models.Record](records []models.Record) []T {
	var out []T
	for _, r := range records {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

const commentPageBody = `{
  "code": 0, "success": true, "msg": "成功",
  "data": {
    "cursor": "abc", "has_more": true,
    "comments": [
      {
        "id": "c1", "note_id": "n1", "content": "第一条评论",
        "create_time": 1710482400000, "like_count": "1.2万", "ip_location": "上海",
        "user_info": {"user_id": "u1", "nickname": "Alice", "image": "https://img/u1.jpg"},
        "sub_comments": [
          {"id": "s1", "content": "回复", "create_time": 1710486000000, "like_count": "3",
           "user_info": {"user_id": "u2", "nickname": "Bob"},
           "target_comment": {"id": "c1", "user_info": {"user_id": "u1"}}},
          {"id": "s2", "content": "楼中楼", "user_info": {"user_id": "u1", "nickname": "Alice"}}
        ]
      },
      {"content": "no id here", "user_info": {"user_id": "u3"}},
      {"id": "c2", "note_id": "n1", "content": "", "user_info": {}}
    ]
  }
}`

func TestExtract_CommentPage(t *testing.T) {
	res, err := testExtractors().Extract(models.KindComment, []byte(commentPageBody), "")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Dropped)
	comments := recordsOf[models.CommentRecord](res.Records)
	require.Len(t, comments, 4)

	c1 := comments[0]
	assert.Equal(t, "c1", c1.CommentID)
	assert.Equal(t, "n1", c1.NoteID)
	assert.Equal(t, "u1", c1.AuthorID)
	assert.Equal(t, "Alice", c1.AuthorName)
	assert.Equal(t, "", c1.ParentCommentID)
	require.NotNil(t, c1.LikeCount)
	assert.Equal(t, 12000, *c1.LikeCount)
	require.NotNil(t, c1.Timestamp)
	assert.Equal(t, time.UnixMilli(1710482400000).UTC(), *c1.Timestamp)

	s1 := comments[1]
	assert.Equal(t, "s1", s1.CommentID)
	assert.Equal(t, "c1", s1.ParentCommentID, "taken from target_comment")
	assert.Equal(t, "n1", s1.NoteID)

	s2 := comments[2]
	assert.Equal(t, "c1", s2.ParentCommentID, "falls back to the enclosing comment")
	assert.Nil(t, s2.Timestamp)

	c2 := comments[3]
	assert.Equal(t, "c2", c2.CommentID)
	assert.Empty(t, c2.AuthorID)
	assert.Nil(t, c2.LikeCount)

	users := recordsOf[models.UserRecord](res.Records)
	require.Len(t, users, 2, "authors are de-duplicated by id")
	assert.Equal(t, "u1", users[0].UserID)
	assert.Equal(t, "https://img/u1.jpg", users[0].Avatar)
	assert.Equal(t, "u2", users[1].UserID)

	notes := recordsOf[models.NoteRecord](res.Records)
	assert.Equal(t, []models.NoteRecord{{NoteID: "n1"}}, notes, "one sparse note per note id")
}

func TestExtract_CommentEmbeddedTargets(t *testing.T) {
	body := `{"success": true, "data": {"comments": [
	  {"id": "c7", "content": "回复你", "user_info": {"user_id": "u7", "nickname": "Seven"},
	   "note_info": {"note_id": "n7", "title": "旅行", "image": "https://img/n7.jpg", "user_info": {"userid": "u0"}},
	   "target_comment": {"id": "c6", "user_info": {"user_id": "u6", "nickname": "Six"}}}
	]}}`
	res, err := testExtractors().Extract(models.KindComment, []byte(body), "")
	require.NoError(t, err)

	comments := recordsOf[models.CommentRecord](res.Records)
	require.Len(t, comments, 1)
	assert.Equal(t, "n7", comments[0].NoteID, "note id taken from the embedded note")
	assert.Equal(t, "c6", comments[0].ParentCommentID)

	users := recordsOf[models.UserRecord](res.Records)
	require.Len(t, users, 2)
	assert.Equal(t, "u7", users[0].UserID)
	assert.Equal(t, models.UserRecord{UserID: "u6", Nickname: "Six"}, users[1], "target comment author")

	notes := recordsOf[models.NoteRecord](res.Records)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NoteRecord{NoteID: "n7", Title: "旅行", Cover: "https://img/n7.jpg", AuthorID: "u0"}, notes[0])
}

func TestExtract_SingleComment(t *testing.T) {
	body := `{"success": true, "data": {"comment": {"id": "c9", "note_id": "n9", "content": "hi", "user_info": {"user_id": "u9"}}}}`
	res, err := testExtractors().Extract(models.KindComment, []byte(body), "")
	require.NoError(t, err)
	comments := recordsOf[models.CommentRecord](res.Records)
	require.Len(t, comments, 1)
	assert.Equal(t, "c9", comments[0].CommentID)
}

func TestExtract_AlternateCommentPath(t *testing.T) {
	body := `{"data": {"comments": [], "comment_list": [{"id": "c5", "content": "v2 shape"}]}}`
	res, err := testExtractors().Extract(models.KindComment, []byte(body), "")
	require.NoError(t, err)
	comments := recordsOf[models.CommentRecord](res.Records)
	require.Len(t, comments, 1)
	assert.Equal(t, "c5", comments[0].CommentID)
}

func TestExtract_UpstreamFailure(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"success false", `{"success": false, "code": -100, "msg": "登录已过期", "data": {"comments": [{"id": "c1"}]}}`},
		{"non-zero code without success", `{"code": 300012, "msg": "网络连接异常"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := testExtractors().Extract(models.KindComment, []byte(tt.body), "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUpstreamFailure))
			assert.Empty(t, res.Records)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestExtract_SuccessTrueWithCodeIsNotFailure(t *testing.T) {
	body := `{"success": true, "code": 1000, "data": {"comments": [{"id": "c1"}]}}`
	res, err := testExtractors().Extract(models.KindComment, []byte(body), "")
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
}

func TestExtract_LocalParseErrors(t *testing.T) {
	_, err := testExtractors().Extract(models.KindComment, []byte("   "), "")
	assert.ErrorIs(t, err, ErrEmptyBody)

	_, err = testExtractors().Extract(models.KindComment, []byte("<html>blocked</html>"), "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUpstreamFailure))

	_, err = testExtractors().Extract(models.DataKind("video"), []byte("{}"), "")
	assert.Error(t, err)
}

func TestExtract_Notifications(t *testing.T) {
	body := `{
	  "code": 0, "success": true,
	  "data": {"message_list": [
	    {
	      "id": "m1", "type": "comment/comment", "title": "回复了你的评论", "time": 1710400000,
	      "user_info": {"userid": "u7", "nickname": "Grace", "image": "https://img/u7.jpg"},
	      "item_info": {"id": "n3", "content": "笔记正文", "image": "https://img/n3.jpg", "user_info": {"userid": "u1"}},
	      "comment_info": {"id": "c30", "content": "谢谢分享",
	        "target_comment": {"id": "c29", "content": "原评论", "user_info": {"userid": "u1", "nickname": "Alice"}}}
	    },
	    {"id": "m2", "type": "liked/note", "user_info": {"userid": "u7"}, "item_info": {"id": "n3"}},
	    {"type": "broken"}
	  ]}
	}`
	res, err := testExtractors().Extract(models.KindNotification, []byte(body), "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)

	notes := recordsOf[models.NotificationRecord](res.Records)
	require.Len(t, notes, 2)
	assert.Equal(t, "m1", notes[0].ID)
	assert.Equal(t, "谢谢分享", notes[0].Content)
	assert.Equal(t, "原评论", notes[0].QuoteContent)
	assert.Equal(t, "n3", notes[0].NoteID)
	assert.Equal(t, "c30", notes[0].CommentID)
	require.NotNil(t, notes[0].Time)
	assert.Equal(t, time.Unix(1710400000, 0).UTC(), *notes[0].Time)

	comments := recordsOf[models.CommentRecord](res.Records)
	require.Len(t, comments, 1)
	assert.Equal(t, "c30", comments[0].CommentID)
	assert.Equal(t, "c29", comments[0].ParentCommentID)
	assert.Equal(t, "u7", comments[0].AuthorID)
	assert.Equal(t, "n3", comments[0].NoteID)

	noteRecs := recordsOf[models.NoteRecord](res.Records)
	require.Len(t, noteRecs, 1, "target note emitted once")
	assert.Equal(t, "笔记正文", noteRecs[0].NoteContent)
	assert.Equal(t, "u1", noteRecs[0].AuthorID)

	users := recordsOf[models.UserRecord](res.Records)
	require.Len(t, users, 2)
	assert.Equal(t, "u7", users[0].UserID)
	assert.Equal(t, "u1", users[1].UserID)
}

func TestExtract_NoteFeed(t *testing.T) {
	body := `{"success": true, "data": {"items": [
	  {"id": "n1", "model_type": "note", "note_card": {
	    "title": "标题", "desc": "正文", "time": 1700000000000,
	    "user": {"user_id": "u1", "nickname": "Alice"},
	    "interact_info": {"liked_count": "1.5万", "comment_count": "88"},
	    "image_list": [{"url_default": "https://img/cover.jpg"}]}},
	  {"model_type": "note", "note_card": {"title": "missing id"}}
	]}}`
	res, err := testExtractors().Extract(models.KindNote, []byte(body), "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)

	notes := recordsOf[models.NoteRecord](res.Records)
	require.Len(t, notes, 1)
	n := notes[0]
	assert.Equal(t, "n1", n.NoteID)
	assert.Equal(t, "标题", n.Title)
	assert.Equal(t, "正文", n.NoteContent)
	assert.Equal(t, 15000, *n.NoteLike)
	assert.Equal(t, 88, *n.NoteCommitCount)
	assert.Equal(t, "u1", n.AuthorID)
	assert.Equal(t, "https://img/cover.jpg", n.Cover)
	require.NotNil(t, n.PublishTime)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), *n.PublishTime)

	assert.Len(t, recordsOf[models.UserRecord](res.Records), 1)
}

func TestExtract_UserProfileUsesQueryID(t *testing.T) {
	body := `{"success": true, "data": {
	  "basic_info": {"nickname": "Alice", "desc": "简介", "gender": 1, "ip_location": "浙江", "images": "https://img/a.jpg"},
	  "interactions": [{"type": "follows", "count": "12"}, {"type": "fans", "count": "3.4万"}, {"type": "interaction", "count": "9"}]
	}}`
	res, err := testExtractors().Extract(models.KindUser, []byte(body), "https://edith.xiaohongshu.com/api/sns/web/v1/user/otherinfo?target_user_id=u42")
	require.NoError(t, err)

	users := recordsOf[models.UserRecord](res.Records)
	require.Len(t, users, 1)
	u := users[0]
	assert.Equal(t, "u42", u.UserID)
	assert.Equal(t, "Alice", u.Nickname)
	assert.Equal(t, "https://img/a.jpg", u.Avatar)
	assert.Equal(t, 1, *u.Gender)
	assert.Equal(t, 12, *u.Follows)
	assert.Equal(t, 34000, *u.Fans)
}

func TestExtract_UserWithoutAnyIDIsDropped(t *testing.T) {
	body := `{"success": true, "data": {"user_info": {"nickname": "nobody"}}}`
	res, err := testExtractors().Extract(models.KindUser, []byte(body), "https://host/api/sns/web/v2/user/me")
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Dropped)
}

func TestExtract_SearchFansOut(t *testing.T) {
	body := `{"success": true, "data": {"has_more": true, "items": [
	  {"id": "n1", "model_type": "note", "note_card": {"display_title": "搜索结果", "user": {"user_id": "u1", "nickname": "Alice"}}},
	  {"id": "hq", "model_type": "hot_query", "hot_query": {"queries": []}},
	  {"user_info": {"user_id": "u2", "nickname": "Bob"}},
	  {"id": "n2", "note_info": {"note_id": "n2", "title": "second", "user": {"user_id": "u1"}}}
	]}}`
	for _, kind := range []models.DataKind{models.KindSearch, models.KindRecommendation} {
		res, err := testExtractors().Extract(kind, []byte(body), "")
		require.NoError(t, err)
		assert.Zero(t, res.Dropped)

		notes := recordsOf[models.NoteRecord](res.Records)
		require.Len(t, notes, 2)
		assert.Equal(t, "搜索结果", notes[0].Title)
		assert.Equal(t, "n2", notes[1].NoteID)

		users := recordsOf[models.UserRecord](res.Records)
		require.Len(t, users, 2)
		assert.Equal(t, "u1", users[0].UserID)
		assert.Equal(t, "u2", users[1].UserID)
	}
}

func TestParseCount(t *testing.T) {
	cases := map[string]*int{
		`12`:       intPtr(12),
		`"12"`:     intPtr(12),
		`"1.2万"`:   intPtr(12000),
		`"10+"`:    intPtr(10),
		`"2w"`:     intPtr(20000),
		`"赞"`:      nil,
		`null`:     nil,
		`{"a": 1}`: nil,
	}
	for raw, want := range cases {
		got := parseCount(gjson.Parse(raw))
		if want == nil {
			assert.Nil(t, got, raw)
			continue
		}
		require.NotNil(t, got, raw)
		assert.Equal(t, *want, *got, raw)
	}
}

func intPtr(n int) *int { return &n }
