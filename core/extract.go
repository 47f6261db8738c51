package core

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"capturekit/models"

	"github.com/tidwall/gjson"
)

// ExtractResult holds the typed records found in one response body.
// Dropped counts items that were present but lacked their identifier.
type ExtractResult struct {
	Records []models.Record
	Dropped int
	// Reason is set when the upstream envelope reported a failure.
	Reason string
}

// Extractors decodes response bodies into records, one function per kind.
type Extractors struct {
	Times *TimeNormalizer
}

func NewExtractors(times *TimeNormalizer) *Extractors {
	return &Extractors{Times: times}
}

type kindExtractor func(x *extraction, root gjson.Result)

var extractorsByKind = map[models.DataKind]kindExtractor{
	models.KindComment:        extractComments,
	models.KindNotification:   extractNotifications,
	models.KindNote:           extractNotes,
	models.KindUser:           extractUsers,
	models.KindSearch:         extractFeed,
	models.KindRecommendation: extractFeed,
}

// Extract parses body as the given kind. sourceURL is the request URL of
// the exchange; some endpoints carry the record id only there.
func (e *Extractors) Extract(kind models.DataKind, body []byte, sourceURL string) (ExtractResult, error) {
	fn, ok := extractorsByKind[kind]
	if !ok {
		return ExtractResult{}, fmt.Errorf("no extractor for kind %q", kind)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return ExtractResult{}, ErrEmptyBody
	}
	if !gjson.ValidBytes(body) {
		return ExtractResult{}, fmt.Errorf("response body is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if reason, failed := envelopeFailure(root); failed {
		return ExtractResult{Reason: reason}, fmt.Errorf("%s: %w", reason, ErrUpstreamFailure)
	}

	times := e.Times
	if times == nil {
		times = NewTimeNormalizer()
	}
	x := &extraction{
		times:     times,
		source:    parseSourceURL(sourceURL),
		seenUsers: make(map[string]bool),
		seenNotes: make(map[string]bool),
	}
	fn(x, root)
	return ExtractResult{Records: x.records, Dropped: x.dropped}, nil
}

// envelopeFailure reports an explicit success:false, or a non-zero code
// when no success flag is present.
func envelopeFailure(root gjson.Result) (string, bool) {
	success := root.Get("success")
	code := root.Get("code")
	msg := firstString(root, "msg", "message", "error")
	switch {
	case success.Exists() && success.Type == gjson.False:
		if msg == "" {
			msg = "success=false"
		}
		return fmt.Sprintf("upstream error (code %s): %s", codeText(code), msg), true
	case !success.Exists() && code.Exists() && code.Int() != 0:
		if msg == "" {
			msg = "non-zero code"
		}
		return fmt.Sprintf("upstream error (code %s): %s", codeText(code), msg), true
	}
	return "", false
}

func codeText(code gjson.Result) string {
	if !code.Exists() {
		return "none"
	}
	return code.String()
}

// extraction accumulates records for one body. Embedded users and notes
// are emitted once per id.
type extraction struct {
	times     *TimeNormalizer
	source    url.Values
	records   []models.Record
	dropped   int
	seenUsers map[string]bool
	seenNotes map[string]bool
}

func parseSourceURL(raw string) url.Values {
	if raw == "" {
		return url.Values{}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return url.Values{}
	}
	return u.Query()
}

func (x *extraction) add(r models.Record) {
	x.records = append(x.records, r)
}

func (x *extraction) addUser(u models.UserRecord) {
	if u.UserID == "" || x.seenUsers[u.UserID] {
		return
	}
	x.seenUsers[u.UserID] = true
	x.add(u)
}

func (x *extraction) addNote(n models.NoteRecord) {
	if n.NoteID == "" || x.seenNotes[n.NoteID] {
		return
	}
	x.seenNotes[n.NoteID] = true
	x.add(n)
}

// firstArray returns the first candidate path holding a non-empty array.
func firstArray(root gjson.Result, paths ...string) (gjson.Result, bool) {
	for _, p := range paths {
		r := root.Get(p)
		if r.IsArray() && len(r.Array()) > 0 {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// firstObject returns the first candidate path holding an object.
func firstObject(root gjson.Result, paths ...string) (gjson.Result, bool) {
	for _, p := range paths {
		r := root.Get(p)
		if r.IsObject() {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// firstString returns the first candidate path holding a non-empty scalar.
func firstString(obj gjson.Result, paths ...string) string {
	for _, p := range paths {
		r := obj.Get(p)
		if !r.Exists() || r.IsObject() || r.IsArray() || r.Type == gjson.Null {
			continue
		}
		if s := strings.TrimSpace(r.String()); s != "" {
			return s
		}
	}
	return ""
}

// parseCount reads counters that arrive as numbers or as display text such
// as "1.2万" or "10+".
func parseCount(r gjson.Result) *int {
	switch r.Type {
	case gjson.Number:
		n := int(r.Int())
		return &n
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		s = strings.TrimSuffix(s, "+")
		mult := 1.0
		switch {
		case strings.HasSuffix(s, "万"):
			mult, s = 10000, strings.TrimSuffix(s, "万")
		case strings.HasSuffix(s, "w"), strings.HasSuffix(s, "W"):
			mult, s = 10000, s[:len(s)-1]
		case strings.HasSuffix(s, "千"):
			mult, s = 1000, strings.TrimSuffix(s, "千")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		n := int(f*mult + 0.5)
		return &n
	}
	return nil
}

func firstCount(obj gjson.Result, paths ...string) *int {
	for _, p := range paths {
		if n := parseCount(obj.Get(p)); n != nil {
			return n
		}
	}
	return nil
}

// parseTime accepts epoch milliseconds, epoch seconds or any display form
// the TimeNormalizer understands.
func (x *extraction) parseTime(r gjson.Result) *time.Time {
	var n int64
	switch r.Type {
	case gjson.Number:
		n = r.Int()
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return x.times.Parse(s)
		}
		n = v
	default:
		return nil
	}
	if n <= 0 {
		return nil
	}
	var t time.Time
	if n > 1e12 {
		t = time.UnixMilli(n).UTC()
	} else {
		t = time.Unix(n, 0).UTC()
	}
	return &t
}

func (x *extraction) firstTime(obj gjson.Result, paths ...string) *time.Time {
	for _, p := range paths {
		if t := x.parseTime(obj.Get(p)); t != nil {
			return t
		}
	}
	return nil
}

// userFrom reads the user shapes used across endpoints.
func userFrom(u gjson.Result) models.UserRecord {
	rec := models.UserRecord{
		UserID:     firstString(u, "user_id", "userid", "userId", "id"),
		Nickname:   firstString(u, "nickname", "nick_name", "name"),
		Avatar:     firstString(u, "image", "avatar", "images"),
		Desc:       firstString(u, "desc", "description"),
		IPLocation: firstString(u, "ip_location"),
	}
	if g := u.Get("gender"); g.Type == gjson.Number {
		n := int(g.Int())
		rec.Gender = &n
	}
	return rec
}
