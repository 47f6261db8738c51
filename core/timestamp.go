package core

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"capturekit/logger"
)

var (
	daysAgoWithRegion = regexp.MustCompile(`^(\d+)\s*天前\s+.*`)
	isoDateOnly       = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:\s+\D.*)?$`)
	chineseDate       = regexp.MustCompile(`^(\d{4})年(\d{1,2})月(\d{1,2})日`)
	monthDay          = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})(?:\s+\D.*)?$`)
	yesterdayClock    = regexp.MustCompile(`^昨天\s*(\d{1,2}):(\d{2})`)
	todayClock        = regexp.MustCompile(`^今天\s*(\d{1,2}):(\d{2})`)
	daysAgo           = regexp.MustCompile(`^(\d+)\s*天前$`)
	hoursAgo          = regexp.MustCompile(`^(\d+)\s*小时前`)
	minutesAgo        = regexp.MustCompile(`^(\d+)\s*分钟前`)
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// TimeNormalizer turns the display timestamps of the web client into
// instants. Relative forms are resolved against Now, calendar forms in
// Location.
type TimeNormalizer struct {
	Now      func() time.Time
	Location *time.Location
}

func NewTimeNormalizer() *TimeNormalizer {
	return &TimeNormalizer{Now: time.Now, Location: time.Local}
}

func (tn *TimeNormalizer) now() time.Time {
	loc := tn.loc()
	if tn.Now == nil {
		return time.Now().In(loc)
	}
	return tn.Now().In(loc)
}

func (tn *TimeNormalizer) loc() *time.Location {
	if tn == nil || tn.Location == nil {
		return time.Local
	}
	return tn.Location
}

// date builds a calendar date, rejecting values time.Date would normalize.
func (tn *TimeNormalizer) date(year, month, day int) (time.Time, bool) {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, tn.loc())
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Parse returns nil when raw is empty or in no recognized format.
func (tn *TimeNormalizer) Parse(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	t, ok := tn.parse(s)
	if !ok {
		logger.Warn("TimeNormalizer: unrecognized timestamp format %q", raw)
		return nil
	}
	return &t
}

func (tn *TimeNormalizer) parse(s string) (time.Time, bool) {
	now := tn.now()

	if m := daysAgoWithRegion.FindStringSubmatch(s); m != nil {
		return now.AddDate(0, 0, -atoi(m[1])), true
	}
	if s == "刚刚" {
		return now, true
	}
	if m := isoDateOnly.FindStringSubmatch(s); m != nil {
		return tn.date(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := chineseDate.FindStringSubmatch(s); m != nil {
		return tn.date(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	if m := monthDay.FindStringSubmatch(s); m != nil {
		month, day := atoi(m[1]), atoi(m[2])
		t, ok := tn.date(now.Year(), month, day)
		if ok && t.After(now) {
			t, ok = tn.date(now.Year()-1, month, day)
		}
		return t, ok
	}
	if m := yesterdayClock.FindStringSubmatch(s); m != nil {
		return tn.clock(now.AddDate(0, 0, -1), m[1], m[2])
	}
	if m := todayClock.FindStringSubmatch(s); m != nil {
		return tn.clock(now, m[1], m[2])
	}
	if m := daysAgo.FindStringSubmatch(s); m != nil {
		return now.AddDate(0, 0, -atoi(m[1])), true
	}
	if m := hoursAgo.FindStringSubmatch(s); m != nil {
		return now.Add(-time.Duration(atoi(m[1])) * time.Hour), true
	}
	if m := minutesAgo.FindStringSubmatch(s); m != nil {
		return now.Add(-time.Duration(atoi(m[1])) * time.Minute), true
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, tn.loc()); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (tn *TimeNormalizer) clock(day time.Time, hh, mm string) (time.Time, bool) {
	hour, minute := atoi(hh), atoi(mm)
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, tn.loc()), true
}
