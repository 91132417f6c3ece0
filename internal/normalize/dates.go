package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// maxRelativeAge bounds "N units ago" phrases; larger ages are not dates.
const maxRelativeAge = 20 * 365 * 24 * time.Hour

var relativePattern = regexp.MustCompile(`(\d+)\+?\s*(minute|min|hour|hr|day|week|month)s?\s+ago`)

// ParseDate accepts ISO-8601 timestamps and relative phrases ("today",
// "yesterday", "3 days ago") resolved against now. Anything else yields nil.
func ParseDate(raw string, now time.Time) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "yesterday"):
		t := now.Add(-24 * time.Hour)
		return &t
	case strings.Contains(lower, "today"), strings.Contains(lower, "just posted"), strings.Contains(lower, "just now"):
		t := now
		return &t
	}

	if m := relativePattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		var unit time.Duration
		switch m[2] {
		case "minute", "min":
			unit = time.Minute
		case "hour", "hr":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		case "week":
			unit = 7 * 24 * time.Hour
		case "month":
			unit = 30 * 24 * time.Hour
		}
		if int64(n) > int64(maxRelativeAge/unit) {
			return nil
		}
		t := now.Add(-time.Duration(n) * unit)
		return &t
	}

	return nil
}

// ParseEpoch converts a numeric timestamp in seconds or milliseconds.
func ParseEpoch(v float64) *time.Time {
	if v <= 0 {
		return nil
	}
	var t time.Time
	if v > 1e11 {
		t = time.UnixMilli(int64(v)).UTC()
	} else {
		t = time.Unix(int64(v), 0).UTC()
	}
	return &t
}
