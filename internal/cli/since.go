// Package cli holds small parsers shared by ssync flags.
package cli

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Matches "2h ago", "30m", "1d", "2w ago", "1mo".
var agoRegex = regexp.MustCompile(`^(\d+)\s*(mo|w|d|h|m|s)(?:\s+ago)?$`)

// ParseSince resolves a lower time bound for history filtering.
// Accepted: "today", "yesterday", "<n><unit>[ ago]" with units s, m, h, d,
// w and mo, a bare date (2006-01-02, local midnight) and RFC3339.
func ParseSince(s string, now time.Time) (time.Time, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	input := strings.ToLower(raw)

	switch input {
	case "today":
		return startOfDay(now), nil
	case "yesterday":
		return startOfDay(now).AddDate(0, 0, -1), nil
	}

	if m := agoRegex.FindStringSubmatch(input); len(m) == 3 {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return time.Time{}, fmt.Errorf("invalid relative time %q", raw)
		}
		return back(now, n, m[2]), nil
	}

	if t, err := time.ParseInLocation("2006-01-02", raw, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time expression %q (try 2h, 3d ago, yesterday or 2006-01-02)", raw)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func back(now time.Time, n int, unit string) time.Time {
	switch unit {
	case "mo":
		return now.AddDate(0, -n, 0)
	case "w":
		return now.AddDate(0, 0, -7*n)
	case "d":
		return now.AddDate(0, 0, -n)
	case "h":
		return now.Add(-time.Duration(n) * time.Hour)
	case "m":
		return now.Add(-time.Duration(n) * time.Minute)
	default:
		return now.Add(-time.Duration(n) * time.Second)
	}
}
