package cli

import (
	"testing"
	"time"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 1, 28, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{name: "hours ago", input: "2h ago", want: now.Add(-2 * time.Hour)},
		{name: "bare minutes", input: "30m", want: now.Add(-30 * time.Minute)},
		{name: "seconds", input: "45s", want: now.Add(-45 * time.Second)},
		{name: "days", input: "1d", want: now.AddDate(0, 0, -1)},
		{name: "weeks ago", input: "2w ago", want: now.AddDate(0, 0, -14)},
		{name: "months", input: "1mo", want: now.AddDate(0, -1, 0)},
		{name: "upper case", input: "3H AGO", want: now.Add(-3 * time.Hour)},
		{name: "today", input: "today", want: time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)},
		{name: "yesterday", input: "Yesterday", want: time.Date(2026, 1, 27, 0, 0, 0, 0, time.UTC)},
		{name: "date", input: "2026-01-20", want: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)},
		{name: "rfc3339", input: "2026-01-27T10:00:00Z", want: time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSince(tt.input, now)
			if err != nil {
				t.Fatalf("ParseSince(%q) error: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseSince(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseSinceInvalid(t *testing.T) {
	now := time.Date(2026, 1, 28, 15, 4, 5, 0, time.UTC)
	for _, input := range []string{"", "   ", "0h", "soon", "2 fortnights", "next friday", "2026-13-01"} {
		if _, err := ParseSince(input, now); err == nil {
			t.Errorf("ParseSince(%q) expected error", input)
		}
	}
}
