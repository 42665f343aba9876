package resolve_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/resolve"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		in   string
		want api.Status
	}{
		{"open", api.StatusOpen},
		{"CLOSED", api.StatusClosed},
		{" pend ", api.StatusPending},
		{"res", api.StatusResolved},
		{"clo", api.StatusClosed},
		{"done", api.StatusClosed},
		{"reopen", api.StatusOpen},
	}
	for _, tt := range tests {
		got, err := resolve.Status(tt.in)
		if err != nil {
			t.Errorf("Status(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Status(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPriority(t *testing.T) {
	tests := map[string]api.Priority{
		"low":    api.PriorityLow,
		"lo":     api.PriorityLow,
		"High":   api.PriorityHigh,
		"medium": api.PriorityNormal,
	}
	for in, want := range tests {
		got, err := resolve.Priority(in)
		if err != nil || got != want {
			t.Errorf("Priority(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestViewerRole(t *testing.T) {
	if got, err := resolve.ViewerRole("admin"); err != nil || got != api.RoleAgent {
		t.Errorf("ViewerRole(admin) = %q, %v", got, err)
	}
	if got, err := resolve.ViewerRole("user"); err != nil || got != api.RoleUser {
		t.Errorf("ViewerRole(user) = %q, %v", got, err)
	}
	if _, err := resolve.ViewerRole("ai"); err == nil {
		t.Error("ai is not a viewer role")
	}
}

func TestNoMatch(t *testing.T) {
	_, err := resolve.Priority("urgent")
	var nm *resolve.NoMatchError
	if !errors.As(err, &nm) {
		t.Fatalf("expected NoMatchError, got %v", err)
	}
	if !strings.Contains(err.Error(), "valid: low, normal, high") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestEmptyQuery(t *testing.T) {
	_, err := resolve.Status("  ")
	if !errors.Is(err, resolve.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestAmbiguousErrorMessage(t *testing.T) {
	err := &resolve.AmbiguousError{
		Field:   "priority",
		Query:   "o",
		Matches: []resolve.Match{{Name: "low"}, {Name: "normal"}},
	}
	want := `ambiguous priority "o", did you mean: low normal`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestSuggest(t *testing.T) {
	got := resolve.Suggest("pen", api.ValidStatuses, 3)
	if len(got) == 0 || got[0].Name != "pending" {
		t.Fatalf("Suggest(pen) = %+v", got)
	}
	if resolve.Suggest("", api.ValidStatuses, 3) != nil {
		t.Error("empty query should return nil")
	}
	if resolve.Suggest("zzz", api.ValidStatuses, 3) != nil {
		t.Error("no candidates should return nil")
	}
}
