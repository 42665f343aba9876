package cmd

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/config"
	"github.com/taleforge/supportsync/internal/convstate"
	"github.com/taleforge/supportsync/internal/syncengine"
)

func TestHandleError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantContains []string
	}{
		{
			name:         "nil error",
			err:          nil,
			wantContains: []string{},
		},
		{
			name:         "not configured",
			err:          config.ErrNotConfigured,
			wantContains: []string{"Not authenticated", "ssync auth login"},
		},
		{
			name:         "closed conversation",
			err:          fmt.Errorf("send: %w", convstate.ErrConversationClosed),
			wantContains: []string{"conversation is closed", "ssync start"},
		},
		{
			name:         "no conversation",
			err:          convstate.ErrNoConversation,
			wantContains: []string{"No active conversation", "ssync chat"},
		},
		{
			name:         "agent only",
			err:          syncengine.ErrAgentOnly,
			wantContains: []string{"Only agents", "--role agent"},
		},
		{
			name:         "rate limit error",
			err:          &api.RateLimitError{RetryAfter: 5 * time.Second},
			wantContains: []string{"Rate limit exceeded", "Wait a few seconds"},
		},
		{
			name:         "circuit breaker error",
			err:          &api.CircuitBreakerError{},
			wantContains: []string{"circuit breaker", "Wait 30 seconds"},
		},
		{
			name:         "auth error",
			err:          &api.AuthError{Reason: "invalid token"},
			wantContains: []string{"Authentication failed", "invalid token", "ssync auth login"},
		},
		{
			name:         "404 API error",
			err:          &api.APIError{StatusCode: 404, Body: "not found"},
			wantContains: []string{"API error (HTTP 404)", "doesn't exist"},
		},
		{
			name:         "409 API error",
			err:          &api.APIError{StatusCode: 409, Body: "closed"},
			wantContains: []string{"API error (HTTP 409)", "conversation is closed"},
		},
		{
			name:         "request id",
			err:          &api.APIError{StatusCode: 500, Body: "boom", RequestID: "req-42"},
			wantContains: []string{"Server error", "Request ID: req-42"},
		},
		{
			name:         "400 with required",
			err:          &api.APIError{StatusCode: 400, Body: "text is required"},
			wantContains: []string{"A required field may be missing"},
		},
		{
			name:         "connection refused",
			err:          errors.New("dial tcp 127.0.0.1:1: connect: connection refused"),
			wantContains: []string{"Connection refused", "ssync auth status"},
		},
		{
			name:         "dns",
			err:          errors.New("lookup support.invalid: no such host"),
			wantContains: []string{"DNS resolution failed"},
		},
		{
			name:         "generic",
			err:          errors.New("something odd"),
			wantContains: []string{"Error: something odd"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HandleError(tt.err)
			if tt.err == nil && got != "" {
				t.Fatalf("HandleError(nil) = %q, want empty", got)
			}
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("HandleError() = %q, want it to contain %q", got, want)
				}
			}
		})
	}
}

func TestSuggestionsForStatusCode_Default(t *testing.T) {
	got := suggestionsForStatusCode(418, "")
	if !strings.Contains(got, "--debug") {
		t.Errorf("unexpected default suggestions %q", got)
	}
}
