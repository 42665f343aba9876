package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/config"
	"github.com/taleforge/supportsync/internal/convstate"
	"github.com/taleforge/supportsync/internal/syncengine"
)

// HandleError processes an error and returns a user-friendly message with suggestions
func HandleError(err error) string {
	if err == nil {
		return ""
	}

	var msg strings.Builder

	var apiErr *api.APIError
	var rateLimitErr *api.RateLimitError
	var circuitBreakerErr *api.CircuitBreakerError
	var authErr *api.AuthError

	switch {
	case errors.Is(err, config.ErrNotConfigured):
		msg.WriteString("Not authenticated.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: ssync auth login --url URL --token TOKEN\n")
		msg.WriteString("  - Or export SUPPORTSYNC_BASE_URL and SUPPORTSYNC_API_TOKEN\n")

	case errors.Is(err, convstate.ErrConversationClosed):
		msg.WriteString("The conversation is closed.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Start a new conversation: ssync start --subject SUBJECT\n")

	case errors.Is(err, convstate.ErrNoConversation):
		msg.WriteString("No active conversation.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Start one: ssync chat\n")
		msg.WriteString("  - Check the stored one: ssync active\n")

	case errors.Is(err, syncengine.ErrAgentOnly):
		msg.WriteString("Only agents can change conversation metadata.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Log in with an agent token: ssync auth login --role agent\n")

	case errors.As(err, &rateLimitErr):
		msg.WriteString("Rate limit exceeded.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Wait a few seconds and retry\n")
		msg.WriteString("  - Reduce request frequency\n")

	case errors.As(err, &circuitBreakerErr):
		msg.WriteString("Service temporarily unavailable (circuit breaker open).\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - The server has had multiple failures recently\n")
		msg.WriteString("  - Wait 30 seconds and retry\n")

	case errors.As(err, &authErr):
		fmt.Fprintf(&msg, "Authentication failed: %s\n\n", authErr.Reason)
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: ssync auth login\n")
		msg.WriteString("  - Verify your API token is valid\n")

	case errors.As(err, &apiErr):
		fmt.Fprintf(&msg, "API error (HTTP %d): %s\n\n", apiErr.StatusCode, apiErr.Body)
		msg.WriteString(suggestionsForStatusCode(apiErr.StatusCode, apiErr.Body))
		if apiErr.RequestID != "" {
			fmt.Fprintf(&msg, "\nRequest ID: %s\n", apiErr.RequestID)
		}

	case strings.Contains(err.Error(), "connection refused"):
		msg.WriteString("Connection refused.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check if the support server is running\n")
		msg.WriteString("  - Verify the URL: ssync auth status\n")

	case strings.Contains(err.Error(), "no such host"):
		msg.WriteString("DNS resolution failed.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the server URL spelling\n")
		msg.WriteString("  - Verify your DNS settings\n")

	case strings.Contains(err.Error(), "certificate"):
		msg.WriteString("TLS certificate error.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Verify the server's SSL certificate\n")
		msg.WriteString("  - Ensure you're using https:// correctly\n")

	default:
		fmt.Fprintf(&msg, "Error: %s\n", err.Error())
	}

	return msg.String()
}

func suggestionsForStatusCode(code int, body string) string {
	var suggestions strings.Builder
	suggestions.WriteString("Suggestions:\n")

	switch code {
	case 400:
		suggestions.WriteString("  - Check your request parameters\n")
		suggestions.WriteString("  - Use --debug to see the full request\n")
		if strings.Contains(body, "required") {
			suggestions.WriteString("  - A required field may be missing\n")
		}

	case 401:
		suggestions.WriteString("  - Your API token may be invalid or expired\n")
		suggestions.WriteString("  - Run: ssync auth login\n")

	case 403:
		suggestions.WriteString("  - You don't have permission for this action\n")
		suggestions.WriteString("  - Metadata changes need an agent account\n")

	case 404:
		suggestions.WriteString("  - The conversation doesn't exist\n")
		suggestions.WriteString("  - Check the ID is correct\n")

	case 409, 410:
		suggestions.WriteString("  - The conversation is closed\n")
		suggestions.WriteString("  - Start a new one: ssync start --subject SUBJECT\n")

	case 422:
		suggestions.WriteString("  - Validation failed\n")
		suggestions.WriteString("  - Check your input values\n")

	case 429:
		suggestions.WriteString("  - Too many requests\n")
		suggestions.WriteString("  - Wait and retry in a few seconds\n")

	case 500, 502, 503, 504:
		suggestions.WriteString("  - Server error - not your fault\n")
		suggestions.WriteString("  - Wait and retry\n")

	default:
		suggestions.WriteString("  - Use --debug for more details\n")
	}

	return suggestions.String()
}
