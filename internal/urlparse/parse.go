// Package urlparse extracts conversation ids from support links.
package urlparse

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ConversationLink is a conversation reference taken from a URL.
type ConversationLink struct {
	BaseURL        string
	ConversationID string
}

// Matches the REST form /support/chat/{id}[/...] and the web form
// /chat/{id}. "start" is a route, not an id.
var linkPattern = regexp.MustCompile(`^(?:/support)?/chat/([^/]+)(?:/.*)?$`)

// IsURL reports whether s looks like an http(s) link rather than a bare id.
func IsURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Parse extracts the conversation id from a link such as
// https://support.example.com/support/chat/64f1c2/messages.
func Parse(rawURL string) (*ConversationLink, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL scheme %q: expected http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid URL: missing host")
	}

	m := linkPattern.FindStringSubmatch(strings.TrimSuffix(parsed.Path, "/"))
	if m == nil || m[1] == "start" {
		return nil, fmt.Errorf("not a conversation link: expected /chat/{id} or /support/chat/{id}")
	}
	id, err := url.PathUnescape(m[1])
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id in URL: %w", err)
	}

	return &ConversationLink{
		BaseURL:        parsed.Scheme + "://" + parsed.Host,
		ConversationID: id,
	}, nil
}
