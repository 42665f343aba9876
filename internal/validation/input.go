package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageLength        = 10000
	MaxSubjectLength        = 200
	MaxConversationIDLength = 128
)

// ValidateMessageText rejects blank or oversized message text.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text cannot be empty")
	}
	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		return fmt.Errorf("message exceeds maximum length of %d characters (got %d)", MaxMessageLength, n)
	}
	return nil
}

// ValidateSubject allows an empty subject.
func ValidateSubject(subject string) error {
	if n := utf8.RuneCountInString(subject); n > MaxSubjectLength {
		return fmt.Errorf("subject exceeds maximum length of %d characters (got %d)", MaxSubjectLength, n)
	}
	return nil
}

// NormalizeConversationID trims whitespace and a leading '#' and rejects ids
// containing whitespace or control characters.
func NormalizeConversationID(raw string) (string, error) {
	id := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if id == "" {
		return "", fmt.Errorf("conversation id cannot be empty")
	}
	if len(id) > MaxConversationIDLength {
		return "", fmt.Errorf("conversation id exceeds maximum length of %d", MaxConversationIDLength)
	}
	for _, r := range id {
		if r <= ' ' || r == 0x7f {
			return "", fmt.Errorf("conversation id contains invalid character %q", r)
		}
	}
	return id, nil
}
