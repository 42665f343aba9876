package reconcile

import (
	"time"

	"github.com/taleforge/supportsync/internal/api"
)

// State is the delivery state of an entry.
type State string

const (
	StateOptimistic State = "optimistic"
	StateConfirmed  State = "confirmed"
	StateFailed     State = "failed"
	// StateLocal marks client-side notices that never reach the server.
	StateLocal State = "local"
)

// Entry is one rendered message.
type Entry struct {
	LocalID        string    `json:"localId,omitempty"`
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId"`
	Sender         api.Role  `json:"sender"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
	State          State     `json:"state"`
	Seen           bool      `json:"seen,omitempty"`
	Err            string    `json:"error,omitempty"`

	seq uint64
}

// Key identifies the underlying message: the server id once known,
// otherwise the local surrogate.
func (e Entry) Key() string {
	if e.ID != "" {
		return "id:" + e.ID
	}
	return "local:" + e.LocalID
}

// Message returns the wire form of the entry.
func (e Entry) Message() api.Message {
	return api.Message{
		ID:             e.ID,
		ConversationID: e.ConversationID,
		Sender:         e.Sender,
		Text:           e.Text,
		CreatedAt:      e.CreatedAt,
	}
}

func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Millisecond).Equal(b.Truncate(time.Millisecond))
}

// matches applies the dedup rule: equal server ids, or, when either side
// has no server id yet, equal sender, text and creation time.
func matches(e *Entry, m api.Message) bool {
	if e.ID != "" && m.ID != "" {
		return e.ID == m.ID
	}
	return e.Sender == m.Sender && e.Text == m.Text && sameInstant(e.CreatedAt, m.CreatedAt)
}
