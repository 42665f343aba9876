package syncengine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/taleforge/supportsync/internal/api"
)

// Inbound event names.
const (
	EventNewMessage      = "support:new-message"
	EventAdminNewMessage = "support:admin-new-message"
	EventSeen            = "support:seen"
	EventEnded           = "support:ended"
	EventMetadataUpdated = "support:metadata-updated"
)

// MessagePayload carries a new message.
type MessagePayload struct {
	ConversationID string      `json:"conversationId"`
	Message        api.Message `json:"message"`
}

// SeenPayload moves the seen watermark. Role, when present, is the reader.
type SeenPayload struct {
	ConversationID string    `json:"conversationId"`
	SeenAt         time.Time `json:"seenAt"`
	Role           api.Role  `json:"role,omitempty"`
}

// EndedPayload signals that a conversation was closed.
type EndedPayload struct {
	ConversationID string `json:"conversationId"`
}

// MetadataPayload carries a status or priority change. Absent fields are nil.
type MetadataPayload struct {
	ConversationID string        `json:"conversationId"`
	Status         *api.Status   `json:"status,omitempty"`
	Priority       *api.Priority `json:"priority,omitempty"`
}

// decodeMessage also accepts a payload whose message fields sit at the top
// level next to conversationId.
func decodeMessage(data json.RawMessage) (api.Message, error) {
	var p MessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return api.Message{}, fmt.Errorf("decode message payload: %w", err)
	}
	m := p.Message
	if m.Text == "" && m.ID == "" {
		if err := json.Unmarshal(data, &m); err != nil {
			return api.Message{}, fmt.Errorf("decode message payload: %w", err)
		}
	}
	if m.ConversationID == "" {
		m.ConversationID = p.ConversationID
	}
	if m.ConversationID == "" {
		return api.Message{}, fmt.Errorf("decode message payload: missing conversationId")
	}
	return m, nil
}

func decodePayload[T any](name string, data json.RawMessage) (T, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return p, nil
}
