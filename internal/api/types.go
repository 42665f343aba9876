package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who authored a message or who is viewing a conversation.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

// ValidRoles lists sender roles accepted on the wire.
var ValidRoles = []string{string(RoleUser), string(RoleAgent), string(RoleAI), string(RoleSystem)}

// Status is the lifecycle state of a support conversation.
type Status string

const (
	StatusOpen     Status = "open"
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// ValidStatuses lists the statuses accepted by PUT /support/chat/{id}/status.
var ValidStatuses = []string{string(StatusOpen), string(StatusPending), string(StatusResolved), string(StatusClosed)}

// Priority is the triage priority of a support conversation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ValidPriorities lists the priorities accepted by PUT /support/chat/{id}/priority.
var ValidPriorities = []string{string(PriorityLow), string(PriorityNormal), string(PriorityHigh)}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// Conversation is a support conversation as returned by the server.
type Conversation struct {
	ID        string     `json:"id"`
	Subject   string     `json:"subject,omitempty"`
	Status    Status     `json:"status,omitempty"`
	Priority  Priority   `json:"priority,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt,omitempty"`
	SeenAt    *time.Time `json:"seenAt,omitempty"`
}

// Message is a single chat message in wire form.
// ID is empty for messages the server has not confirmed.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Sender         Role      `json:"sender"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// UnmarshalJSON accepts both "id" and "_id" for the server identifier,
// since the support backend echoes raw documents on the event stream.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		MongoID string `json:"_id,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.alias)
	if m.ID == "" {
		m.ID = raw.MongoID
	}
	return nil
}

// StartRequest is the body of POST /support/chat/start.
type StartRequest struct {
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text,omitempty"`
	AskAI   bool   `json:"askAI,omitempty"`
}

// StartResult is the response of POST /support/chat/start.
type StartResult struct {
	ConversationID string        `json:"conversationId"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Messages       []Message     `json:"messages,omitempty"`
}

// ID returns the conversation identifier regardless of which field the server filled.
func (r *StartResult) ID() string {
	if r == nil {
		return ""
	}
	if r.ConversationID != "" {
		return r.ConversationID
	}
	if r.Conversation != nil {
		return r.Conversation.ID
	}
	return ""
}

// History is the response of GET /support/chat/{id}/messages.
type History struct {
	Conversation *Conversation `json:"conversation,omitempty"`
	Messages     []Message     `json:"messages"`
}

// UnmarshalJSON accepts either the wrapped object form or a bare message array.
func (h *History) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return fmt.Errorf("decode message list: %w", err)
		}
		*h = History{Messages: msgs}
		return nil
	}
	type alias History
	var a alias
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return err
	}
	*h = History(a)
	return nil
}

// SendRequest is the body of POST /support/chat/{id}/messages.
type SendRequest struct {
	Text  string `json:"text"`
	AskAI bool   `json:"askAI,omitempty"`
}

// SendResult is the response of POST /support/chat/{id}/messages.
// Reply is set when askAI produced an immediate assistant answer.
type SendResult struct {
	Message Message  `json:"message"`
	Reply   *Message `json:"aiReply,omitempty"`
}

// ReadResult is the response of PUT /support/chat/{id}/read.
type ReadResult struct {
	SeenAt *time.Time `json:"seenAt,omitempty"`
}
