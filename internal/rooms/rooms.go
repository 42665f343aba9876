// Package rooms decides which server-side rooms a session belongs to and
// announces that membership on the event stream.
package rooms

import (
	"context"
	"fmt"

	"github.com/taleforge/supportsync/internal/api"
)

// Outbound membership events.
const (
	EventJoin      = "support:join"
	EventJoinAdmin = "support:join-admin"
)

// Join is one membership announcement.
type Join struct {
	Event   string
	Payload any
}

// JoinPayload is the body of support:join.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

// Emitter sends an outbound event. *eventstream.Client satisfies it.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Plan returns the joins for a session: the conversation room when an id is
// known, then the admin broadcast room for agents.
func Plan(role api.Role, conversationID string) []Join {
	var joins []Join
	if conversationID != "" {
		joins = append(joins, Join{Event: EventJoin, Payload: JoinPayload{ConversationID: conversationID}})
	}
	if role == api.RoleAgent {
		joins = append(joins, Join{Event: EventJoinAdmin, Payload: struct{}{}})
	}
	return joins
}

// Announce emits the plan in order and stops at the first failure.
// Re-announcing a room the server already has us in is harmless, so callers
// run it on every connect without tracking prior membership.
func Announce(ctx context.Context, e Emitter, role api.Role, conversationID string) error {
	for _, j := range Plan(role, conversationID) {
		if err := e.Emit(ctx, j.Event, j.Payload); err != nil {
			return fmt.Errorf("announce %s: %w", j.Event, err)
		}
	}
	return nil
}
