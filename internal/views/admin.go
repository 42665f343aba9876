package views

import (
	"context"
	"fmt"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/resolve"
	"github.com/taleforge/supportsync/internal/syncengine"
)

// AdminDetail is the agent's conversation view. It keeps one transport for
// its lifetime and moves between conversations without reconnecting.
type AdminDetail struct {
	eng *syncengine.Engine
}

// NewAdminDetail wraps an agent-role engine.
func NewAdminDetail(eng *syncengine.Engine) (*AdminDetail, error) {
	if eng.Role() != api.RoleAgent {
		return nil, fmt.Errorf("admin view needs an agent engine, got %q", eng.Role())
	}
	return &AdminDetail{eng: eng}, nil
}

// Engine returns the underlying engine.
func (a *AdminDetail) Engine() *syncengine.Engine { return a.eng }

// Open joins the admin room and loads conversationID.
func (a *AdminDetail) Open(ctx context.Context, conversationID string) error {
	if err := a.eng.Listen(); err != nil {
		return err
	}
	return a.eng.Open(ctx, conversationID)
}

// Switch loads another conversation on the same connection.
func (a *AdminDetail) Switch(ctx context.Context, conversationID string) error {
	return a.eng.Open(ctx, conversationID)
}

// Reply posts an agent message.
func (a *AdminDetail) Reply(ctx context.Context, text string) error {
	_, err := a.eng.Send(ctx, text, false)
	return err
}

// SetStatus accepts loose names such as "pend" or "done".
func (a *AdminDetail) SetStatus(ctx context.Context, name string) error {
	s, err := resolve.Status(name)
	if err != nil {
		return err
	}
	return a.eng.SetStatus(ctx, s)
}

// SetPriority accepts loose names such as "hi" or "medium".
func (a *AdminDetail) SetPriority(ctx context.Context, name string) error {
	p, err := resolve.Priority(name)
	if err != nil {
		return err
	}
	return a.eng.SetPriority(ctx, p)
}

func (a *AdminDetail) End(ctx context.Context) error { return a.eng.End(ctx) }

func (a *AdminDetail) MarkRead(ctx context.Context) error {
	_, err := a.eng.MarkRead(ctx)
	return err
}

// Handle implements Handler.
func (a *AdminDetail) Handle(ctx context.Context, line string) error {
	name, arg := parseCommand(line)
	switch name {
	case "":
		return a.Reply(ctx, arg)
	case "quit", "exit":
		return ErrQuit
	case "status":
		return a.SetStatus(ctx, arg)
	case "priority":
		return a.SetPriority(ctx, arg)
	case "end":
		return a.End(ctx)
	case "switch":
		if arg == "" {
			return fmt.Errorf("usage: /switch <conversation-id>")
		}
		return a.Switch(ctx, arg)
	case "read":
		return a.MarkRead(ctx)
	case "retry":
		return a.eng.Retry(ctx)
	case "resend":
		return resend(ctx, a.eng, arg, false)
	case "help":
		return notice("commands: /status <s> /priority <p> /end /switch <id> /read /retry /resend [id] /quit")
	default:
		return unknownCommand(name)
	}
}
