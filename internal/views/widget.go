package views

import (
	"context"
	"fmt"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/syncengine"
)

// WidgetOptions configure a Widget.
type WidgetOptions struct {
	// Subject is used when the widget starts a conversation.
	Subject string
	AskAI   bool
}

// Widget is the end-user chat. It resumes the persisted conversation and
// starts a new one on the first message when none is open.
type Widget struct {
	eng  *syncengine.Engine
	opts WidgetOptions
}

// NewWidget wraps a user-role engine.
func NewWidget(eng *syncengine.Engine, opts WidgetOptions) (*Widget, error) {
	if eng.Role() != api.RoleUser {
		return nil, fmt.Errorf("widget needs a user engine, got %q", eng.Role())
	}
	return &Widget{eng: eng, opts: opts}, nil
}

// Engine returns the underlying engine.
func (w *Widget) Engine() *syncengine.Engine { return w.eng }

// Open resumes the persisted conversation. It returns "" when there is none.
func (w *Widget) Open(ctx context.Context) (string, error) {
	return w.eng.Resume(ctx)
}

// Send posts text, starting a conversation first if none is open.
func (w *Widget) Send(ctx context.Context, text string) error {
	if w.eng.ConversationID() == "" {
		return w.start(ctx, text)
	}
	_, err := w.eng.Send(ctx, text, w.opts.AskAI)
	return err
}

// New abandons the open conversation and starts another. An empty text
// starts it without a first message.
func (w *Widget) New(ctx context.Context, text string) error {
	return w.start(ctx, text)
}

func (w *Widget) start(ctx context.Context, text string) error {
	_, err := w.eng.Start(ctx, api.StartRequest{Subject: w.opts.Subject, Text: text, AskAI: w.opts.AskAI})
	return err
}

// Handle implements Handler.
func (w *Widget) Handle(ctx context.Context, line string) error {
	name, arg := parseCommand(line)
	switch name {
	case "":
		return w.Send(ctx, arg)
	case "quit", "exit":
		return ErrQuit
	case "end":
		return w.eng.End(ctx)
	case "retry":
		return w.eng.Retry(ctx)
	case "resend":
		return resend(ctx, w.eng, arg, w.opts.AskAI)
	case "read":
		_, err := w.eng.MarkRead(ctx)
		return err
	case "new":
		return w.New(ctx, arg)
	case "ai":
		switch arg {
		case "on":
			w.opts.AskAI = true
		case "off":
			w.opts.AskAI = false
		default:
			return fmt.Errorf("usage: /ai on|off")
		}
		return notice("AI replies " + arg)
	case "help":
		return notice("commands: /end /retry /resend [id] /read /new [text] /ai on|off /quit")
	default:
		return unknownCommand(name)
	}
}
