// Package notify turns reconciled messages into sounds and toasts.
//
// The dispatcher only observes; it never changes the message list. Each
// message key fires at most once however many times it is reported, so
// replays after a reconnect stay silent.
package notify

import (
	"fmt"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/reconcile"
)

// Kind classifies a toast.
type Kind string

const (
	KindMessage     Kind = "message"
	KindInbox       Kind = "inbox"
	KindEnded       Kind = "ended"
	KindSendFailed  Kind = "send_failed"
	KindFetchFailed Kind = "fetch_failed"
	KindInfo        Kind = "info"
)

// Toast is one user-visible notification.
type Toast struct {
	Kind           Kind   `json:"kind"`
	ConversationID string `json:"conversationId,omitempty"`
	Title          string `json:"title"`
	Body           string `json:"body,omitempty"`
}

// Sound plays the new-message sound.
type Sound interface {
	Play()
}

// Toaster shows a toast.
type Toaster interface {
	Toast(Toast)
}

// Dispatcher fires side effects for one viewer.
type Dispatcher struct {
	viewer  api.Role
	sound   Sound
	toaster Toaster
	seen    *seenKeys
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCapacity sets how many message keys are remembered.
func WithCapacity(n int) Option {
	return func(d *Dispatcher) { d.seen = newSeenKeys(n) }
}

// New returns a dispatcher for viewer. Nil sinks are replaced with no-ops.
func New(viewer api.Role, sound Sound, toaster Toaster, opts ...Option) *Dispatcher {
	if sound == nil {
		sound = NopSound{}
	}
	if toaster == nil {
		toaster = NopToaster{}
	}
	d := &Dispatcher{
		viewer:  viewer,
		sound:   sound,
		toaster: toaster,
		seen:    newSeenKeys(DefaultSeenCapacity),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Viewer returns the role whose own messages stay silent.
func (d *Dispatcher) Viewer() api.Role { return d.viewer }

// Message reacts to a reconciled entry. It reports whether anything fired.
func (d *Dispatcher) Message(e reconcile.Entry) bool {
	if e.Sender == d.viewer || e.State == reconcile.StateLocal {
		return false
	}
	if d.seen.checkAndMark(e.Key()) {
		return false
	}
	d.sound.Play()
	d.toaster.Toast(Toast{
		Kind:           KindMessage,
		ConversationID: e.ConversationID,
		Title:          fmt.Sprintf("New message from %s", e.Sender),
		Body:           preview(e.Text),
	})
	return true
}

// Inbox reacts to a message for a conversation other than the open one,
// as agents see on the admin room.
func (d *Dispatcher) Inbox(m api.Message) bool {
	if m.Sender == d.viewer {
		return false
	}
	key := "inbox:" + m.ConversationID + ":" + m.ID
	if m.ID == "" {
		key = fmt.Sprintf("inbox:%s:%s:%s:%d", m.ConversationID, m.Sender, m.Text, m.CreatedAt.UnixMilli())
	}
	if d.seen.checkAndMark(key) {
		return false
	}
	d.sound.Play()
	d.toaster.Toast(Toast{
		Kind:           KindInbox,
		ConversationID: m.ConversationID,
		Title:          fmt.Sprintf("Conversation %s has a new message", m.ConversationID),
		Body:           preview(m.Text),
	})
	return true
}

// Notice shows a toast without sound.
func (d *Dispatcher) Notice(kind Kind, conversationID, text string) {
	d.toaster.Toast(Toast{Kind: kind, ConversationID: conversationID, Title: text})
}

const previewLen = 80

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLen {
		return text
	}
	return string(r[:previewLen-1]) + "…"
}
