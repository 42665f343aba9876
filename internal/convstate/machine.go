// Package convstate tracks the status, priority and seen watermark of one
// conversation and gates sends.
//
// Closed is sticky: once a server "ended" event, a closed metadata update
// or a confirmed end action has been observed, CanSend stays false even if
// later updates report another status. Only the client's own optimistic
// end can be rolled back.
package convstate

import (
	"errors"
	"sync"
	"time"

	"github.com/taleforge/supportsync/internal/api"
)

var (
	// ErrNoConversation is returned by CheckSend when no conversation is active.
	ErrNoConversation = errors.New("no active conversation")
	// ErrConversationClosed is returned by CheckSend once the conversation is closed.
	ErrConversationClosed = errors.New("conversation is closed")
)

// Token identifies one optimistic change so it can be rolled back.
type Token struct {
	seq      uint64
	status   api.Status
	priority api.Priority
}

// Machine is safe for concurrent use.
type Machine struct {
	mu             sync.Mutex
	status         api.Status
	priority       api.Priority
	seenAt         time.Time
	closedObserved bool
	pendingEnd     bool
	seq            uint64
}

// New returns a machine seeded from the server's view of the conversation.
// A nil conversation starts open with normal priority.
func New(conv *api.Conversation) *Machine {
	m := &Machine{status: api.StatusOpen, priority: api.PriorityNormal}
	if conv != nil {
		m.ApplyMetadata(&conv.Status, &conv.Priority)
		if conv.SeenAt != nil {
			m.seenAt = *conv.SeenAt
		}
	}
	return m
}

// Snapshot is a consistent read of the machine.
type Snapshot struct {
	Status         api.Status   `json:"status"`
	Priority       api.Priority `json:"priority"`
	SeenAt         *time.Time   `json:"seenAt,omitempty"`
	ClosedObserved bool         `json:"closedObserved"`
	CanSend        bool         `json:"canSend"`
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Status:         m.status,
		Priority:       m.priority,
		ClosedObserved: m.closedObserved,
		CanSend:        m.canSendLocked(),
	}
	if !m.seenAt.IsZero() {
		seen := m.seenAt
		s.SeenAt = &seen
	}
	return s
}

func (m *Machine) Status() api.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Machine) Priority() api.Priority {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priority
}

// SeenAt returns the seen watermark; zero when the counterpart has not read anything.
func (m *Machine) SeenAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seenAt
}

// ClosedObserved reports whether an authoritative close has been seen.
func (m *Machine) ClosedObserved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closedObserved
}

// CanSend reports whether the send input should be enabled.
func (m *Machine) CanSend() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canSendLocked()
}

func (m *Machine) canSendLocked() bool {
	return !m.closedObserved && m.status != api.StatusClosed
}

// CheckSend is the local send gate. It never touches the network.
func (m *Machine) CheckSend(conversationID string) error {
	if conversationID == "" {
		return ErrNoConversation
	}
	if !m.CanSend() {
		return ErrConversationClosed
	}
	return nil
}

// ApplyMetadata records server-provided values. Nil fields are left alone.
// A status is always recorded, but a closed status also latches the gate.
func (m *Machine) ApplyMetadata(status *api.Status, priority *api.Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status != nil && status.Valid() {
		m.status = *status
		if *status == api.StatusClosed {
			m.closedObserved = true
		}
		m.seq++
	}
	if priority != nil && priority.Valid() {
		m.priority = *priority
		m.seq++
	}
}

// ApplyEnded handles the server's ended event. It wins over any local state.
func (m *Machine) ApplyEnded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = api.StatusClosed
	m.closedObserved = true
	m.pendingEnd = false
	m.seq++
}

// ApplySeen moves the watermark forward. Older timestamps are ignored.
// It reports whether the watermark changed.
func (m *Machine) ApplySeen(at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if at.IsZero() || !at.After(m.seenAt) {
		return false
	}
	m.seenAt = at
	return true
}

// BeginEnd optimistically closes the conversation for the local end action.
func (m *Machine) BeginEnd() Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok := m.tokenLocked()
	m.status = api.StatusClosed
	m.pendingEnd = true
	m.seq++
	tok.seq = m.seq
	return tok
}

// ConfirmEnd latches the close after the server accepted the end action.
func (m *Machine) ConfirmEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = api.StatusClosed
	m.closedObserved = true
	m.pendingEnd = false
}

// RollbackEnd restores the previous status after a failed end action.
// Nothing is restored if a close was observed meanwhile or another change
// landed after BeginEnd. It reports whether the rollback applied.
func (m *Machine) RollbackEnd(tok Token) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingEnd = false
	if m.closedObserved || m.seq != tok.seq {
		return false
	}
	m.status = tok.status
	return true
}

// PendingEnd reports whether an optimistic end is awaiting the server.
func (m *Machine) PendingEnd() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingEnd
}

// SetLocalStatus optimistically applies an agent status change.
// A closed conversation cannot be reopened from the client.
func (m *Machine) SetLocalStatus(s api.Status) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closedObserved {
		return Token{}, ErrConversationClosed
	}
	tok := m.tokenLocked()
	m.status = s
	m.seq++
	tok.seq = m.seq
	return tok, nil
}

// SetLocalPriority optimistically applies an agent priority change.
func (m *Machine) SetLocalPriority(p api.Priority) Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok := m.tokenLocked()
	m.priority = p
	m.seq++
	tok.seq = m.seq
	return tok
}

// Rollback undoes a SetLocalStatus or SetLocalPriority if nothing changed since.
func (m *Machine) Rollback(tok Token) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seq != tok.seq {
		return false
	}
	if !m.closedObserved {
		m.status = tok.status
	}
	m.priority = tok.priority
	return true
}

func (m *Machine) tokenLocked() Token {
	return Token{status: m.status, priority: m.priority}
}
