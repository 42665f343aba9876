// Package reconcile merges REST history, optimistic local sends and pushed
// events into one ordered, duplicate-free message list.
//
// Entries are ordered by creation time, ties by arrival. An optimistic
// entry that gets confirmed is updated in place and keeps its arrival slot.
// Matching by (sender, text, created-at) is a heuristic: two distinct
// messages with identical tuples would merge.
package reconcile

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taleforge/supportsync/internal/api"
)

// OutcomeKind says what a merge did to the list.
type OutcomeKind int

const (
	Ignored OutcomeKind = iota
	Appended
	Replaced
	Duplicate
)

func (k OutcomeKind) String() string {
	switch k {
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	case Duplicate:
		return "duplicate"
	default:
		return "ignored"
	}
}

// Outcome is the result of merging one message.
type Outcome struct {
	Kind  OutcomeKind
	Entry Entry
}

// Changed reports whether the list was modified.
func (o Outcome) Changed() bool {
	return o.Kind == Appended || o.Kind == Replaced
}

// List is the message list of one conversation. It is safe for concurrent use.
type List struct {
	mu             sync.Mutex
	conversationID string
	entries        []*Entry
	seq            uint64
	newID          func() string
}

// NewList returns an empty list for conversationID.
func NewList(conversationID string) *List {
	return &List{
		conversationID: conversationID,
		newID:          func() string { return uuid.NewString() },
	}
}

// ConversationID returns the conversation this list belongs to.
func (l *List) ConversationID() string {
	return l.conversationID
}

// Seed merges REST history. It returns the number of entries added.
func (l *List) Seed(msgs []api.Message) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := 0
	for _, m := range msgs {
		if out := l.ingestLocked(m); out.Kind == Appended {
			added++
		}
	}
	return added
}

// Ingest merges a server message from the event stream.
func (l *List) Ingest(m api.Message) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ingestLocked(m)
}

func (l *List) ingestLocked(m api.Message) Outcome {
	if m.ConversationID != "" && m.ConversationID != l.conversationID {
		return Outcome{Kind: Ignored}
	}
	if m.ID != "" {
		for _, e := range l.entries {
			if e.ID == m.ID {
				return Outcome{Kind: Duplicate, Entry: *e}
			}
		}
		// An unconfirmed local entry with the same tuple is the echo's
		// optimistic counterpart: confirm it where it stands.
		for _, e := range l.entries {
			if e.ID == "" && e.State != StateLocal && matches(e, m) {
				l.confirmLocked(e, m)
				return Outcome{Kind: Replaced, Entry: *e}
			}
		}
	} else {
		for _, e := range l.entries {
			if e.State != StateLocal && matches(e, m) {
				return Outcome{Kind: Duplicate, Entry: *e}
			}
		}
	}

	e := &Entry{
		ID:             m.ID,
		ConversationID: l.conversationID,
		Sender:         m.Sender,
		Text:           m.Text,
		CreatedAt:      m.CreatedAt,
		State:          StateConfirmed,
	}
	if e.ID == "" {
		// Keeps Key unique for pushes the server sent without an id.
		e.LocalID = l.newID()
	}
	l.insertLocked(e)
	return Outcome{Kind: Appended, Entry: *e}
}

// AddOptimistic appends a locally sent message that the server has not
// confirmed yet.
func (l *List) AddOptimistic(sender api.Role, text string, at time.Time) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &Entry{
		LocalID:        l.newID(),
		ConversationID: l.conversationID,
		Sender:         sender,
		Text:           text,
		CreatedAt:      at,
		State:          StateOptimistic,
	}
	l.insertLocked(e)
	return *e
}

// Confirm applies the REST response for an optimistic send. If the echo
// already produced a confirmed entry, the optimistic one is removed.
func (l *List) Confirm(localID string, m api.Message) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(localID)
	if idx < 0 {
		return l.ingestLocked(m)
	}
	e := l.entries[idx]
	if e.ID != "" && (m.ID == "" || e.ID == m.ID) {
		return Outcome{Kind: Duplicate, Entry: *e}
	}
	if m.ID != "" {
		for i, other := range l.entries {
			if i != idx && other.ID == m.ID {
				l.entries = slices.Delete(l.entries, idx, idx+1)
				return Outcome{Kind: Duplicate, Entry: *other}
			}
		}
	}
	l.confirmLocked(e, m)
	return Outcome{Kind: Replaced, Entry: *e}
}

func (l *List) confirmLocked(e *Entry, m api.Message) {
	e.ID = m.ID
	e.State = StateConfirmed
	e.Err = ""
	if !m.CreatedAt.IsZero() && !e.CreatedAt.Equal(m.CreatedAt) {
		e.CreatedAt = m.CreatedAt
		l.sortLocked()
	}
}

// Fail marks an optimistic entry as failed in place.
func (l *List) Fail(localID string, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(localID)
	if idx < 0 || l.entries[idx].State != StateOptimistic {
		return false
	}
	e := l.entries[idx]
	e.State = StateFailed
	if err != nil {
		e.Err = err.Error()
	}
	return true
}

// Requeue turns a failed entry back into an optimistic one for a resend.
func (l *List) Requeue(localID string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.indexLocked(localID)
	if idx < 0 || l.entries[idx].State != StateFailed {
		return Entry{}, false
	}
	e := l.entries[idx]
	e.State = StateOptimistic
	e.Err = ""
	return *e, true
}

// AppendSystem adds a client-side notice such as "conversation closed".
func (l *List) AppendSystem(text string, at time.Time) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &Entry{
		LocalID:        l.newID(),
		ConversationID: l.conversationID,
		Sender:         api.RoleSystem,
		Text:           text,
		CreatedAt:      at,
		State:          StateLocal,
	}
	l.insertLocked(e)
	return *e
}

// MarkSeen flags the most recent message authored by viewer when it is
// confirmed and created at or before seenAt, and clears the flag everywhere
// else. Earlier messages are never flagged. A zero seenAt means no upper
// bound.
func (l *List) MarkSeen(viewer api.Role, seenAt time.Time) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var latest *Entry
	for _, e := range l.entries {
		e.Seen = false
		if e.Sender == viewer && e.State != StateLocal {
			latest = e
		}
	}
	if latest == nil || latest.State != StateConfirmed {
		return Entry{}, false
	}
	if !seenAt.IsZero() && latest.CreatedAt.After(seenAt) {
		return Entry{}, false
	}
	latest.Seen = true
	return *latest, true
}

// Entries returns a sorted snapshot.
func (l *List) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

// Len returns the number of entries.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Find returns the entry with the given local id.
func (l *List) Find(localID string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx := l.indexLocked(localID); idx >= 0 {
		return *l.entries[idx], true
	}
	return Entry{}, false
}

func (l *List) indexLocked(localID string) int {
	if localID == "" {
		return -1
	}
	return slices.IndexFunc(l.entries, func(e *Entry) bool { return e.LocalID == localID })
}

func (l *List) insertLocked(e *Entry) {
	l.seq++
	e.seq = l.seq
	l.entries = append(l.entries, e)
	l.sortLocked()
}

func (l *List) sortLocked() {
	slices.SortStableFunc(l.entries, func(a, b *Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
}
