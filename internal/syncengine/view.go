package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/reconcile"
	"github.com/taleforge/supportsync/internal/transport"
)

// Phase is the load state of the open conversation.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	// PhaseError means the history fetch failed; Retry reloads.
	PhaseError  Phase = "error"
	PhaseClosed Phase = "closed"
)

// View is an immutable snapshot for rendering.
type View struct {
	ConversationID string            `json:"conversationId,omitempty"`
	Role           api.Role          `json:"role"`
	Phase          Phase             `json:"phase"`
	Status         api.Status        `json:"status,omitempty"`
	Priority       api.Priority      `json:"priority,omitempty"`
	SeenAt         *time.Time        `json:"seenAt,omitempty"`
	ClosedObserved bool              `json:"closedObserved"`
	CanSend        bool              `json:"canSend"`
	Connection     transport.State   `json:"connection"`
	Messages       []reconcile.Entry `json:"messages"`
	Err            string            `json:"error,omitempty"`
}

// broadcaster fans views out to subscribers. Each subscriber holds at most
// one pending view; a newer one replaces it.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[string]chan View
	closed bool
	log    *slog.Logger
}

func newBroadcaster(log *slog.Logger) *broadcaster {
	return &broadcaster{subs: make(map[string]chan View), log: log}
}

func (b *broadcaster) subscribe(ctx context.Context, current func() View) <-chan View {
	ch := make(chan View, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	id := uuid.NewString()
	b.subs[id] = ch
	ch <- current()
	b.mu.Unlock()

	b.log.Debug("subscriber added", "sub_id", id)
	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()
	return ch
}

// publish builds the view under the broadcaster lock so concurrent
// publishers cannot deliver an older snapshot last.
func (b *broadcaster) publish(current func() View) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.subs) == 0 {
		return
	}
	v := current()
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (b *broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
	b.log.Debug("subscriber removed", "sub_id", id)
}

// close delivers final to every subscriber and closes their channels.
func (b *broadcaster) close(final View) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- final
		close(ch)
		delete(b.subs, id)
	}
}
