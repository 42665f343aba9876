package syncengine

import (
	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/convstate"
	"github.com/taleforge/supportsync/internal/eventstream"
	"github.com/taleforge/supportsync/internal/notify"
	"github.com/taleforge/supportsync/internal/reconcile"
	"github.com/taleforge/supportsync/internal/transport"
)

// maxPending bounds events queued while history loads.
const maxPending = 512

type match int

const (
	matchNone match = iota
	matchOther
	matchQueued
	matchReady
)

func (e *Engine) pump(events <-chan eventstream.Event) {
	defer e.wg.Done()
	states := e.transport.States()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.handle(ev)
		case st := <-states:
			e.onState(st)
		}
	}
}

func (e *Engine) handle(ev eventstream.Event) {
	switch ev.Name {
	case EventNewMessage, EventAdminNewMessage:
		m, err := decodeMessage(ev.Data)
		if err != nil {
			e.log.Debug("dropping event", "event", ev.Name, "error", err)
			return
		}
		e.onMessage(ev, m)
	case EventSeen:
		p, err := decodePayload[SeenPayload](ev.Name, ev.Data)
		if err != nil {
			e.log.Debug("dropping event", "event", ev.Name, "error", err)
			return
		}
		e.onSeen(ev, p)
	case EventEnded:
		p, err := decodePayload[EndedPayload](ev.Name, ev.Data)
		if err != nil {
			e.log.Debug("dropping event", "event", ev.Name, "error", err)
			return
		}
		e.onEnded(ev, p)
	case EventMetadataUpdated:
		p, err := decodePayload[MetadataPayload](ev.Name, ev.Data)
		if err != nil {
			e.log.Debug("dropping event", "event", ev.Name, "error", err)
			return
		}
		e.onMetadata(ev, p)
	default:
		e.log.Debug("unhandled event", "event", ev.Name)
	}
}

// target resolves the list and machine an event applies to. Events for the
// open conversation are queued while its history loads and replayed after.
func (e *Engine) target(ev eventstream.Event, conversationID string) (*reconcile.List, *convstate.Machine, match) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return nil, nil, matchNone
	case conversationID != e.conversationID:
		return nil, nil, matchOther
	case e.phase == PhaseLoading:
		if len(e.pending) < maxPending {
			e.pending = append(e.pending, ev)
		} else {
			e.log.Debug("pending event queue full", "event", ev.Name)
		}
		return nil, nil, matchQueued
	case e.list == nil || e.machine == nil:
		return nil, nil, matchNone
	}
	return e.list, e.machine, matchReady
}

func (e *Engine) onMessage(ev eventstream.Event, m api.Message) {
	list, machine, mt := e.target(ev, m.ConversationID)
	switch mt {
	case matchOther:
		if e.role == api.RoleAgent && e.dispatcher.Inbox(m) {
			e.metrics.Notified(string(notify.KindInbox))
		}
		return
	case matchReady:
	default:
		return
	}

	out := list.Ingest(m)
	e.metrics.Reconciled(out.Kind.String())
	if !out.Changed() {
		return
	}
	if e.dispatcher.Message(out.Entry) {
		e.metrics.Notified(string(notify.KindMessage))
	}
	e.refreshSeen(list, machine)
	e.publish()
}

func (e *Engine) onSeen(ev eventstream.Event, p SeenPayload) {
	// The viewer's own read receipt says nothing about the counterpart.
	if p.Role == e.role {
		return
	}
	list, machine, mt := e.target(ev, p.ConversationID)
	if mt != matchReady {
		return
	}
	if machine.ApplySeen(p.SeenAt) {
		e.refreshSeen(list, machine)
		e.publish()
	}
}

func (e *Engine) onEnded(ev eventstream.Event, p EndedPayload) {
	list, machine, mt := e.target(ev, p.ConversationID)
	if mt != matchReady {
		return
	}
	machine.ApplyEnded()
	e.noteClosed(p.ConversationID, list)
	e.publish()
}

func (e *Engine) onMetadata(ev eventstream.Event, p MetadataPayload) {
	list, machine, mt := e.target(ev, p.ConversationID)
	if mt != matchReady {
		return
	}
	machine.ApplyMetadata(p.Status, p.Priority)
	if machine.ClosedObserved() {
		e.noteClosed(p.ConversationID, list)
	}
	e.publish()
}

// noteClosed runs once per opened conversation: it appends the closed
// notice, forgets the persisted id and raises a toast.
func (e *Engine) noteClosed(conversationID string, list *reconcile.List) {
	e.mu.Lock()
	if e.closedNoticed || e.conversationID != conversationID || e.list != list {
		e.mu.Unlock()
		return
	}
	e.closedNoticed = true
	e.mu.Unlock()

	list.AppendSystem(ClosedNotice, e.now())
	e.forget(conversationID)
	e.dispatcher.Notice(notify.KindEnded, conversationID, "Conversation closed")
	e.metrics.Notified(string(notify.KindEnded))
}

func (e *Engine) refreshSeen(list *reconcile.List, machine *convstate.Machine) {
	if seen := machine.SeenAt(); !seen.IsZero() {
		list.MarkSeen(e.role, seen)
	}
}

func (e *Engine) onState(st transport.State) {
	e.mu.Lock()
	e.conn = st
	resync := st == transport.StateConnected && e.reconnecting
	switch st {
	case transport.StateReconnecting:
		e.reconnecting = true
	case transport.StateConnected:
		e.reconnecting = false
	}
	gen, id, ready := e.gen, e.conversationID, e.phase == PhaseReady
	e.mu.Unlock()

	e.metrics.SetConnectionState(string(st))
	if st == transport.StateReconnecting {
		e.metrics.Reconnect()
	}
	if resync && ready && id != "" {
		e.wg.Add(1)
		go e.resync(gen, id)
	}
	e.publish()
}

// resync fills the gap a disconnect left by merging a fresh history fetch.
func (e *Engine) resync(gen uint64, id string) {
	defer e.wg.Done()

	history, err := e.api.Messages(e.baseCtx, id)
	if err != nil {
		e.log.Debug("resync after reconnect failed", "conversation_id", id, "error", err)
		return
	}

	e.mu.Lock()
	if !e.currentLocked(gen, id) || e.list == nil {
		e.mu.Unlock()
		e.metrics.StaleDropped()
		return
	}
	list, machine := e.list, e.machine
	e.mu.Unlock()

	if conv := history.Conversation; conv != nil {
		machine.ApplyMetadata(&conv.Status, &conv.Priority)
		if conv.SeenAt != nil {
			machine.ApplySeen(*conv.SeenAt)
		}
	}
	changed := 0
	for _, m := range history.Messages {
		out := list.Ingest(m)
		if !out.Changed() {
			continue
		}
		changed++
		e.metrics.Reconciled(out.Kind.String())
		if e.dispatcher.Message(out.Entry) {
			e.metrics.Notified(string(notify.KindMessage))
		}
	}
	if machine.ClosedObserved() {
		e.noteClosed(id, list)
	}
	e.refreshSeen(list, machine)
	e.log.Debug("resynced after reconnect", "conversation_id", id, "new_messages", changed)
	e.publish()
}
