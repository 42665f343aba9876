package syncengine

import (
	"context"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/convstate"
	"github.com/taleforge/supportsync/internal/notify"
	"github.com/taleforge/supportsync/internal/reconcile"
	"github.com/taleforge/supportsync/internal/validation"
)

type openConversation struct {
	gen     uint64
	id      string
	list    *reconcile.List
	machine *convstate.Machine
}

func (e *Engine) current() (openConversation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return openConversation{}, ErrClosed
	case e.conversationID == "":
		return openConversation{}, convstate.ErrNoConversation
	case e.list == nil || e.machine == nil:
		return openConversation{}, ErrNotOpen
	}
	return openConversation{gen: e.gen, id: e.conversationID, list: e.list, machine: e.machine}, nil
}

func (e *Engine) isCurrent(c openConversation) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLocked(c.gen, c.id) && e.list == c.list
}

// Send shows text immediately as an optimistic entry and posts it. The
// returned entry is confirmed or failed, never still optimistic. Sends to a
// closed or missing conversation are rejected before any request.
func (e *Engine) Send(ctx context.Context, text string, askAI bool) (reconcile.Entry, error) {
	if err := validation.ValidateMessageText(text); err != nil {
		return reconcile.Entry{}, err
	}
	c, err := e.current()
	if err != nil {
		return reconcile.Entry{}, err
	}
	if err := c.machine.CheckSend(c.id); err != nil {
		return reconcile.Entry{}, err
	}
	entry := c.list.AddOptimistic(e.role, text, e.now())
	e.publish()
	return e.deliver(ctx, c, entry, askAI)
}

// Resend retries a failed entry in place.
func (e *Engine) Resend(ctx context.Context, localID string, askAI bool) (reconcile.Entry, error) {
	c, err := e.current()
	if err != nil {
		return reconcile.Entry{}, err
	}
	if err := c.machine.CheckSend(c.id); err != nil {
		return reconcile.Entry{}, err
	}
	entry, ok := c.list.Requeue(localID)
	if !ok {
		return reconcile.Entry{}, ErrNotFailed
	}
	e.publish()
	return e.deliver(ctx, c, entry, askAI)
}

func (e *Engine) deliver(ctx context.Context, c openConversation, entry reconcile.Entry, askAI bool) (reconcile.Entry, error) {
	res, err := e.api.Send(ctx, c.id, api.SendRequest{Text: entry.Text, AskAI: askAI})
	if !e.isCurrent(c) {
		e.metrics.StaleDropped()
		return entry, ErrStale
	}
	if err != nil {
		if !c.list.Fail(entry.LocalID, err) {
			// The echo confirmed it while the request was failing.
			if got, ok := c.list.Find(entry.LocalID); ok && got.State == reconcile.StateConfirmed {
				return got, nil
			}
		}
		failed, _ := c.list.Find(entry.LocalID)
		e.metrics.SendFailed()
		e.log.Debug("send failed", "conversation_id", c.id, "local_id", entry.LocalID, "error", err)
		e.dispatcher.Notice(notify.KindSendFailed, c.id, "Message not sent")
		e.publish()
		return failed, err
	}

	out := c.list.Confirm(entry.LocalID, res.Message)
	e.metrics.Reconciled(out.Kind.String())
	if res.Reply != nil {
		reply := c.list.Ingest(*res.Reply)
		e.metrics.Reconciled(reply.Kind.String())
		if reply.Changed() && e.dispatcher.Message(reply.Entry) {
			e.metrics.Notified(string(notify.KindMessage))
		}
	}
	e.refreshSeen(c.list, c.machine)
	e.publish()
	return out.Entry, nil
}

// End closes the conversation optimistically and confirms or rolls back
// with the server's answer.
func (e *Engine) End(ctx context.Context) error {
	c, err := e.current()
	if err != nil {
		return err
	}
	if c.machine.ClosedObserved() {
		return convstate.ErrConversationClosed
	}
	tok := c.machine.BeginEnd()
	e.publish()

	_, err = e.api.End(ctx, c.id)
	if !e.isCurrent(c) {
		e.metrics.StaleDropped()
		return ErrStale
	}
	if err != nil {
		c.machine.RollbackEnd(tok)
		e.publish()
		return err
	}
	c.machine.ConfirmEnd()
	e.noteClosed(c.id, c.list)
	e.publish()
	return nil
}

// MarkRead tells the server the viewer has read the conversation.
func (e *Engine) MarkRead(ctx context.Context) (*api.ReadResult, error) {
	c, err := e.current()
	if err != nil {
		return nil, err
	}
	res, err := e.api.MarkRead(ctx, c.id)
	if !e.isCurrent(c) {
		e.metrics.StaleDropped()
		return nil, ErrStale
	}
	return res, err
}

// SetStatus applies an agent status change optimistically.
func (e *Engine) SetStatus(ctx context.Context, status api.Status) error {
	if e.role != api.RoleAgent {
		return ErrAgentOnly
	}
	if !status.Valid() {
		return api.NewValidationError("status", string(status), api.ValidStatuses)
	}
	c, err := e.current()
	if err != nil {
		return err
	}
	tok, err := c.machine.SetLocalStatus(status)
	if err != nil {
		return err
	}
	e.publish()

	conv, err := e.api.SetStatus(ctx, c.id, status)
	if !e.isCurrent(c) {
		e.metrics.StaleDropped()
		return ErrStale
	}
	if err != nil {
		c.machine.Rollback(tok)
		e.publish()
		return err
	}
	confirmed := conv.Status
	if !confirmed.Valid() {
		confirmed = status
	}
	c.machine.ApplyMetadata(&confirmed, nil)
	if c.machine.ClosedObserved() {
		e.noteClosed(c.id, c.list)
	}
	e.publish()
	return nil
}

// SetPriority applies an agent priority change optimistically.
func (e *Engine) SetPriority(ctx context.Context, priority api.Priority) error {
	if e.role != api.RoleAgent {
		return ErrAgentOnly
	}
	if !priority.Valid() {
		return api.NewValidationError("priority", string(priority), api.ValidPriorities)
	}
	c, err := e.current()
	if err != nil {
		return err
	}
	if c.machine.ClosedObserved() {
		return convstate.ErrConversationClosed
	}
	tok := c.machine.SetLocalPriority(priority)
	e.publish()

	conv, err := e.api.SetPriority(ctx, c.id, priority)
	if !e.isCurrent(c) {
		e.metrics.StaleDropped()
		return ErrStale
	}
	if err != nil {
		c.machine.Rollback(tok)
		e.publish()
		return err
	}
	confirmed := conv.Priority
	if !confirmed.Valid() {
		confirmed = priority
	}
	c.machine.ApplyMetadata(nil, &confirmed)
	e.publish()
	return nil
}
