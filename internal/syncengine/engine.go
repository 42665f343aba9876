// Package syncengine is the connection manager shared by every support view.
//
// An Engine owns one transport session, one message list and one state
// machine for the open conversation. It loads history over REST, keeps the
// list live from the event stream and publishes immutable View snapshots.
// Switching conversations bumps a generation counter; REST responses for an
// older generation are discarded.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/convstate"
	"github.com/taleforge/supportsync/internal/convstore"
	"github.com/taleforge/supportsync/internal/debug"
	"github.com/taleforge/supportsync/internal/eventstream"
	"github.com/taleforge/supportsync/internal/metrics"
	"github.com/taleforge/supportsync/internal/notify"
	"github.com/taleforge/supportsync/internal/reconcile"
	"github.com/taleforge/supportsync/internal/transport"
	"github.com/taleforge/supportsync/internal/validation"
)

var (
	// ErrStale is returned when a response arrived for a conversation that is no longer open.
	ErrStale = errors.New("conversation changed while the request was in flight")
	// ErrNotOpen is returned when an action needs a loaded conversation.
	ErrNotOpen = errors.New("conversation is not loaded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
	// ErrAgentOnly is returned when a user session tries an agent action.
	ErrAgentOnly = errors.New("only agents can change conversation metadata")
	// ErrNotFailed is returned by Resend for entries that are not in the failed state.
	ErrNotFailed = errors.New("message is not in the failed state")
)

// ClosedNotice is the system entry appended when a conversation closes.
const ClosedNotice = "This conversation has been closed."

// SupportAPI is the REST surface the engine uses. api.SupportService implements it.
type SupportAPI interface {
	Start(ctx context.Context, req api.StartRequest) (*api.StartResult, error)
	Messages(ctx context.Context, conversationID string) (*api.History, error)
	Send(ctx context.Context, conversationID string, req api.SendRequest) (*api.SendResult, error)
	MarkRead(ctx context.Context, conversationID string) (*api.ReadResult, error)
	SetStatus(ctx context.Context, conversationID string, status api.Status) (*api.Conversation, error)
	SetPriority(ctx context.Context, conversationID string, priority api.Priority) (*api.Conversation, error)
	End(ctx context.Context, conversationID string) (*api.Conversation, error)
}

// Transport is the event stream session. transport.Session implements it.
type Transport interface {
	Connect(role api.Role, conversationID string)
	Retarget(conversationID string)
	Events() <-chan eventstream.Event
	States() <-chan transport.State
	State() transport.State
	Disconnect()
}

// Config wires an Engine. API and Role are required.
type Config struct {
	API SupportAPI
	// Transport may be nil for a REST-only engine without live updates.
	Transport  Transport
	Store      convstore.Store
	Dispatcher *notify.Dispatcher
	Metrics    *metrics.Metrics
	Role       api.Role
	Logger     *slog.Logger
	Now        func() time.Time
}

// Engine is safe for concurrent use.
type Engine struct {
	api        SupportAPI
	transport  Transport
	store      convstore.Store
	dispatcher *notify.Dispatcher
	metrics    *metrics.Metrics
	role       api.Role
	log        *slog.Logger
	now        func() time.Time

	subs *broadcaster

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
	attachMu   sync.Mutex

	mu             sync.Mutex
	gen            uint64
	conversationID string
	phase          Phase
	loadErr        error
	list           *reconcile.List
	machine        *convstate.Machine
	pending        []eventstream.Event
	closedNoticed  bool
	listening      bool
	reconnecting   bool
	conn           transport.State
	closed         bool
}

// New returns an idle engine.
func New(cfg Config) (*Engine, error) {
	if cfg.API == nil {
		return nil, errors.New("syncengine: API is required")
	}
	switch cfg.Role {
	case api.RoleUser, api.RoleAgent:
	default:
		return nil, fmt.Errorf("syncengine: unsupported viewer role %q", cfg.Role)
	}
	if cfg.Store == nil {
		cfg.Store = convstore.NewMemoryStore()
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = notify.New(cfg.Role, nil, nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := debug.Component(cfg.Logger, "syncengine")
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		api:        cfg.API,
		transport:  cfg.Transport,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		role:       cfg.Role,
		log:        log,
		now:        cfg.Now,
		subs:       newBroadcaster(log),
		baseCtx:    ctx,
		baseCancel: cancel,
		phase:      PhaseIdle,
		conn:       transport.StateIdle,
	}, nil
}

// Role returns the viewer role.
func (e *Engine) Role() api.Role { return e.role }

// ConversationID returns the open conversation, or "".
func (e *Engine) ConversationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationID
}

// Snapshot returns the current view.
func (e *Engine) Snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

func (e *Engine) viewLocked() View {
	v := View{
		ConversationID: e.conversationID,
		Role:           e.role,
		Phase:          e.phase,
		Connection:     e.conn,
	}
	if e.closed {
		v.Phase = PhaseClosed
	}
	if e.loadErr != nil {
		v.Err = e.loadErr.Error()
	}
	if e.machine != nil {
		s := e.machine.Snapshot()
		v.Status = s.Status
		v.Priority = s.Priority
		v.SeenAt = s.SeenAt
		v.ClosedObserved = s.ClosedObserved
		v.CanSend = s.CanSend
	}
	if e.list != nil {
		v.Messages = e.list.Entries()
	}
	return v
}

// Subscribe delivers the current view and every later change until ctx is
// done or the engine closes. Slow readers only see the latest view.
func (e *Engine) Subscribe(ctx context.Context) <-chan View {
	return e.subs.subscribe(ctx, e.Snapshot)
}

func (e *Engine) publish() {
	e.subs.publish(e.Snapshot)
}

// Listen connects the transport without opening a conversation, which
// agents use to watch the admin room.
func (e *Engine) Listen() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	id := e.conversationID
	e.mu.Unlock()
	e.attach(id)
	return nil
}

// attach connects the transport on first use and retargets it afterwards.
func (e *Engine) attach(conversationID string) {
	if e.transport == nil {
		return
	}
	e.attachMu.Lock()
	defer e.attachMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	first := !e.listening
	e.listening = true
	e.mu.Unlock()

	if !first {
		e.transport.Retarget(conversationID)
		return
	}
	e.transport.Connect(e.role, conversationID)
	events := e.transport.Events()
	e.wg.Add(1)
	go e.pump(events)
}

// Open switches to conversationID and loads its history. On failure the
// view enters PhaseError and the error is returned; Retry reloads.
func (e *Engine) Open(ctx context.Context, conversationID string) error {
	return e.open(ctx, conversationID, nil)
}

// Retry reloads the open conversation after a failed history fetch.
func (e *Engine) Retry(ctx context.Context) error {
	e.mu.Lock()
	id := e.conversationID
	e.mu.Unlock()
	if id == "" {
		return convstate.ErrNoConversation
	}
	return e.open(ctx, id, nil)
}

// open switches conversations. seed, when non-nil, replaces the history fetch.
func (e *Engine) open(ctx context.Context, conversationID string, seed *api.History) error {
	id, err := validation.NormalizeConversationID(conversationID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.gen++
	gen := e.gen
	e.conversationID = id
	e.phase = PhaseLoading
	e.loadErr = nil
	e.list = nil
	e.machine = nil
	e.pending = nil
	e.closedNoticed = false
	e.mu.Unlock()

	// Events for the previous conversation are filtered from here on.
	e.attach(id)
	e.publish()

	history := seed
	if history == nil {
		history, err = e.api.Messages(ctx, id)
	}

	e.mu.Lock()
	if !e.currentLocked(gen, id) {
		e.mu.Unlock()
		e.metrics.StaleDropped()
		return ErrStale
	}
	if err != nil {
		e.phase = PhaseError
		e.loadErr = err
		e.mu.Unlock()
		e.log.Warn("history fetch failed", "conversation_id", id, "error", err)
		e.dispatcher.Notice(notify.KindFetchFailed, id, "Could not load the conversation")
		e.publish()
		return err
	}

	list := reconcile.NewList(id)
	seeded := list.Seed(history.Messages)
	machine := convstate.New(history.Conversation)
	if seen := machine.SeenAt(); !seen.IsZero() {
		list.MarkSeen(e.role, seen)
	}
	e.list = list
	e.machine = machine
	e.phase = PhaseReady
	e.closedNoticed = machine.ClosedObserved()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	e.log.Debug("conversation loaded", "conversation_id", id, "messages", seeded)
	if machine.ClosedObserved() {
		e.forget(id)
	}
	for _, ev := range pending {
		e.handle(ev)
	}
	e.publish()
	return nil
}

// currentLocked reports whether gen/id still name the open conversation.
func (e *Engine) currentLocked(gen uint64, id string) bool {
	return !e.closed && e.gen == gen && e.conversationID == id
}

// Start creates a conversation, persists its id and opens it with the
// messages the server returned.
func (e *Engine) Start(ctx context.Context, req api.StartRequest) (string, error) {
	if err := validation.ValidateSubject(req.Subject); err != nil {
		return "", err
	}
	if req.Text != "" {
		if err := validation.ValidateMessageText(req.Text); err != nil {
			return "", err
		}
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	res, err := e.api.Start(ctx, req)
	if err != nil {
		return "", err
	}
	id := res.ID()
	if err := e.store.Set(ctx, id); err != nil {
		e.log.Warn("persist active conversation failed", "conversation_id", id, "error", err)
	}
	conv := res.Conversation
	if conv == nil {
		conv = &api.Conversation{ID: id, Subject: req.Subject, Status: api.StatusOpen, Priority: api.PriorityNormal}
	}
	return id, e.open(ctx, id, &api.History{Conversation: conv, Messages: res.Messages})
}

// Resume opens the persisted conversation. It returns "" when none is stored.
// A conversation the server no longer knows is forgotten.
func (e *Engine) Resume(ctx context.Context) (string, error) {
	id, err := e.store.Get(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", nil
	}
	if err := e.Open(ctx, id); err != nil {
		if api.IsNotFoundError(err) {
			_ = e.store.Clear(ctx)
		}
		return id, err
	}
	return id, nil
}

// forget clears the persisted id if it still names conversationID.
func (e *Engine) forget(conversationID string) {
	ctx, cancel := context.WithTimeout(e.baseCtx, 5*time.Second)
	defer cancel()
	stored, err := e.store.Get(ctx)
	if err != nil {
		e.log.Debug("read active conversation failed", "error", err)
		return
	}
	if stored != conversationID {
		return
	}
	if err := e.store.Clear(ctx); err != nil {
		e.log.Warn("clear active conversation failed", "conversation_id", conversationID, "error", err)
	}
}

// Close tears down the transport and ends every subscription. It is safe
// to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.baseCancel()
		if e.transport != nil {
			e.transport.Disconnect()
		}
		e.wg.Wait()

		e.mu.Lock()
		e.conn = transport.StateClosed
		final := e.viewLocked()
		e.mu.Unlock()
		e.subs.close(final)
		e.metrics.SetConnectionState(string(transport.StateClosed))
	})
}
