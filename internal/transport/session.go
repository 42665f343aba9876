// Package transport keeps one event stream connection alive for a view.
//
// A Session dials asynchronously, announces room membership before it
// forwards any event, and reconnects with exponential backoff when the
// connection drops. Transient failures are logged, never returned.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/debug"
	"github.com/taleforge/supportsync/internal/eventstream"
	"github.com/taleforge/supportsync/internal/rooms"
)

// State is the connection state reported to views.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Path is the event stream endpoint on the support server.
const Path = "/support/ws"

const (
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultStableAfter    = 60 * time.Second
	DefaultHeartbeat      = 20 * time.Second
)

var (
	errRetarget     = errors.New("conversation retargeted")
	errStreamClosed = errors.New("event stream closed")
)

// Config configures a Session. Zero durations take the defaults above;
// a zero PingTimeout uses eventstream.DefaultPingTimeout.
type Config struct {
	URL   string // ws(s) URL of the event stream
	Token string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	StableAfter    time.Duration
	PingTimeout    time.Duration
	Heartbeat      time.Duration

	Logger *slog.Logger
	// OnState is called synchronously on every state change, with the
	// session lock held. It must not block or call back into the Session.
	OnState func(State)
}

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.StableAfter <= 0 {
		c.StableAfter = DefaultStableAfter
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = eventstream.DefaultPingTimeout
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	return c
}

// Session owns one event stream connection and its reconnect loop.
// The zero value is not usable; call New.
type Session struct {
	cfg Config
	log *slog.Logger

	mu             sync.Mutex
	role           api.Role
	conversationID string
	state          State
	client         *eventstream.Client
	connCancel     context.CancelCauseFunc
	cancel         context.CancelFunc
	done           chan struct{}
	events         chan eventstream.Event

	states chan State
	kick   chan struct{}
}

// New returns an idle Session.
func New(cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:    cfg,
		log:    debug.Component(cfg.Logger, "transport"),
		state:  StateIdle,
		states: make(chan State, 1),
		kick:   make(chan struct{}, 1),
	}
}

// Connect starts the connection loop for role and, when known, a
// conversation. It returns immediately. Calling Connect on a running
// session with the same role retargets it; a different role restarts it.
func (s *Session) Connect(role api.Role, conversationID string) {
	s.mu.Lock()
	if s.cancel != nil {
		sameRole := s.role == role
		s.mu.Unlock()
		if sameRole {
			s.Retarget(conversationID)
			return
		}
		s.Disconnect()
		s.mu.Lock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.role = role
	s.conversationID = conversationID
	s.cancel = cancel
	s.done = make(chan struct{})
	// Unbuffered so nothing is left queued once the loop has exited.
	s.events = make(chan eventstream.Event)
	s.setStateLocked(StateConnecting)
	done, events := s.done, s.events
	s.mu.Unlock()

	go s.run(ctx, events, done)
}

// Events returns the event channel of the current connection loop. It is
// closed when the loop stops. Before the first Connect it returns nil.
func (s *Session) Events() <-chan eventstream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// States delivers state changes, latest wins.
func (s *Session) States() <-chan State {
	return s.states
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConversationID returns the conversation the session is tagged with.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Retarget points the session at another conversation. Agent sessions keep
// their connection and announce the new room; user sessions are tagged by
// conversation and reconnect.
func (s *Session) Retarget(conversationID string) {
	s.mu.Lock()
	if s.conversationID == conversationID {
		s.mu.Unlock()
		return
	}
	s.conversationID = conversationID
	role, client, connCancel := s.role, s.client, s.connCancel
	running := s.cancel != nil
	s.mu.Unlock()

	if !running {
		return
	}
	if role != api.RoleAgent || client == nil {
		if connCancel != nil {
			connCancel(errRetarget)
		}
		s.nudge()
		return
	}
	if conversationID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Emit(ctx, rooms.EventJoin, rooms.JoinPayload{ConversationID: conversationID}); err != nil {
		s.log.Debug("room join failed, reconnecting", "conversation_id", conversationID, "error", err)
		if connCancel != nil {
			connCancel(err)
		}
	}
}

// Disconnect stops the loop, closes the socket and waits for teardown.
// It is safe to call more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Session) nudge() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(st)
}

func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	select {
	case <-s.states:
	default:
	}
	select {
	case s.states <- st:
	default:
	}
	if s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}

func (s *Session) run(ctx context.Context, out chan<- eventstream.Event, done chan struct{}) {
	defer close(done)
	defer close(out)
	defer s.setState(StateClosed)

	backoff := s.cfg.InitialBackoff
	for {
		// Drain a stale nudge so it cannot skip the next backoff.
		select {
		case <-s.kick:
		default:
		}

		start := time.Now()
		err := s.connectOnce(ctx, out)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > s.cfg.StableAfter {
			backoff = s.cfg.InitialBackoff
		}
		s.setState(StateReconnecting)
		if errors.Is(err, errRetarget) {
			continue
		}

		s.log.Debug("event stream disconnected", "error", err, "retry_in", backoff)
		select {
		case <-time.After(backoff):
		case <-s.kick:
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, s.cfg.MaxBackoff)
	}
}

// connectOnce runs one connection until it fails or ctx is cancelled.
func (s *Session) connectOnce(ctx context.Context, out chan<- eventstream.Event) error {
	connCtx, connCancel := context.WithCancelCause(ctx)
	defer connCancel(nil)

	s.mu.Lock()
	role, id := s.role, s.conversationID
	s.connCancel = connCancel
	s.mu.Unlock()

	dialURL, err := s.dialURL(role, id)
	if err != nil {
		return err
	}
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	client, err := eventstream.Connect(connCtx, dialURL, header)
	if err != nil {
		if cause := context.Cause(connCtx); cause != nil {
			return cause
		}
		return err
	}
	defer func() { _ = client.CloseNow() }()

	// Membership must be in place before any event is trusted. A retarget
	// that lands while we announce is picked up by announcing again.
	for {
		if err := rooms.Announce(connCtx, client, role, id); err != nil {
			if cause := context.Cause(connCtx); cause != nil {
				return cause
			}
			return err
		}
		s.mu.Lock()
		if s.conversationID == id {
			s.client = client
			s.mu.Unlock()
			break
		}
		id = s.conversationID
		s.mu.Unlock()
	}
	defer func() {
		s.mu.Lock()
		s.client = nil
		s.mu.Unlock()
	}()

	s.setState(StateConnected)
	s.log.Debug("event stream connected", "role", role, "conversation_id", id)

	client.StartHeartbeat(connCtx, s.cfg.Heartbeat, func(err error) {
		s.log.Debug("heartbeat failed", "error", err)
	})

	for ev := range client.ListenWithTimeout(connCtx, s.cfg.PingTimeout) {
		if ev.Err != nil {
			if cause := context.Cause(connCtx); cause != nil {
				return cause
			}
			return ev.Err
		}
		select {
		case out <- ev:
		case <-connCtx.Done():
			return context.Cause(connCtx)
		}
	}
	if cause := context.Cause(connCtx); cause != nil {
		return cause
	}
	return errStreamClosed
}

func (s *Session) dialURL(role api.Role, conversationID string) (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse event stream URL: %w", err)
	}
	q := u.Query()
	q.Set("role", string(role))
	if conversationID != "" {
		q.Set("conversationId", conversationID)
	} else {
		q.Del("conversationId")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
