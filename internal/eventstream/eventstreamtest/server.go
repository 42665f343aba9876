// Package eventstreamtest provides an in-process support event stream server
// for tests.
package eventstreamtest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/taleforge/supportsync/internal/eventstream"
)

// Server accepts event stream connections, greets them and records their
// outbound frames.
type Server struct {
	*httptest.Server
	conns chan *Conn
}

// Conn is the server side of one accepted connection.
type Conn struct {
	Query  url.Values
	Header http.Header

	ws     *websocket.Conn
	frames chan eventstream.Frame
	done   chan struct{}
}

// NewServer starts a server that is closed on test cleanup.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{conns: make(chan *Conn, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{eventstream.Subprotocol},
		})
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer func() { _ = ws.CloseNow() }()

		ctx := r.Context()
		if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"welcome"}`)); err != nil {
			return
		}
		c := &Conn{
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			ws:     ws,
			frames: make(chan eventstream.Frame, 64),
			done:   make(chan struct{}),
		}
		defer close(c.done)
		s.conns <- c

		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			var f eventstream.Frame
			if json.Unmarshal(data, &f) != nil || f.Type == eventstream.TypeHeartbeat {
				continue
			}
			select {
			case c.frames <- f:
			default:
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// NextConn waits for the next accepted connection.
func (s *Server) NextConn(t *testing.T, timeout time.Duration) *Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(timeout):
		t.Fatalf("no connection within %s", timeout)
		return nil
	}
}

// NoConn asserts that no new connection arrives within d.
func (s *Server) NoConn(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-s.conns:
		t.Fatalf("unexpected new connection")
	case <-time.After(d):
	}
}

// NextEmit waits for the next emitted frame, skipping heartbeats.
func (c *Conn) NextEmit(t *testing.T, timeout time.Duration) eventstream.Frame {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(timeout):
		t.Fatalf("no emit within %s", timeout)
		return eventstream.Frame{}
	}
}

// ExpectJoins reads len(events) emits and checks their event names in order.
func (c *Conn) ExpectJoins(t *testing.T, timeout time.Duration, events ...string) []eventstream.Frame {
	t.Helper()
	out := make([]eventstream.Frame, 0, len(events))
	for _, want := range events {
		f := c.NextEmit(t, timeout)
		if f.Type != eventstream.TypeEmit || f.Event != want {
			t.Fatalf("expected emit %q, got %+v", want, f)
		}
		out = append(out, f)
	}
	return out
}

// Push sends an event frame to the client.
func (c *Conn) Push(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f, err := json.Marshal(eventstream.Frame{Type: eventstream.TypeEvent, Event: event, Data: data})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, f)
}

// Drop closes the connection abruptly, as a network failure would.
func (c *Conn) Drop() {
	_ = c.ws.CloseNow()
}

// Done is closed when the server side of the connection has finished.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
