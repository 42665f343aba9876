// Package eventstream is a websocket client for the support event stream.
//
// Every frame is a JSON object with a "type". The server sends "welcome"
// once after the upgrade, "ping" periodically, "event" for pushed support
// events and "disconnect" before closing. The client sends "emit" for
// outbound events such as room joins and "heartbeat" to keep proxies from
// reaping an idle connection.
package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Subprotocol is negotiated on every dial.
const Subprotocol = "supportsync-v1-json"

// DefaultPingTimeout is how long Listen waits without receiving any frame
// before treating the connection as dead. Servers ping every ~10s.
var DefaultPingTimeout = 25 * time.Second

// ErrPingTimeout is returned when no frames are received within the ping timeout.
var ErrPingTimeout = errors.New("ping timeout: no frames received")

// Frame types.
const (
	TypeWelcome    = "welcome"
	TypePing       = "ping"
	TypeEvent      = "event"
	TypeEmit       = "emit"
	TypeHeartbeat  = "heartbeat"
	TypeDisconnect = "disconnect"
)

// Frame is one JSON frame in either direction.
type Frame struct {
	Type      string          `json:"type"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Reconnect *bool           `json:"reconnect,omitempty"`
}

// Event is a support event received from the server.
type Event struct {
	Name string
	Data json.RawMessage
	Err  error // non-nil on read error or disconnect
}

// DisconnectError is returned when the server sends a disconnect frame.
type DisconnectError struct {
	Reason    string
	Reconnect bool
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("disconnect (reason=%s, reconnect=%v)", e.Reason, e.Reconnect)
}

// Client is one event stream connection.
type Client struct {
	conn *websocket.Conn
	url  string
}

// maxReadSize caps a single frame at 1 MB.
const maxReadSize = 1 << 20

// Connect dials url and waits for the welcome frame. header is sent with the
// upgrade request and typically carries the bearer token.
func Connect(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxReadSize)

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("read welcome: %w", err)
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("parse welcome: %w", err)
	}
	if f.Type != TypeWelcome {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("expected welcome, got %q (reason: %s)", f.Type, f.Reason)
	}

	return &Client{conn: conn, url: url}, nil
}

// URL returns the dialed URL.
func (c *Client) URL() string { return c.url }

// Close gracefully closes the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

// CloseNow closes the connection without the close handshake.
func (c *Client) CloseNow() error {
	return c.conn.CloseNow()
}

// Emit sends an outbound support event.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	f := Frame{Type: TypeEmit, Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		f.Data = data
	}
	return c.write(ctx, f)
}

func (c *Client) write(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", f.Type, err)
	}
	return nil
}

// StartHeartbeat sends heartbeat frames at the given interval until ctx is
// cancelled. onError, if non-nil, is called once on the first write failure
// before the goroutine exits.
func (c *Client) StartHeartbeat(ctx context.Context, interval time.Duration, onError func(error)) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.write(ctx, Frame{Type: TypeHeartbeat}); err != nil {
					if onError != nil && ctx.Err() == nil {
						onError(err)
					}
					return
				}
			}
		}
	}()
}

// Listen starts the read loop with DefaultPingTimeout.
func (c *Client) Listen(ctx context.Context) <-chan Event {
	return c.ListenWithTimeout(ctx, DefaultPingTimeout)
}

// ListenWithTimeout starts the read loop and returns a channel of events.
// Pings and welcome frames are handled silently. The channel closes after
// the first error event or when ctx is cancelled.
//
// If no frame arrives within pingTimeout the connection is treated as dead
// and ErrPingTimeout is emitted. Use 0 to disable the timeout.
func (c *Client) ListenWithTimeout(ctx context.Context, pingTimeout time.Duration) <-chan Event {
	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		for {
			readCtx := ctx
			var readCancel context.CancelFunc
			if pingTimeout > 0 {
				readCtx, readCancel = context.WithTimeout(ctx, pingTimeout)
			}

			_, data, err := c.conn.Read(readCtx)

			if readCancel != nil {
				readCancel()
			}

			if err != nil {
				if pingTimeout > 0 && ctx.Err() == nil && readCtx.Err() != nil {
					err = ErrPingTimeout
				}
				select {
				case ch <- Event{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			var f Frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}

			switch f.Type {
			case TypePing, TypeWelcome:
				continue
			case TypeDisconnect:
				derr := &DisconnectError{Reason: f.Reason, Reconnect: f.Reconnect == nil || *f.Reconnect}
				select {
				case ch <- Event{Err: derr}:
				case <-ctx.Done():
				}
				return
			case TypeEvent:
				if f.Event == "" {
					continue
				}
				select {
				case ch <- Event{Name: f.Event, Data: f.Data}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}
