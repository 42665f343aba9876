// Package views adapts a syncengine.Engine to the three support surfaces:
// the end-user widget, the agent detail view and the help-center chat.
// Each view reads commands from an input stream and renders every
// published View until the input ends or the user quits.
package views

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/taleforge/supportsync/internal/convstate"
	"github.com/taleforge/supportsync/internal/reconcile"
	"github.com/taleforge/supportsync/internal/syncengine"
)

// Renderer draws views and out-of-band notices. Render is only called from
// one goroutine at a time.
type Renderer interface {
	Render(v syncengine.View) error
	Notice(text string)
}

// ErrQuit is returned by a command handler to end the loop.
var ErrQuit = errors.New("quit")

var errInputClosed = errors.New("input closed")

// notice is informational output from a command, such as help text.
type notice string

func (n notice) Error() string { return string(n) }

// Handler executes one input line.
type Handler interface {
	Handle(ctx context.Context, line string) error
}

// Run renders eng's views and feeds input lines to h until ctx is done,
// the input ends or h returns ErrQuit. Command errors are reported through
// r and do not stop the loop. Sends to a closed conversation are dropped.
func Run(ctx context.Context, eng *syncengine.Engine, h Handler, in io.Reader, r Renderer) error {
	lines := readLines(in)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for v := range eng.Subscribe(gctx) {
			if err := r.Render(v); err != nil {
				return fmt.Errorf("render: %w", err)
			}
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errInputClosed
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				err := h.Handle(gctx, line)
				var n notice
				switch {
				case errors.Is(err, ErrQuit):
					return ErrQuit
				case errors.As(err, &n):
					r.Notice(string(n))
				case errors.Is(err, convstate.ErrConversationClosed):
					// Input is disabled; the renderer shows that once.
				case err != nil:
					r.Notice("error: " + err.Error())
				}
			}
		}
	})

	err := g.Wait()
	// The subscription may have been cancelled before the last change arrived.
	if rerr := r.Render(eng.Snapshot()); rerr != nil && err == nil {
		err = rerr
	}
	if errors.Is(err, ErrQuit) || errors.Is(err, errInputClosed) {
		return nil
	}
	return err
}

// readLines scans in on its own goroutine. A terminal read cannot be
// interrupted, so the goroutine outlives Run until the next line or EOF.
func readLines(in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// parseCommand splits "/name arg..." into name and argument. Plain text
// returns an empty name.
func parseCommand(line string) (name, arg string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		return "", strings.TrimPrefix(line, "/")
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// lastFailed returns the newest failed entry.
func lastFailed(v syncengine.View) (reconcile.Entry, bool) {
	for i := len(v.Messages) - 1; i >= 0; i-- {
		if v.Messages[i].State == reconcile.StateFailed {
			return v.Messages[i], true
		}
	}
	return reconcile.Entry{}, false
}

// resend retries the failed entry named by localID, or the newest one.
func resend(ctx context.Context, eng *syncengine.Engine, localID string, askAI bool) error {
	if localID == "" {
		e, ok := lastFailed(eng.Snapshot())
		if !ok {
			return syncengine.ErrNotFailed
		}
		localID = e.LocalID
	}
	_, err := eng.Resend(ctx, localID, askAI)
	return err
}

func unknownCommand(name string) error {
	return fmt.Errorf("unknown command /%s (try /help)", name)
}
