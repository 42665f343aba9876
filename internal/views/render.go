package views

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/reconcile"
	"github.com/taleforge/supportsync/internal/syncengine"
	"github.com/taleforge/supportsync/internal/transport"
)

// TextRenderer prints views incrementally: each message once when it is
// confirmed, failures as they happen and state changes as single lines.
type TextRenderer struct {
	mu  sync.Mutex
	w   io.Writer
	loc *time.Location

	conversationID string
	phase          syncengine.Phase
	status         api.Status
	priority       api.Priority
	connection     transport.State
	printed        map[string]reconcile.State
	seenKey        string
	canSend        bool
	inputDisabled  bool
}

// NewTextRenderer writes to w, formatting times in loc (local time if nil).
func NewTextRenderer(w io.Writer, loc *time.Location) *TextRenderer {
	if loc == nil {
		loc = time.Local
	}
	return &TextRenderer{w: w, loc: loc, printed: make(map[string]reconcile.State)}
}

var (
	senderColors = map[api.Role]*color.Color{
		api.RoleUser:   color.New(color.FgCyan),
		api.RoleAgent:  color.New(color.FgGreen),
		api.RoleAI:     color.New(color.FgMagenta),
		api.RoleSystem: color.New(color.FgYellow),
	}
	dim     = color.New(color.Faint)
	failRed = color.New(color.FgRed)
	bold    = color.New(color.Bold)
)

// Render implements Renderer.
func (t *TextRenderer) Render(v syncengine.View) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v.ConversationID != t.conversationID {
		t.conversationID = v.ConversationID
		t.printed = make(map[string]reconcile.State)
		t.seenKey = ""
		t.status, t.priority = "", ""
		t.canSend, t.inputDisabled = false, false
		if v.ConversationID != "" {
			_, _ = bold.Fprintf(t.w, "── conversation %s ──\n", v.ConversationID)
		}
	}

	if v.Connection != t.connection {
		if t.connection != "" || v.Connection != transport.StateIdle {
			_, _ = dim.Fprintf(t.w, "[connection %s]\n", v.Connection)
		}
		t.connection = v.Connection
	}

	if v.Phase != t.phase {
		switch v.Phase {
		case syncengine.PhaseLoading:
			_, _ = dim.Fprintln(t.w, "loading history...")
		case syncengine.PhaseError:
			_, _ = failRed.Fprintf(t.w, "could not load conversation: %s (type /retry)\n", v.Err)
		}
		t.phase = v.Phase
	}

	if v.Status != "" && v.Status != t.status {
		if t.status != "" {
			_, _ = dim.Fprintf(t.w, "[status %s -> %s]\n", t.status, v.Status)
		}
		t.status = v.Status
	}
	if v.Priority != "" && v.Priority != t.priority {
		if t.priority != "" {
			_, _ = dim.Fprintf(t.w, "[priority %s -> %s]\n", t.priority, v.Priority)
		}
		t.priority = v.Priority
	}

	seenKey := ""
	for _, e := range v.Messages {
		key := entryKey(e)
		prev, ok := t.printed[key]
		switch e.State {
		case reconcile.StateConfirmed, reconcile.StateLocal:
			if !ok || prev == reconcile.StateOptimistic || prev == reconcile.StateFailed {
				t.printEntry(e)
			}
		case reconcile.StateFailed:
			if prev != reconcile.StateFailed {
				_, _ = failRed.Fprintf(t.w, "✗ not sent: %s (%s) /resend %s\n", e.Text, e.Err, e.LocalID)
			}
		}
		t.printed[key] = e.State
		if e.Seen {
			seenKey = key
		}
	}
	if seenKey != "" && seenKey != t.seenKey {
		_, _ = dim.Fprintln(t.w, "  ✓ seen")
	}
	t.seenKey = seenKey

	if v.Phase == syncengine.PhaseReady {
		switch {
		case v.CanSend:
			t.canSend, t.inputDisabled = true, false
		case !t.inputDisabled && (t.canSend || v.ClosedObserved || v.Status == api.StatusClosed):
			_, _ = dim.Fprintln(t.w, "[input disabled: conversation closed]")
			t.canSend, t.inputDisabled = false, true
		}
	}
	return nil
}

func (t *TextRenderer) printEntry(e reconcile.Entry) {
	if e.State == reconcile.StateLocal || e.Sender == api.RoleSystem {
		_, _ = senderColors[api.RoleSystem].Fprintf(t.w, "* %s\n", e.Text)
		return
	}
	c, ok := senderColors[e.Sender]
	if !ok {
		c = dim
	}
	_, _ = fmt.Fprintf(t.w, "[%s] ", e.CreatedAt.In(t.loc).Format("15:04"))
	_, _ = c.Fprint(t.w, e.Sender)
	_, _ = fmt.Fprintf(t.w, ": %s\n", e.Text)
}

// Notice implements Renderer.
func (t *TextRenderer) Notice(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintln(t.w, text)
}

// entryKey prefers the local surrogate so an optimistic entry keeps its key
// once confirmed. Entries with neither id fall back to the dedup tuple.
func entryKey(e reconcile.Entry) string {
	switch {
	case e.LocalID != "":
		return "local:" + e.LocalID
	case e.ID != "":
		return "id:" + e.ID
	default:
		return fmt.Sprintf("tuple:%s:%d:%s", e.Sender, e.CreatedAt.UnixMilli(), e.Text)
	}
}

// JSONRenderer writes one JSON object per line: {"view": ...} for each
// published view and {"notice": ...} for notices.
type JSONRenderer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONRenderer(w io.Writer) *JSONRenderer {
	return &JSONRenderer{enc: json.NewEncoder(w)}
}

func (j *JSONRenderer) Render(v syncengine.View) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(map[string]any{"view": v})
}

func (j *JSONRenderer) Notice(text string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(map[string]string{"notice": text})
}
