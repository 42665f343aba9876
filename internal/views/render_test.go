package views

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/reconcile"
	"github.com/taleforge/supportsync/internal/syncengine"
	"github.com/taleforge/supportsync/internal/transport"
)

func noColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestTextRendererIsIncremental(t *testing.T) {
	noColor(t)
	var out bytes.Buffer
	r := NewTextRenderer(&out, nil)
	r.loc = t0.Location()

	hi := reconcile.Entry{ID: "m1", Sender: api.RoleUser, Text: "hi", CreatedAt: t0, State: reconcile.StateConfirmed}
	pending := reconcile.Entry{LocalID: "l1", Sender: api.RoleUser, Text: "second", CreatedAt: t0.Add(time.Minute), State: reconcile.StateOptimistic}
	base := syncengine.View{
		ConversationID: "c1",
		Phase:          syncengine.PhaseReady,
		Connection:     transport.StateConnected,
		Status:         api.StatusOpen,
		Priority:       api.PriorityNormal,
	}

	v1 := base
	v1.Messages = []reconcile.Entry{hi}
	v2 := base
	v2.Messages = []reconcile.Entry{hi, pending}
	failed := pending
	failed.State, failed.Err = reconcile.StateFailed, "boom"
	v3 := base
	v3.Messages = []reconcile.Entry{hi, failed}
	confirmed := pending
	confirmed.ID, confirmed.State, confirmed.Seen = "m2", reconcile.StateConfirmed, true
	v4 := base
	v4.Status = api.StatusPending
	v4.Messages = []reconcile.Entry{hi, confirmed}
	notice := reconcile.Entry{LocalID: "l2", Sender: api.RoleSystem, Text: syncengine.ClosedNotice, State: reconcile.StateLocal}
	v5 := v4
	v5.Messages = []reconcile.Entry{hi, confirmed, notice}

	for _, v := range []syncengine.View{v1, v2, v3, v4, v4, v5, v5} {
		require.NoError(t, r.Render(v))
	}

	want := strings.Join([]string{
		"── conversation c1 ──",
		"[connection connected]",
		"[10:00] user: hi",
		"✗ not sent: second (boom) /resend l1",
		"[status open -> pending]",
		"[10:01] user: second",
		"  ✓ seen",
		"* " + syncengine.ClosedNotice,
	}, "\n") + "\n"
	assert.Equal(t, want, out.String())
}

func TestTextRendererConversationSwitchAndErrors(t *testing.T) {
	noColor(t)
	var out bytes.Buffer
	r := NewTextRenderer(&out, t0.Location())

	msg := reconcile.Entry{ID: "m1", Sender: api.RoleAgent, Text: "hello", CreatedAt: t0, State: reconcile.StateConfirmed}
	require.NoError(t, r.Render(syncengine.View{ConversationID: "c1", Phase: syncengine.PhaseReady, Connection: transport.StateIdle, Messages: []reconcile.Entry{msg}}))
	require.NoError(t, r.Render(syncengine.View{ConversationID: "c2", Phase: syncengine.PhaseLoading, Connection: transport.StateIdle}))
	require.NoError(t, r.Render(syncengine.View{ConversationID: "c2", Phase: syncengine.PhaseError, Connection: transport.StateIdle, Err: "timeout"}))
	m2 := msg
	m2.ConversationID = "c2"
	require.NoError(t, r.Render(syncengine.View{ConversationID: "c2", Phase: syncengine.PhaseReady, Connection: transport.StateIdle, Messages: []reconcile.Entry{m2}}))
	r.Notice("bye")

	want := strings.Join([]string{
		"── conversation c1 ──",
		"[10:00] agent: hello",
		"── conversation c2 ──",
		"loading history...",
		"could not load conversation: timeout (type /retry)",
		"[10:00] agent: hello",
		"bye",
	}, "\n") + "\n"
	assert.Equal(t, want, out.String())
}

func TestTextRendererPrintsMessagesWithoutIDs(t *testing.T) {
	noColor(t)
	var out bytes.Buffer
	r := NewTextRenderer(&out, t0.Location())

	first := reconcile.Entry{Sender: api.RoleAgent, Text: "hello", CreatedAt: t0, State: reconcile.StateConfirmed}
	second := reconcile.Entry{Sender: api.RoleAgent, Text: "still there?", CreatedAt: t0.Add(time.Minute), State: reconcile.StateConfirmed}
	base := syncengine.View{ConversationID: "c1", Phase: syncengine.PhaseReady, Connection: transport.StateIdle}

	v1 := base
	v1.Messages = []reconcile.Entry{first}
	v2 := base
	v2.Messages = []reconcile.Entry{first, second}
	for _, v := range []syncengine.View{v1, v2, v2} {
		require.NoError(t, r.Render(v))
	}

	want := strings.Join([]string{
		"── conversation c1 ──",
		"[10:00] agent: hello",
		"[10:01] agent: still there?",
	}, "\n") + "\n"
	assert.Equal(t, want, out.String())
}

func TestTextRendererDisablesInputOnceWhenClosed(t *testing.T) {
	noColor(t)
	var out bytes.Buffer
	r := NewTextRenderer(&out, t0.Location())

	open := syncengine.View{ConversationID: "c1", Phase: syncengine.PhaseReady, Connection: transport.StateIdle, Status: api.StatusOpen, CanSend: true}
	closed := open
	closed.Status, closed.CanSend, closed.ClosedObserved = api.StatusClosed, false, true
	for _, v := range []syncengine.View{open, closed, closed} {
		require.NoError(t, r.Render(v))
	}
	assert.Equal(t, 1, strings.Count(out.String(), "[input disabled: conversation closed]"))

	// A conversation that is already closed when it loads says so too.
	out.Reset()
	other := closed
	other.ConversationID = "c2"
	require.NoError(t, r.Render(other))
	assert.Contains(t, out.String(), "[input disabled: conversation closed]")
}

func TestJSONRenderer(t *testing.T) {
	var out bytes.Buffer
	r := NewJSONRenderer(&out)
	require.NoError(t, r.Render(syncengine.View{ConversationID: "c1", Role: api.RoleUser, Phase: syncengine.PhaseReady}))
	r.Notice("hello")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first struct {
		View syncengine.View `json:"view"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "c1", first.View.ConversationID)
	assert.Equal(t, syncengine.PhaseReady, first.View.Phase)
	assert.JSONEq(t, `{"notice":"hello"}`, lines[1])
}
