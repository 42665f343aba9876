package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleforge/supportsync/internal/config"
)

const historyC1 = `{
  "conversation": {"id": "c1", "subject": "Refund", "status": "open", "priority": "normal"},
  "messages": [
    {"id": "m1", "sender": "user", "text": "my order arrived broken", "createdAt": "2026-03-01T10:00:00Z"},
    {"id": "m2", "sender": "agent", "text": "sorry to hear that", "createdAt": "2026-03-01T10:01:00Z"},
    {"id": "m3", "sender": "user", "text": "thanks", "createdAt": "2026-03-01T10:02:00Z"}
  ]
}`

const closedC2 = `{
  "conversation": {"id": "c2", "status": "closed", "priority": "normal"},
  "messages": [{"id": "m9", "sender": "user", "text": "bye", "createdAt": "2026-03-01T09:00:00Z"}]
}`

func TestStart_PersistsActiveConversation(t *testing.T) {
	var body map[string]any
	handler := newRouteHandler().
		On("POST", "/support/chat/start", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&body)
			jsonResponse(200, `{
			  "conversationId": "c1",
			  "conversation": {"id": "c1", "subject": "Refund", "status": "open", "priority": "normal"},
			  "messages": [{"id": "m1", "sender": "user", "text": "my order arrived broken", "createdAt": "2026-03-01T10:00:00Z"}]
			}`)(w, r)
		})
	env := setupTestEnvWithHandler(t, handler)

	res := run(t, "start", "--subject", "Refund", "--ask-ai", "my order arrived broken")
	require.NoError(t, res.err, res.stderr)

	assert.Contains(t, res.stdout, "Started conversation c1")
	assert.Contains(t, res.stdout, "my order arrived broken")
	assert.Equal(t, "Refund", body["subject"])
	assert.Equal(t, "my order arrived broken", body["text"])
	assert.Equal(t, true, body["askAI"])

	id, err := env.activeStore().Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
}

func TestStart_JSONOutput(t *testing.T) {
	handler := newRouteHandler().
		On("POST", "/support/chat/start", jsonResponse(200, `{"conversationId": "c5"}`))
	setupTestEnvWithHandler(t, handler)

	res := run(t, "start", "-o", "json")
	require.NoError(t, res.err, res.stderr)

	view := decodeJSON(t, res.stdout)
	assert.Equal(t, "c5", view["conversationId"])
	assert.Equal(t, "open", view["status"])
	assert.Equal(t, true, view["canSend"])
}

func TestSend_PrintsMessageAndAIReply(t *testing.T) {
	var body map[string]any
	handler := newRouteHandler().
		On("GET", "/support/chat/c1/messages", jsonResponse(200, historyC1)).
		On("POST", "/support/chat/c1/messages", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&body)
			jsonResponse(201, `{
			  "message": {"id": "m4", "sender": "user", "text": "where is my refund?", "createdAt": "2026-03-01T10:03:00Z"},
			  "aiReply": {"id": "m5", "sender": "ai", "text": "refunds take 3 days", "createdAt": "2026-03-01T10:03:01Z"}
			}`)(w, r)
		})
	setupTestEnvWithHandler(t, handler)

	res := run(t, "send", "c1", "where", "is", "my", "refund?", "--ask-ai", "-o", "json")
	require.NoError(t, res.err, res.stderr)

	assert.Equal(t, "where is my refund?", body["text"])
	assert.Equal(t, true, body["askAI"])

	out := decodeJSON(t, res.stdout)
	msg := out["message"].(map[string]any)
	assert.Equal(t, "m4", msg["id"])
	assert.Equal(t, "confirmed", msg["state"])
	replies := out["replies"].([]any)
	require.Len(t, replies, 1)
	assert.Equal(t, "refunds take 3 days", replies[0].(map[string]any)["text"])
}

func TestSend_ReadsStdin(t *testing.T) {
	var body map[string]any
	handler := newRouteHandler().
		On("GET", "/support/chat/c1/messages", jsonResponse(200, historyC1)).
		On("POST", "/support/chat/c1/messages", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&body)
			jsonResponse(201, `{"message": {"id": "m4", "sender": "user", "text": "from a pipe", "createdAt": "2026-03-01T10:03:00Z"}}`)(w, r)
		})
	setupTestEnvWithHandler(t, handler)

	res := runWithInput(t, "from a pipe\n", "send", "#c1", "-")
	require.NoError(t, res.err, res.stderr)

	assert.Equal(t, "from a pipe", body["text"])
	assert.Contains(t, res.stdout, "Sent message m4")
}

func TestSend_ClosedConversationIsRejectedLocally(t *testing.T) {
	var posts atomic.Int32
	handler := newRouteHandler().
		On("GET", "/support/chat/c2/messages", jsonResponse(200, closedC2)).
		On("POST", "/support/chat/c2/messages", func(w http.ResponseWriter, r *http.Request) {
			posts.Add(1)
			jsonResponse(409, `{"error": "closed"}`)(w, r)
		})
	setupTestEnvWithHandler(t, handler)

	res := run(t, "send", "c2", "hello?")
	require.Error(t, res.err)

	assert.Equal(t, exitClosed, ExitCode(res.err))
	assert.Zero(t, posts.Load(), "no request should reach the server")
	assert.Contains(t, res.stderr, "conversation is closed")
}

func TestSend_EmptyTextIsUsageError(t *testing.T) {
	handler := newRouteHandler().
		On("GET", "/support/chat/c1/messages", jsonResponse(200, historyC1))
	setupTestEnvWithHandler(t, handler)

	res := run(t, "send", "c1", "   ")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "cannot be empty")
}

func TestSend_UnknownConversation(t *testing.T) {
	handler := newRouteHandler().
		On("GET", "/support/chat/nope/messages", jsonResponse(404, `{"error": "not found"}`))
	setupTestEnvWithHandler(t, handler)

	res := run(t, "send", "nope", "hi")
	require.Error(t, res.err)
	assert.Equal(t, exitNotFound, ExitCode(res.err))
}

func TestHistory_TextTable(t *testing.T) {
	handler := newRouteHandler().
		On("GET", "/support/chat/c1/messages", jsonResponse(200, historyC1))
	setupTestEnvWithHandler(t, handler)

	res := run(t, "history", "c1")
	require.NoError(t, res.err, res.stderr)

	assert.Contains(t, res.stdout, "Conversation c1  status: open  priority: normal")
	assert.Contains(t, res.stdout, "FROM")
	assert.Contains(t, res.stdout, "sorry to hear that")
	assert.Contains(t, res.stdout, "confirmed")
}

func TestHistory_LimitAndQuery(t *testing.T) {
	handler := newRouteHandler().
		On("GET", "/support/chat/c1/messages", jsonResponse(200, historyC1))
	setupTestEnvWithHandler(t, handler)

	res := run(t, "history", "c1", "--limit", "2", "--jq", "[.messages[].id]")
	require.NoError(t, res.err, res.stderr)

	var ids []string
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &ids), res.stdout)
	assert.Equal(t, []string{"m2", "m3"}, ids)
}

func TestHistory_SinceAndLink(t *testing.T) {
	handler := newRouteHandler().
		On("GET", "/support/chat/c1/messages", jsonResponse(200, historyC1))
	env := setupTestEnvWithHandler(t, handler)

	link := env.server.URL + "/chat/c1"
	res := run(t, "history", link, "--since", "2026-03-01T10:01:00Z", "--jq", "[.messages[].id]")
	require.NoError(t, res.err, res.stderr)

	var ids []string
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &ids), res.stdout)
	assert.Equal(t, []string{"m2", "m3"}, ids)
}

func TestHistory_InvalidSince(t *testing.T) {
	setupTestEnvWithHandler(t, newRouteHandler())

	res := run(t, "history", "c1", "--since", "whenever")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, ExitCode(res.err))
}

func TestHistory_BadLink(t *testing.T) {
	setupTestEnvWithHandler(t, newRouteHandler())

	res := run(t, "history", "https://support.example.com/settings")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, ExitCode(res.err))
}

func TestHistory_NegativeLimit(t *testing.T) {
	setupTestEnvWithHandler(t, newRouteHandler())

	res := run(t, "history", "c1", "--limit", "-1")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, ExitCode(res.err))
}

func TestRead_MarksConversation(t *testing.T) {
	var hits atomic.Int32
	handler := newRouteHandler().
		On("PUT", "/support/chat/c1/read", func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			jsonResponse(200, `{"seenAt": "2026-03-01T10:05:00Z"}`)(w, r)
		})
	setupTestEnvWithHandler(t, handler)

	res := run(t, "read", "c1", "-o", "json")
	require.NoError(t, res.err, res.stderr)

	assert.Equal(t, int32(1), hits.Load())
	out := decodeJSON(t, res.stdout)
	assert.Equal(t, "c1", out["conversationId"])
	assert.Equal(t, "2026-03-01T10:05:00Z", out["seenAt"])
}

func TestStatus_RequiresAgent(t *testing.T) {
	setupTestEnvWithHandler(t, newRouteHandler())

	res := run(t, "status", "c1", "pending")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, ExitCode(res.err))
	assert.Contains(t, res.stderr, "Only agents")
}

func TestStatus_AgentUpdatesStatus(t *testing.T) {
	var body map[string]string
	handler := newRouteHandler().
		On("GET", "/support/chat/c1/messages", jsonResponse(200, historyC1)).
		On("PUT", "/support/chat/c1/status", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&body)
			jsonResponse(200, `{"id": "c1", "status": "pending", "priority": "normal"}`)(w, r)
		})
	env := setupTestEnvWithHandler(t, handler)
	env.asAgent()

	res := run(t, "status", "c1", "pend", "-o", "json")
	require.NoError(t, res.err, res.stderr)

	assert.Equal(t, "pending", body["status"])
	out := decodeJSON(t, res.stdout)
	assert.Equal(t, "pending", out["status"])
	assert.Equal(t, false, out["closed"])
}

func TestStatus_UnknownValue(t *testing.T) {
	env := setupTestEnvWithHandler(t, newRouteHandler())
	env.asAgent()

	res := run(t, "status", "c1", "bogus")
	require.Error(t, res.err)
	assert.Equal(t, exitUsage, ExitCode(res.err))
}

func TestPriority_AgentUpdatesPriority(t *testing.T) {
	var body map[string]string
	handler := newRouteHandler().
		On("GET", "/support/chat/c1/messages", jsonResponse(200, historyC1)).
		On("PUT", "/support/chat/c1/priority", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.WriteHeader(http.StatusNoContent)
		})
	env := setupTestEnvWithHandler(t, handler)
	env.asAgent()

	res := run(t, "priority", "c1", "hi")
	require.NoError(t, res.err, res.stderr)

	assert.Equal(t, "high", body["priority"])
	assert.Contains(t, res.stdout, "Set priority high on conversation c1")
}

func TestStatus_DryRunSendsNothing(t *testing.T) {
	var puts atomic.Int32
	handler := newRouteHandler().
		On("GET", "/support/chat/c1/messages", jsonResponse(200, historyC1)).
		On("PUT", "/support/chat/c1/status", func(w http.ResponseWriter, r *http.Request) {
			puts.Add(1)
			w.WriteHeader(http.StatusNoContent)
		})
	env := setupTestEnvWithHandler(t, handler)
	env.asAgent()

	res := run(t, "status", "c1", "resolved", "--dry-run")
	require.NoError(t, res.err, res.stderr)

	assert.Equal(t, int32(0), puts.Load())
	assert.Contains(t, res.stdout, "[DRY-RUN] Would set status on conversation c1")
	assert.Contains(t, res.stdout, "from: open")
	assert.Contains(t, res.stdout, "to: resolved")
}

func TestPriority_DryRunWarnsWhenUnchanged(t *testing.T) {
	handler := newRouteHandler().
		On("GET", "/support/chat/c1/messages", jsonResponse(200, historyC1))
	env := setupTestEnvWithHandler(t, handler)
	env.asAgent()

	res := run(t, "priority", "c1", "normal", "--dry-run", "-o", "json")
	require.NoError(t, res.err, res.stderr)

	out := decodeJSON(t, res.stdout)
	assert.Equal(t, true, out["dryRun"])
	assert.Equal(t, "c1", out["conversationId"])
	assert.Equal(t, []any{"priority is already normal"}, out["warnings"])
}

func TestEnd_DryRun(t *testing.T) {
	setupTestEnvWithHandler(t, newRouteHandler())

	res := run(t, "end", "c1", "c2", "--dry-run", "-o", "json")
	require.NoError(t, res.err, res.stderr)

	var previews []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &previews), res.stdout)
	require.Len(t, previews, 2)
	assert.Equal(t, "c1", previews[0]["conversationId"])
	assert.Equal(t, "end", previews[1]["operation"])
}

func TestEnd_ClosesAndForgetsActive(t *testing.T) {
	handler := newRouteHandler().
		On("GET", "/support/chat/c1/messages", jsonResponse(200, historyC1)).
		On("PUT", "/support/chat/c1/end", jsonResponse(200, `{"id": "c1", "status": "closed"}`))
	env := setupTestEnvWithHandler(t, handler)
	require.NoError(t, env.activeStore().Set(context.Background(), "c1"))

	res := run(t, "end", "c1")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Closed conversation c1")

	id, err := env.activeStore().Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestEnd_BulkPartialFailure(t *testing.T) {
	handler := newRouteHandler().
		On("GET", "/support/chat/c1/messages", jsonResponse(200, historyC1)).
		On("PUT", "/support/chat/c1/end", jsonResponse(200, `{"id": "c1", "status": "closed"}`)).
		On("GET", "/support/chat/c2/messages", jsonResponse(200, closedC2))
	setupTestEnvWithHandler(t, handler)

	res := run(t, "end", "c1", "c2", "-o", "json")
	require.Error(t, res.err)
	assert.Equal(t, exitClosed, ExitCode(res.err))

	var results []BulkResult
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &results), res.stdout)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ID)
	assert.True(t, results[0].Success)
	assert.Equal(t, "c2", results[1].ID)
	assert.False(t, results[1].Success)
}

func TestActive_ShowAndClear(t *testing.T) {
	env := setupTestEnvWithHandler(t, newRouteHandler())

	res := run(t, "active")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "No active conversation")

	require.NoError(t, env.activeStore().Set(context.Background(), "c7"))

	res = run(t, "active")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "c7", strings.TrimSpace(res.stdout))

	res = run(t, "active", "--clear", "-o", "json")
	require.NoError(t, res.err, res.stderr)
	out := decodeJSON(t, res.stdout)
	assert.Equal(t, "c7", out["conversationId"])
	assert.Equal(t, true, out["cleared"])

	id, err := env.activeStore().Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestCommands_NotConfigured(t *testing.T) {
	withEmptyKeyring(t)
	t.Setenv(config.EnvBaseURL, "")
	t.Setenv(config.EnvAPIToken, "")
	t.Setenv(config.EnvConfigDir, t.TempDir())

	res := run(t, "history", "c1")
	require.Error(t, res.err)
	assert.Equal(t, exitAuth, ExitCode(res.err))
	assert.Contains(t, res.stderr, "Not authenticated")
}

func TestCommands_JSONErrorEnvelope(t *testing.T) {
	handler := newRouteHandler().
		On("GET", "/support/chat/nope/messages", jsonResponse(404, `{"error": "not found"}`))
	setupTestEnvWithHandler(t, handler)

	res := run(t, "history", "nope", "-o", "json")
	require.Error(t, res.err)

	// Warn-level log lines share stderr with the envelope.
	var errObj map[string]any
	dec := json.NewDecoder(strings.NewReader(res.stderr))
	for dec.More() {
		var v map[string]any
		require.NoError(t, dec.Decode(&v), res.stderr)
		if obj, ok := v["error"].(map[string]any); ok {
			errObj = obj
		}
	}
	require.NotNil(t, errObj, res.stderr)
	assert.Equal(t, "not_found", errObj["code"])
}

func TestCommands_JSONErrorEnvelopeForClosedConversation(t *testing.T) {
	handler := newRouteHandler().
		On("GET", "/support/chat/c2/messages", jsonResponse(200, closedC2))
	setupTestEnvWithHandler(t, handler)

	res := run(t, "send", "c2", "hello?", "-o", "json")
	require.Error(t, res.err)
	assert.Equal(t, exitClosed, ExitCode(res.err))

	var errObj map[string]any
	dec := json.NewDecoder(strings.NewReader(res.stderr))
	for dec.More() {
		var v map[string]any
		require.NoError(t, dec.Decode(&v), res.stderr)
		if obj, ok := v["error"].(map[string]any); ok {
			errObj = obj
		}
	}
	require.NotNil(t, errObj, res.stderr)
	assert.Equal(t, "conflict", errObj["code"])
}

func TestMessageText(t *testing.T) {
	got, err := messageText(strings.NewReader("ignored"), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a b", got)

	got, err = messageText(strings.NewReader("line one\nline two\n"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", got)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\t c"))
	long := strings.Repeat("x", 100)
	assert.Len(t, []rune(oneLine(long)), 80)
}
