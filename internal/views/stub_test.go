package views

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/convstore"
	"github.com/taleforge/supportsync/internal/debug"
	"github.com/taleforge/supportsync/internal/syncengine"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// stubAPI is an in-memory support backend for the REST-only engine.
type stubAPI struct {
	mu       sync.Mutex
	seq      int
	sender   api.Role
	convs    map[string]*api.Conversation
	messages map[string][]api.Message
	started  []api.StartRequest
	sends    []api.SendRequest
	reads    int
	sendErr  error
}

func newStubAPI(sender api.Role) *stubAPI {
	return &stubAPI{
		sender:   sender,
		convs:    make(map[string]*api.Conversation),
		messages: make(map[string][]api.Message),
	}
}

func (s *stubAPI) add(id string, status api.Status, msgs ...api.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[id] = &api.Conversation{ID: id, Status: status, Priority: api.PriorityNormal}
	for i := range msgs {
		msgs[i].ConversationID = id
	}
	s.messages[id] = msgs
}

func (s *stubAPI) next() string {
	s.seq++
	return fmt.Sprintf("m%d", s.seq)
}

func (s *stubAPI) Start(_ context.Context, req api.StartRequest) (*api.StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, req)
	id := fmt.Sprintf("c%d", 100+len(s.started))
	conv := &api.Conversation{ID: id, Subject: req.Subject, Status: api.StatusOpen, Priority: api.PriorityNormal}
	s.convs[id] = conv
	res := &api.StartResult{ConversationID: id, Conversation: conv}
	if req.Text != "" {
		m := api.Message{ID: s.next(), ConversationID: id, Sender: api.RoleUser, Text: req.Text, CreatedAt: t0}
		s.messages[id] = append(s.messages[id], m)
		res.Messages = []api.Message{m}
	}
	return res, nil
}

func (s *stubAPI) Messages(_ context.Context, id string) (*api.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, &api.APIError{StatusCode: 404, Body: "not found"}
	}
	c := *conv
	return &api.History{Conversation: &c, Messages: append([]api.Message(nil), s.messages[id]...)}, nil
}

func (s *stubAPI) Send(_ context.Context, id string, req api.SendRequest) (*api.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, req)
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	m := api.Message{ID: s.next(), ConversationID: id, Sender: s.sender, Text: req.Text}
	res := &api.SendResult{Message: m}
	if req.AskAI {
		res.Reply = &api.Message{ID: s.next(), ConversationID: id, Sender: api.RoleAI, Text: "ai: " + req.Text, CreatedAt: t0.Add(time.Hour)}
	}
	return res, nil
}

func (s *stubAPI) MarkRead(context.Context, string) (*api.ReadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	at := t0
	return &api.ReadResult{SeenAt: &at}, nil
}

func (s *stubAPI) SetStatus(_ context.Context, id string, status api.Status) (*api.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[id].Status = status
	c := *s.convs[id]
	return &c, nil
}

func (s *stubAPI) SetPriority(_ context.Context, id string, priority api.Priority) (*api.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[id].Priority = priority
	c := *s.convs[id]
	return &c, nil
}

func (s *stubAPI) End(_ context.Context, id string) (*api.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[id].Status = api.StatusClosed
	c := *s.convs[id]
	return &c, nil
}

func (s *stubAPI) lastStart() api.StartRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started[len(s.started)-1]
}

func (s *stubAPI) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

func newEngine(t *testing.T, role api.Role, stub *stubAPI, store convstore.Store) *syncengine.Engine {
	t.Helper()
	if store == nil {
		store = convstore.NewMemoryStore()
	}
	clock := t0
	var mu sync.Mutex
	eng, err := syncengine.New(syncengine.Config{
		API:    stub,
		Store:  store,
		Role:   role,
		Logger: debug.Discard(),
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Minute)
			return clock
		},
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}
