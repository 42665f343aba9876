package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/convstore"
	"github.com/taleforge/supportsync/internal/eventstream"
	"github.com/taleforge/supportsync/internal/metrics"
	"github.com/taleforge/supportsync/internal/notify"
	"github.com/taleforge/supportsync/internal/transport"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// fakeAPI is an in-memory support backend.
type fakeAPI struct {
	mu       sync.Mutex
	history  map[string]api.History
	fetchErr map[string]error
	gates    map[string]chan struct{}
	fetches  []string

	sender  api.Role
	seq     int
	sends   []api.SendRequest
	sendFn  func(id string, req api.SendRequest) (*api.SendResult, error)
	started []api.StartRequest

	ends        int
	endErr      error
	statusErr   error
	priorityErr error
	reads       int
}

func newFakeAPI(sender api.Role) *fakeAPI {
	return &fakeAPI{
		history:  make(map[string]api.History),
		fetchErr: make(map[string]error),
		gates:    make(map[string]chan struct{}),
		sender:   sender,
	}
}

func (f *fakeAPI) setHistory(id string, conv *api.Conversation, msgs ...api.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range msgs {
		msgs[i].ConversationID = id
	}
	f.history[id] = api.History{Conversation: conv, Messages: msgs}
}

// gate makes the next fetches of id wait until the returned func is called.
func (f *fakeAPI) gate(id string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[id] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.gates, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeAPI) fetchCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, got := range f.fetches {
		if got == id {
			n++
		}
	}
	return n
}

func (f *fakeAPI) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeAPI) Start(_ context.Context, req api.StartRequest) (*api.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	id := fmt.Sprintf("c%d", 100+len(f.started))
	res := &api.StartResult{ConversationID: id}
	if req.Text != "" {
		res.Messages = []api.Message{{ID: "s1", ConversationID: id, Sender: api.RoleUser, Text: req.Text, CreatedAt: t0}}
	}
	return res, nil
}

func (f *fakeAPI) Messages(ctx context.Context, id string) (*api.History, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, id)
	gate := f.gates[id]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[id]; err != nil {
		return nil, err
	}
	h := f.history[id]
	out := &api.History{Conversation: h.Conversation, Messages: append([]api.Message(nil), h.Messages...)}
	return out, nil
}

func (f *fakeAPI) Send(_ context.Context, id string, req api.SendRequest) (*api.SendResult, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	fn := f.sendFn
	f.seq++
	n := f.seq
	sender := f.sender
	f.mu.Unlock()

	if fn != nil {
		return fn(id, req)
	}
	// No createdAt: the optimistic timestamp is kept.
	return &api.SendResult{Message: api.Message{
		ID:             fmt.Sprintf("m%d", n),
		ConversationID: id,
		Sender:         sender,
		Text:           req.Text,
	}}, nil
}

func (f *fakeAPI) MarkRead(_ context.Context, _ string) (*api.ReadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	now := time.Now()
	return &api.ReadResult{SeenAt: &now}, nil
}

func (f *fakeAPI) SetStatus(_ context.Context, id string, status api.Status) (*api.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &api.Conversation{ID: id, Status: status}, nil
}

func (f *fakeAPI) SetPriority(_ context.Context, id string, priority api.Priority) (*api.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priorityErr != nil {
		return nil, f.priorityErr
	}
	return &api.Conversation{ID: id, Priority: priority}, nil
}

func (f *fakeAPI) End(_ context.Context, id string) (*api.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
	if f.endErr != nil {
		return nil, f.endErr
	}
	return &api.Conversation{ID: id, Status: api.StatusClosed}, nil
}

// fakeTransport hands events to the engine synchronously.
type fakeTransport struct {
	mu       sync.Mutex
	role     api.Role
	targets  []string
	connects int

	events chan eventstream.Event
	states chan transport.State
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan eventstream.Event),
		states: make(chan transport.State, 1),
	}
}

func (f *fakeTransport) Connect(role api.Role, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.role = role
	f.connects++
	f.targets = append(f.targets, id)
}

func (f *fakeTransport) Retarget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, id)
}

func (f *fakeTransport) Events() <-chan eventstream.Event { return f.events }
func (f *fakeTransport) States() <-chan transport.State   { return f.states }
func (f *fakeTransport) State() transport.State           { return transport.StateConnected }

func (f *fakeTransport) Disconnect() {
	f.once.Do(func() { close(f.events) })
}

func (f *fakeTransport) targetList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

// push delivers an event and waits until the engine has fully handled it.
func (f *fakeTransport) push(t *testing.T, name string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f.deliver(t, eventstream.Event{Name: name, Data: data})
	// The channel is unbuffered: once the barrier is received, the
	// previous event has been handled.
	f.deliver(t, eventstream.Event{Name: "test:barrier"})
}

func (f *fakeTransport) deliver(t *testing.T, ev eventstream.Event) {
	t.Helper()
	select {
	case f.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not take event %q", ev.Name)
	}
}

// setState publishes a connection state and waits for the engine to see it.
func (f *fakeTransport) setState(t *testing.T, e *Engine, st transport.State) {
	t.Helper()
	f.states <- st
	deadline := time.Now().Add(2 * time.Second)
	for e.Snapshot().Connection != st {
		if time.Now().After(deadline) {
			t.Fatalf("engine never reported state %s", st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type harness struct {
	engine  *Engine
	api     *fakeAPI
	tr      *fakeTransport
	sinks   *notify.Recorder
	store   *convstore.MemoryStore
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, role api.Role) *harness {
	t.Helper()
	h := &harness{
		api:     newFakeAPI(role),
		tr:      newFakeTransport(),
		sinks:   &notify.Recorder{},
		store:   convstore.NewMemoryStore(),
		metrics: metrics.New(),
	}
	var tick int64
	var tickMu sync.Mutex
	e, err := New(Config{
		API:        h.api,
		Transport:  h.tr,
		Store:      h.store,
		Dispatcher: notify.New(role, h.sinks, h.sinks),
		Metrics:    h.metrics,
		Role:       role,
		Now: func() time.Time {
			tickMu.Lock()
			defer tickMu.Unlock()
			tick++
			return t0.Add(time.Hour + time.Duration(tick)*time.Second)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = e
	t.Cleanup(e.Close)
	return h
}

func msg(id string, sender api.Role, text string, offset time.Duration) api.Message {
	return api.Message{ID: id, Sender: sender, Text: text, CreatedAt: t0.Add(offset)}
}

func ids(v View) []string {
	out := make([]string, 0, len(v.Messages))
	for _, e := range v.Messages {
		if e.ID != "" {
			out = append(out, e.ID)
		} else {
			out = append(out, string(e.State))
		}
	}
	return out
}
