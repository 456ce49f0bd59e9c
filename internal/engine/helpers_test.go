package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/chatflow/internal/handlers"
	"github.com/petrijr/chatflow/internal/persistence"
	"github.com/petrijr/chatflow/pkg/api"
)

type fakeGateway struct {
	mu       sync.Mutex
	messages []api.OutboundMessage
}

func (g *fakeGateway) SendMessage(ctx context.Context, msg api.OutboundMessage) (api.DeliveryReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, msg)
	return api.DeliveryReceipt{ID: "msg", Status: "sent"}, nil
}

func (g *fakeGateway) SendMedia(ctx context.Context, msg api.OutboundMedia) (api.DeliveryReceipt, error) {
	return api.DeliveryReceipt{ID: "media", Status: "sent"}, nil
}

func (g *fakeGateway) sent() []api.OutboundMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]api.OutboundMessage(nil), g.messages...)
}

// funcHandler adapts a function to handlers.Handler for tests.
type funcHandler struct {
	nodeType api.NodeType
	fn       func(ctx context.Context, node *api.Node, ec *api.ExecutionContext) (api.Result, error)
}

func (h *funcHandler) Type() api.NodeType { return h.nodeType }

func (h *funcHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	return h.fn(ctx, node, ec)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// countingStore wraps an ExecutionStore and counts writes. When err is set
// every write fails.
type countingStore struct {
	persistence.ExecutionStore
	mu      sync.Mutex
	upserts int
	err     error
}

func (s *countingStore) Upsert(ctx context.Context, exec *api.FlowExecution) error {
	s.mu.Lock()
	s.upserts++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.ExecutionStore.Upsert(ctx, exec)
}

func (s *countingStore) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

type recordingObserver struct {
	api.NoopObserver
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) add(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, s)
}

func (o *recordingObserver) OnNodeStarted(ctx context.Context, ev api.NodeEvent) {
	o.add("started:" + ev.NodeID)
}

func (o *recordingObserver) OnNodeCompleted(ctx context.Context, ev api.NodeEvent) {
	o.add("completed:" + ev.NodeID)
}

func (o *recordingObserver) OnNodeError(ctx context.Context, ev api.NodeEvent) {
	o.add("error:" + ev.NodeID)
}

func (o *recordingObserver) OnExecutionCompleted(ctx context.Context, ev api.ExecutionEvent) {
	o.add("execution:" + string(ev.Status))
}

func (o *recordingObserver) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

var errBoom = errors.New("boom")

type testEngine struct {
	*Engine
	gateway  *fakeGateway
	store    *countingStore
	sleeps   *sleepRecorder
	observer *recordingObserver
	mem      *persistence.InMemoryStore
}

// newTestEngine builds an engine over in-memory stores with recorded
// sleeps. extra handlers are added to the default registry.
func newTestEngine(t *testing.T, cfg api.Config, clock *fakeClock, extra ...handlers.Handler) *testEngine {
	t.Helper()

	te := &testEngine{
		gateway:  &fakeGateway{},
		sleeps:   &sleepRecorder{},
		observer: &recordingObserver{},
		mem:      persistence.NewInMemoryStore(),
	}
	te.store = &countingStore{ExecutionStore: te.mem}

	reg := handlers.NewDefaultRegistry(handlers.Deps{Gateway: te.gateway, Sleep: te.sleeps.Sleep})
	for _, h := range extra {
		reg.Register(h)
	}

	if cfg == (api.Config{}) {
		cfg = api.DefaultConfig()
	}
	ec := Config{
		Persistence: persistence.Persistence{
			Executions: te.store,
			Graphs:     te.mem,
			Events:     te.mem,
		},
		Registry: reg,
		Observer: te.observer,
		Engine:   cfg,
		Sleep:    te.sleeps.Sleep,
	}
	if clock != nil {
		ec.Now = clock.Now
	}
	te.Engine = NewEngineWithConfig(ec)
	return te
}

func node(id string, typ api.NodeType, targets ...string) api.Node {
	n := api.Node{ID: id, Type: typ, Config: map[string]any{}}
	for _, t := range targets {
		n.Connections = append(n.Connections, api.Connection{Target: t})
	}
	return n
}

func graphOf(id string, nodes ...api.Node) api.GraphDefinition {
	return api.GraphDefinition{ID: id, Nodes: nodes}
}

// blockingHandler signals entered and then waits for release.
func blockingHandler(entered chan<- string, release <-chan struct{}) *funcHandler {
	return &funcHandler{nodeType: "block", fn: func(ctx context.Context, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
		entered <- ec.ExecutionID
		select {
		case <-release:
			return api.Result{"released": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}
