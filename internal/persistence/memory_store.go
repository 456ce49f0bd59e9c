package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/petrijr/chatflow/pkg/api"
)

// InMemoryStore is a goroutine-safe ExecutionStore, GraphStore and
// EventStore backed by maps. Executions are kept as encoded snapshots so
// callers never share memory with the store.
type InMemoryStore struct {
	mu         sync.RWMutex
	graphs     map[string]api.GraphDefinition
	executions map[string][]byte
	order      map[string]int
	seq        int
	events     map[string][]api.Event
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		graphs:     make(map[string]api.GraphDefinition),
		executions: make(map[string][]byte),
		order:      make(map[string]int),
		events:     make(map[string][]api.Event),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ ExecutionStore = (*InMemoryStore)(nil)

var _ GraphStore = (*InMemoryStore)(nil)

var _ EventStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveGraph(ctx context.Context, graph api.GraphDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.graphs[graph.ID] = graph
	return nil
}

func (s *InMemoryStore) GetGraph(ctx context.Context, id string) (api.GraphDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	graph, ok := s.graphs[id]
	if !ok {
		return api.GraphDefinition{}, ErrGraphNotFound
	}
	return graph, nil
}

func (s *InMemoryStore) Upsert(ctx context.Context, exec *api.FlowExecution) error {
	data, err := EncodeExecution(exec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.order[exec.ID]; !ok {
		s.seq++
		s.order[exec.ID] = s.seq
	}
	s.executions[exec.ID] = data
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*api.FlowExecution, error) {
	s.mu.RLock()
	data, ok := s.executions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrExecutionNotFound
	}
	return DecodeExecution(data)
}

func (s *InMemoryStore) List(ctx context.Context, filter api.ExecutionFilter) ([]*api.FlowExecution, error) {
	type entry struct {
		seq  int
		data []byte
	}

	s.mu.RLock()
	entries := make([]entry, 0, len(s.executions))
	for id, data := range s.executions {
		entries = append(entries, entry{seq: s.order[id], data: data})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	result := []*api.FlowExecution{}
	for _, e := range entries {
		exec, err := DecodeExecution(e.data)
		if err != nil {
			return nil, err
		}
		if matches(filter, exec) {
			result = append(result, exec)
		}
	}
	return result, nil
}

func (s *InMemoryStore) AppendEvent(ctx context.Context, ev api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[ev.ExecutionID] = append(s.events[ev.ExecutionID], ev)
	return nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, executionID string) ([]api.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]api.Event(nil), s.events[executionID]...), nil
}
