package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/chatflow/internal/persistence"
	"github.com/petrijr/chatflow/pkg/api"
)

// graphRegistry validates graphs and keeps them in a GraphStore so that
// paused runs can be resumed by flow id.
type graphRegistry struct {
	store persistence.GraphStore
}

func newGraphRegistry(store persistence.GraphStore) *graphRegistry {
	if store == nil {
		store = persistence.NewInMemoryStore()
	}
	return &graphRegistry{store: store}
}

// Validate checks the structural rules a graph must meet before it can
// be registered.
func Validate(graph api.GraphDefinition) error {
	if graph.ID == "" {
		return &api.GraphError{Reason: "flow id is required"}
	}
	starts := 0
	seen := make(map[string]struct{}, len(graph.Nodes))
	for _, n := range graph.Nodes {
		if n.ID == "" {
			return &api.GraphError{FlowID: graph.ID, Reason: "node without id"}
		}
		if _, dup := seen[n.ID]; dup {
			return &api.GraphError{FlowID: graph.ID, Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		seen[n.ID] = struct{}{}
		if n.Type == api.NodeStart {
			starts++
		}
	}
	switch {
	case starts == 0:
		return &api.GraphError{FlowID: graph.ID, Reason: "no start node"}
	case starts > 1:
		return &api.GraphError{FlowID: graph.ID, Reason: "more than one start node"}
	}
	return nil
}

func (r *graphRegistry) Register(ctx context.Context, graph api.GraphDefinition) error {
	if err := Validate(graph); err != nil {
		return err
	}
	return r.store.SaveGraph(ctx, graph)
}

// save stores graph as the current definition of its flow id, replacing
// any earlier version.
func (r *graphRegistry) save(ctx context.Context, graph api.GraphDefinition) error {
	if graph.ID == "" {
		return nil
	}
	return r.store.SaveGraph(ctx, graph)
}

func (r *graphRegistry) Get(ctx context.Context, id string) (api.GraphDefinition, error) {
	g, err := r.store.GetGraph(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrGraphNotFound) {
			return api.GraphDefinition{}, fmt.Errorf("%w: %s", api.ErrFlowNotFound, id)
		}
		return api.GraphDefinition{}, err
	}
	return g, nil
}
