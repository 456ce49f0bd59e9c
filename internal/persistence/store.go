package persistence

import (
	"context"

	"github.com/petrijr/chatflow/pkg/api"
)

var (
	// ErrExecutionNotFound is returned when an execution snapshot is not
	// found. It is the same value as api.ErrExecutionNotFound.
	ErrExecutionNotFound = api.ErrExecutionNotFound

	// ErrGraphNotFound is returned when a graph definition is not found.
	ErrGraphNotFound = api.ErrFlowNotFound
)

// ExecutionStore holds execution snapshots keyed by execution id.
type ExecutionStore interface {
	// Upsert writes the full snapshot, replacing any previous one. It is
	// idempotent.
	Upsert(ctx context.Context, exec *api.FlowExecution) error

	// Get returns ErrExecutionNotFound if id is unknown.
	Get(ctx context.Context, id string) (*api.FlowExecution, error)

	// List returns snapshots matching filter, oldest first.
	List(ctx context.Context, filter api.ExecutionFilter) ([]*api.FlowExecution, error)
}

// GraphStore holds flow graph definitions keyed by flow id.
type GraphStore interface {
	SaveGraph(ctx context.Context, graph api.GraphDefinition) error
	// GetGraph returns ErrGraphNotFound if id is unknown.
	GetGraph(ctx context.Context, id string) (api.GraphDefinition, error)
}

func matches(filter api.ExecutionFilter, exec *api.FlowExecution) bool {
	if filter.FlowID != "" && exec.FlowID != filter.FlowID {
		return false
	}
	if filter.Status != "" && exec.Status != filter.Status {
		return false
	}
	return true
}
