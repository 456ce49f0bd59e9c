package api

import "context"

// Engine executes flow graphs against chat sessions.
type Engine interface {
	// RegisterFlow stores a graph so that paused runs of it can be
	// resumed by flow id.
	RegisterFlow(graph GraphDefinition) error

	// ExecuteFlow runs graph from its start node until it ends, pauses,
	// or fails. It returns a *GraphError if the graph has no start node.
	// A failure that was absorbed by an error-handler node still yields
	// a completed execution and a nil error.
	ExecuteFlow(ctx context.Context, graph GraphDefinition, init InitialContext) (*FlowExecution, error)

	// Resume continues a paused run with an externally delivered event.
	Resume(ctx context.Context, ev ResumeEvent) (*FlowExecution, error)

	// StopExecution finalizes an active run as stopped. Running runs are
	// stopped cooperatively at their next node boundary. It returns
	// ErrExecutionNotFound if the run is not in the active-run table.
	StopExecution(ctx context.Context, executionID string) error

	// GetExecution loads a persisted execution.
	GetExecution(ctx context.Context, executionID string) (*FlowExecution, error)

	// ListExecutions returns persisted executions matching filter.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*FlowExecution, error)

	// ActiveExecutions returns a snapshot of the active-run table.
	ActiveExecutions() []ActiveExecution

	// Shutdown stops every active run and waits for in-flight runs to
	// reach a node boundary, or for ctx to be done.
	Shutdown(ctx context.Context) error
}
