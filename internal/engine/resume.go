package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/petrijr/chatflow/internal/persistence"
	"github.com/petrijr/chatflow/pkg/api"
)

func (e *Engine) Resume(ctx context.Context, ev api.ResumeEvent) (*api.FlowExecution, error) {
	if e.closed.Load() {
		return nil, api.ErrEngineShutdown
	}
	if ev.ExecutionID == "" {
		return nil, fmt.Errorf("%w: empty execution id", api.ErrExecutionNotFound)
	}
	if !ev.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", api.ErrInvalidResume, ev.Type)
	}

	entry, exec, loaded, err := e.claim(ctx, ev.ExecutionID)
	if err != nil {
		return nil, err
	}

	graph, node, err := e.resumeTarget(ctx, ev, exec)
	if err != nil {
		if loaded {
			e.manager.remove(entry)
		} else {
			e.manager.unclaim(entry, exec)
		}
		return nil, err
	}

	ec := exec.Context
	mergeResumeData(ec, ev)
	ec.Resume = &ev
	ec.StartedAt = e.now()
	exec.Status = api.StatusRunning
	exec.Error = ""

	e.logger.DebugContext(ctx, "execution_resumed",
		slog.String("execution_id", exec.ID),
		slog.String("flow_id", exec.FlowID),
		slog.String("node_id", node.ID),
		slog.String("resume_type", string(ev.Type)),
	)
	e.persist(ctx, exec)

	return e.run(ctx, &graph, entry, exec, node)
}

// claim takes a paused run out of the table, or loads it from the store
// when this process has no record of it. loaded reports the latter.
func (e *Engine) claim(ctx context.Context, id string) (entry *runEntry, exec *api.FlowExecution, loaded bool, err error) {
	entry, exec, err = e.manager.claimPaused(id, e.now())
	if err == nil {
		return entry, exec, false, nil
	}
	if !errors.Is(err, api.ErrExecutionNotFound) {
		return nil, nil, false, fmt.Errorf("execution %s: %w", id, err)
	}

	exec, err = e.executions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			return nil, nil, false, fmt.Errorf("%w: %s", api.ErrExecutionNotFound, id)
		}
		return nil, nil, false, err
	}
	if exec.Status != api.StatusPaused || exec.Context == nil {
		return nil, nil, false, fmt.Errorf("execution %s is %s: %w", id, exec.Status, api.ErrNotPaused)
	}

	entry, err = e.manager.register(exec, e.now())
	if err != nil {
		// Another resume of the same run got here first.
		return nil, nil, false, fmt.Errorf("execution %s: %w", id, api.ErrNotPaused)
	}
	return entry, exec, true, nil
}

func (e *Engine) resumeTarget(ctx context.Context, ev api.ResumeEvent, exec *api.FlowExecution) (api.GraphDefinition, *api.Node, error) {
	if ev.FlowID != "" && ev.FlowID != exec.FlowID {
		return api.GraphDefinition{}, nil, fmt.Errorf("execution %s: %w", exec.ID, api.ErrFlowMismatch)
	}
	graph, err := e.graphs.Get(ctx, exec.FlowID)
	if err != nil {
		return api.GraphDefinition{}, nil, err
	}
	node := graph.NodeByID(exec.Context.CurrentNodeID)
	if node == nil {
		return api.GraphDefinition{}, nil, &api.GraphError{
			FlowID: graph.ID,
			Reason: fmt.Sprintf("paused node %q is not in the graph", exec.Context.CurrentNodeID),
		}
	}
	return graph, node, nil
}

// mergeResumeData copies the event payload into the run's variables.
func mergeResumeData(ec *api.ExecutionContext, ev api.ResumeEvent) {
	switch ev.Type {
	case api.ResumeUserInput:
		ec.Set("lastUserInput", ev.Data)
		ec.Set("userInput", ev.Data)
	case api.ResumeWebhookResponse, api.ResumeGenericWebhook:
		ec.Set("webhookResponse", ev.Data)
	}
	if m, ok := ev.Data.(map[string]any); ok {
		for k, v := range m {
			ec.Set(k, v)
		}
	}
}
