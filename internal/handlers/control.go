package handlers

import (
	"context"
	"log/slog"
	"maps"

	"github.com/petrijr/chatflow/pkg/api"
)

// StartHandler seeds the variables declared in the start node's
// configuration. It always succeeds.
type StartHandler struct{}

func (*StartHandler) Type() api.NodeType { return api.NodeStart }

func (*StartHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)
	seeded := 0
	for name, v := range c.object("variables") {
		ec.Set(name, interpolateValue(v, ec.Variables))
		seeded++
	}
	// The list form keeps declaration order: [{name, value}].
	for _, item := range c.list("initialVariables") {
		m := asMap(item)
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		ec.Set(name, interpolateValue(m["value"], ec.Variables))
		seeded++
	}
	return api.Result{"status": "started", "seeded": seeded}, nil
}

// EndHandler terminates a run. The run's variables become part of the
// result so callers can read the final state.
type EndHandler struct {
	Logger *slog.Logger
}

func (*EndHandler) Type() api.NodeType { return api.NodeEnd }

func (h *EndHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)
	if c.boolean("logVariables") && h.Logger != nil {
		h.Logger.InfoContext(ctx, "flow_end_variables",
			slog.String("execution_id", ec.ExecutionID),
			slog.Any("variables", ec.Variables),
		)
	}
	res := api.Result{
		"status":    "completed",
		"variables": maps.Clone(ec.Variables),
	}
	if msg := c.str("message"); msg != "" {
		res["message"] = Interpolate(msg, ec.Variables)
	}
	return res, nil
}

// ErrorNodeHandler runs when the engine reroutes a failed node to the
// graph's error handler. It reports the failure it absorbed.
type ErrorNodeHandler struct{}

func (*ErrorNodeHandler) Type() api.NodeType { return api.NodeError }

func (*ErrorNodeHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	res := api.Result{"handled": true}
	if v, ok := ec.Get("lastError"); ok {
		res["error"] = v
	}
	if v, ok := ec.Get("lastErrorNodeId"); ok {
		res["failedNodeId"] = v
	}
	return res, nil
}
