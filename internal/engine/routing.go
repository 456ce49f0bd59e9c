package engine

import (
	"github.com/petrijr/chatflow/internal/expr"
	"github.com/petrijr/chatflow/pkg/api"
)

// nextNode decides where a run goes after node completed with res.
// A nil node and nil error mean the run has nowhere left to go.
func nextNode(eval *expr.Evaluator, graph *api.GraphDefinition, node *api.Node, res api.Result, vars map[string]any) (*api.Node, error) {
	if node.Type == api.NodeEnd {
		return nil, nil
	}

	if len(node.Connections) == 0 {
		idx := graph.IndexOf(node.ID)
		if idx < 0 || idx+1 >= len(graph.Nodes) {
			return nil, nil
		}
		return &graph.Nodes[idx+1], nil
	}

	var conn *api.Connection
	switch node.Type {
	case api.NodeCondition:
		conn = conditionConnection(eval, node, res, vars)
	case api.NodeMenu:
		conn = menuConnection(node, res)
	default:
		conn = &node.Connections[0]
	}
	if conn == nil {
		return nil, nil
	}

	target := graph.NodeByID(conn.Target)
	if target == nil {
		return nil, &api.RoutingError{NodeID: node.ID, Target: conn.Target}
	}
	return target, nil
}

// conditionConnection picks the first connection whose expression holds,
// then a label equal to the handler's choice, then the default branch:
// the first connection without an expression, preferring one that is
// unlabeled or labeled "default".
func conditionConnection(eval *expr.Evaluator, node *api.Node, res api.Result, vars map[string]any) *api.Connection {
	for i := range node.Connections {
		c := &node.Connections[i]
		if c.Condition != "" && eval.Evaluate(c.Condition, vars, res) {
			return c
		}
	}

	if choice, ok := choiceString(res); ok {
		for i := range node.Connections {
			c := &node.Connections[i]
			if c.Condition == "" && c.Label != "" && c.Label == choice {
				return c
			}
		}
	}

	var fallback *api.Connection
	for i := range node.Connections {
		c := &node.Connections[i]
		if c.Condition != "" {
			continue
		}
		if c.Label == "" || c.Label == "default" {
			return c
		}
		if fallback == nil {
			fallback = c
		}
	}
	return fallback
}

// menuConnection matches the selected option against each connection's
// condition or label.
func menuConnection(node *api.Node, res api.Result) *api.Connection {
	choice, ok := choiceString(res)
	if !ok || choice == "" {
		return nil
	}
	for i := range node.Connections {
		c := &node.Connections[i]
		if c.Condition == choice || c.Label == choice {
			return c
		}
	}
	return nil
}

// choiceString returns the handler's choice when it is a string. Other
// choice values never equal a label.
func choiceString(res api.Result) (string, bool) {
	v, ok := res.Choice()
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
