package handlers

import (
	"context"

	"github.com/petrijr/chatflow/internal/expr"
	"github.com/petrijr/chatflow/pkg/api"
)

// VariableHandler mutates one named variable.
//
// Config: name (or variable), operation: set | increment | decrement |
// append | delete, value.
type VariableHandler struct{}

func (*VariableHandler) Type() api.NodeType { return api.NodeVariable }

func (*VariableHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)
	name := c.str("name", "variable", "variableName")
	if name == "" {
		return nil, configError(node, "variable name is empty")
	}
	op := c.str("operation")
	if op == "" {
		op = "set"
	}
	value := interpolateValue(c["value"], ec.Variables)
	current, _ := ec.Get(name)

	switch op {
	case "set":
		ec.Set(name, value)
	case "increment", "decrement":
		step := 1.0
		if value != nil {
			n, ok := toFloat(value)
			if !ok {
				return nil, configError(node, "%s by non-numeric value %v", op, value)
			}
			step = n
		}
		base, ok := toFloat(current)
		if !ok && current != nil {
			return nil, configError(node, "cannot %s non-numeric variable %q", op, name)
		}
		if op == "decrement" {
			step = -step
		}
		ec.Set(name, base+step)
	case "append":
		ec.Set(name, expr.Stringify(current)+expr.Stringify(value))
	case "delete":
		ec.Delete(name)
		return api.Result{"variable": name, "operation": op}, nil
	default:
		return nil, configError(node, "unknown variable operation %q", op)
	}

	v, _ := ec.Get(name)
	return api.Result{"variable": name, "operation": op, "value": v}, nil
}
