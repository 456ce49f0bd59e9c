package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/petrijr/chatflow/internal/expr"
	"github.com/petrijr/chatflow/pkg/api"
)

// AssignmentHandler writes a list of variables in order. Each assignment
// takes its value from another variable (source), an expression, or a
// literal value, then applies an optional transform.
//
// Config: assignments: [{target, source | expression | value, transform}].
// A single assignment may also be given inline at the top level.
type AssignmentHandler struct{}

func (*AssignmentHandler) Type() api.NodeType { return api.NodeAssignment }

func (*AssignmentHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)
	items := c.list("assignments")
	if len(items) == 0 && c.str("target", "variable") != "" {
		items = []any{map[string]any(c)}
	}

	assigned := make(map[string]any, len(items))
	for i, item := range items {
		a := cfg(asMap(item))
		target := a.str("target", "variable")
		if target == "" {
			return nil, configError(node, "assignment %d has no target", i)
		}

		var value any
		switch {
		case a.str("source") != "":
			value, _ = lookupPath(ec.Variables, a.str("source"))
		case a.str("expression") != "":
			v, err := expr.Eval(a.str("expression"), ec.Variables, nil)
			if err != nil {
				return nil, configError(node, "assignment %q: %v", target, err)
			}
			value = v
		default:
			value = interpolateValue(a["value"], ec.Variables)
		}

		value, err := transform(a.str("transform"), value)
		if err != nil {
			return nil, configError(node, "assignment %q: %v", target, err)
		}
		ec.Set(target, value)
		assigned[target] = value
	}
	return api.Result{"assigned": assigned}, nil
}

func transform(name string, v any) (any, error) {
	switch strings.ToLower(name) {
	case "":
		return v, nil
	case "upper", "uppercase":
		return strings.ToUpper(expr.Stringify(v)), nil
	case "lower", "lowercase":
		return strings.ToLower(expr.Stringify(v)), nil
	case "trim":
		return strings.TrimSpace(expr.Stringify(v)), nil
	case "number":
		n, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("cannot convert %v to number", v)
		}
		return n, nil
	case "string":
		return expr.Stringify(v), nil
	case "json":
		if s, ok := v.(string); ok {
			var out any
			if err := sonic.UnmarshalString(s, &out); err != nil {
				return nil, err
			}
			return out, nil
		}
		return sonic.MarshalString(v)
	}
	return nil, fmt.Errorf("unknown transform %q", name)
}
