package handlers

import (
	"context"
	"reflect"

	"github.com/petrijr/chatflow/internal/expr"
	"github.com/petrijr/chatflow/pkg/api"
)

// LoopHandler computes an iteration count and seeds the loop bookkeeping
// variables <name>, <name>Total and <name>Type. Repetition itself comes
// from the graph's back-edges; the engine's budgets are the only guard
// against a loop that never exits.
//
// Config: loopType (or type): fixed | conditional | array; count;
// condition; arrayVariable; variableName (default "loop").
type LoopHandler struct {
	Evaluator *expr.Evaluator
}

func (*LoopHandler) Type() api.NodeType { return api.NodeLoop }

func (h *LoopHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)
	loopType := c.str("loopType", "type")
	if loopType == "" {
		loopType = "fixed"
	}
	name := c.str("variableName")
	if name == "" {
		name = "loop"
	}

	var total int
	switch loopType {
	case "fixed":
		n, _ := c.number("count")
		if n < 0 {
			n = 0
		}
		total = int(n)
	case "conditional":
		ev := h.Evaluator
		if ev == nil {
			ev = expr.NewEvaluator(nil)
		}
		if ev.Evaluate(c.str("condition"), ec.Variables, nil) {
			total = 1
		}
	case "array":
		arr, _ := lookupPath(ec.Variables, c.str("arrayVariable", "array"))
		total = lengthOf(arr)
		if total > 0 {
			if item, ok := expr.Lookup(arr, "0"); ok {
				ec.Set(name+"Item", item)
			}
		}
	default:
		return nil, api.Permanent(&api.UnknownLoopTypeError{LoopType: loopType})
	}

	ec.Set(name, 0)
	ec.Set(name+"Total", total)
	ec.Set(name+"Type", loopType)
	return api.Result{"iterations": total, "loopType": loopType}, nil
}

func lengthOf(v any) int {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len()
	}
	return 0
}
