package handlers

import (
	"context"
	"math/rand"

	"github.com/petrijr/chatflow/pkg/api"
)

// RandomHandler selects one configured option, uniformly or by weight,
// and stores it.
//
// Config: options ([value] or [{value, weight}]), weighted (or
// mode: "weighted"), variable (default "randomChoice").
type RandomHandler struct {
	Random func() float64
}

func (*RandomHandler) Type() api.NodeType { return api.NodeRandom }

func (h *RandomHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)
	raw := c.list("options")
	if len(raw) == 0 {
		return nil, configError(node, "random has no options")
	}

	values := make([]any, len(raw))
	weights := make([]float64, len(raw))
	for i, o := range raw {
		values[i] = o
		weights[i] = 1
		if m := asMap(o); m != nil {
			if v, ok := m["value"]; ok {
				values[i] = v
			}
			if w, ok := toFloat(m["weight"]); ok {
				weights[i] = w
			}
		}
	}

	random := h.Random
	if random == nil {
		random = rand.Float64
	}

	var idx int
	if c.boolean("weighted") || c.str("mode") == "weighted" {
		idx = pickWeighted(weights, random())
	} else {
		idx = int(random() * float64(len(values)))
		if idx >= len(values) {
			idx = len(values) - 1
		}
	}

	name := c.str("variable", "outputVariable")
	if name == "" {
		name = "randomChoice"
	}
	ec.Set(name, values[idx])
	return api.Result{"choice": values[idx], "index": idx}, nil
}

// pickWeighted returns the index selected by cumulative weights for one
// draw r in [0, 1). Non-positive weights are never selected unless every
// weight is non-positive, in which case the first option wins.
func pickWeighted(weights []float64, r float64) int {
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return 0
	}
	target := r * total
	var cum float64
	last := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cum += w
		last = i
		if target < cum {
			return i
		}
	}
	return last
}
