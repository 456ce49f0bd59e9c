package handlers

import (
	"context"

	"github.com/petrijr/chatflow/pkg/api"
)

// placeholderTypes are node types that parse and route but do no work yet.
var placeholderTypes = []api.NodeType{
	api.NodeDatabase,
	api.NodeTag,
	api.NodeQueue,
	api.NodeHumanHandoff,
	api.NodeAnalytics,
	api.NodeIntegration,
}

// PlaceholderHandler accepts a node type without acting on it so graphs
// using it still run to completion.
type PlaceholderHandler struct {
	NodeType api.NodeType
}

func (h *PlaceholderHandler) Type() api.NodeType { return h.NodeType }

func (h *PlaceholderHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	return api.Result{"status": "not_implemented", "nodeType": string(h.NodeType)}, nil
}
