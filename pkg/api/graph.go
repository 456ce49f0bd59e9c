package api

// NodeType identifies which handler executes a node.
type NodeType string

const (
	NodeStart        NodeType = "start"
	NodeEnd          NodeType = "end"
	NodeError        NodeType = "error"
	NodeSendMessage  NodeType = "sendMessage"
	NodeSendMedia    NodeType = "sendMedia"
	NodeCondition    NodeType = "condition"
	NodeMenu         NodeType = "menu"
	NodeDelay        NodeType = "delay"
	NodeAPICall      NodeType = "apiCall"
	NodeWebhook      NodeType = "webhook"
	NodeVariable     NodeType = "variable"
	NodeLoop         NodeType = "loop"
	NodeRandom       NodeType = "random"
	NodeAssignment   NodeType = "assignment"
	NodeValidation   NodeType = "validation"
	NodeDatabase     NodeType = "database"
	NodeTag          NodeType = "tag"
	NodeQueue        NodeType = "queue"
	NodeHumanHandoff NodeType = "humanHandoff"
	NodeAnalytics    NodeType = "analytics"
	NodeIntegration  NodeType = "integration"
)

// Connection is a directed edge to another node in the same graph.
// Condition is an optional boolean expression; Label is an optional
// literal used by menu and condition routing.
type Connection struct {
	Target    string `json:"target" yaml:"target"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Node is one step of a flow graph.
type Node struct {
	ID          string         `json:"id" yaml:"id"`
	Type        NodeType       `json:"type" yaml:"type"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Connections []Connection   `json:"connections,omitempty" yaml:"connections,omitempty"`
}

// IsErrorHandler reports whether the node is designated as the graph's
// fallback for failed nodes.
func (n *Node) IsErrorHandler() bool {
	if n.Type == NodeError {
		return true
	}
	v, ok := n.Config["isErrorHandler"].(bool)
	return ok && v
}

// GraphDefinition is an immutable description of a flow. It is shared
// read-only between runs.
type GraphDefinition struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
}

// StartNode returns the first node of type start, or nil.
func (g *GraphDefinition) StartNode() *Node {
	for i := range g.Nodes {
		if g.Nodes[i].Type == NodeStart {
			return &g.Nodes[i]
		}
	}
	return nil
}

// NodeByID returns the node with the given id, or nil.
func (g *GraphDefinition) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// IndexOf returns the position of the node with the given id, or -1.
func (g *GraphDefinition) IndexOf(id string) int {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return i
		}
	}
	return -1
}

// ErrorHandlerNode returns the first node flagged as error handler, or nil.
func (g *GraphDefinition) ErrorHandlerNode() *Node {
	for i := range g.Nodes {
		if g.Nodes[i].IsErrorHandler() {
			return &g.Nodes[i]
		}
	}
	return nil
}
