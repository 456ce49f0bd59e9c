package chatflow

import (
	"errors"
	"fmt"
)

// GraphBuilder provides a fluent API for defining flow graphs:
//
//	graph, err := chatflow.NewGraph("support").
//	    Start("start").
//	    Node("ask", chatflow.NodeMenu, map[string]any{
//	        "message":         "How can we help?",
//	        "options":         []any{"Sales", "Support"},
//	        "waitForResponse": true,
//	    }).
//	    End("sales").
//	    End("support").
//	    Connect("start", "ask").
//	    ConnectLabel("ask", "sales", "Sales").
//	    ConnectLabel("ask", "support", "Support").
//	    Build()
//
// Nodes are kept in the order they are added; a node without connections
// continues with the next node in that order.
type GraphBuilder struct {
	def   GraphDefinition
	index map[string]int
}

// NewGraph creates a new graph builder with the given flow id.
func NewGraph(id string) *GraphBuilder {
	if id == "" {
		panic("chatflow: graph id must not be empty")
	}
	return &GraphBuilder{
		def:   GraphDefinition{ID: id},
		index: make(map[string]int),
	}
}

// Named sets the display name of the graph.
func (b *GraphBuilder) Named(name string) *GraphBuilder {
	b.def.Name = name
	return b
}

// Start adds the start node.
func (b *GraphBuilder) Start(id string) *GraphBuilder {
	return b.Node(id, NodeStart, nil)
}

// End adds an end node.
func (b *GraphBuilder) End(id string) *GraphBuilder {
	return b.Node(id, NodeEnd, nil)
}

// Node appends a node of type typ with the given config.
func (b *GraphBuilder) Node(id string, typ NodeType, config map[string]any) *GraphBuilder {
	if id == "" {
		panic("chatflow: node id must not be empty")
	}
	if _, dup := b.index[id]; dup {
		panic(fmt.Sprintf("chatflow: duplicate node id %q", id))
	}
	b.index[id] = len(b.def.Nodes)
	b.def.Nodes = append(b.def.Nodes, Node{ID: id, Type: typ, Config: config})
	return b
}

// Connect adds an unconditional connection.
func (b *GraphBuilder) Connect(from, to string) *GraphBuilder {
	return b.connect(from, Connection{Target: to})
}

// ConnectIf adds a connection taken when condition evaluates to true.
func (b *GraphBuilder) ConnectIf(from, to, condition string) *GraphBuilder {
	return b.connect(from, Connection{Target: to, Condition: condition})
}

// ConnectLabel adds a connection taken when the routing choice of from
// equals label. The label "default" marks the fallback of a condition
// node.
func (b *GraphBuilder) ConnectLabel(from, to, label string) *GraphBuilder {
	return b.connect(from, Connection{Target: to, Label: label})
}

func (b *GraphBuilder) connect(from string, c Connection) *GraphBuilder {
	i, ok := b.index[from]
	if !ok {
		panic(fmt.Sprintf("chatflow: connection from unknown node %q", from))
	}
	b.def.Nodes[i].Connections = append(b.def.Nodes[i].Connections, c)
	return b
}

// Build validates the graph and returns a copy of it. Besides the checks
// of Validate, every connection must point at a node of the graph.
func (b *GraphBuilder) Build() (GraphDefinition, error) {
	if err := Validate(b.def); err != nil {
		return GraphDefinition{}, err
	}
	var errs []error
	for _, n := range b.def.Nodes {
		for _, c := range n.Connections {
			if _, ok := b.index[c.Target]; !ok {
				errs = append(errs, fmt.Errorf("node %s: connection to unknown node %q", n.ID, c.Target))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return GraphDefinition{}, err
	}
	return b.definition(), nil
}

// MustBuild is like Build but panics on error.
// Useful for package-level graph definitions.
func (b *GraphBuilder) MustBuild() GraphDefinition {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

// Register builds the graph and registers it with eng.
func (b *GraphBuilder) Register(eng Engine) (GraphDefinition, error) {
	g, err := b.Build()
	if err != nil {
		return GraphDefinition{}, err
	}
	return g, eng.RegisterFlow(g)
}

// definition deep-copies the node and connection slices so the builder
// can keep being used.
func (b *GraphBuilder) definition() GraphDefinition {
	out := GraphDefinition{ID: b.def.ID, Name: b.def.Name, Nodes: make([]Node, len(b.def.Nodes))}
	for i, n := range b.def.Nodes {
		n.Connections = append([]Connection(nil), n.Connections...)
		out.Nodes[i] = n
	}
	return out
}
