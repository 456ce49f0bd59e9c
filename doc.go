// Package chatflow provides an embeddable engine that runs conversational
// flows for chat channels.
//
// A flow is a graph of typed nodes (send a message, show a menu, branch on
// a condition, call an API, wait for a webhook, ...). The engine walks the
// graph one node at a time on behalf of a conversation, pauses when a node
// needs a reply from the user or an external system, and continues when
// that reply is delivered.
//
// # Core Concepts
//
//  1. GraphDefinition
//  2. Engine
//  3. ResumeEvent
//  4. Observer
//  5. LocalRunner
//
// # GraphDefinition
//
// Graphs are plain data. They can be built in code with GraphBuilder or
// loaded from JSON and YAML files with LoadGraph:
//
//	graph := chatflow.NewGraph("greeting").
//	    Start("start").
//	    Node("hello", chatflow.NodeSendMessage, map[string]any{
//	        "message": "Hi {{name}}!",
//	    }).
//	    End("end").
//	    MustBuild()
//
// Routing follows the connections of each node. Condition nodes take the
// first connection whose expression holds, then the one labelled with the
// node's choice, then the default. Menu nodes pick the connection matching
// the user's option. A node without connections continues with the next
// node in declaration order.
//
// # Engine
//
// The Engine executes graphs, keeps a table of active runs, and persists
// an execution snapshot after every step. Engines can be backed by:
//
//   - In-memory stores (non-durable, best for tests)
//   - SQLite
//   - Postgres
//   - Redis
//   - MongoDB
//
// Each run is bounded by a step limit and a wall-clock budget. Failing
// nodes are retried with exponential backoff and, when the graph declares
// an error handler node, rerouted there.
//
// # ResumeEvent
//
// A run that waits for input is left in the paused state. Delivering a
// ResumeEvent (a user reply or a webhook response) re-enters the node that
// paused. Resume works across process restarts as long as the execution
// store is durable and the graph is registered again.
//
// # Observer
//
// Observers receive node and execution events in order. The package ships
// a LoggingObserver, BasicMetrics and a Broadcaster for in-process
// subscribers.
//
// # LocalRunner
//
// LocalRunner pairs an Engine with a task queue and a Worker so resume and
// stop requests can be accepted quickly and applied in the background.
//
// For a ready-made HTTP service, see cmd/chatflowd.
package chatflow
