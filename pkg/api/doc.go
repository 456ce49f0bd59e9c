// Package api contains the types shared by the chatflow engine, its node
// handlers, stores and transports.
//
// Most users interact with the higher-level chatflow package, which
// re-exports selected types and helpers from this package. The api package
// is intended for custom handlers, gateways, observers and stores.
//
// # Graphs
//
// A GraphDefinition is an ordered list of Nodes. Each node has a NodeType,
// a free-form Config map and outgoing Connections. A connection may carry
// a boolean Condition expression or a Label matched against the node's
// routing choice. Graphs are immutable once registered and are shared
// read-only between runs.
//
// # Executions
//
// Every run owns one ExecutionContext holding its variables and the
// append-only list of ExecutionSteps. The FlowExecution is the persisted
// view of a run; its Status moves from running to paused, completed, error
// or stopped. A paused run continues when a ResumeEvent is delivered.
//
// # Errors
//
// Handlers report failures as ordinary errors. Permanent marks an error
// that must not be retried, and NewWaitForInputError asks the engine to
// pause the run. Structural problems surface as *GraphError,
// *RoutingError, *UnknownNodeTypeError, and budget overruns as
// *StepLimitError and *TimeoutError.
//
// # Observability
//
// An Observer receives NodeEvents and ExecutionEvents in execution order.
// LoggingObserver, BasicMetrics and Broadcaster are ready-made
// implementations; NewCompositeObserver fans events out to several of
// them.
package api
