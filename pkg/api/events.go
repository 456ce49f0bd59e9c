package api

import "time"

// EventType identifies a progress event.
type EventType string

const (
	EventNodeStarted        EventType = "nodeStarted"
	EventNodeCompleted      EventType = "nodeCompleted"
	EventNodeError          EventType = "nodeError"
	EventExecutionCompleted EventType = "executionCompleted"
)

// NodeEvent is emitted when a node starts, completes or fails.
type NodeEvent struct {
	ExecutionID string        `json:"executionId"`
	FlowID      string        `json:"flowId"`
	NodeID      string        `json:"nodeId"`
	NodeType    NodeType      `json:"nodeType"`
	StepIndex   int           `json:"stepIndex"`
	At          time.Time     `json:"at"`
	Output      Result        `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// ExecutionEvent is emitted once per finalize call.
type ExecutionEvent struct {
	ExecutionID string            `json:"executionId"`
	FlowID      string            `json:"flowId"`
	Status      Status            `json:"status"`
	Duration    time.Duration     `json:"duration"`
	Steps       int               `json:"steps"`
	Context     *ExecutionContext `json:"context,omitempty"`
	Result      any               `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	At          time.Time         `json:"at"`
}

// Event is the envelope used by channel and pub/sub subscribers. Exactly
// one of Node and Execution is set.
type Event struct {
	Type        EventType       `json:"type"`
	ExecutionID string          `json:"executionId"`
	Node        *NodeEvent      `json:"node,omitempty"`
	Execution   *ExecutionEvent `json:"execution,omitempty"`
}
