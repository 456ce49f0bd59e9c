package api

import (
	"maps"
	"slices"
	"time"
)

// Status represents the lifecycle state of a flow execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
	StatusPaused    Status = "paused"
)

// Terminal reports whether no further progress is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusStopped
}

// StepStatus is the state of a single ExecutionStep.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
	StepSkipped   StepStatus = "skipped"
	StepPaused    StepStatus = "paused"
)

// Result is the output of a node handler.
type Result map[string]any

// Choice returns the routing choice carried by the result, if any.
func (r Result) Choice() (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r["choice"]
	return v, ok
}

// ExecutionStep records one node entered during a run. Steps are only
// appended; a step is not modified once it leaves StepRunning.
type ExecutionStep struct {
	NodeID     string        `json:"nodeId"`
	NodeType   NodeType      `json:"nodeType"`
	Status     StepStatus    `json:"status"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt,omitempty"`
	Input      any           `json:"input,omitempty"`
	Output     Result        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// InitialContext carries the identifiers and seed variables for a new run.
type InitialContext struct {
	ExecutionID    string         `json:"executionId,omitempty"`
	SessionID      string         `json:"sessionId,omitempty"`
	TicketID       string         `json:"ticketId,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	CompanyID      string         `json:"companyId,omitempty"`
	ContactID      string         `json:"contactId,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
}

// ExecutionContext is the mutable state of one run. It is owned by exactly
// one run and must not be shared.
type ExecutionContext struct {
	ExecutionID    string          `json:"executionId"`
	SessionID      string          `json:"sessionId,omitempty"`
	FlowID         string          `json:"flowId"`
	TicketID       string          `json:"ticketId,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	CompanyID      string          `json:"companyId,omitempty"`
	ContactID      string          `json:"contactId,omitempty"`
	Variables      map[string]any  `json:"variables"`
	Steps          []ExecutionStep `json:"steps"`
	CurrentNodeID  string          `json:"currentNodeId,omitempty"`
	StartedAt      time.Time       `json:"startedAt"`

	// Resume is set while the node that paused the run is re-entered.
	// It is never persisted.
	Resume *ResumeEvent `json:"-"`
}

// NewExecutionContext creates a fresh context for a run of graph.
func NewExecutionContext(flowID string, init InitialContext, now time.Time) *ExecutionContext {
	vars := make(map[string]any, len(init.Variables))
	for k, v := range init.Variables {
		vars[k] = v
	}
	return &ExecutionContext{
		ExecutionID:    init.ExecutionID,
		SessionID:      init.SessionID,
		FlowID:         flowID,
		TicketID:       init.TicketID,
		ConversationID: init.ConversationID,
		CompanyID:      init.CompanyID,
		ContactID:      init.ContactID,
		Variables:      vars,
		StartedAt:      now,
	}
}

// Get returns a variable.
func (c *ExecutionContext) Get(name string) (any, bool) {
	v, ok := c.Variables[name]
	return v, ok
}

// Set assigns a variable.
func (c *ExecutionContext) Set(name string, value any) {
	if c.Variables == nil {
		c.Variables = make(map[string]any)
	}
	c.Variables[name] = value
}

// Delete removes a variable.
func (c *ExecutionContext) Delete(name string) {
	delete(c.Variables, name)
}

// Clone returns a copy of c that shares no maps or slices with it. Nested
// map and slice variables are copied as well. Resume is not carried over.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	out := *c
	out.Resume = nil
	if c.Variables != nil {
		out.Variables = cloneMap(c.Variables)
	}
	out.Steps = slices.Clone(c.Steps)
	for i := range out.Steps {
		out.Steps[i].Input = cloneValue(out.Steps[i].Input)
		out.Steps[i].Output = maps.Clone(out.Steps[i].Output)
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// ResumingAt reports whether the run is re-entering nodeID with an
// externally delivered event.
func (c *ExecutionContext) ResumingAt(nodeID string) bool {
	return c.Resume != nil && c.CurrentNodeID == nodeID
}

// FlowExecution is the persisted and returned view of a run.
type FlowExecution struct {
	ID         string            `json:"id"`
	FlowID     string            `json:"flowId"`
	Status     Status            `json:"status"`
	Context    *ExecutionContext `json:"context"`
	Steps      []ExecutionStep   `json:"steps"`
	Result     any               `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt,omitempty"`
}

// ResumeType is the kind of external event that drives a paused run.
type ResumeType string

const (
	ResumeWebhookResponse ResumeType = "webhook_response"
	ResumeUserInput       ResumeType = "user_input"
	ResumeGenericWebhook  ResumeType = "generic_webhook"
)

// Valid reports whether t is one of the known resume types.
func (t ResumeType) Valid() bool {
	switch t {
	case ResumeWebhookResponse, ResumeUserInput, ResumeGenericWebhook:
		return true
	}
	return false
}

// ResumeEvent is the inbound event that continues a paused run.
type ResumeEvent struct {
	FlowID      string     `json:"flowId"`
	ExecutionID string     `json:"executionId"`
	Type        ResumeType `json:"type"`
	Data        any        `json:"data,omitempty"`
}

// ExecutionFilter selects persisted executions. Empty fields mean no
// filter.
type ExecutionFilter struct {
	FlowID string
	Status Status
}

// ActiveExecution is a point-in-time view of an entry in the active-run
// table.
type ActiveExecution struct {
	ExecutionID   string
	FlowID        string
	Status        Status
	CurrentNodeID string
	Steps         int
	StartedAt     time.Time
}
