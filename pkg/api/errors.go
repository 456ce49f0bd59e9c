package api

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrExecutionNotFound is returned when an execution id is unknown to
	// the active-run table or the store.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrFlowNotFound is returned when a graph is not registered.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrNotPaused is returned when a resume event targets a run that is
	// not waiting for input.
	ErrNotPaused = errors.New("execution is not paused")

	// ErrEngineShutdown is returned when work is submitted after Shutdown.
	ErrEngineShutdown = errors.New("engine is shut down")

	// ErrExecutionActive is returned when an execution id is reused while
	// a run with that id is still active.
	ErrExecutionActive = errors.New("execution is already active")

	// ErrFlowMismatch is returned when a resume event names a flow other
	// than the one the execution belongs to.
	ErrFlowMismatch = errors.New("execution belongs to a different flow")

	// ErrInvalidResume is returned for resume events with an unknown type.
	ErrInvalidResume = errors.New("invalid resume event")
)

// GraphError means the graph cannot be executed at all.
type GraphError struct {
	FlowID string
	Reason string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph %s: %s", e.FlowID, e.Reason)
}

// UnknownNodeTypeError is returned when no handler is registered for a
// node's type.
type UnknownNodeTypeError struct {
	NodeID string
	Type   NodeType
}

func (e *UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("node %s: unknown node type %q", e.NodeID, e.Type)
}

// UnknownOperatorError is returned by condition clauses with an
// unrecognized operator.
type UnknownOperatorError struct {
	Operator string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown operator %q", e.Operator)
}

// UnknownLoopTypeError is returned by loop nodes with an unrecognized mode.
type UnknownLoopTypeError struct {
	LoopType string
}

func (e *UnknownLoopTypeError) Error() string {
	return fmt.Sprintf("unknown loop type %q", e.LoopType)
}

// TimeoutError is returned when a run exceeds its wall-clock budget.
type TimeoutError struct {
	ExecutionID string
	Elapsed     time.Duration
	Limit       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution %s timed out after %s (limit %s)", e.ExecutionID, e.Elapsed.Round(time.Millisecond), e.Limit)
}

// StepLimitError is returned when a run reaches its step budget.
type StepLimitError struct {
	ExecutionID string
	Limit       int
}

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("execution %s reached the step limit of %d", e.ExecutionID, e.Limit)
}

// RoutingError is returned when a connection targets a node id that is
// not in the graph.
type RoutingError struct {
	NodeID string
	Target string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("node %s: connection target %q does not exist", e.NodeID, e.Target)
}

// HandlerError wraps a handler failure with the node it happened on.
type HandlerError struct {
	NodeID string
	Type   NodeType
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// IsBudgetError reports whether err is a time or step budget breach.
// Budget errors abort a run and are never rerouted to an error handler.
func IsBudgetError(err error) bool {
	var te *TimeoutError
	var se *StepLimitError
	return errors.As(err, &te) || errors.As(err, &se)
}

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that the retry executor gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// waitForInputError is returned by handlers that want to park the run
// until an external event arrives.
type waitForInputError struct {
	Reason string
}

func (e *waitForInputError) Error() string {
	return "waiting for input: " + e.Reason
}

// NewWaitForInputError is used by handlers (for example a menu awaiting a
// reply) to request that the run be paused at the current node.
func NewWaitForInputError(reason string) error {
	return &waitForInputError{Reason: reason}
}

// IsWaitForInputError returns (reason, true) if err requests a pause.
func IsWaitForInputError(err error) (string, bool) {
	var w *waitForInputError
	if errors.As(err, &w) {
		return w.Reason, true
	}
	return "", false
}
