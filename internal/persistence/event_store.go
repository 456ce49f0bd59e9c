package persistence

import (
	"context"
	"log/slog"

	"github.com/petrijr/chatflow/pkg/api"
)

// EventStore is an append-only history of progress events per execution.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.Event) error
	// ListEvents returns the events of one execution in append order.
	ListEvents(ctx context.Context, executionID string) ([]api.Event, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.Event) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, executionID string) ([]api.Event, error) {
	return nil, nil
}

// HistoryObserver is an api.Observer that appends every event to an
// EventStore. Append failures are logged and otherwise ignored.
type HistoryObserver struct {
	Store  EventStore
	Logger *slog.Logger
}

// NewHistoryObserver creates a HistoryObserver. A nil logger means
// slog.Default().
func NewHistoryObserver(store EventStore, logger *slog.Logger) *HistoryObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryObserver{Store: store, Logger: logger}
}

var _ api.Observer = (*HistoryObserver)(nil)

func (h *HistoryObserver) OnNodeStarted(ctx context.Context, ev api.NodeEvent) {
	h.append(ctx, api.Event{Type: api.EventNodeStarted, ExecutionID: ev.ExecutionID, Node: &ev})
}

func (h *HistoryObserver) OnNodeCompleted(ctx context.Context, ev api.NodeEvent) {
	h.append(ctx, api.Event{Type: api.EventNodeCompleted, ExecutionID: ev.ExecutionID, Node: &ev})
}

func (h *HistoryObserver) OnNodeError(ctx context.Context, ev api.NodeEvent) {
	h.append(ctx, api.Event{Type: api.EventNodeError, ExecutionID: ev.ExecutionID, Node: &ev})
}

func (h *HistoryObserver) OnExecutionCompleted(ctx context.Context, ev api.ExecutionEvent) {
	// The full context is already in the execution snapshot.
	ev.Context = nil
	h.append(ctx, api.Event{Type: api.EventExecutionCompleted, ExecutionID: ev.ExecutionID, Execution: &ev})
}

func (h *HistoryObserver) append(ctx context.Context, ev api.Event) {
	if err := h.Store.AppendEvent(ctx, ev); err != nil {
		h.Logger.WarnContext(ctx, "event_append_failed",
			slog.String("execution_id", ev.ExecutionID),
			slog.String("event_type", string(ev.Type)),
			slog.Any("error", err),
		)
	}
}
