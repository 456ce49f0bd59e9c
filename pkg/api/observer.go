package api

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Observer receives progress callbacks from the engine.
//
// Callbacks for one run are delivered synchronously from the goroutine
// executing that run, in execution order. Implementations should be fast
// and non-blocking; their failures never affect the run.
type Observer interface {
	// OnNodeStarted is called after a step is appended, before the
	// handler runs.
	OnNodeStarted(ctx context.Context, ev NodeEvent)

	// OnNodeCompleted is called when the handler succeeds.
	OnNodeCompleted(ctx context.Context, ev NodeEvent)

	// OnNodeError is called when the handler fails after retries.
	OnNodeError(ctx context.Context, ev NodeEvent)

	// OnExecutionCompleted is called by every finalize, whatever the
	// final status.
	OnExecutionCompleted(ctx context.Context, ev ExecutionEvent)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnNodeStarted(ctx context.Context, ev NodeEvent)               {}
func (NoopObserver) OnNodeCompleted(ctx context.Context, ev NodeEvent)             {}
func (NoopObserver) OnNodeError(ctx context.Context, ev NodeEvent)                 {}
func (NoopObserver) OnExecutionCompleted(ctx context.Context, ev ExecutionEvent) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnNodeStarted(ctx context.Context, ev NodeEvent) {
	for _, o := range c.observers {
		o.OnNodeStarted(ctx, ev)
	}
}

func (c *CompositeObserver) OnNodeCompleted(ctx context.Context, ev NodeEvent) {
	for _, o := range c.observers {
		o.OnNodeCompleted(ctx, ev)
	}
}

func (c *CompositeObserver) OnNodeError(ctx context.Context, ev NodeEvent) {
	for _, o := range c.observers {
		o.OnNodeError(ctx, ev)
	}
}

func (c *CompositeObserver) OnExecutionCompleted(ctx context.Context, ev ExecutionEvent) {
	for _, o := range c.observers {
		o.OnExecutionCompleted(ctx, ev)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs node and execution
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnNodeStarted(ctx context.Context, ev NodeEvent) {
	o.Logger.DebugContext(ctx, "node_started",
		slog.String("execution_id", ev.ExecutionID),
		slog.String("node_id", ev.NodeID),
		slog.String("node_type", string(ev.NodeType)),
		slog.Int("step_index", ev.StepIndex),
	)
}

func (o *LoggingObserver) OnNodeCompleted(ctx context.Context, ev NodeEvent) {
	o.Logger.DebugContext(ctx, "node_completed",
		slog.String("execution_id", ev.ExecutionID),
		slog.String("node_id", ev.NodeID),
		slog.String("node_type", string(ev.NodeType)),
		slog.Duration("duration", ev.Duration),
	)
}

func (o *LoggingObserver) OnNodeError(ctx context.Context, ev NodeEvent) {
	o.Logger.ErrorContext(ctx, "node_error",
		slog.String("execution_id", ev.ExecutionID),
		slog.String("node_id", ev.NodeID),
		slog.String("node_type", string(ev.NodeType)),
		slog.Duration("duration", ev.Duration),
		slog.String("error", ev.Error),
	)
}

func (o *LoggingObserver) OnExecutionCompleted(ctx context.Context, ev ExecutionEvent) {
	level := slog.LevelInfo
	if ev.Status == StatusError {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "execution_completed",
		slog.String("execution_id", ev.ExecutionID),
		slog.String("flow_id", ev.FlowID),
		slog.String("status", string(ev.Status)),
		slog.Int("steps", ev.Steps),
		slog.Duration("duration", ev.Duration),
		slog.String("error", ev.Error),
	)
}

// BasicMetrics collects simple counters and aggregate node durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	nodesStarted      atomic.Int64
	nodesCompleted    atomic.Int64
	nodesFailed       atomic.Int64
	totalNodeDuration atomic.Int64 // nanoseconds

	executionsCompleted atomic.Int64
	executionsFailed    atomic.Int64
	executionsStopped   atomic.Int64
	executionsPaused    atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	NodesStarted    int64
	NodesCompleted  int64
	NodesFailed     int64
	AvgNodeDuration time.Duration

	ExecutionsCompleted int64
	ExecutionsFailed    int64
	ExecutionsStopped   int64
	ExecutionsPaused    int64
}

func (m *BasicMetrics) OnNodeStarted(ctx context.Context, ev NodeEvent) {
	m.nodesStarted.Add(1)
}

func (m *BasicMetrics) OnNodeCompleted(ctx context.Context, ev NodeEvent) {
	m.nodesCompleted.Add(1)
	m.totalNodeDuration.Add(ev.Duration.Nanoseconds())
}

func (m *BasicMetrics) OnNodeError(ctx context.Context, ev NodeEvent) {
	m.nodesFailed.Add(1)
}

func (m *BasicMetrics) OnExecutionCompleted(ctx context.Context, ev ExecutionEvent) {
	switch ev.Status {
	case StatusCompleted:
		m.executionsCompleted.Add(1)
	case StatusError:
		m.executionsFailed.Add(1)
	case StatusStopped:
		m.executionsStopped.Add(1)
	case StatusPaused:
		m.executionsPaused.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	completed := m.nodesCompleted.Load()
	totalNs := m.totalNodeDuration.Load()

	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(totalNs / completed)
	}

	return BasicMetricsSnapshot{
		NodesStarted:        m.nodesStarted.Load(),
		NodesCompleted:      completed,
		NodesFailed:         m.nodesFailed.Load(),
		AvgNodeDuration:     avg,
		ExecutionsCompleted: m.executionsCompleted.Load(),
		ExecutionsFailed:    m.executionsFailed.Load(),
		ExecutionsStopped:   m.executionsStopped.Load(),
		ExecutionsPaused:    m.executionsPaused.Load(),
	}
}

// Broadcaster is an Observer that delivers events to channel subscribers.
//
// Delivery is best-effort: a subscriber whose buffer is full misses the
// event, and the drop is counted. Events of one run reach a subscriber in
// the order they were emitted.
type Broadcaster struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]*subscription
	dropped atomic.Int64
}

type subscription struct {
	executionID string
	ch          chan Event
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]*subscription)}
}

// Subscribe registers a subscriber. If executionID is non-empty only that
// run's events are delivered. The returned cancel func unregisters the
// subscriber and closes the channel.
func (b *Broadcaster) Subscribe(executionID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscription{executionID: executionID, ch: make(chan Event, buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Dropped returns how many events could not be delivered.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Broadcaster) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.executionID != "" && s.executionID != ev.ExecutionID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) OnNodeStarted(ctx context.Context, ev NodeEvent) {
	b.publish(Event{Type: EventNodeStarted, ExecutionID: ev.ExecutionID, Node: &ev})
}

func (b *Broadcaster) OnNodeCompleted(ctx context.Context, ev NodeEvent) {
	b.publish(Event{Type: EventNodeCompleted, ExecutionID: ev.ExecutionID, Node: &ev})
}

func (b *Broadcaster) OnNodeError(ctx context.Context, ev NodeEvent) {
	b.publish(Event{Type: EventNodeError, ExecutionID: ev.ExecutionID, Node: &ev})
}

// OnExecutionCompleted hands subscribers a copy of the run's context, so
// a later resume of the run does not race with their reads.
func (b *Broadcaster) OnExecutionCompleted(ctx context.Context, ev ExecutionEvent) {
	ev.Context = ev.Context.Clone()
	b.publish(Event{Type: EventExecutionCompleted, ExecutionID: ev.ExecutionID, Execution: &ev})
}
