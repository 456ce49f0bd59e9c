package engine

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/petrijr/chatflow/pkg/api"
)

// runEntry is one row of the active-run table.
type runEntry struct {
	id        string
	flowID    string
	status    api.Status
	node      string
	steps     int
	startedAt time.Time

	// stopped is set by StopExecution or the sweep; the run loop honors
	// it at the next node boundary.
	stopped bool

	// exec is kept while the run is paused so it can be stopped or
	// resumed without a store round trip.
	exec *api.FlowExecution
}

// Manager owns the active-run table. All methods are safe for
// concurrent use.
type Manager struct {
	mu       sync.Mutex
	runs     map[string]*runEntry
	inflight sync.WaitGroup
	logger   *slog.Logger
}

// NewManager creates an empty table.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runs:   make(map[string]*runEntry),
		logger: logger,
	}
}

// register adds a running entry for exec.
func (m *Manager) register(exec *api.FlowExecution, now time.Time) (*runEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[exec.ID]; exists {
		return nil, api.ErrExecutionActive
	}
	e := &runEntry{
		id:        exec.ID,
		flowID:    exec.FlowID,
		status:    api.StatusRunning,
		steps:     len(exec.Context.Steps),
		startedAt: now,
	}
	m.runs[exec.ID] = e
	return e, nil
}

// lookup returns the entry for id.
func (m *Manager) lookup(id string) (*runEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.runs[id]
	return e, ok
}

// progress records the node a running entry is at.
func (m *Manager) progress(e *runEntry, nodeID string, steps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.node = nodeID
	e.steps = steps
}

// isStopped reports whether e has been flagged.
func (m *Manager) isStopped(e *runEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.stopped
}

// park marks e paused and keeps exec for a later resume or stop.
func (m *Manager) park(e *runEntry, exec *api.FlowExecution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.status = api.StatusPaused
	e.exec = exec
}

// claimPaused moves a paused entry back to running. It returns
// api.ErrNotPaused if the entry is running.
func (m *Manager) claimPaused(id string, now time.Time) (*runEntry, *api.FlowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.runs[id]
	if !ok {
		return nil, nil, api.ErrExecutionNotFound
	}
	if e.status != api.StatusPaused || e.stopped {
		return nil, nil, api.ErrNotPaused
	}
	exec := e.exec
	e.status = api.StatusRunning
	e.exec = nil
	e.startedAt = now
	return e, exec, nil
}

// unclaim returns a claimed entry to the paused state.
func (m *Manager) unclaim(e *runEntry, exec *api.FlowExecution) {
	m.park(e, exec)
}

// takePaused removes a paused entry and returns its execution.
func (m *Manager) takePaused(e *runEntry) (*api.FlowExecution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[e.id] != e || e.status != api.StatusPaused {
		return nil, false
	}
	delete(m.runs, e.id)
	e.stopped = true
	return e.exec, true
}

// flagStop marks a running entry stopped and removes it. It reports
// false if the entry is no longer in the table or is paused.
func (m *Manager) flagStop(e *runEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[e.id] != e || e.status != api.StatusRunning {
		return false
	}
	e.stopped = true
	delete(m.runs, e.id)
	return true
}

// remove deletes e if it is still the entry registered under its id.
func (m *Manager) remove(e *runEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[e.id] == e {
		delete(m.runs, e.id)
	}
}

// Snapshot returns the table sorted by start time.
func (m *Manager) Snapshot(now time.Time) []api.ActiveExecution {
	m.mu.Lock()
	out := make([]api.ActiveExecution, 0, len(m.runs))
	for _, e := range m.runs {
		out = append(out, api.ActiveExecution{
			ExecutionID:   e.id,
			FlowID:        e.flowID,
			Status:        e.status,
			CurrentNodeID: e.node,
			Steps:         e.steps,
			StartedAt:     e.startedAt,
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ExecutionID < out[j].ExecutionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len returns the number of active entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// Sweep flags and removes running entries older than maxAge and returns
// their ids. Paused entries are left alone.
func (m *Manager) Sweep(now time.Time, maxAge time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept []string
	for id, e := range m.runs {
		if e.status != api.StatusRunning || now.Sub(e.startedAt) <= maxAge {
			continue
		}
		e.stopped = true
		delete(m.runs, id)
		swept = append(swept, id)
		m.logger.Warn("stuck_execution_swept",
			slog.String("execution_id", id),
			slog.String("flow_id", e.flowID),
			slog.String("node_id", e.node),
			slog.Duration("age", now.Sub(e.startedAt)),
		)
	}
	sort.Strings(swept)
	return swept
}
