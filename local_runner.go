package chatflow

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/petrijr/chatflow/internal/taskqueue"
	"github.com/petrijr/chatflow/pkg/worker"
)

// LocalRunner bundles an Engine, a task queue and a Worker so resume and
// stop requests can be handled asynchronously in one process.
//
// Typical usage:
//
//	runner := chatflow.NewLocalRunner(gateway)
//	exec, _ := chatflow.Execute(ctx, runner.Engine, graph, init)
//
//	_ = runner.StartWorkers(ctx, 2)
//	_, _ = runner.ResumeAsync(ctx, chatflow.ResumeEvent{...})
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine runs the flows.
	Engine Engine

	// Queue holds pending resume and stop tasks.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine,
// in-memory queue, and a Worker with default config. Queued tasks are lost
// when the process exits.
func NewLocalRunner(gateway MessagingGateway) *LocalRunner {
	eng := NewInMemoryEngine(gateway)
	q := taskqueue.NewInMemoryQueue(1024)
	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Worker: worker.New(eng, q),
	}
}

// NewSQLiteRunner constructs a LocalRunner whose executions, event history
// and queued tasks all live in db.
func NewSQLiteRunner(db *sql.DB, gateway MessagingGateway, cfg worker.Config) (*LocalRunner, error) {
	eng, err := NewSQLiteEngine(db, gateway)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Worker: worker.NewWithConfig(eng, q, cfg),
	}, nil
}

// StartWorkers starts 'concurrency' worker goroutines that process tasks
// until Stop is called or ctx is done.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("chatflow: LocalRunner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Go(func() {
		r.Worker.Run(ctx, concurrency)
	})
	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit. Tasks that were being processed are put back on the
// queue.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// ResumeAsync enqueues ev and returns the task id. The run continues when
// a worker picks up the task.
func (r *LocalRunner) ResumeAsync(ctx context.Context, ev ResumeEvent) (string, error) {
	return r.Worker.EnqueueResume(ctx, ev)
}

// StopAsync enqueues a request to stop executionID.
func (r *LocalRunner) StopAsync(ctx context.Context, executionID string) (string, error) {
	return r.Worker.EnqueueStop(ctx, executionID)
}
