package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/chatflow/internal/taskqueue"
	"github.com/petrijr/chatflow/pkg/api"
)

// Config controls how a Worker retries tasks.
type Config struct {
	// MaxAttempts is the number of times a task is tried before it is
	// dropped. Zero means 5.
	MaxAttempts int

	// Backoff is the delay before the first retry; it doubles with every
	// further attempt. Zero means 100ms.
	Backoff time.Duration

	Logger *slog.Logger
}

// Worker pulls resume and stop tasks from a Queue and applies them to an
// Engine.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	cfg    Config
}

// New creates a new Worker with default retry settings.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a new Worker.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		engine: engine,
		queue:  queue,
		cfg:    cfg,
	}
}

// EnqueueResume enqueues ev for asynchronous delivery. It does NOT resume
// the run itself; that is done by ProcessOne.
func (w *Worker) EnqueueResume(ctx context.Context, ev api.ResumeEvent) (string, error) {
	t := taskqueue.NewResumeTask(ev)
	return t.ID, w.queue.Enqueue(ctx, t)
}

// EnqueueStop enqueues a request to stop executionID.
func (w *Worker) EnqueueStop(ctx context.Context, executionID string) (string, error) {
	t := taskqueue.NewStopTask(executionID)
	return t.ID, w.queue.Enqueue(ctx, t)
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained (ctx done or dequeue error).
//   - processed == true: a task was handled; err is non-nil only if the
//     task could not be requeued.
//
// A resume that arrives before its run has paused is requeued with
// backoff. Other failures are logged and the task is dropped.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	task.Attempts++
	logger := w.cfg.Logger.With(
		slog.String("task_id", task.ID),
		slog.String("task_type", string(task.Type)),
		slog.String("execution_id", task.ExecutionID),
		slog.Int("attempt", task.Attempts),
	)

	runErr := w.handle(ctx, task)
	if runErr == nil {
		logger.DebugContext(ctx, "task_processed")
		return true, nil
	}

	if ctx.Err() != nil {
		// Interrupted before the task ran; put it back untouched.
		task.Attempts--
		if err := w.queue.Enqueue(context.WithoutCancel(ctx), *task); err != nil {
			return true, fmt.Errorf("requeue task %s: %w", task.ID, err)
		}
		return true, ctx.Err()
	}

	if retryable(runErr) && task.Attempts < w.cfg.MaxAttempts {
		delay := w.cfg.Backoff << uint(task.Attempts-1)
		task.NotBefore = time.Now().Add(delay)
		logger.InfoContext(ctx, "task_requeued",
			slog.Duration("delay", delay),
			slog.Any("error", runErr),
		)
		if err := w.queue.Enqueue(ctx, *task); err != nil {
			return true, fmt.Errorf("requeue task %s: %w", task.ID, err)
		}
		return true, nil
	}

	logger.WarnContext(ctx, "task_dropped", slog.Any("error", runErr))
	return true, nil
}

func (w *Worker) handle(ctx context.Context, task *taskqueue.Task) error {
	if wait := time.Until(task.NotBefore); !task.NotBefore.IsZero() && wait > 0 {
		// Queues without scheduling hand out tasks early.
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	switch task.Type {
	case taskqueue.TaskTypeResume:
		if task.Resume == nil {
			return errors.New("resume task without event")
		}
		exec, err := w.engine.Resume(ctx, *task.Resume)
		if exec != nil {
			// The run went ahead; its own failure is recorded on the
			// execution and is not a task failure.
			return nil
		}
		return err

	case taskqueue.TaskTypeStop:
		return w.engine.StopExecution(ctx, task.ExecutionID)

	default:
		return fmt.Errorf("unknown task type: %s", task.Type)
	}
}

func retryable(err error) bool {
	return errors.Is(err, api.ErrNotPaused)
}

// Run processes tasks with concurrency goroutines until ctx is done.
func (w *Worker) Run(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Go(func() {
			for ctx.Err() == nil {
				_, err := w.ProcessOne(ctx)
				if err == nil || ctx.Err() != nil {
					continue
				}
				w.cfg.Logger.ErrorContext(ctx, "worker_process_failed", slog.Any("error", err))
				select {
				case <-ctx.Done():
				case <-time.After(w.cfg.Backoff):
				}
			}
		})
	}
	wg.Wait()
}
