// Package taskqueue provides the queues that carry resume and stop
// requests from the HTTP API to the workers.
package taskqueue

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/petrijr/chatflow/pkg/api"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskTypeResume continues a paused execution with Task.Resume.
	TaskTypeResume TaskType = "resume"

	// TaskTypeStop stops Task.ExecutionID.
	TaskTypeStop TaskType = "stop"
)

// Task represents a unit of work for the worker.
type Task struct {
	ID          string           `json:"id"`
	Type        TaskType         `json:"type"`
	ExecutionID string           `json:"executionId"`
	Resume      *api.ResumeEvent `json:"resume,omitempty"`
	EnqueuedAt  time.Time        `json:"enqueuedAt"`

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately".
	NotBefore time.Time `json:"notBefore,omitempty"`

	// Attempts counts how many times a worker has already tried the task.
	Attempts int `json:"attempts"`
}

// NewResumeTask creates a task that delivers ev to its execution.
func NewResumeTask(ev api.ResumeEvent) Task {
	return Task{
		ID:          ulid.Make().String(),
		Type:        TaskTypeResume,
		ExecutionID: ev.ExecutionID,
		Resume:      &ev,
		EnqueuedAt:  time.Now(),
	}
}

// NewStopTask creates a task that stops executionID.
func NewStopTask(executionID string) Task {
	return Task{
		ID:          ulid.Make().String(),
		Type:        TaskTypeStop,
		ExecutionID: executionID,
		EnqueuedAt:  time.Now(),
	}
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is available
	// or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
