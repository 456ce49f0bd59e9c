package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/petrijr/chatflow/pkg/api"
)

func resumeTask(execID string, data any) Task {
	return NewResumeTask(api.ResumeEvent{
		ExecutionID: execID,
		Type:        api.ResumeUserInput,
		Data:        data,
	})
}

// testQueueContract exercises the behavior every Queue implementation shares.
func testQueueContract(t *testing.T, q Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := resumeTask("exec-1", "hello")
	second := NewStopTask("exec-2")

	if err := q.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue first failed: %v", err)
	}
	if err := q.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue second failed: %v", err)
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("expected Len 2, got %d", got)
	}

	got1, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue first failed: %v", err)
	}
	if got1.ID != first.ID || got1.Type != TaskTypeResume || got1.ExecutionID != "exec-1" {
		t.Fatalf("unexpected first task: %+v", got1)
	}
	if got1.Resume == nil || got1.Resume.Data != "hello" || got1.Resume.Type != api.ResumeUserInput {
		t.Fatalf("resume event not preserved: %+v", got1.Resume)
	}

	got2, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue second failed: %v", err)
	}
	if got2.ID != second.ID || got2.Type != TaskTypeStop || got2.Resume != nil {
		t.Fatalf("unexpected second task: %+v", got2)
	}

	if got := q.Len(); got != 0 {
		t.Fatalf("expected empty queue, got Len %d", got)
	}

	// Dequeue on an empty queue honors cancellation.
	short, shortCancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer shortCancel()
	if _, err := q.Dequeue(short); err == nil {
		t.Fatalf("expected error when dequeuing from empty queue")
	}
}
