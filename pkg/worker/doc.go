// Package worker provides the background worker that applies queued
// resume and stop requests to a chatflow engine.
//
// The HTTP API can hand inbound events (a user reply, a webhook response)
// to a queue instead of resuming the paused run on the request goroutine.
// Workers consume those tasks and call Engine.Resume or
// Engine.StopExecution.
//
// # Retries
//
// A resume event may arrive while its run is still executing the node
// that is about to pause, for example when a webhook answers before the
// engine has parked the run. Engine.Resume then reports api.ErrNotPaused
// and the worker requeues the task with exponential backoff, up to
// Config.MaxAttempts. Every other failure is logged and the task is
// dropped. A run that resumed and later failed is not a task failure; its
// outcome is recorded on the execution.
//
// # Queues
//
// Workers depend only on the taskqueue.Queue interface. In-memory, SQLite,
// Redis and MongoDB queues are available; several workers may share one
// queue.
//
// # Usage
//
//	w := worker.NewWithConfig(eng, queue, worker.Config{Logger: logger})
//	go w.Run(ctx, 4)
//
//	// In an HTTP handler:
//	taskID, err := w.EnqueueResume(ctx, ev)
package worker
