package executor

import "errors"

var (
	ErrPoolShutdown = errors.New("pool has been shutdown")
	// ErrPoolClosed rejects futures that were still queued or running when the pool shut down
	ErrPoolClosed = errors.New("pool closed before the task completed")
	ErrQueueFull  = errors.New("task queue is full")
	// ErrTaskCanceled settles a future cancelled while its frame was still queued
	ErrTaskCanceled = errors.New("task has been canceled")

	ErrMalformedInput       = errors.New("malformed input")
	ErrExecutorCreation     = errors.New("failed to create executor")
	ErrDoubleInitialization = errors.New("executor already initialized")
	ErrComputeBeforeInit    = errors.New("compute requested before initialization")
	ErrExecutorCrashed      = errors.New("executor crashed")
	ErrExecutorStopped      = errors.New("executor has been stopped")
	ErrReplyTimeout         = errors.New("executor did not reply in time")

	ErrInvalidConcurrency  = errors.New("concurrency must be greater than 0")
	ErrInvalidTaskQueueCap = errors.New("task queue capacity must not be negative")
)
