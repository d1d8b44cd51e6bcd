package executor

import "time"

// Kernel builds the per-executor computation state.
// Each executor owns its own Kernel, obtained from a KernelFactory.
type Kernel interface {
	// Construct builds the state from raw pixels. This is the expensive path.
	Construct(width, height int, raw []byte) (State, error)
	// Resume rehydrates the state from bytes previously produced by State.Serialize.
	Resume(width, height int, serialized []byte) (State, error)
}

// State is the mutable computation state held by a single executor.
type State interface {
	Serialize() []byte
	// ComputeFrame may mutate the state; its output may depend on earlier calls.
	ComputeFrame(width, height int, image []byte) ([]byte, error)
}

type KernelFactory func() (Kernel, error)

type Future interface {
	// Get blocks until the task has completed
	Get() *GPResult
	Done() <-chan struct{}
	IsDone() bool
	// Cancel only succeeds while the frame is still queued
	Cancel() bool
	IsCancelled() bool
}

type ExecutorService interface {
	// no longer accept new tasks
	Shutdown()
	Submit(frame Frame) (Future, error)
	IsShutdown() bool
	// Wait for the coordinator and every executor to exit
	WaitTerminate()
	TaskQueueCap() int
	TaskQueueLength() int
	// Drain is closed while at most one task is waiting
	Drain() <-chan struct{}
}

// Observer receives pool events. Implementations must not block.
type Observer interface {
	ExecutorSpawned(id string)
	ExecutorDiscarded(id string, err error)
	BootstrapFinished(id string, constructed bool, d time.Duration, err error)
	TaskFinished(d time.Duration, err error)
	QueueLength(n int)
}

type noopObserver struct{}

func (noopObserver) ExecutorSpawned(string)                               {}
func (noopObserver) ExecutorDiscarded(string, error)                      {}
func (noopObserver) BootstrapFinished(string, bool, time.Duration, error) {}
func (noopObserver) TaskFinished(time.Duration, error)                    {}
func (noopObserver) QueueLength(int)                                      {}
