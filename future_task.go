package executor

import (
	"sync/atomic"
	"time"
)

const (
	taskQueued int32 = iota
	taskBound
	taskCancelled
)

type FutureTask struct {
	seq   uint64
	frame Frame

	result *GPResult
	done   chan struct{}
	isDone *AtomicBool

	// queued -> bound by the coordinator, or queued -> cancelled by Cancel
	state atomic.Int32
	// tells the pool to drop the task from its queue
	onCancel func(*FutureTask)

	enqueuedAt time.Time
}

func NewFutureTask(seq uint64, frame Frame) *FutureTask {
	t := FutureTask{}
	t.seq = seq
	t.frame = frame
	t.done = make(chan struct{})
	t.isDone = NewAtomicBool(false)
	t.enqueuedAt = time.Now()
	return &t
}

func (f *FutureTask) Get() *GPResult {
	<-f.done
	return f.result
}

func (f *FutureTask) Done() <-chan struct{} {
	return f.done
}

func (f *FutureTask) IsDone() bool {
	return f.isDone.IsTrue()
}

func (f *FutureTask) IsCancelled() bool {
	return f.state.Load() == taskCancelled
}

// Cancel withdraws a frame that is still waiting in the queue and rejects its
// future with ErrTaskCanceled. It reports false once the frame is bound to an
// executor or the future has already settled.
func (f *FutureTask) Cancel() bool {
	if f.IsDone() || !f.state.CompareAndSwap(taskQueued, taskCancelled) {
		return false
	}
	f.reject(ErrTaskCanceled)
	if f.onCancel != nil {
		f.onCancel(f)
	}
	return true
}

// bind claims the task for an executor. It fails if the task was cancelled.
func (f *FutureTask) bind() bool {
	return f.state.CompareAndSwap(taskQueued, taskBound)
}

// Seq is the submission order of the task.
func (f *FutureTask) Seq() uint64 {
	return f.seq
}

// complete settles the future once; later calls are ignored and report false.
func (f *FutureTask) complete(image []byte, err error) bool {
	if !f.isDone.CompareAndSet(false, true) {
		return false
	}
	f.result = &GPResult{Image: image, Err: err}
	close(f.done)
	return true
}

func (f *FutureTask) resolve(image []byte) bool {
	return f.complete(image, nil)
}

func (f *FutureTask) reject(err error) bool {
	return f.complete(nil, err)
}
