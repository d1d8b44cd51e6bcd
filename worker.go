package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	slog "github.com/vearne/simplelog"
)

type workerPhase int32

const (
	phaseUninitialized workerPhase = iota
	phaseReady
	phaseDead
)

func (p workerPhase) String() string {
	switch p {
	case phaseUninitialized:
		return "uninitialized"
	case phaseReady:
		return "ready"
	case phaseDead:
		return "dead"
	}
	return fmt.Sprintf("workerPhase(%d)", int32(p))
}

/*
A Worker is one executor: a goroutine that owns exactly one computation State.
It answers three messages, init-construct, init-resume and compute, one at a time
and in the order they were sent.

Uninitialized -> Ready -> Ready ...
Any protocol violation (double init, compute before init, malformed bootstrap)
or a panic inside the kernel moves the worker to Dead. A dead worker exits its
loop and must be discarded.
*/
type Worker struct {
	id     string
	kernel Kernel
	// touched only by the worker goroutine
	state State

	phase   atomic.Int32
	mailbox chan *request

	ExitChan   chan struct{}
	ExitedFlag chan struct{}
	stopOnce   sync.Once
	stopErr    error
	// closed by Abort
	abandoned   chan struct{}
	abandonOnce sync.Once

	// is a request outstanding?
	busyFlag  *AtomicBool
	busySince atomic.Int64
}

func NewWorker(kernel Kernel) *Worker {
	worker := Worker{}
	worker.id = uuid.NewString()
	worker.kernel = kernel
	// one outstanding request at a time, so a single slot is enough
	worker.mailbox = make(chan *request, 1)
	worker.ExitChan = make(chan struct{})
	worker.ExitedFlag = make(chan struct{})
	worker.abandoned = make(chan struct{})
	worker.busyFlag = NewAtomicBool(false)
	return &worker
}

func (worker *Worker) ID() string {
	return worker.id
}

func (worker *Worker) IsBusy() bool {
	return worker.busyFlag.IsTrue()
}

// BusySince returns when the outstanding request was sent, or the zero time if idle.
func (worker *Worker) BusySince() time.Time {
	if !worker.IsBusy() {
		return time.Time{}
	}
	return time.Unix(0, worker.busySince.Load())
}

func (worker *Worker) IsReady() bool {
	return workerPhase(worker.phase.Load()) == phaseReady
}

func (worker *Worker) IsDead() bool {
	return workerPhase(worker.phase.Load()) == phaseDead
}

func (worker *Worker) Start() {
	worker.execute()
}

func (worker *Worker) execute() {
	defer close(worker.ExitedFlag)
	for {
		select {
		case req := <-worker.mailbox:
			rep, fatal := worker.handle(req)
			if fatal {
				worker.phase.Store(int32(phaseDead))
			}
			req.reply <- rep
			if fatal {
				slog.Error("worker %v died, %v", worker.id, rep.err)
				worker.stop(rep.err)
				return
			}
		case <-worker.ExitChan:
			worker.phase.Store(int32(phaseDead))
			slog.Debug("worker %v exiting", worker.id)
			return
		}
	}
}

// handle processes one request. fatal reports whether the worker must die.
func (worker *Worker) handle(req *request) (rep reply, fatal bool) {
	defer func() {
		if r := recover(); r != nil {
			rep = reply{err: fmt.Errorf("%w: %s: %v", ErrExecutorCrashed, req.kind, r)}
			fatal = true
		}
	}()

	phase := workerPhase(worker.phase.Load())
	switch req.kind {
	case msgInitConstruct, msgInitResume:
		if phase != phaseUninitialized {
			return reply{err: ErrDoubleInitialization}, true
		}
		return worker.initialize(req)
	case msgCompute:
		if phase != phaseReady {
			return reply{err: ErrComputeBeforeInit}, true
		}
		out, err := worker.state.ComputeFrame(req.width, req.height, req.payload)
		if err != nil {
			// the state survives a rejected frame
			return reply{err: err}, false
		}
		return reply{output: out}, false
	}
	return reply{err: fmt.Errorf("%w: unknown message %v", ErrMalformedInput, req.kind)}, true
}

func (worker *Worker) initialize(req *request) (reply, bool) {
	if err := checkBuffer(req.width, req.height, len(req.payload), 0); err != nil {
		return reply{err: err}, true
	}

	var (
		state State
		err   error
	)
	if req.kind == msgInitConstruct {
		state, err = worker.kernel.Construct(req.width, req.height, req.payload)
	} else {
		state, err = worker.kernel.Resume(req.width, req.height, req.payload)
	}
	if err != nil {
		return reply{err: fmt.Errorf("%v: %w", req.kind, err)}, true
	}
	worker.state = state
	worker.phase.Store(int32(phaseReady))

	if req.kind == msgInitResume {
		return reply{}, false
	}
	return reply{snapshot: NewSnapshotBootstrap(req.width, req.height, state.Serialize())}, false
}

// Init sends the bootstrap to the worker. It returns the serialized snapshot when
// b describes a construction, and nil when b already is a snapshot.
func (worker *Worker) Init(ctx context.Context, b *Bootstrap) (*Bootstrap, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	req := &request{kind: msgInitConstruct, width: b.Width, height: b.Height, payload: b.Raw}
	if b.IsSnapshot() {
		req.kind = msgInitResume
		req.payload = b.State
	}
	rep := worker.call(ctx, req)
	return rep.snapshot, rep.err
}

func (worker *Worker) Compute(ctx context.Context, frame Frame) ([]byte, error) {
	rep := worker.call(ctx, &request{
		kind:    msgCompute,
		width:   frame.Width,
		height:  frame.Height,
		payload: frame.Image,
	})
	return rep.output, rep.err
}

func (worker *Worker) call(ctx context.Context, req *request) reply {
	req.reply = make(chan reply, 1)

	worker.busySince.Store(time.Now().UnixNano())
	worker.busyFlag.Set(true)
	defer worker.busyFlag.Set(false)

	select {
	case worker.mailbox <- req:
	case <-worker.ExitChan:
		return reply{err: worker.stopErr}
	case <-ctx.Done():
		return reply{err: ctx.Err()}
	}

	select {
	case rep := <-req.reply:
		return rep
	case <-worker.ExitChan:
		// the worker may have answered right before it stopped
		select {
		case rep := <-req.reply:
			return rep
		default:
			return reply{err: worker.stopErr}
		}
	case <-ctx.Done():
		return reply{err: ctx.Err()}
	}
}

// Abort stops the worker and fails its outstanding request with err.
// It does not wait for a running kernel call to return.
func (worker *Worker) Abort(err error) {
	worker.stop(err)
	worker.abandonOnce.Do(func() {
		close(worker.abandoned)
	})
}

// Abandoned is closed once Abort was called. The goroutine may still be inside a kernel call.
func (worker *Worker) Abandoned() <-chan struct{} {
	return worker.abandoned
}

func (worker *Worker) Stop() {
	worker.stop(ErrExecutorStopped)
}

func (worker *Worker) stop(err error) {
	worker.stopOnce.Do(func() {
		worker.stopErr = err
		close(worker.ExitChan)
	})
}

// Exited is closed once the worker goroutine has returned.
func (worker *Worker) Exited() <-chan struct{} {
	return worker.ExitedFlag
}

// Stopped reports whether Stop or Abort was called, or the worker died.
func (worker *Worker) Stopped() bool {
	select {
	case <-worker.ExitChan:
		return true
	default:
		return false
	}
}
