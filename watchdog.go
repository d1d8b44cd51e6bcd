package executor

import (
	"fmt"
	"time"

	slog "github.com/vearne/simplelog"
)

/*
The Watchdog detects executors that stopped answering.
Every detectInterval it asks the coordinator to look at the busy executors. An executor
whose outstanding request is older than replyTimeout is aborted: its request fails
with ErrReplyTimeout, the bound future is rejected and the executor is discarded.
Waiting for the bootstrap gate is not a request, so it never counts as a stall.
*/
type Watchdog struct {
	RunningFlag *AtomicBool
	ExitedFlag  chan struct{}
	ExitChan    chan struct{}
	pool        *FramePool
	// interval between checks
	detectInterval time.Duration
	replyTimeout   time.Duration
}

func NewWatchdog(pool *FramePool, interval time.Duration, replyTimeout time.Duration) *Watchdog {
	watchdog := Watchdog{}
	watchdog.RunningFlag = NewAtomicBool(true)
	watchdog.ExitedFlag = make(chan struct{})
	watchdog.ExitChan = make(chan struct{})
	watchdog.pool = pool
	watchdog.detectInterval = interval
	watchdog.replyTimeout = replyTimeout
	return &watchdog
}

func (w *Watchdog) Start() {
	defer close(w.ExitedFlag)
	ticker := time.NewTicker(w.detectInterval)
	defer ticker.Stop()
	for w.RunningFlag.IsTrue() {
		select {
		case <-ticker.C:
			w.pool.post(w.check)
		case <-w.ExitChan:
			slog.Debug("Watchdog exiting.")
		case <-w.pool.ctx.Done():
			return
		}
	}
}

// check runs on the coordinator.
func (w *Watchdog) check() {
	now := time.Now()
	for worker, t := range w.pool.busy {
		since := worker.BusySince()
		if since.IsZero() {
			continue
		}
		if elapsed := now.Sub(since); elapsed > w.replyTimeout {
			slog.Error("worker %v stalled on task %v for %v", worker.ID(), t.seq, elapsed)
			worker.Abort(fmt.Errorf("%w: no reply after %v", ErrReplyTimeout, elapsed.Round(time.Millisecond)))
		}
	}
}

func (w *Watchdog) Stop() {
	if w.RunningFlag.CompareAndSet(true, false) {
		close(w.ExitChan)
	}
	<-w.ExitedFlag
}
