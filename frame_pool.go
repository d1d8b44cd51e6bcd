package executor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	slog "github.com/vearne/simplelog"
)

/*
   FramePool schedules frames onto a bounded set of Workers.

   Growth: executors are created lazily, one per dispatch step, while idle+busy < concurrency.
   Bootstrap: every new executor is initialized from the pool's starter. The first executor
   to be spawned holds the bootstrap gate; executors spawned while it is held wait for it and
   then initialize from the snapshot the holder produced. Raw construction therefore runs
   at most once per pool, unless it fails and the gate re-arms for the next executor.
   Coordination: the queue and the idle/busy sets live on a single coordinator goroutine.
   Every change to them is an event posted to that goroutine.
*/

type QueueOrder int

const (
	// FIFO dispatches the oldest queued frame first.
	FIFO QueueOrder = iota
	// LIFO dispatches the newest queued frame first. Old frames starve under sustained load.
	LIFO
)

func (o QueueOrder) String() string {
	if o == LIFO {
		return "lifo"
	}
	return "fifo"
}

type FramePoolOption struct {
	concurrency int
	// 0 means unbounded
	taskQueueCap int
	order        QueueOrder
	// bytes per pixel of submitted frames, 0 disables the size check
	pixelStride int
	// 0 disables the watchdog
	replyTimeout time.Duration
	// interval between stall checks
	detectInterval time.Duration
	observer       Observer
}

type Option func(*FramePoolOption)

// Optional parameters
func WithConcurrency(concurrency int) Option {
	return func(t *FramePoolOption) {
		t.concurrency = concurrency
	}
}

func WithTaskQueueCap(taskQueueCap int) Option {
	return func(t *FramePoolOption) {
		t.taskQueueCap = taskQueueCap
	}
}

func WithQueueOrder(order QueueOrder) Option {
	return func(t *FramePoolOption) {
		t.order = order
	}
}

func WithPixelStride(stride int) Option {
	return func(t *FramePoolOption) {
		t.pixelStride = stride
	}
}

func WithReplyTimeout(timeout time.Duration) Option {
	return func(t *FramePoolOption) {
		t.replyTimeout = timeout
	}
}

func WithDetectInterval(detectInterval time.Duration) Option {
	return func(t *FramePoolOption) {
		t.detectInterval = detectInterval
	}
}

func WithObserver(observer Observer) Option {
	return func(t *FramePoolOption) {
		t.observer = observer
	}
}

type gateState int

const (
	gateUnset gateState = iota
	gateInFlight
	gateSettled
)

// bootstrapGate is held by the first executor being bootstrapped.
// ok is written before done is closed.
type bootstrapGate struct {
	done chan struct{}
	ok   bool
}

type PoolStats struct {
	Concurrency int
	Queued      int
	Idle        int
	Busy        int
	// executors ever created
	Spawned int
	// bootstraps that ran raw construction
	Constructs        int
	BootstrapInFlight bool
	Closed            bool
}

type FramePool struct {
	wg sync.WaitGroup

	opts    *FramePoolOption
	factory KernelFactory
	starter atomic.Pointer[Bootstrap]

	// coordinator state, only touched on the loop goroutine
	events    chan func()
	queue     []*FutureTask
	idle      []*Worker
	busy      map[*Worker]*FutureTask
	gate      *bootstrapGate
	gateState gateState
	drainHeld chan struct{}
	closed    bool

	queued     atomic.Int64
	seq        atomic.Uint64
	spawned    atomic.Int64
	constructs atomic.Int64
	drain      atomic.Pointer[chan struct{}]

	// serializes Submit against Shutdown
	submitMu   sync.RWMutex
	isShutdown *AtomicBool
	loopExited chan struct{}
	watchdog   *Watchdog
	// Context
	ctx    context.Context
	cancel context.CancelFunc
}

func NewFramePool(ctx context.Context, factory KernelFactory, starter *Bootstrap,
	opts ...Option) (*FramePool, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil kernel factory", ErrExecutorCreation)
	}
	if err := starter.validate(); err != nil {
		return nil, err
	}

	defaultOpts := &FramePoolOption{
		concurrency:    runtime.NumCPU(),
		order:          FIFO,
		pixelStride:    4,
		detectInterval: time.Second,
		observer:       noopObserver{},
	}
	// Loop through each option
	for _, opt := range opts {
		// Call the option giving the instantiated
		opt(defaultOpts)
	}
	if defaultOpts.concurrency <= 0 {
		return nil, ErrInvalidConcurrency
	}
	if defaultOpts.taskQueueCap < 0 {
		return nil, ErrInvalidTaskQueueCap
	}
	if defaultOpts.observer == nil {
		defaultOpts.observer = noopObserver{}
	}

	pool := FramePool{}
	pool.opts = defaultOpts
	pool.factory = factory
	pool.starter.Store(starter)
	pool.events = make(chan func(), 256)
	pool.busy = make(map[*Worker]*FutureTask)
	pool.isShutdown = NewAtomicBool(false)
	pool.loopExited = make(chan struct{})
	pool.ctx, pool.cancel = context.WithCancel(ctx)

	resolved := make(chan struct{})
	close(resolved)
	pool.drain.Store(&resolved)

	go pool.loop()

	if defaultOpts.replyTimeout > 0 {
		interval := defaultOpts.detectInterval
		if interval <= 0 || interval > defaultOpts.replyTimeout/2 {
			interval = defaultOpts.replyTimeout / 2
		}
		pool.watchdog = NewWatchdog(&pool, interval, defaultOpts.replyTimeout)
		go pool.watchdog.Start()
	}

	slog.Info("FramePool started, concurrency:%v, order:%v", defaultOpts.concurrency, defaultOpts.order)
	return &pool, nil
}

// Submit queues frame for computation and returns immediately.
// A malformed frame is rejected before it is queued: the returned future is
// already failed and the same error is returned.
func (p *FramePool) Submit(frame Frame) (Future, error) {
	t := NewFutureTask(p.seq.Add(1), frame)
	if err := frame.validate(p.opts.pixelStride); err != nil {
		t.state.Store(taskBound)
		t.reject(err)
		return t, err
	}
	t.onCancel = p.withdraw

	p.submitMu.RLock()
	defer p.submitMu.RUnlock()
	if p.IsShutdown() || p.ctx.Err() != nil {
		return nil, ErrPoolShutdown
	}
	if !p.reserve() {
		return nil, ErrQueueFull
	}
	if !p.post(func() { p.enqueue(t) }) {
		p.queued.Add(-1)
		return nil, ErrPoolShutdown
	}
	return t, nil
}

// reserve claims a queue slot, honouring the queue capacity.
func (p *FramePool) reserve() bool {
	if p.opts.taskQueueCap == 0 {
		p.queued.Add(1)
		return true
	}
	for {
		curr := p.queued.Load()
		if curr >= int64(p.opts.taskQueueCap) {
			return false
		}
		if p.queued.CompareAndSwap(curr, curr+1) {
			return true
		}
	}
}

// Drain returns a channel that is closed while at most one frame is waiting.
// Once the queue grows past one, a new open channel is handed out until it drains again.
func (p *FramePool) Drain() <-chan struct{} {
	return *p.drain.Load()
}

func (p *FramePool) Shutdown() {
	p.submitMu.Lock()
	first := p.isShutdown.CompareAndSet(false, true)
	p.submitMu.Unlock()
	if !first {
		return
	}
	slog.Info("FramePool-Shutdown()")
	p.cancel()
}

func (p *FramePool) IsShutdown() bool {
	return p.isShutdown.IsTrue()
}

// WaitTerminate shuts the pool down and waits until the coordinator and every
// executor goroutine have returned. Executors aborted while a kernel call was
// running are abandoned: their goroutine exits whenever that call returns, and
// WaitTerminate does not wait for it.
func (p *FramePool) WaitTerminate() {
	if !p.IsShutdown() {
		p.Shutdown()
	}
	<-p.loopExited
	p.wg.Wait()
}

func (p *FramePool) Concurrency() int {
	return p.opts.concurrency
}

func (p *FramePool) TaskQueueCap() int {
	return p.opts.taskQueueCap
}

func (p *FramePool) TaskQueueLength() int {
	return int(p.queued.Load())
}

// Starter returns the bootstrap new executors are initialized from.
func (p *FramePool) Starter() *Bootstrap {
	return p.starter.Load()
}

func (p *FramePool) Stats() PoolStats {
	stats := PoolStats{
		Concurrency: p.opts.concurrency,
		Closed:      true,
	}
	p.call(func() {
		stats.Queued = len(p.queue)
		stats.Idle = len(p.idle)
		stats.Busy = len(p.busy)
		stats.BootstrapInFlight = p.gateState == gateInFlight
		stats.Closed = p.closed
	})
	stats.Spawned = int(p.spawned.Load())
	stats.Constructs = int(p.constructs.Load())
	return stats
}

func (p *FramePool) loop() {
	defer close(p.loopExited)
	for {
		select {
		case fn := <-p.events:
			fn()
		case <-p.ctx.Done():
			p.terminate()
			return
		}
	}
}

// post hands fn to the coordinator. It reports false once the pool is closing.
func (p *FramePool) post(fn func()) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.events <- fn:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// call runs fn on the coordinator and waits for it to finish.
func (p *FramePool) call(fn func()) bool {
	done := make(chan struct{})
	if !p.post(func() {
		fn()
		close(done)
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-p.loopExited:
		// terminate runs the events that were already queued
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

func (p *FramePool) enqueue(t *FutureTask) {
	if p.closed {
		p.queued.Add(-1)
		t.reject(ErrPoolClosed)
		return
	}
	if t.IsCancelled() {
		p.queued.Add(-1)
		return
	}
	p.queue = append(p.queue, t)
	slog.Debug("add task %v to queue, queue length:%v", t.seq, len(p.queue))
	p.dispatch()
}

// popTask removes the next task that can still be bound, or returns nil.
func (p *FramePool) popTask() *FutureTask {
	for n := len(p.queue); n > 0; n = len(p.queue) {
		var t *FutureTask
		if p.opts.order == LIFO {
			t = p.queue[n-1]
			p.queue[n-1] = nil
			p.queue = p.queue[:n-1]
		} else {
			t = p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
		}
		p.queued.Add(-1)
		if t.bind() {
			return t
		}
	}
	return nil
}

// withdraw drops a cancelled task from the queue.
func (p *FramePool) withdraw(t *FutureTask) {
	p.post(func() {
		for i, queued := range p.queue {
			if queued == t {
				p.queue = append(p.queue[:i], p.queue[i+1:]...)
				p.queued.Add(-1)
				slog.Debug("task %v canceled, queue length:%v", t.seq, len(p.queue))
				p.dispatch()
				return
			}
		}
	})
}

func (p *FramePool) popIdle() *Worker {
	n := len(p.idle)
	w := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	return w
}

// dispatch binds as many queued frames to executors as the concurrency allows.
func (p *FramePool) dispatch() {
	if p.closed {
		return
	}
	for {
		var (
			w    *Worker
			t    *FutureTask
			boot func() error
		)
		if len(p.queue) > 0 && len(p.idle) > 0 {
			if t = p.popTask(); t == nil {
				break
			}
			w = p.popIdle()
		} else if len(p.queue) > 0 && len(p.idle)+len(p.busy) < p.opts.concurrency {
			if t = p.popTask(); t == nil {
				break
			}
			nw, err := p.spawn()
			if err != nil {
				slog.Error("spawn executor for task %v, %v", t.seq, err)
				t.reject(err)
				p.opts.observer.TaskFinished(0, err)
				continue
			}
			w = nw
			boot = p.planBootstrap(w)
		} else {
			break
		}

		p.busy[w] = t
		slog.Debug("bind task %v to worker %v", t.seq, w.ID())
		p.wg.Add(1)
		go p.runBound(w, t, boot)
	}

	if len(p.queue) > 1 {
		if p.drainHeld == nil {
			held := make(chan struct{})
			p.drainHeld = held
			p.drain.Store(&held)
		}
	} else if p.drainHeld != nil {
		close(p.drainHeld)
		p.drainHeld = nil
	}
	p.opts.observer.QueueLength(len(p.queue))
}

func (p *FramePool) spawn() (*Worker, error) {
	kernel, err := p.factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutorCreation, err)
	}
	if kernel == nil {
		return nil, fmt.Errorf("%w: factory returned a nil kernel", ErrExecutorCreation)
	}
	w := NewWorker(kernel)
	go w.Start()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// a hung kernel call keeps an aborted worker alive, stop waiting for it
		select {
		case <-w.Exited():
		case <-w.Abandoned():
		}
	}()
	p.spawned.Add(1)
	p.opts.observer.ExecutorSpawned(w.ID())
	slog.Debug("spawn worker %v, executors:%v", w.ID(), len(p.idle)+len(p.busy)+1)
	return w, nil
}

// planBootstrap decides how a freshly spawned executor gets initialized.
// The returned func runs on the executor's binding goroutine.
func (p *FramePool) planBootstrap(w *Worker) func() error {
	switch p.gateState {
	case gateUnset:
		g := &bootstrapGate{done: make(chan struct{})}
		p.gate = g
		p.gateState = gateInFlight
		return func() error {
			err := p.initWorker(w)
			p.settleGate(g, err)
			return err
		}
	case gateInFlight:
		g := p.gate
		return func() error {
			select {
			case <-g.done:
			case <-p.ctx.Done():
				return ErrPoolClosed
			}
			if !g.ok {
				// the holder failed, ask for a fresh plan, this executor may become the holder
				var next func() error
				if !p.call(func() { next = p.planBootstrap(w) }) || next == nil {
					return ErrPoolClosed
				}
				return next()
			}
			return p.initWorker(w)
		}
	default:
		return func() error {
			return p.initWorker(w)
		}
	}
}

func (p *FramePool) settleGate(g *bootstrapGate, err error) {
	settle := func() {
		if err == nil {
			p.gateState = gateSettled
		} else {
			p.gateState = gateUnset
			p.gate = nil
		}
		g.ok = err == nil
		close(g.done)
	}
	if !p.post(settle) {
		// waiters also watch ctx, leaving g.done open is harmless
		return
	}
}

func (p *FramePool) initWorker(w *Worker) error {
	b := p.starter.Load()
	if !b.IsSnapshot() {
		p.constructs.Add(1)
	}
	start := time.Now()
	snapshot, err := w.Init(p.ctx, b)
	p.opts.observer.BootstrapFinished(w.ID(), !b.IsSnapshot(), time.Since(start), err)
	if err != nil {
		return err
	}
	if snapshot != nil {
		// only the gate holder constructs, so this is the single write
		if p.starter.CompareAndSwap(b, snapshot) {
			slog.Info("worker %v produced the bootstrap snapshot, %vx%v, %v bytes",
				w.ID(), snapshot.Width, snapshot.Height, len(snapshot.State))
		}
	}
	return nil
}

func (p *FramePool) runBound(w *Worker, t *FutureTask, boot func() error) {
	defer p.wg.Done()
	if boot != nil {
		if err := boot(); err != nil {
			p.opts.observer.TaskFinished(0, err)
			p.complete(w, t, nil, err)
			return
		}
	}
	start := time.Now()
	out, err := w.Compute(p.ctx, t.frame)
	p.opts.observer.TaskFinished(time.Since(start), err)
	p.complete(w, t, out, err)
}

// complete settles t and returns w to the idle set, or discards it if it can no longer serve.
func (p *FramePool) complete(w *Worker, t *FutureTask, out []byte, err error) {
	ok := p.post(func() {
		delete(p.busy, w)
		if err != nil {
			t.reject(err)
		} else {
			t.resolve(out)
		}
		if w.IsReady() && !w.Stopped() {
			p.idle = append(p.idle, w)
		} else {
			p.discard(w, err)
		}
		p.dispatch()
	})
	if !ok {
		t.reject(ErrPoolClosed)
	}
}

func (p *FramePool) discard(w *Worker, err error) {
	w.Stop()
	slog.Error("discard worker %v, %v", w.ID(), err)
	p.opts.observer.ExecutorDiscarded(w.ID(), err)
}

// terminate runs on the coordinator once the pool context is done.
func (p *FramePool) terminate() {
	p.closed = true
	// the parent context may be cancelled without Shutdown; wait out Submits that are still posting
	p.submitMu.Lock()
	p.isShutdown.Set(true)
	p.submitMu.Unlock()
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
	// events posted before shutdown still settle their tasks
	for pending := true; pending; {
		select {
		case fn := <-p.events:
			fn()
		default:
			pending = false
		}
	}

	for _, w := range p.idle {
		w.Stop()
		p.opts.observer.ExecutorDiscarded(w.ID(), ErrPoolClosed)
	}
	p.idle = nil
	for w, t := range p.busy {
		w.Abort(ErrPoolClosed)
		t.reject(ErrPoolClosed)
		delete(p.busy, w)
		p.opts.observer.ExecutorDiscarded(w.ID(), ErrPoolClosed)
	}
	p.queued.Add(-int64(len(p.queue)))
	for _, t := range p.queue {
		t.reject(ErrPoolClosed)
	}
	p.queue = nil
	if p.drainHeld != nil {
		close(p.drainHeld)
		p.drainHeld = nil
	}
	p.opts.observer.QueueLength(0)
	slog.Info("FramePool terminated, executors spawned:%v", p.spawned.Load())
}
