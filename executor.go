package executor

import (
	"context"
	"sync/atomic"
)

type GPResult struct {
	Image []byte
	Err   error
}

// NewSingleFramePool returns a pool that never grows beyond one executor.
// Every frame is computed by the same executor, so frames observe each other's state changes.
func NewSingleFramePool(ctx context.Context, factory KernelFactory, starter *Bootstrap,
	opts ...Option) (*FramePool, error) {
	opts = append(opts, WithConcurrency(1))
	return NewFramePool(ctx, factory, starter, opts...)
}

type AtomicBool struct {
	v atomic.Bool
}

func NewAtomicBool(b bool) *AtomicBool {
	ab := &AtomicBool{}
	ab.v.Store(b)
	return ab
}

func (b *AtomicBool) Set(v bool) {
	b.v.Store(v)
}

// CompareAndSet reports whether the value was switched from old to new.
func (b *AtomicBool) CompareAndSet(old, new bool) bool {
	return b.v.CompareAndSwap(old, new)
}

func (b *AtomicBool) IsTrue() bool {
	return b.v.Load()
}
