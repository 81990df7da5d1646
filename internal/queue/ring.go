package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Ring is a bounded FIFO queue. It is safe for concurrent use by multiple
// producers and consumers.
type Ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int
	count int

	notify  chan struct{}
	dropped atomic.Uint64
	onDrop  func()
}

// RingOption configures a [Ring].
type RingOption[T any] func(*Ring[T])

// WithDropHook registers fn to be called (outside the lock) every time Push
// discards an item.
func WithDropHook[T any](fn func()) RingOption[T] {
	return func(r *Ring[T]) { r.onDrop = fn }
}

// NewRing returns a ring holding at most depth items. depth below 1 is
// treated as 1.
func NewRing[T any](depth int, opts ...RingOption[T]) *Ring[T] {
	r := &Ring[T]{
		buf:    make([]T, max(1, depth)),
		notify: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Push appends v. If the ring is full the oldest item is dropped. Push never
// blocks and reports whether an item was dropped.
func (r *Ring[T]) Push(v T) (dropped bool) {
	r.mu.Lock()
	if r.count == len(r.buf) {
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		dropped = true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
	r.mu.Unlock()

	if dropped {
		r.dropped.Add(1)
		if r.onDrop != nil {
			r.onDrop()
		}
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return dropped
}

// TryPop removes and returns the oldest item without blocking.
func (r *Ring[T]) TryPop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if r.count == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	if r.count > 0 {
		// Keep the wake-up pending for other consumers.
		select {
		case r.notify <- struct{}{}:
		default:
		}
	}
	return v, true
}

// Pop blocks until an item is available or ctx is done.
func (r *Ring[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok := r.TryPop(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-r.notify:
		}
	}
}

// PopTimeout waits up to d for an item. It returns false on timeout and
// ctx.Err() if ctx ends first.
func (r *Ring[T]) PopTimeout(ctx context.Context, d time.Duration) (T, bool, error) {
	if v, ok := r.TryPop(); ok {
		return v, true, nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		case <-timer.C:
			v, ok := r.TryPop()
			return v, ok, nil
		case <-r.notify:
			if v, ok := r.TryPop(); ok {
				return v, true, nil
			}
		}
	}
}

// Len returns the number of queued items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the ring's depth.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Dropped returns the total number of items discarded by Push.
func (r *Ring[T]) Dropped() uint64 {
	return r.dropped.Load()
}
