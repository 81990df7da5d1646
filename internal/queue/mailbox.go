// Package queue provides the two handoff primitives used between pipeline
// tasks:
//
//   - [Mailbox]: a single-slot, latest-value-wins channel. A new Put replaces
//     any value the consumer has not yet taken.
//   - [Ring]: a bounded FIFO whose Push never blocks; when full, the oldest
//     item is discarded to make room.
//
// Both count what they discard so that slow consumers are visible in metrics.
// Wake-ups use a capacity-1 notify channel with a select-default send, so a
// producer never waits on a consumer.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mailbox holds at most one value of T.
type Mailbox[T any] struct {
	mu     sync.Mutex
	value  T
	full   bool
	notify chan struct{}

	overwritten atomic.Uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Put stores v, replacing any unread value, and wakes a waiting consumer. It
// reports whether an unread value was replaced.
func (m *Mailbox[T]) Put(v T) (overwrote bool) {
	m.mu.Lock()
	overwrote = m.full
	m.value = v
	m.full = true
	m.mu.Unlock()

	if overwrote {
		m.overwritten.Add(1)
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return overwrote
}

// Take removes and returns the current value without blocking.
func (m *Mailbox[T]) Take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if !m.full {
		return zero, false
	}
	v := m.value
	m.value = zero
	m.full = false
	return v, true
}

// Wait blocks until a value is available or ctx is done.
func (m *Mailbox[T]) Wait(ctx context.Context) (T, error) {
	for {
		if v, ok := m.Take(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-m.notify:
		}
	}
}

// Overwritten returns how many unread values were replaced by a newer Put.
func (m *Mailbox[T]) Overwritten() uint64 {
	return m.overwritten.Load()
}
