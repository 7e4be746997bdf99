// Package batch coalesces bursts of events into bounded, time-windowed batches.
//
// A Buffer collects items until either the window elapses (measured from the
// first item of the current batch) or the item bound is reached, then hands
// the whole batch to the flush callback at once. Events arriving after a
// flush start a new window.
package batch

import (
	"sync"
	"time"
)

// Buffer is a time-windowed, size-bounded event buffer.
type Buffer[T any] struct {
	window   time.Duration
	maxItems int // 0 = unbounded
	flush    func([]T)

	mu     sync.Mutex
	items  []T
	timer  *time.Timer
	closed bool
}

// New creates a buffer that flushes at most maxItems items per batch, or
// whatever accumulated within window of the first item, whichever comes
// first. flush is called on a timer goroutine and must not block for long.
func New[T any](window time.Duration, maxItems int, flush func([]T)) *Buffer[T] {
	return &Buffer[T]{
		window:   window,
		maxItems: maxItems,
		flush:    flush,
	}
}

// Add buffers one item. The first item of a batch opens the window; reaching
// the item bound flushes early.
func (b *Buffer[T]) Add(item T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	b.items = append(b.items, item)
	if b.maxItems > 0 && len(b.items) >= b.maxItems {
		batch := b.take()
		b.mu.Unlock()
		b.flush(batch)
		return
	}
	if len(b.items) == 1 {
		b.timer = time.AfterFunc(b.window, b.Flush)
	}
	b.mu.Unlock()
}

// Flush delivers any buffered items immediately.
func (b *Buffer[T]) Flush() {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(batch)
	}
}

// Close flushes pending items and rejects further Adds.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	b.closed = true
	batch := b.take()
	b.mu.Unlock()

	if len(batch) > 0 {
		b.flush(batch)
	}
}

// take detaches the current batch and stops the window timer.
// Must be called with the lock held.
func (b *Buffer[T]) take() []T {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.items
	b.items = nil
	return batch
}
