package insighttrack

import (
	"context"
	"iter"
	"sync"
)

// Buffer is an unbounded FIFO queue of events waiting for the dispatcher to
// start sending. It is safe for concurrent use.
type Buffer struct {
	mu     sync.Mutex
	events []Event
	head   int
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Enqueue appends an event. It never blocks on delivery.
func (b *Buffer) Enqueue(evt Event) {
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events) - b.head
}

// Dequeue removes and returns the oldest event.
func (b *Buffer) Dequeue() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dequeueLocked()
}

func (b *Buffer) dequeueLocked() (Event, bool) {
	if b.head >= len(b.events) {
		return Event{}, false
	}

	evt := b.events[b.head]
	b.events[b.head] = Event{}
	b.head++

	// Reclaim the backing array once it is fully consumed or mostly dead.
	switch {
	case b.head == len(b.events):
		b.events = b.events[:0]
		b.head = 0
	case b.head > 64 && b.head*2 > len(b.events):
		n := copy(b.events, b.events[b.head:])
		clear(b.events[n:])
		b.events = b.events[:n]
		b.head = 0
	}
	return evt, true
}

// Clear discards every buffered event and returns how many were dropped.
func (b *Buffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.events) - b.head
	clear(b.events)
	b.events = b.events[:0]
	b.head = 0
	return n
}

// Drain returns a sequence that removes and yields buffered events one at a
// time, oldest first. Each event is removed before it is yielded, so it is
// never seen twice. The sequence ends when the buffer is empty or ctx is
// done; events still buffered at that point stay in the buffer for the
// caller to discard or keep.
//
// The context is checked under the buffer lock, so no event is removed once
// ctx has been cancelled.
func (b *Buffer) Drain(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			evt, ok := b.next(ctx)
			if !ok || !yield(evt) {
				return
			}
		}
	}
}

func (b *Buffer) next(ctx context.Context) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx.Err() != nil {
		return Event{}, false
	}
	return b.dequeueLocked()
}
