// Package jitter provides a bounded FIFO that absorbs arrival-time variance
// between a network producer and a fixed-cadence consumer.
//
// A Buffer never blocks. When full, Push evicts the oldest element. Until
// MinFill elements are present, Pop yields the zero value and consumes
// nothing, so a playback reader hears silence instead of stalling while the
// network catches up.
package jitter

import "sync"

// Stats counts buffer activity since construction.
type Stats struct {
	Pushed    int64 `json:"pushed"`
	Popped    int64 `json:"popped"`
	Evicted   int64 `json:"evicted"`
	Underruns int64 `json:"underruns"`
	Len       int   `json:"len"`
	Cap       int   `json:"cap"`
}

// Buffer is a bounded ring of T guarded by a single mutex. All operations
// are O(1) per element; the lock is held only for the copy.
type Buffer[T any] struct {
	mu      sync.Mutex
	ring    []T
	head    int // index of oldest element
	n       int
	minFill int

	pushed    int64
	popped    int64
	evicted   int64
	underruns int64
}

// New creates a Buffer holding at most maxSize elements that begins yielding
// real data once minFill elements are buffered. maxSize is clamped to at
// least 1 and minFill to at least 0.
func New[T any](maxSize, minFill int) *Buffer[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	if minFill < 0 {
		minFill = 0
	}
	return &Buffer[T]{
		ring:    make([]T, maxSize),
		minFill: minFill,
	}
}

// Push appends v, evicting the oldest element first if the buffer is full.
func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	b.push(v)
	b.mu.Unlock()
}

// PushSlice appends every element of vs in order under one lock acquisition.
// The result is identical to calling Push for each element.
func (b *Buffer[T]) PushSlice(vs []T) {
	b.mu.Lock()
	for _, v := range vs {
		b.push(v)
	}
	b.mu.Unlock()
}

func (b *Buffer[T]) push(v T) {
	size := len(b.ring)
	if b.n == size {
		var zero T
		b.ring[b.head] = zero
		b.head = (b.head + 1) % size
		b.n--
		b.evicted++
	}
	b.ring[(b.head+b.n)%size] = v
	b.n++
	b.pushed++
}

// Pop removes and returns the oldest element. While fewer than MinFill
// elements are buffered it returns the zero value and removes nothing.
func (b *Buffer[T]) Pop() T {
	b.mu.Lock()
	v, _ := b.pop()
	b.mu.Unlock()
	return v
}

// PopInto fills dst as repeated calls to Pop would, under one lock
// acquisition, and reports how many elements were real buffered data.
func (b *Buffer[T]) PopInto(dst []T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	taken := 0
	for i := range dst {
		v, ok := b.pop()
		dst[i] = v
		if ok {
			taken++
		}
	}
	return taken
}

func (b *Buffer[T]) pop() (T, bool) {
	var zero T
	if b.n < b.minFill || b.n == 0 {
		b.underruns++
		return zero, false
	}
	v := b.ring[b.head]
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.n--
	b.popped++
	return v, true
}

// Len returns the number of buffered elements.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// IsEmpty reports whether nothing is buffered.
func (b *Buffer[T]) IsEmpty() bool {
	return b.Len() == 0
}

// Cap returns the maximum number of elements the buffer retains.
func (b *Buffer[T]) Cap() int {
	return len(b.ring)
}

// MinFill returns the readiness threshold.
func (b *Buffer[T]) MinFill() int {
	return b.minFill
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Pushed:    b.pushed,
		Popped:    b.popped,
		Evicted:   b.evicted,
		Underruns: b.underruns,
		Len:       b.n,
		Cap:       len(b.ring),
	}
}
