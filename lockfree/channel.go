package lockfree

import (
	"go.uber.org/atomic"
)

// asleep marks the shared cursor when the reader found nothing to read and
// went to sleep. Positions are never negative.
const asleep int64 = -1

// Channel is a single-producer/single-consumer pipe of slots.
//
// Writes are staged until Flush publishes them. A Flush that returns false
// tells the writer that the reader had gone to sleep and must be woken by
// some external means (a signal, a command). Incomplete writes let the
// writer group several slots into one unit that becomes visible
// atomically, and Unwrite withdraws staged slots before they are flushed.
type Channel[T any] struct {
	queue *Queue[T]

	// w is the first slot not yet flushed; f is the first slot not yet
	// completed (everything before it may be flushed). Writer side.
	w int64
	f int64

	// r is the first slot the reader may not consume without another
	// CheckRead. Reader side.
	r int64

	// c is the only cursor shared by both sides. It holds the flushed
	// position, or asleep when the reader is waiting for a wakeup.
	c atomic.Int64
}

// NewChannel creates an empty channel. The reader starts awake.
func NewChannel[T any]() *Channel[T] {
	q := NewQueue[T]()
	q.Push()
	p := q.BackPos()
	ch := &Channel[T]{
		queue: q,
		w:     p,
		f:     p,
		r:     p,
	}
	ch.c.Store(p)
	return ch
}

// Write stages v. When incomplete is true the slot stays invisible to the
// reader until a later complete write.
func (ch *Channel[T]) Write(v T, incomplete bool) {
	*ch.queue.Back() = v
	ch.queue.Push()
	if !incomplete {
		ch.f = ch.queue.BackPos()
	}
}

// Unwrite withdraws the most recently written slot if it has not been
// completed yet. It reports false when there is nothing to withdraw.
func (ch *Channel[T]) Unwrite() (T, bool) {
	var zero T
	if ch.f == ch.queue.BackPos() {
		return zero, false
	}
	ch.queue.Unpush()
	back := ch.queue.Back()
	v := *back
	*back = zero
	return v, true
}

// Flush publishes every completed slot. It returns false if the reader was
// asleep, in which case the caller must wake it.
func (ch *Channel[T]) Flush() bool {
	if ch.w == ch.f {
		return true
	}

	if !ch.c.CompareAndSwap(ch.w, ch.f) {
		// The reader went to sleep; c holds asleep. Publish and report.
		ch.c.Store(ch.f)
		ch.w = ch.f
		return false
	}

	ch.w = ch.f
	return true
}

// CheckRead reports whether a slot can be read. When it returns false the
// reader has been marked asleep and the next Flush will return false.
func (ch *Channel[T]) CheckRead() bool {
	front := ch.queue.FrontPos()
	if front != ch.r && ch.r != asleep {
		return true
	}

	for {
		old := ch.c.Load()
		if old == front {
			if ch.c.CompareAndSwap(front, asleep) {
				ch.r = front
				return false
			}
			continue
		}
		ch.r = old
		return old != asleep
	}
}

// Read removes and returns the next slot.
func (ch *Channel[T]) Read() (T, bool) {
	var zero T
	if !ch.CheckRead() {
		return zero, false
	}
	v := *ch.queue.Front()
	ch.queue.Pop()
	return v, true
}

// Probe applies fn to the next readable slot without consuming it.
func (ch *Channel[T]) Probe(fn func(*T) bool) bool {
	if !ch.CheckRead() {
		return false
	}
	return fn(ch.queue.Front())
}
