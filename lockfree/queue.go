// Package lockfree implements the single-producer/single-consumer structures
// that move opaque slots between exactly one writer goroutine and one reader
// goroutine.
//
// Queue is the unsynchronized chunked storage. Channel layers the commit
// protocol on top of it: one shared cursor updated with compare-and-swap is
// the only field both goroutines touch.
package lockfree

import (
	"go.uber.org/atomic"
)

// ChunkSize is the number of slots in every chunk of a Queue.
const ChunkSize = 256

// chunk is a fixed-size node in the chunk list.
//
// id is assigned by the writer when the chunk is linked in, so that
// positions stay monotonic even when a spare chunk is recycled.
type chunk[T any] struct {
	values [ChunkSize]T
	prev   *chunk[T]
	next   *chunk[T]
	id     int64
}

// Queue is an unbounded FIFO of slots stored in a linked list of chunks.
//
// Queue itself is not thread safe. The writer side (Back, Push, Unpush,
// BackPos) and the reader side (Front, Pop, FrontPos) may each be driven by
// one goroutine as long as something else (see Channel) publishes positions
// between them. The only field shared by both sides is the spare chunk,
// which is exchanged atomically.
//
// The queue always holds one pre-allocated "back" slot: Back returns the
// slot the next value is written into, and Push commits it.
type Queue[T any] struct {
	// Reader side.
	beginChunk *chunk[T]
	beginPos   int

	// Writer side.
	backChunk *chunk[T]
	backPos   int
	endChunk  *chunk[T]
	endPos    int
	nextID    int64

	// At most one recycled chunk, swapped by Pop and Push.
	spare atomic.Pointer[chunk[T]]
}

// NewQueue creates an empty queue with one chunk allocated.
func NewQueue[T any]() *Queue[T] {
	c := &chunk[T]{id: 0}
	return &Queue[T]{
		beginChunk: c,
		backChunk:  c,
		endChunk:   c,
		nextID:     1,
	}
}

// Front returns the first slot of the queue. Reader side.
func (q *Queue[T]) Front() *T {
	return &q.beginChunk.values[q.beginPos]
}

// Back returns the last slot of the queue. Writer side.
func (q *Queue[T]) Back() *T {
	return &q.backChunk.values[q.backPos]
}

// FrontPos returns the logical position of the front slot.
func (q *Queue[T]) FrontPos() int64 {
	return q.beginChunk.id*ChunkSize + int64(q.beginPos)
}

// BackPos returns the logical position of the back slot.
func (q *Queue[T]) BackPos() int64 {
	return q.backChunk.id*ChunkSize + int64(q.backPos)
}

// Push commits the back slot and moves back one position forward, linking
// a new chunk (the spare one if present) when the current chunk is used up.
func (q *Queue[T]) Push() {
	q.backChunk = q.endChunk
	q.backPos = q.endPos

	q.endPos++
	if q.endPos != ChunkSize {
		return
	}

	next := q.spare.Swap(nil)
	if next == nil {
		next = &chunk[T]{}
	}
	next.next = nil
	next.prev = q.endChunk
	next.id = q.nextID
	q.nextID++

	q.endChunk.next = next
	q.endChunk = next
	q.endPos = 0
}

// Unpush removes the most recently pushed slot. The caller is responsible
// for reading and clearing the value left in Back.
//
// A chunk that becomes unused is offered back as the spare.
func (q *Queue[T]) Unpush() {
	if q.backPos > 0 {
		q.backPos--
	} else {
		q.backPos = ChunkSize - 1
		q.backChunk = q.backChunk.prev
	}

	if q.endPos > 0 {
		q.endPos--
		return
	}

	q.endPos = ChunkSize - 1
	released := q.endChunk
	q.endChunk = q.endChunk.prev
	q.endChunk.next = nil

	released.prev = nil
	q.spare.Swap(released)
}

// Pop clears the front slot and moves front one position forward. The
// vacated chunk, if any, becomes the spare.
func (q *Queue[T]) Pop() {
	var zero T
	q.beginChunk.values[q.beginPos] = zero

	q.beginPos++
	if q.beginPos != ChunkSize {
		return
	}

	old := q.beginChunk
	q.beginChunk = q.beginChunk.next
	q.beginChunk.prev = nil
	q.beginPos = 0

	old.next = nil
	q.spare.Swap(old)
}
