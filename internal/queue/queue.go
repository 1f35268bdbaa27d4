package queue

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrQueueClosed is returned by Enqueue once Close has been called. It is a
	// shutdown signal, not a failure.
	ErrQueueClosed = errors.New("queue is closed")
	// ErrQueueFull is only returned by TryEnqueue; Enqueue blocks instead.
	ErrQueueFull = errors.New("queue is full")
)

// State is the lifecycle of a BoundedQueue. Transitions only move forward:
// Open -> Draining -> Closed.
type State int32

const (
	Open     State = iota // accepting enqueue and dequeue
	Draining              // closed for enqueue, items remain
	Closed                // closed and empty, nothing will ever be dequeued again
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type QueueService[T any] interface {
	Enqueue(item T) error
	Dequeue() (T, bool)
	Close()
	State() State
}

// BoundedQueue is a fixed capacity FIFO with blocking Enqueue and Dequeue.
// Close wakes every blocked caller so producers and consumers can observe the
// shutdown instead of waiting forever.
type BoundedQueue[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	items    []T // ring buffer
	head     int
	size     int
	capacity int
	state    State
}

func New[T any](capacity int) (*BoundedQueue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", capacity)
	}
	q := &BoundedQueue[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		state:    Open,
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q, nil
}

// Enqueue appends item, blocking while the queue is full. If the queue is closed
// before or while waiting, the item is not inserted and ErrQueueClosed is returned.
func (q *BoundedQueue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.state == Open && q.size == q.capacity {
		q.notFull.Wait()
	}
	if q.state != Open {
		return ErrQueueClosed
	}
	q.push(item)
	return nil
}

// TryEnqueue is Enqueue without blocking.
func (q *BoundedQueue[T]) TryEnqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != Open {
		return ErrQueueClosed
	}
	if q.size == q.capacity {
		return ErrQueueFull
	}
	q.push(item)
	return nil
}

// Dequeue removes and returns the oldest item, blocking while the queue is empty
// and open. It returns false once the queue is empty and no longer open; callers
// treat that as "no more work".
func (q *BoundedQueue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.state == Open && q.size == 0 {
		q.notEmpty.Wait()
	}
	if q.size == 0 {
		var zero T
		return zero, false
	}

	item := q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head = (q.head + 1) % q.capacity
	q.size--

	if q.state == Draining && q.size == 0 {
		q.state = Closed
	}
	q.notFull.Signal()
	return item, true
}

// Close stops accepting new items. Items already queued stay dequeuable. Safe to
// call more than once.
func (q *BoundedQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != Open {
		return
	}
	if q.size == 0 {
		q.state = Closed
	} else {
		q.state = Draining
	}
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

func (q *BoundedQueue[T]) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *BoundedQueue[T]) Cap() int {
	return q.capacity
}

// push must be called with mu held and room in the buffer.
func (q *BoundedQueue[T]) push(item T) {
	tail := (q.head + q.size) % q.capacity
	q.items[tail] = item
	q.size++
	q.notEmpty.Signal()
}
