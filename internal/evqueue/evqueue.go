// Package evqueue implements the client runtime's outbound event queue
// (spec §4.5): an unbounded MPSC queue of reference-shared frames feeding a
// single forwarder task. It wraps github.com/eapache/queue (a plain,
// non-concurrent ring buffer) with a mutex/condition-variable, the same way
// momentics-hioload-ws's api.Ring contract is backed by synchronized buffer
// implementations elsewhere in that repo.
package evqueue

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// Queue is a FIFO of arbitrary frames, safe for concurrent Push from many
// goroutines and a single concurrent PopWait consumer.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   *queue.Queue
	closed bool
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{ring: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v to the tail of the queue and wakes any waiting consumer.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.ring.Add(v)
	q.mu.Unlock()
	q.cond.Signal()
}

// PopWait removes and returns the head of the queue, blocking until an
// item is available, the queue is closed (ok == false), or ctx is done
// (ok == false).
func (q *Queue[T]) PopWait(ctx context.Context) (v T, ok bool) {
	// Wake the waiter when ctx is done, since sync.Cond has no native
	// context support.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.ring.Length() == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	if q.ring.Length() > 0 {
		item := q.ring.Remove()
		return item.(T), true
	}
	var zero T
	return zero, false
}

// Close marks the queue closed, waking any blocked PopWait with ok=false.
// Already-queued items remain retrievable via TryPop until drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// TryPop removes and returns the head without blocking.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ring.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.ring.Remove().(T), true
}

// Len reports the current queue depth.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Length()
}
