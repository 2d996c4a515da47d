// Package state provides a generic atomic state word used by the client
// session and server connection state machines (spec §5/§9): every
// transition is a compare-and-swap on a single word, never a
// read-modify-write, so a concurrent reader (a timeout watchdog, say) always
// observes a coherent state.
package state

import "sync/atomic"

// Word holds a state of type T (expected to be a small ~uint8 enum).
type Word[T ~uint8] struct {
	v atomic.Uint32
}

// NewWord constructs a Word initialized to initial.
func NewWord[T ~uint8](initial T) *Word[T] {
	w := &Word[T]{}
	w.v.Store(uint32(initial))
	return w
}

// Load returns the current state.
func (w *Word[T]) Load() T {
	return T(w.v.Load())
}

// CAS atomically transitions from old to new, returning false (and leaving
// the state untouched) if the current state isn't old.
func (w *Word[T]) CAS(old, new T) bool {
	return w.v.CompareAndSwap(uint32(old), uint32(new))
}

// Store unconditionally sets the state without confirming the previous one.
// The client and server runtimes use it for their own lifecycle
// transitions; the session and connection state machines use CAS only.
func (w *Word[T]) Store(new T) {
	w.v.Store(uint32(new))
}
