package puma

import "sync"

// SharedValue is the Shared field policy's backing store: state that both
// the parent and the worker observe consistently, as opposed to
// WorkerOnly/ParentOnly/SnapshotAtSpawn state which never round-trips
// (spec.md §9). Both flavours back it with the same in-process mutex;
// writes are not replicated across a process boundary, so a
// process-flavoured worker does not observe writes made in its parent, nor
// the parent those made in the worker.
type SharedValue[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewSharedValue constructs a SharedValue with the given initial value.
// CreateSharedValue returns this same type unchanged for every
// Environment flavour.
func NewSharedValue[T any](initial T) *SharedValue[T] {
	return &SharedValue[T]{value: initial}
}

// Get returns the current value.
func (s *SharedValue[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the current value.
func (s *SharedValue[T]) Set(v T) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// Update atomically replaces the current value with fn's result, applied
// to the current value; useful for read-modify-write sequences where the
// caller must not race a concurrent Set.
func (s *SharedValue[T]) Update(fn func(current T) T) {
	s.mu.Lock()
	s.value = fn(s.value)
	s.mu.Unlock()
}
