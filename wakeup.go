package puma

import (
	"sync"
	"time"
)

// Wakeup is a level-less, many-to-one event primitive: any producer may
// call Signal; one consumer may call Wait with a timeout; a single signal
// is sufficient to wake the consumer no matter how many producers
// signalled concurrently (spec.md §4.1). A Wakeup may be handed to the
// Subscribe call of several Buffers; any of them signalling wakes the
// single waiter, which is how a Runnable multiplexes many input Buffers
// without polling.
type Wakeup interface {
	// Signal marks the event. Non-blocking. Concurrent signals collapse
	// into one pending wakeup.
	Signal()

	// Wait blocks until the event has been signalled since the last
	// Consume, or until timeout elapses. It reports whether the wait
	// ended because of a signal (as opposed to a timeout). A negative
	// timeout waits forever.
	Wait(timeout time.Duration) (signalled bool)

	// Consume atomically clears the event.
	Consume()

	// Close releases any OS resources held by the Wakeup. Safe to call
	// more than once.
	Close() error
}

// condWakeup is the thread-flavoured Wakeup: an in-process condition
// variable guarding a flag, exactly as spec.md §4.1 prescribes for the
// thread environment.
type condWakeup struct {
	mu        sync.Mutex
	cond      *sync.Cond
	signalled bool
	closed    bool
}

// NewThreadWakeup constructs a Wakeup backed by a condition variable. Used
// by the thread-flavoured Environment for every Runnable's servicing loop.
func NewThreadWakeup() Wakeup {
	w := &condWakeup{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *condWakeup) Signal() {
	w.mu.Lock()
	w.signalled = true
	w.mu.Unlock()
	w.cond.Signal()
}

func (w *condWakeup) Consume() {
	w.mu.Lock()
	w.signalled = false
	w.mu.Unlock()
}

func (w *condWakeup) Wait(timeout time.Duration) bool {
	if timeout < 0 {
		w.mu.Lock()
		for !w.signalled && !w.closed {
			w.cond.Wait()
		}
		signalled := w.signalled
		w.mu.Unlock()
		return signalled
	}

	deadline := time.Now().Add(timeout)

	// sync.Cond has no deadline-aware Wait, so a dedicated watcher
	// goroutine turns the timeout into a spurious broadcast, mirroring
	// how the teacher's event loop turns a poll timeout into a wakeup.
	done := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		w.cond.Broadcast()
	})
	defer func() {
		timer.Stop()
		close(done)
	}()

	w.mu.Lock()
	for !w.signalled && !w.closed && time.Now().Before(deadline) {
		w.cond.Wait()
	}
	signalled := w.signalled
	w.mu.Unlock()
	return signalled
}

func (w *condWakeup) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
	return nil
}
