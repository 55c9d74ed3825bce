//go:build linux || darwin

package puma

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pipeWakeup is the process-flavoured Wakeup: an OS-visible pipe, the way
// the teacher's Loop uses a wake pipe (wakePipe/wakePipeWrite in
// loop.go) to let any goroutine or process signal a poller blocked in
// PollIO. A single byte written to the pipe is sufficient to wake a reader
// blocked on it; repeated signals before the reader drains collapse
// because the pending flag guards duplicate writes.
type pipeWakeup struct {
	mu        sync.Mutex
	readFD    int
	writeFD   int
	pending   bool
	closed    bool
	closeOnce sync.Once
}

// NewProcessWakeup constructs a Wakeup backed by an OS pipe, usable by a
// worker process to multiplex its Buffer subscriptions and CommandChannel
// the same way a thread-flavoured Runnable uses condWakeup.
func NewProcessWakeup() (Wakeup, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &pipeWakeup{readFD: fds[0], writeFD: fds[1]}, nil
}

func (w *pipeWakeup) Signal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.pending {
		return
	}
	w.pending = true
	_, _ = unix.Write(w.writeFD, []byte{1})
}

func (w *pipeWakeup) Consume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.drainLocked()
}

func (w *pipeWakeup) drainLocked() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.readFD, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	w.pending = false
}

func (w *pipeWakeup) Wait(timeout time.Duration) bool {
	w.mu.Lock()
	if w.pending || w.closed {
		signalled := w.pending
		w.mu.Unlock()
		return signalled
	}
	fd := w.readFD
	w.mu.Unlock()

	timeoutMs := -1
	if timeout >= 0 {
		timeoutMs = int(timeout.Milliseconds())
		if timeoutMs == 0 && timeout > 0 {
			timeoutMs = 1
		}
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil || n <= 0 {
		return false
	}

	w.mu.Lock()
	signalled := w.pending
	w.mu.Unlock()
	return signalled
}

func (w *pipeWakeup) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		if e := unix.Close(w.readFD); e != nil {
			err = e
		}
		if e := unix.Close(w.writeFD); e != nil && err == nil {
			err = e
		}
	})
	return err
}

// fd exposes the underlying read and write ends of the pipe.
func (w *pipeWakeup) fd() (read, write int) {
	return w.readFD, w.writeFD
}
