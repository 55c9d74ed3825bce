//go:build !linux && !darwin

package puma

import (
	"os"
	"sync"
	"time"
)

// pipeWakeup is the portable fallback process-flavoured Wakeup for
// platforms without the unix poll(2) syscall, backed by an os.Pipe instead
// of a raw file descriptor pair.
type pipeWakeup struct {
	mu      sync.Mutex
	r, w    *os.File
	pending bool
	closed  bool
}

// NewProcessWakeup constructs a Wakeup backed by an OS pipe.
func NewProcessWakeup() (Wakeup, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &pipeWakeup{r: r, w: w}, nil
}

func (w *pipeWakeup) Signal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.pending {
		return
	}
	w.pending = true
	_, _ = w.w.Write([]byte{1})
}

func (w *pipeWakeup) Consume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.drainLocked()
}

func (w *pipeWakeup) drainLocked() {
	_ = w.r.SetReadDeadline(time.Now())
	var buf [64]byte
	for {
		n, err := w.r.Read(buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	_ = w.r.SetReadDeadline(time.Time{})
	w.pending = false
}

func (w *pipeWakeup) Wait(timeout time.Duration) bool {
	w.mu.Lock()
	if w.pending || w.closed {
		signalled := w.pending
		w.mu.Unlock()
		return signalled
	}
	w.mu.Unlock()

	if timeout >= 0 {
		_ = w.r.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = w.r.SetReadDeadline(time.Time{}) }()
	}

	var buf [1]byte
	_, err := w.r.Read(buf[:])
	if err != nil {
		return false
	}

	w.mu.Lock()
	w.pending = true
	w.mu.Unlock()
	return true
}

func (w *pipeWakeup) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	_ = w.r.Close()
	return w.w.Close()
}
