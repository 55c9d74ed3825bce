package puma

import (
	"sync"
	"time"
)

// ThreadEnvironment is the Thread flavour: Buffers back onto in-process
// queues, Runners back onto goroutines, and SharedValues back onto memory
// protected by an in-process lock (spec.md §4.6).
type ThreadEnvironment struct {
	log Logger

	mu     sync.Mutex
	closed bool
}

// NewThreadEnvironment constructs a ThreadEnvironment.
func NewThreadEnvironment(logger Logger) *ThreadEnvironment {
	return &ThreadEnvironment{log: logger}
}

func (e *ThreadEnvironment) Flavor() string { return "thread" }

func (e *ThreadEnvironment) discardGrace() time.Duration { return defaultDiscardGrace }

func (e *ThreadEnvironment) logger() Logger { return e.log }

func (e *ThreadEnvironment) CreateWakeup() (Wakeup, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, newProtocolError("ThreadEnvironment.CreateWakeup", ErrEnvironmentClosed)
	}
	return NewThreadWakeup(), nil
}

// CreateRunner builds the Runnable on the calling goroutine (there is no
// cross-process handoff in this flavour, so build running eagerly and
// synchronously is both simpler and matches how a thread-flavoured worker
// is always just a function about to run on a new goroutine) and spawns it
// on a dedicated goroutine.
func (e *ThreadEnvironment) CreateRunner(build func(wakeup Wakeup) (*Runnable, error)) (*Runner, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, newProtocolError("ThreadEnvironment.CreateRunner", ErrEnvironmentClosed)
	}
	e.mu.Unlock()

	wakeup := NewThreadWakeup()

	cmdBuf, _ := CreateBuffer[Command](e, commandChannelCapacity)
	statusBuf, _ := CreateBuffer[Status](e, 0)
	statusBuf.discardGrace = statusChannelDiscardGrace

	runnable, err := build(wakeup)
	if err != nil {
		return nil, err
	}
	runnable.wakeup = wakeup

	// The Runnable drains its own CommandChannel subscription and
	// publishes its own StatusChannel reports; the Runner, on the parent
	// side, holds the opposite ends (publisher into commands, subscriber
	// on status).
	workerCmdSub, err := cmdBuf.Subscribe(wakeup)
	if err != nil {
		return nil, err
	}
	workerStatusPub := statusBuf.Publish()

	worker := newThreadWorker(func() error {
		return runnable.run(workerCmdSub, workerStatusPub)
	})

	return newRunner(cmdBuf, statusBuf, worker, e.log)
}

func (e *ThreadEnvironment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
