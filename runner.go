package puma

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunnerState is a Runner's lifecycle state (spec.md §4.4).
type RunnerState int

const (
	Created RunnerState = iota
	Starting
	Running
	Stopping
	Stopped
	Failed
)

func (s RunnerState) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// defaultJoinTimeout bounds how long a Runner's scoped exit waits for the
// worker to exit cleanly before forcibly terminating it (spec.md §5,
// "Cancellation and timeout").
const defaultJoinTimeout = 5 * time.Second

// workerHandle abstracts the substrate executing a Runnable: a goroutine
// for the thread flavour, a child process for the process flavour.
type workerHandle interface {
	// start spawns the worker and blocks until it reports ready or fails
	// to start.
	start() error
	// join waits up to timeout for the worker to exit, reporting whether
	// it did and the error (if any) it exited with.
	join(timeout time.Duration) (exited bool, err error)
	// kill forcibly terminates the worker.
	kill() error
}

// Runner owns a Runnable, its CommandChannel, its StatusChannel, and the
// worker substrate executing it (spec.md §4.4).
type Runner struct {
	id     string
	logger Logger

	mu    sync.Mutex
	state RunnerState

	cmdBuf    *CommandChannel
	statusBuf *StatusChannel
	cmdPub    *Publisher[Command]
	statusSub *Subscription[Status]

	worker      workerHandle
	joinTimeout time.Duration

	lastErr      error
	errObserved  bool
}

// newRunner is shared construction logic; environment_thread.go and
// environment_process.go each supply a workerHandle built the way their
// flavour spawns workers.
func newRunner(cmdBuf *CommandChannel, statusBuf *StatusChannel, worker workerHandle, logger Logger) (*Runner, error) {
	statusWakeup := NewThreadWakeup()
	statusSub, err := statusBuf.Subscribe(statusWakeup)
	if err != nil {
		return nil, err
	}
	cmdPub := cmdBuf.Publish()

	r := &Runner{
		id:          uuid.NewString(),
		logger:      logger,
		state:       Created,
		cmdBuf:      cmdBuf,
		statusBuf:   statusBuf,
		cmdPub:      cmdPub,
		statusSub:   statusSub,
		worker:      worker,
		joinTimeout: defaultJoinTimeout,
	}
	return r, nil
}

// ID returns the Runner's opaque identity.
func (r *Runner) ID() string { return r.id }

// State reports the current lifecycle state.
func (r *Runner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetJoinTimeout overrides the bounded join used at Stop/scoped exit.
func (r *Runner) SetJoinTimeout(d time.Duration) {
	r.mu.Lock()
	r.joinTimeout = d
	r.mu.Unlock()
}

// Start spawns the worker. It blocks until the worker reports ready
// (Starting→Running) or fails to start (→Failed).
func (r *Runner) Start() error {
	r.mu.Lock()
	if r.state != Created {
		r.mu.Unlock()
		return newProtocolError("Runner.Start", ErrRunnerNotRunning)
	}
	r.state = Starting
	r.mu.Unlock()

	err := r.worker.start()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = Failed
		r.lastErr = err
		return err
	}
	r.state = Running
	return nil
}

// Invoke bridges a parent-side method call into a Command on the
// worker's CommandChannel (spec.md §4.3, "Parent→worker method
// bridging"). It returns as soon as the Command is enqueued; there is no
// in-band return value.
func (r *Runner) Invoke(methodID string, args ...any) error {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state != Running {
		return newProtocolError("Runner.Invoke", ErrRunnerNotRunning)
	}
	return r.cmdPub.PublishValue(InvokeCommand(methodID, args...))
}

// Ping enqueues a liveness probe.
func (r *Runner) Ping() error {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state != Running {
		return newProtocolError("Runner.Ping", ErrRunnerNotRunning)
	}
	return r.cmdPub.PublishValue(PingCommand())
}

// Stop requests an orderly shutdown (Running→Stopping). It does not block
// for the worker to actually exit; call CheckForErrors or rely on scoped
// exit (Close) for that.
func (r *Runner) Stop(reason string) error {
	r.mu.Lock()
	if r.state != Running {
		r.mu.Unlock()
		return nil
	}
	r.state = Stopping
	r.mu.Unlock()

	return r.cmdPub.PublishValue(StopCommand(reason))
}

// CheckForErrors drains whatever the StatusChannel currently holds and
// returns the most recently observed Failed-state error, if any. Callers
// are required to invoke this periodically (spec.md §4.4,
// "Error polling contract"); it is not a blocking wait.
func (r *Runner) CheckForErrors() error {
	var reported error
	_ = r.statusSub.CallEvents(HandlerFuncs[Status]{
		Value: func(st Status) error {
			switch st.Kind {
			case StatusFailed:
				reported = st.Err
			case StatusStopped:
				r.mu.Lock()
				if r.state == Stopping {
					r.state = Stopped
				}
				r.mu.Unlock()
			}
			return nil
		},
		Complete: func(err error) {
			if err != nil {
				reported = err
			}
		},
	})

	if reported != nil {
		r.mu.Lock()
		r.lastErr = reported
		r.errObserved = true
		r.state = Failed
		r.mu.Unlock()
	}
	return reported
}

// Close performs the Runner's scoped teardown (spec.md §4.4, "Teardown"):
// issue Stop if still Running, join or kill the worker within a bounded
// timeout, release owned buffer handles, and surface any outstanding
// error if nothing else absorbed it.
func (r *Runner) Close() error {
	r.mu.Lock()
	state := r.state
	timeout := r.joinTimeout
	r.mu.Unlock()

	if state == Running {
		_ = r.Stop("scoped exit")
	}

	exited, joinErr := r.worker.join(timeout)
	if !exited {
		killErr := r.worker.kill()
		r.mu.Lock()
		r.state = Failed
		r.lastErr = &ShutdownTimeoutError{RunnerID: r.id, Timeout: timeout.String()}
		r.mu.Unlock()
		_ = killErr
	} else {
		r.mu.Lock()
		if joinErr != nil {
			r.state = Failed
			r.lastErr = joinErr
		} else if r.state != Failed {
			r.state = Stopped
		}
		r.mu.Unlock()
	}

	// Final, non-blocking drain to absorb any last status report, then
	// release our handles so discard sweeps can reclaim the channels.
	_ = r.CheckForErrors()
	r.cmdPub.Release()
	r.statusSub.Release()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.errObserved && r.lastErr != nil {
		r.errObserved = true
		return r.lastErr
	}
	return nil
}
