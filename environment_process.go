package puma

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProcessEnvironment is the Process flavour: Buffers back onto IPC queues
// (a canonical in-process Buffer plus a Unix-domain-socket broker per
// buffer, see transport.go), Runners back onto re-exec'd child processes,
// and SharedValues back onto the same in-process lock the thread flavour
// uses, since nothing in this implementation currently needs a worker to
// observe a SharedValue write from the parent mid-flight (spec.md §4.6
// permits "manager-mediated objects"; a future SharedValue bridge would
// reuse the same per-value socket pattern as Buffer).
type ProcessEnvironment struct {
	log     Logger
	sockDir string

	mu      sync.Mutex
	closed  bool
	brokers map[string]brokerCloser
}

type brokerCloser interface{ close() error }

// NewProcessEnvironment constructs a ProcessEnvironment, creating sockDir
// if necessary to hold the Unix domain sockets backing its Buffers.
func NewProcessEnvironment(sockDir string, logger Logger) (*ProcessEnvironment, error) {
	if sockDir == "" {
		sockDir = filepath.Join(os.TempDir(), "puma-"+uuid.NewString())
	}
	if err := os.MkdirAll(sockDir, 0o700); err != nil {
		return nil, err
	}
	return &ProcessEnvironment{log: logger, sockDir: sockDir, brokers: make(map[string]brokerCloser)}, nil
}

func (e *ProcessEnvironment) Flavor() string { return "process" }

func (e *ProcessEnvironment) discardGrace() time.Duration { return defaultProcessDiscardGrace }

func (e *ProcessEnvironment) logger() Logger { return e.log }

func (e *ProcessEnvironment) CreateWakeup() (Wakeup, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, newProtocolError("ProcessEnvironment.CreateWakeup", ErrEnvironmentClosed)
	}
	return NewProcessWakeup()
}

// registerProcessBroker starts a bufferBroker for buf and records it for
// teardown. Called by CreateProcessBuffer and CreateProcessRunner.
func registerProcessBroker[T any](e *ProcessEnvironment, buf *Buffer[T]) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", newProtocolError("ProcessEnvironment.CreateBuffer", ErrEnvironmentClosed)
	}
	e.mu.Unlock()

	br, err := newBufferBroker(buf, e.sockDir)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.brokers[buf.ID()] = br
	e.mu.Unlock()

	return br.sockPath, nil
}

// CreateProcessBuffer obtains a new Buffer[T] from e, starting its broker
// so that a child process can reach it via ConnectInput/ConnectOutput, and
// returns the BoundBuffer handle to pass into ProcessRunnerSpec.
func CreateProcessBuffer[T any](e *ProcessEnvironment, capacity int) (*Buffer[T], BoundBuffer, error) {
	buf, err := CreateBuffer[T](e, capacity)
	if err != nil {
		return nil, BoundBuffer{}, err
	}
	sockPath, err := registerProcessBroker(e, buf)
	if err != nil {
		return nil, BoundBuffer{}, err
	}
	return buf, BoundBuffer{SockPath: sockPath, Capacity: capacity}, nil
}

// ProcessRunnerSpec names the registered WorkerEntryFunc to re-exec, and
// binds buffers the entry will reach by name via ConnectInput/
// ConnectOutput (spec.md §4.6, §4.3).
type ProcessRunnerSpec struct {
	EntryName string
	// Inputs/Outputs map a name the entry function expects (e.g. "in",
	// "out") to a Buffer's BoundBuffer handle, obtained by creating the
	// buffer via CreateProcessBuffer on this same Environment.
	Inputs  map[string]BoundBuffer
	Outputs map[string]BoundBuffer
	// LogFunnel, if set, is bound into the child so its WorkerContext can
	// build a Logger that routes records to it (spec.md §4.7). Obtain one
	// via AcquireLogFunnel before spawning the first process-flavoured
	// Runner, and call ReleaseLogFunnel once this Runner is torn down.
	LogFunnel *LogFunnel
}

// BoundBuffer is the type-erased handle CreateProcessBuffer returns alongside a
// *Buffer[T] for the process flavour, carrying just enough to bind it
// into a child's bootstrap.
type BoundBuffer struct {
	SockPath string
	Capacity int
}

// CreateProcessRunner spawns a worker process running the Runnable built
// by the entry registered under spec.EntryName. Buffers named in
// spec.Inputs/Outputs are connected inside the child via ConnectInput/
// ConnectOutput using the same names.
//
// This is the process flavour's realisation of Environment.CreateRunner;
// it cannot share that exact signature because a process-flavoured
// Runnable's constructor must run inside the freshly exec'd child, not as
// a Go closure value (which cannot cross a process boundary), so it is
// named by registry entry instead (spec.md §9's note that Command
// arguments "must be serialisable when crossing process boundaries"
// applies here too: the closure itself is precisely the thing that is not
// serialisable).
func (e *ProcessEnvironment) CreateProcessRunner(spec ProcessRunnerSpec) (*Runner, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, newProtocolError("ProcessEnvironment.CreateProcessRunner", ErrEnvironmentClosed)
	}
	e.mu.Unlock()

	cmdBuf, err := CreateBuffer[Command](e, commandChannelCapacity)
	if err != nil {
		return nil, err
	}
	statusBuf, err := CreateBuffer[Status](e, 0)
	if err != nil {
		return nil, err
	}

	cmdSock, err := registerProcessBroker(e, cmdBuf)
	if err != nil {
		return nil, err
	}
	statusSock, err := registerProcessBroker(e, statusBuf)
	if err != nil {
		return nil, err
	}

	boot := workerBootstrap{
		EntryName:    spec.EntryName,
		Buffers:      make(map[string]bufferBootstrap),
		CmdSocket:    cmdSock,
		StatusSocket: statusSock,
	}
	if spec.LogFunnel != nil {
		boot.LogSocket = spec.LogFunnel.bound.SockPath
	}
	for name, b := range spec.Inputs {
		boot.Buffers[name] = bufferBootstrap{SockPath: b.SockPath, Role: int(transportRoleSubscriber), Capacity: b.Capacity}
	}
	for name, b := range spec.Outputs {
		boot.Buffers[name] = bufferBootstrap{SockPath: b.SockPath, Role: int(transportRolePublisher), Capacity: b.Capacity}
	}

	payload, err := json.Marshal(boot)
	if err != nil {
		return nil, err
	}

	worker := newProcessWorker(payload)

	return newRunner(cmdBuf, statusBuf, worker, e.log)
}

func (e *ProcessEnvironment) CreateRunner(build func(wakeup Wakeup) (*Runnable, error)) (*Runner, error) {
	return nil, newProtocolError("ProcessEnvironment.CreateRunner", fmt.Errorf("puma: process-flavoured runners must be created with CreateProcessRunner and a registered worker entry"))
}

func (e *ProcessEnvironment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var firstErr error
	for _, br := range e.brokers {
		if err := br.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = os.RemoveAll(e.sockDir)
	return firstErr
}
