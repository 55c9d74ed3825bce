package puma

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// WorkerEntryFunc builds the Runnable that will run inside a
// process-flavoured worker. It receives the worker's own private Wakeup
// and a WorkerContext through which it connects to whichever Buffers the
// parent bound for it.
type WorkerEntryFunc func(wakeup Wakeup, ctx *WorkerContext) (*Runnable, error)

var (
	workerEntriesMu sync.Mutex
	workerEntries   = map[string]WorkerEntryFunc{}
)

// RegisterWorkerEntry associates name with fn. Every program that uses a
// ProcessEnvironment must call this, in an init() or at the top of main(),
// identically in both the parent and every re-exec'd child — the same
// binary is re-run as the worker, and the child looks fn back up by name
// rather than receiving a serialized closure (spec.md §4.6 requires
// process-flavoured payloads to be serialisable; Go function values are
// not, so the entry point itself is named instead).
func RegisterWorkerEntry(name string, fn WorkerEntryFunc) {
	workerEntriesMu.Lock()
	defer workerEntriesMu.Unlock()
	workerEntries[name] = fn
}

// workerEnvVar is set in a re-exec'd child's environment to the JSON
// encoding of workerBootstrap; its presence is what RunWorkerMain checks
// for.
const workerEnvVar = "PUMA_WORKER_BOOTSTRAP"

// workerBootstrap is the parent-to-child handoff: which registered entry
// to run, and the socket path plus role for each Buffer it needs to reach.
type workerBootstrap struct {
	EntryName    string                     `json:"entry_name"`
	Buffers      map[string]bufferBootstrap `json:"buffers"`
	CmdSocket    string                     `json:"cmd_socket"`
	StatusSocket string                     `json:"status_socket"`
	LogSocket    string                     `json:"log_socket,omitempty"`
}

type bufferBootstrap struct {
	SockPath string `json:"sock_path"`
	Role     int    `json:"role"`
	Capacity int    `json:"capacity"`
}

// WorkerContext is handed to a WorkerEntryFunc so it can look up the
// socket path bound, by name, for each Buffer the parent wired for it.
// Names are assigned by the caller of ProcessEnvironment.CreateProcessRunner
// (the keys of ProcessRunnerSpec.Inputs/Outputs), e.g. "input", "output",
// matching however the entry function expects to find its buffers.
type WorkerContext struct {
	boot workerBootstrap
}

// BufferSocket returns the socket path bound under name, or ("", false)
// if the parent did not bind one.
func (c *WorkerContext) BufferSocket(name string) (string, bool) {
	b, ok := c.boot.Buffers[name]
	return b.SockPath, ok
}

// ConnectInput dials the Buffer bound under name as this worker's
// subscriber side, returning a local mirror Buffer the entry function
// subscribes to exactly as it would a local one.
func ConnectInput[T any](ctx *WorkerContext, name string) (*Buffer[T], error) {
	b, ok := ctx.boot.Buffers[name]
	if !ok {
		return nil, newProtocolError("ConnectInput", fmt.Errorf("puma: no buffer bound under %q", name))
	}
	return connectRemoteBuffer[T](b.SockPath, transportRoleSubscriber, b.Capacity)
}

// ConnectOutput dials the Buffer bound under name as this worker's
// publisher side.
func ConnectOutput[T any](ctx *WorkerContext, name string) (*Buffer[T], error) {
	b, ok := ctx.boot.Buffers[name]
	if !ok {
		return nil, newProtocolError("ConnectOutput", fmt.Errorf("puma: no buffer bound under %q", name))
	}
	return connectRemoteBuffer[T](b.SockPath, transportRolePublisher, b.Capacity)
}

// Logger connects to the parent's LogFunnel, if one was bound, and
// returns a Logger that publishes every record into its inter-process
// queue rather than writing locally (spec.md §4.7: "Each child process's
// logging subsystem is reconfigured on entry to route records to an
// inter-process log queue"). source tags every record so the listener can
// attribute it.
func (c *WorkerContext) Logger(source string) (Logger, error) {
	if c.boot.LogSocket == "" {
		return nil, newProtocolError("WorkerContext.Logger", fmt.Errorf("puma: no log funnel bound"))
	}
	mirror, err := connectRemoteBuffer[LogRecord](c.boot.LogSocket, transportRolePublisher, 0)
	if err != nil {
		return nil, err
	}
	return newFunnelLogger(mirror, source), nil
}

// funnelLogger is the Logger implementation used inside a process-
// flavoured worker: every call publishes a LogRecord into the mirror
// Buffer that transport.go's pump forwards to the LogFunnel.
type funnelLogger struct {
	mirror *Buffer[LogRecord]
	pub    *Publisher[LogRecord]
	source string
}

func newFunnelLogger(mirror *Buffer[LogRecord], source string) *funnelLogger {
	return &funnelLogger{mirror: mirror, pub: mirror.Publish(), source: source}
}

func (l *funnelLogger) emit(level, msg string, kv []any) {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			fields[key] = kv[i+1]
		}
	}
	_ = l.pub.PublishValue(LogRecord{
		Source:    l.source,
		Level:     level,
		Msg:       msg,
		Timestamp: PrecisionTimestamp(),
		Fields:    fields,
	})
}

func (l *funnelLogger) Debug(msg string, kv ...any)          { l.emit("debug", msg, kv) }
func (l *funnelLogger) Info(msg string, kv ...any)           { l.emit("info", msg, kv) }
func (l *funnelLogger) Warn(msg string, kv ...any)           { l.emit("warn", msg, kv) }
func (l *funnelLogger) Err(msg string, err error, kv ...any) { l.emit("error", msg, append(kv, "error", err)) }

// RunWorkerMain must be called at the very top of main() in any program
// that uses a ProcessEnvironment. If the process was spawned as a worker
// (workerEnvVar is set), it builds and runs the bound Runnable and calls
// os.Exit with the appropriate status; it never returns in that case. If
// the process is the original parent, it returns immediately and normal
// program flow (constructing the Environment, calling CreateProcessRunner)
// continues.
func RunWorkerMain() {
	raw := os.Getenv(workerEnvVar)
	if raw == "" {
		return
	}

	var boot workerBootstrap
	if err := json.Unmarshal([]byte(raw), &boot); err != nil {
		fmt.Fprintf(os.Stderr, "puma: invalid worker bootstrap: %v\n", err)
		os.Exit(1)
	}

	workerEntriesMu.Lock()
	entry, ok := workerEntries[boot.EntryName]
	workerEntriesMu.Unlock()
	if !ok {
		fmt.Fprintf(os.Stderr, "puma: unregistered worker entry %q\n", boot.EntryName)
		os.Exit(1)
	}

	wakeup, err := NewProcessWakeup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "puma: worker wakeup: %v\n", err)
		os.Exit(1)
	}
	defer wakeup.Close()

	cmdBuf, err := connectRemoteBuffer[Command](boot.CmdSocket, transportRoleSubscriber, commandChannelCapacity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "puma: worker command channel: %v\n", err)
		os.Exit(1)
	}
	statusBuf, err := connectRemoteBuffer[Status](boot.StatusSocket, transportRolePublisher, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "puma: worker status channel: %v\n", err)
		os.Exit(1)
	}

	runnable, err := entry(wakeup, &WorkerContext{boot: boot})
	if err != nil {
		fmt.Fprintf(os.Stderr, "puma: worker entry %q failed to build: %v\n", boot.EntryName, err)
		os.Exit(1)
	}
	runnable.wakeup = wakeup

	cmdSub, err := cmdBuf.Subscribe(wakeup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "puma: worker command subscribe: %v\n", err)
		os.Exit(1)
	}
	statusPub := statusBuf.Publish()

	// Report readiness by writing a single line to stdout, the same
	// handshake pattern as the teacher's process supervision: a parent
	// watching for the first line of stdout learns the child reached its
	// service loop without needing a second IPC channel.
	fmt.Println("puma: worker ready")

	if err := runnable.run(cmdSub, statusPub); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
