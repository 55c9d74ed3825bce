package puma

import (
	"errors"
	"sync"
	"time"
)

// LogRecord is the wire payload carried across the LogFunnel's inter-
// process log queue (spec.md §4.7).
type LogRecord struct {
	Source    string
	Level     string
	Msg       string
	Timestamp float64
	Fields    map[string]any
}

// logFunnelPollInterval bounds how long the listener's drain loop can go
// without checking whether it has been asked to stop.
const logFunnelPollInterval = 200 * time.Millisecond

// LogFunnel is the dedicated log-listener worker of a ProcessEnvironment.
// It is started by the first AcquireLogFunnel call for that Environment
// and stopped by the ReleaseLogFunnel call that drops its reference count
// to zero; starting or closing a Runner does not acquire or release it.
// It owns the configured sinks, since
// process-flavoured workers cannot share in-process log handlers with the
// parent (spec.md §4.7). Records are delivered in per-source order;
// cross-source interleaving reflects arrival order at the listener and is
// not strengthened further.
//
// This implementation runs the listener as a goroutine in the parent
// process rather than as a separate OS process: the configured sinks
// (console, rotating files) are files and descriptors the parent already
// holds, so there is nothing to gain from isolating the listener itself
// into its own process, only the child workers whose logs it collects.
type LogFunnel struct {
	mu       sync.Mutex
	refCount int

	buf    *Buffer[LogRecord]
	bound  BoundBuffer
	sub    *Subscription[LogRecord]
	wakeup Wakeup
	sink   Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

var (
	logFunnelMu        sync.Mutex
	logFunnelInstances = map[*ProcessEnvironment]*LogFunnel{}
)

// AcquireLogFunnel starts env's LogFunnel on the first call and increments
// its reference count on every subsequent one, returning the BoundBuffer
// a child process routes its records to via WorkerContext.Logger (bound
// through ProcessRunnerSpec.LogFunnel).
func AcquireLogFunnel(env *ProcessEnvironment, sink Logger) (*LogFunnel, BoundBuffer, error) {
	logFunnelMu.Lock()
	defer logFunnelMu.Unlock()

	if f, ok := logFunnelInstances[env]; ok {
		f.mu.Lock()
		f.refCount++
		f.mu.Unlock()
		return f, f.bound, nil
	}

	buf, bound, err := CreateProcessBuffer[LogRecord](env, 0)
	if err != nil {
		return nil, BoundBuffer{}, err
	}
	wakeup := NewThreadWakeup()
	sub, err := buf.Subscribe(wakeup)
	if err != nil {
		return nil, BoundBuffer{}, err
	}

	f := &LogFunnel{
		refCount: 1,
		buf:      buf,
		bound:    bound,
		sub:      sub,
		wakeup:   wakeup,
		sink:     sink,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	logFunnelInstances[env] = f
	go f.run()
	return f, bound, nil
}

// ReleaseLogFunnel decrements env's LogFunnel reference count, tearing the
// listener down once the last process-flavoured Runner has released it.
func ReleaseLogFunnel(env *ProcessEnvironment) {
	logFunnelMu.Lock()
	defer logFunnelMu.Unlock()

	f, ok := logFunnelInstances[env]
	if !ok {
		return
	}
	f.mu.Lock()
	f.refCount--
	remaining := f.refCount
	f.mu.Unlock()
	if remaining > 0 {
		return
	}

	close(f.stopCh)
	<-f.doneCh
	f.sub.Release()
	delete(logFunnelInstances, env)
}

func (f *LogFunnel) run() {
	defer close(f.doneCh)
	for {
		select {
		case <-f.stopCh:
			f.drainOnce()
			return
		default:
		}
		f.wakeup.Wait(logFunnelPollInterval)
		f.wakeup.Consume()
		f.drainOnce()
	}
}

func (f *LogFunnel) drainOnce() {
	_ = f.sub.CallEvents(HandlerFuncs[LogRecord]{
		Value: func(rec LogRecord) error {
			f.apply(rec)
			return nil
		},
		Complete: func(error) {},
	})
}

func (f *LogFunnel) apply(rec LogRecord) {
	if f.sink == nil {
		return
	}
	named := Named(f.sink, rec.Source)
	kv := flattenFields(rec.Fields)
	switch rec.Level {
	case "debug":
		named.Debug(rec.Msg, kv...)
	case "warn", "warning":
		named.Warn(rec.Msg, kv...)
	case "error", "err", "critical", "fatal":
		named.Err(rec.Msg, errors.New(rec.Msg), kv...)
	default:
		named.Info(rec.Msg, kv...)
	}
}

func flattenFields(fields map[string]any) []any {
	kv := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return kv
}
