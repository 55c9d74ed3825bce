package puma

import (
	"fmt"
	"time"
)

// FieldPolicy documents how a single piece of a Runnable's state relates
// to the worker/parent split, naming the source framework's
// metaclass-driven `child_only` / `parent_only` / `copied` / `unmanaged`
// attribute declarations as explicit values (spec.md §9). It is
// documentation only: NewRunnable does not take a FieldPolicy, and nothing
// in this package reads or enforces one.
type FieldPolicy int

const (
	// WorkerOnly state lives exclusively on the worker side; the parent
	// never reads or writes it. Plain struct fields on the type embedding
	// Runnable satisfy this by construction, so long as nothing on the
	// parent side reaches into them.
	WorkerOnly FieldPolicy = iota
	// ParentOnly state lives exclusively on the parent side; the worker
	// never reads or writes it.
	ParentOnly
	// SnapshotAtSpawn state is copied by value into the worker at spawn
	// time and diverges thereafter; neither side observes the other's
	// later mutations.
	SnapshotAtSpawn
	// Shared state is backed by a SharedValue[T] obtained from the
	// Environment, and is the only policy under which both sides observe
	// each other's writes.
	Shared
)

// Runnable is user-extensible worker logic: a set of input-buffer
// handlers, command handlers, an optional tick callback, and termination
// policy (spec.md §3, §4.3). It is constructed and configured before a
// Runner spawns it, and its servicing loop runs entirely on the worker
// side (a goroutine for a thread-flavoured Runner, a child process's
// worker entrypoint for a process-flavoured one).
type Runnable struct {
	name   string
	logger Logger

	wakeup Wakeup

	inputs  []inputBinding
	outputs []outputBinding

	commandHandlers map[string]func(args ...any) error

	tickInterval  time.Duration
	ticksEnabled  bool
	lastTick      time.Time
	onTick        func(t time.Time)

	stopRequested bool
	pingRequested bool
	errorState    error
}

// NewRunnable constructs a Runnable. name is used only for log
// annotation. wakeup is the private Wakeup the servicing loop waits on;
// it must already be the one bound to every Subscription registered via
// RegisterInput, and to the Runner's CommandChannel subscription.
func NewRunnable(name string, wakeup Wakeup, logger Logger) *Runnable {
	if logger != nil {
		logger = Named(logger, name)
	}
	return &Runnable{
		name:            name,
		logger:          logger,
		wakeup:          wakeup,
		commandHandlers: make(map[string]func(args ...any) error),
	}
}

type inputBinding interface {
	// drain invokes call_events once. observedComplete reports whether a
	// Complete marker was consumed (with or without error); fatalErr is
	// non-nil only when that Complete carried an error.
	drain() (observedComplete bool, fatalErr error)
	release()
}

type typedInput[T any] struct {
	sub     *Subscription[T]
	handler Handler[T]
}

func (b *typedInput[T]) drain() (observedComplete bool, fatalErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			fatalErr = panicToError(rec)
		}
	}()
	err := b.sub.CallEvents(HandlerFuncs[T]{
		Value: b.handler.OnValue,
		Complete: func(err error) {
			observedComplete = true
			fatalErr = err
			b.handler.OnComplete(err)
		},
	})
	if err != nil {
		return observedComplete, err
	}
	return observedComplete, fatalErr
}

func (b *typedInput[T]) release() { b.sub.Release() }

// RegisterInput binds buf and handler to r's servicing loop, in
// registration order (spec.md §4.3 step 4). It must be called before the
// owning Runner starts; the subscription is bound to r's own private
// Wakeup, so r's wakeup must already be set.
func RegisterInput[T any](r *Runnable, buf *Buffer[T], handler Handler[T]) error {
	sub, err := buf.Subscribe(r.wakeup)
	if err != nil {
		return err
	}
	r.inputs = append(r.inputs, &typedInput[T]{sub: sub, handler: handler})
	return nil
}

type outputBinding interface {
	completeWithError(err error)
	release()
}

type typedOutput[T any] struct {
	pub *Publisher[T]
}

func (o *typedOutput[T]) completeWithError(err error) {
	// Best-effort: a buffer that is already complete, or whose publisher
	// was already released, is silently skipped (spec.md §4.3).
	_ = o.pub.PublishComplete(err)
}

func (o *typedOutput[T]) release() { o.pub.Release() }

// RegisterOutput records pub as owned by r, so that a fatal error
// forwards a Complete(err) to it (spec.md §4.3, "Error propagation").
func RegisterOutput[T any](r *Runnable, pub *Publisher[T]) {
	r.outputs = append(r.outputs, &typedOutput[T]{pub: pub})
}

// HandleCommand registers a worker-side callable for methodID. Parent-side
// calls that bridge into this Runnable (spec.md §4.3, "Parent→worker
// method bridging") enqueue a Command with this methodID; the servicing
// loop looks it up and invokes it with the Command's argument vector.
func (r *Runnable) HandleCommand(methodID string, fn func(args ...any) error) {
	r.commandHandlers[methodID] = fn
}

// ResumeTicks arms ticking; the first tick fires one full tick interval
// after this call.
func (r *Runnable) ResumeTicks() {
	r.ticksEnabled = true
	r.lastTick = monotonicNow()
}

// PauseTicks disarms ticking.
func (r *Runnable) PauseTicks() { r.ticksEnabled = false }

// SetTickInterval is valid at any time; the next deadline is recomputed
// from the last tick boundary.
func (r *Runnable) SetTickInterval(d time.Duration) { r.tickInterval = d }

// OnTick registers the callback invoked once per elapsed tick interval,
// receiving a monotonic timestamp.
func (r *Runnable) OnTick(fn func(t time.Time)) { r.onTick = fn }

// run is the servicing loop (spec.md §4.3). It blocks until termination,
// returning the error_state if the loop ended because of a fatal error,
// or nil on an orderly stop. statusPub and cmdSub are supplied by the
// Runner.
func (r *Runnable) run(cmdSub *Subscription[Command], statusPub *Publisher[Status]) error {
	defer func() {
		for _, in := range r.inputs {
			in.release()
		}
		for _, out := range r.outputs {
			out.release()
		}
	}()

	emit := func(kind StatusKind, err error, reason string) {
		if statusPub == nil {
			return
		}
		_ = statusPub.PublishValue(newStatus(kind, err, reason))
	}

	for {
		now := monotonicNow()
		deadline := time.Duration(-1)
		if r.ticksEnabled && r.tickInterval > 0 {
			next := r.lastTick.Add(r.tickInterval)
			if d := next.Sub(now); d > 0 {
				deadline = d
			} else {
				deadline = 0
			}
		}

		r.wakeup.Wait(deadline)
		r.wakeup.Consume()

		// Step 3: drain the CommandChannel.
		if err := r.drainCommands(cmdSub); err != nil {
			r.errorState = asUserError(r.name, err)
		}
		if r.stopRequested {
			emit(StatusStopping, nil, "stop requested")
			r.forward(r.errorState)
			emit(StatusStopped, nil, "")
			return r.errorState
		}
		if r.pingRequested {
			r.pingRequested = false
			emit(StatusAlive, nil, "")
		}

		// Step 4: drain registered inputs in registration order.
		for _, in := range r.inputs {
			observedComplete, fatalErr := in.drain()
			if fatalErr != nil {
				r.errorState = asUserError(r.name, fatalErr)
			}
			if observedComplete {
				r.forward(r.errorState)
				if r.errorState != nil {
					emit(StatusFailed, r.errorState, "")
				} else {
					emit(StatusStopped, nil, "")
				}
				return r.errorState
			}
		}

		if r.errorState != nil {
			r.forward(r.errorState)
			emit(StatusFailed, r.errorState, "")
			return r.errorState
		}

		// Step 5: tick, only once the deadline has actually elapsed.
		if r.ticksEnabled && r.tickInterval > 0 {
			if !monotonicNow().Before(r.lastTick.Add(r.tickInterval)) {
				t := monotonicNow()
				r.lastTick = t
				if r.onTick != nil {
					func() {
						defer r.recoverTick()
						r.onTick(t)
					}()
				}
				if r.errorState != nil {
					r.forward(r.errorState)
					emit(StatusFailed, r.errorState, "")
					return r.errorState
				}
				emit(StatusAlive, nil, "")
			}
		}
	}
}

func (r *Runnable) recoverTick() {
	if rec := recover(); rec != nil {
		r.errorState = asUserError(r.name, panicToError(rec))
	}
}

func (r *Runnable) drainCommands(cmdSub *Subscription[Command]) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicToError(rec)
		}
	}()
	var handlerErr error
	callErr := cmdSub.CallEvents(HandlerFuncs[Command]{
		Value: func(cmd Command) error {
			switch cmd.Kind {
			case CommandStop:
				r.stopRequested = true
				return nil
			case CommandPing:
				r.pingRequested = true
				return nil
			case CommandInvoke:
				handler, ok := r.commandHandlers[cmd.MethodID]
				if !ok {
					r.logWarn("unknown command method", "method_id", cmd.MethodID)
					return nil
				}
				return handler(cmd.Args...)
			default:
				return nil
			}
		},
		Complete: func(err error) {
			r.stopRequested = true
			if err != nil {
				handlerErr = err
			}
		},
	})
	if callErr != nil {
		return callErr
	}
	return handlerErr
}

func (r *Runnable) logWarn(msg string, kv ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, kv...)
	}
}

// forward propagates err as Complete(err) to every owned output buffer,
// best-effort (spec.md §4.3).
func (r *Runnable) forward(err error) {
	for _, out := range r.outputs {
		out.completeWithError(err)
	}
}

func panicToError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", rec)
}
