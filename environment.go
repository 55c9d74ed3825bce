package puma

import "time"

// Environment is a process-wide factory for Buffers, Runners, Wakeups and
// SharedValues (spec.md §4.6). Application code constructs exactly one
// Environment and obtains every other primitive from it, which is what
// lets a program switch between the Thread and Process flavours with a
// single line.
//
// Buffer and SharedValue construction are generic over the payload type
// T, and Go does not allow generic methods on an interface; they are
// exposed as package-level functions (CreateBuffer, CreateSharedValue)
// parameterised by an Environment instead.
type Environment interface {
	// Flavor reports "thread" or "process", for logging.
	Flavor() string

	// CreateWakeup returns a new Wakeup appropriate to this flavour:
	// condWakeup for Thread, pipeWakeup for Process.
	CreateWakeup() (Wakeup, error)

	// CreateRunner spawns a Runnable built by build, returning its
	// controlling Runner. build receives the private Wakeup the
	// Runnable's servicing loop will wait on.
	CreateRunner(build func(wakeup Wakeup) (*Runnable, error)) (*Runner, error)

	// Close tears down any Environment-wide resources (e.g. the buffer
	// brokers and socket directory of a Process environment; a LogFunnel
	// is not stopped here, only by ReleaseLogFunnel). Further
	// CreateWakeup calls, and the flavour's own runner and broker
	// constructors, fail with ErrEnvironmentClosed; the package-level
	// CreateBuffer and CreateSharedValue do not check for closure.
	Close() error

	discardGrace() time.Duration
	logger() Logger
}

// CreateBuffer obtains a new Buffer[T] from env, with the discard grace
// period appropriate to env's flavour (spec.md §4.2).
func CreateBuffer[T any](env Environment, capacity int) (*Buffer[T], error) {
	b := NewBuffer[T](capacity, env.discardGrace())
	b.SetLogger(env.logger())
	return b, nil
}

// CreateSharedValue obtains a new SharedValue[T] from env. Every flavour
// backs SharedValue identically (an in-process mutex); the process flavour
// does not replicate it, so writes made on one side of a process boundary
// are not seen on the other.
func CreateSharedValue[T any](env Environment, initial T) *SharedValue[T] {
	return NewSharedValue(initial)
}
