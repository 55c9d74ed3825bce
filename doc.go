// Package puma is a concurrency framework for expressing a computation as a
// graph of independent Runnables exchanging typed values over unidirectional
// Buffers, with a single Environment switch selecting whether the graph runs
// as in-process goroutines or out-of-process workers.
//
// # Architecture
//
// A program constructs one [Environment] (either [NewThreadEnvironment] or
// [NewProcessEnvironment]), uses it to create [Buffer] instances and
// [Runner] instances wrapping user [Runnable] implementations, wires
// Subscriptions before starting any Runner, and polls each Runner for
// errors with [Runner.CheckForErrors].
//
// Buffers are typed, single-subscriber, multi-publisher FIFOs. A consumer
// multiplexes many Buffers without polling by sharing one [Wakeup] across
// their Subscriptions; any publish on any of them wakes the single waiter.
// Abandoned data (no subscriber attached while the queue is non-empty) is
// reclaimed by a per-buffer discard sweep after a grace period.
//
// A [Runnable] owns a servicing loop that waits on its input Buffers plus a
// CommandChannel using that shared Wakeup, dispatches each drained value to
// a registered handler, and may fire a periodic tick callback with
// monotonic timestamps. Errors raised inside a handler propagate forward as
// a terminal Complete on every owned output Buffer and backward on the
// StatusChannel.
//
// A [Runner] is the lifecycle shell: it spawns the worker (goroutine or
// child process), owns the Runnable's command and status channels, and
// guarantees orderly teardown (Stop, bounded join, buffer release).
//
// When the process flavour is in use, [LogFunnel] centralises log output
// from every worker process into the sinks configured in the parent via
// [LogConfig].
package puma
