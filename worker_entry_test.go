package puma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterWorkerEntryIsLookupable(t *testing.T) {
	name := "test-entry-" + t.Name()
	called := false
	RegisterWorkerEntry(name, func(wakeup Wakeup, ctx *WorkerContext) (*Runnable, error) {
		called = true
		return NewRunnable(name, wakeup, nil), nil
	})

	workerEntriesMu.Lock()
	fn, ok := workerEntries[name]
	workerEntriesMu.Unlock()
	require.True(t, ok)

	_, err := fn(NewThreadWakeup(), &WorkerContext{})
	require.NoError(t, err)
	require.True(t, called)
}

func TestWorkerContextBufferSocket(t *testing.T) {
	ctx := &WorkerContext{boot: workerBootstrap{
		Buffers: map[string]bufferBootstrap{
			"in": {SockPath: "/tmp/in.sock", Role: int(transportRoleSubscriber), Capacity: 4},
		},
	}}

	sock, ok := ctx.BufferSocket("in")
	require.True(t, ok)
	require.Equal(t, "/tmp/in.sock", sock)

	_, ok = ctx.BufferSocket("missing")
	require.False(t, ok)
}

func TestConnectInputDialsRealBroker(t *testing.T) {
	dir := t.TempDir()
	canonical := NewBuffer[int](0, time.Second)
	br, err := newBufferBroker(canonical, dir)
	require.NoError(t, err)
	defer br.close()

	ctx := &WorkerContext{boot: workerBootstrap{
		Buffers: map[string]bufferBootstrap{
			"feed": {SockPath: br.sockPath, Capacity: 0},
		},
	}}

	in, err := ConnectInput[int](ctx, "feed")
	require.NoError(t, err)

	w := NewThreadWakeup()
	sub, err := in.Subscribe(w)
	require.NoError(t, err)

	pub := canonical.Publish()
	require.NoError(t, pub.PublishValue(99))

	var got []int
	require.Eventually(t, func() bool {
		w.Wait(20 * time.Millisecond)
		w.Consume()
		_ = sub.CallEvents(HandlerFuncs[int]{
			Value: func(v int) error { got = append(got, v); return nil },
		})
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []int{99}, got)
}

func TestConnectInputFailsForUnboundName(t *testing.T) {
	ctx := &WorkerContext{boot: workerBootstrap{Buffers: map[string]bufferBootstrap{}}}
	_, err := ConnectInput[int](ctx, "missing")
	require.Error(t, err)
}

func TestWorkerContextLoggerFailsWithoutBoundFunnel(t *testing.T) {
	ctx := &WorkerContext{}
	_, err := ctx.Logger("worker-1")
	require.Error(t, err)
}

func TestWorkerContextLoggerPublishesLogRecords(t *testing.T) {
	dir := t.TempDir()
	canonical := NewBuffer[LogRecord](0, time.Second)
	br, err := newBufferBroker(canonical, dir)
	require.NoError(t, err)
	defer br.close()

	ctx := &WorkerContext{boot: workerBootstrap{LogSocket: br.sockPath}}
	logger, err := ctx.Logger("worker-7")
	require.NoError(t, err)

	w := NewThreadWakeup()
	sub, err := canonical.Subscribe(w)
	require.NoError(t, err)

	logger.Info("hello from worker", "n", 1)

	var got LogRecord
	require.Eventually(t, func() bool {
		w.Wait(20 * time.Millisecond)
		w.Consume()
		_ = sub.CallEvents(HandlerFuncs[LogRecord]{
			Value: func(rec LogRecord) error { got = rec; return nil },
		})
		return got.Msg != ""
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "worker-7", got.Source)
	require.Equal(t, "hello from worker", got.Msg)
	require.Equal(t, "info", got.Level)
}
