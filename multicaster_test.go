package puma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drainAll(t *testing.T, sub *Subscription[int], wakeup Wakeup, want int) []int {
	t.Helper()
	var got []int
	require.Eventually(t, func() bool {
		wakeup.Wait(20 * time.Millisecond)
		wakeup.Consume()
		_ = sub.CallEvents(HandlerFuncs[int]{
			Value: func(v int) error { got = append(got, v); return nil },
		})
		return len(got) == want
	}, time.Second, 5*time.Millisecond)
	return got
}

func TestMulticasterFansOutToEveryOutput(t *testing.T) {
	wakeup := NewThreadWakeup()
	input := NewBuffer[int](0, time.Second)
	outA := NewBuffer[int](0, time.Second)
	outB := NewBuffer[int](0, time.Second)
	outC := NewBuffer[int](0, time.Second)

	r, err := NewMulticaster("fanout", wakeup, nil, input, []*Buffer[int]{outA, outB, outC})
	require.NoError(t, err)

	cmdBuf := NewBuffer[Command](commandChannelCapacity, time.Second)
	statusBuf := NewBuffer[Status](0, time.Second)
	workerCmdSub, err := cmdBuf.Subscribe(wakeup)
	require.NoError(t, err)
	workerStatusPub := statusBuf.Publish()
	cmdPub := cmdBuf.Publish()

	runErr := make(chan error, 1)
	go func() { runErr <- r.run(workerCmdSub, workerStatusPub) }()

	pub := input.Publish()
	want := []int{1, 2, 3, 4, 5}
	for _, v := range want {
		require.NoError(t, pub.PublishValue(v))
	}

	wA := NewThreadWakeup()
	subA, err := outA.Subscribe(wA)
	require.NoError(t, err)
	wB := NewThreadWakeup()
	subB, err := outB.Subscribe(wB)
	require.NoError(t, err)
	wC := NewThreadWakeup()
	subC, err := outC.Subscribe(wC)
	require.NoError(t, err)

	require.Equal(t, want, drainAll(t, subA, wA, len(want)))
	require.Equal(t, want, drainAll(t, subB, wB, len(want)))
	require.Equal(t, want, drainAll(t, subC, wC, len(want)))

	require.NoError(t, cmdPub.PublishValue(StopCommand("")))
	require.NoError(t, <-runErr)
}

func TestMulticasterReportsFailureWhenAnOutputRejectsPublish(t *testing.T) {
	wakeup := NewThreadWakeup()
	input := NewBuffer[int](0, time.Second)
	outOK := NewBuffer[int](0, time.Second)
	outGone := NewBuffer[int](0, time.Second)

	r, err := NewMulticaster("fanout-failure", wakeup, nil, input, []*Buffer[int]{outOK, outGone})
	require.NoError(t, err)

	// outGone is completed before any value arrives, so the multicaster's
	// own Publisher.PublishValue on it fails with ErrCompleted for every
	// subsequent value.
	require.NoError(t, outGone.Publish().PublishComplete(nil))

	cmdBuf := NewBuffer[Command](commandChannelCapacity, time.Second)
	statusBuf := NewBuffer[Status](0, time.Second)
	workerCmdSub, err := cmdBuf.Subscribe(wakeup)
	require.NoError(t, err)
	workerStatusPub := statusBuf.Publish()

	statusWakeup := NewThreadWakeup()
	statusSub, err := statusBuf.Subscribe(statusWakeup)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- r.run(workerCmdSub, workerStatusPub) }()

	pub := input.Publish()
	require.NoError(t, pub.PublishValue(7))

	require.Error(t, <-runErr)

	var failed bool
	require.Eventually(t, func() bool {
		statusWakeup.Wait(20 * time.Millisecond)
		statusWakeup.Consume()
		_ = statusSub.CallEvents(HandlerFuncs[Status]{
			Value: func(s Status) error {
				if s.Kind == StatusFailed {
					failed = true
					require.Error(t, s.Err)
				}
				return nil
			},
		})
		return failed
	}, time.Second, 5*time.Millisecond)
}

func TestMulticasterForwardsCompletionToEveryOutput(t *testing.T) {
	wakeup := NewThreadWakeup()
	input := NewBuffer[int](0, time.Second)
	outA := NewBuffer[int](0, time.Second)
	outB := NewBuffer[int](0, time.Second)

	r, err := NewMulticaster("fanout-complete", wakeup, nil, input, []*Buffer[int]{outA, outB})
	require.NoError(t, err)

	cmdBuf := NewBuffer[Command](commandChannelCapacity, time.Second)
	statusBuf := NewBuffer[Status](0, time.Second)
	workerCmdSub, err := cmdBuf.Subscribe(wakeup)
	require.NoError(t, err)
	workerStatusPub := statusBuf.Publish()

	runErr := make(chan error, 1)
	go func() { runErr <- r.run(workerCmdSub, workerStatusPub) }()

	pub := input.Publish()
	require.NoError(t, pub.PublishComplete(nil))

	require.NoError(t, <-runErr)

	for _, out := range []*Buffer[int]{outA, outB} {
		w := NewThreadWakeup()
		sub, err := out.Subscribe(w)
		require.NoError(t, err)
		var completed bool
		require.Eventually(t, func() bool {
			w.Wait(20 * time.Millisecond)
			w.Consume()
			_ = sub.CallEvents(HandlerFuncs[int]{Complete: func(error) { completed = true }})
			return completed
		}, time.Second, 5*time.Millisecond)
	}
}
