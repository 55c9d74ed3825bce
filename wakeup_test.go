package puma

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThreadWakeupSignalWaitConsume(t *testing.T) {
	w := NewThreadWakeup()

	// Waiting with nothing signalled yet times out.
	require.False(t, w.Wait(20*time.Millisecond))

	w.Signal()
	require.True(t, w.Wait(time.Second))

	// A second Wait without an intervening Consume still observes the
	// pending signal.
	require.True(t, w.Wait(time.Second))

	w.Consume()
	require.False(t, w.Wait(20*time.Millisecond))
}

func TestThreadWakeupCollapsesConcurrentSignals(t *testing.T) {
	w := NewThreadWakeup()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Signal()
		}()
	}
	wg.Wait()

	require.True(t, w.Wait(time.Second))
	w.Consume()
	require.False(t, w.Wait(20*time.Millisecond))
}

func TestThreadWakeupWaitForever(t *testing.T) {
	w := NewThreadWakeup()

	done := make(chan bool, 1)
	go func() {
		done <- w.Wait(-1)
	}()

	time.Sleep(20 * time.Millisecond)
	w.Signal()

	select {
	case signalled := <-done:
		require.True(t, signalled)
	case <-time.After(time.Second):
		t.Fatal("Wait(-1) did not return after Signal")
	}
}

func TestThreadWakeupClose(t *testing.T) {
	w := NewThreadWakeup()
	require.NoError(t, w.Close())
	require.NoError(t, w.Close()) // idempotent
}
