package puma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThreadEnvironmentCreateBufferUsesDefaultGrace(t *testing.T) {
	env := NewThreadEnvironment(nil)
	defer env.Close()

	buf, err := CreateBuffer[int](env, 4)
	require.NoError(t, err)
	require.Equal(t, defaultDiscardGrace, buf.discardGrace)
	require.Equal(t, "thread", env.Flavor())
}

func TestThreadEnvironmentClosedRejectsFurtherWork(t *testing.T) {
	env := NewThreadEnvironment(nil)
	require.NoError(t, env.Close())

	_, err := env.CreateWakeup()
	require.ErrorIs(t, err, ErrEnvironmentClosed)

	_, err = env.CreateRunner(func(Wakeup) (*Runnable, error) { return nil, nil })
	require.ErrorIs(t, err, ErrEnvironmentClosed)
}

func TestEnvironmentSwapPortableRunnableRunsOnThreadFlavour(t *testing.T) {
	// A Runnable built through the Environment interface's CreateRunner
	// runs through the Ping/Stop/Status contract. Only the thread flavour
	// accepts a closure here; the process flavour rejects CreateRunner and
	// is exercised through a registered worker entry instead (see
	// TestProcessRunnerEndToEndDoublesValues).
	build := func(wakeup Wakeup) (*Runnable, error) {
		return NewRunnable("portable", wakeup, nil), nil
	}

	env := NewThreadEnvironment(nil)
	defer env.Close()

	runner, err := env.CreateRunner(build)
	require.NoError(t, err)
	require.NoError(t, runner.Start())
	require.NoError(t, runner.Ping())
	require.Eventually(t, func() bool { return runner.CheckForErrors() == nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, runner.Close())
	require.Equal(t, Stopped, runner.State())
}
