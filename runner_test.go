package puma

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunnerThreadEnvironmentLifecycle(t *testing.T) {
	env := NewThreadEnvironment(nil)
	defer env.Close()

	runner, err := env.CreateRunner(func(wakeup Wakeup) (*Runnable, error) {
		r := NewRunnable("lifecycle", wakeup, nil)
		return r, nil
	})
	require.NoError(t, err)
	require.Equal(t, Created, runner.State())

	require.NoError(t, runner.Start())
	require.Equal(t, Running, runner.State())

	require.NoError(t, runner.Ping())
	require.Eventually(t, func() bool {
		return runner.CheckForErrors() == nil && runner.State() == Running
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, runner.Close())
	require.Equal(t, Stopped, runner.State())
}

func TestRunnerInvokeBridgesToWorkerHandler(t *testing.T) {
	env := NewThreadEnvironment(nil)
	defer env.Close()

	observed := make(chan []any, 1)
	runner, err := env.CreateRunner(func(wakeup Wakeup) (*Runnable, error) {
		r := NewRunnable("invoke", wakeup, nil)
		r.HandleCommand("record", func(args ...any) error {
			observed <- args
			return nil
		})
		return r, nil
	})
	require.NoError(t, err)
	require.NoError(t, runner.Start())

	require.NoError(t, runner.Invoke("record", "a", 1))

	select {
	case args := <-observed:
		require.Equal(t, []any{"a", 1}, args)
	case <-time.After(time.Second):
		t.Fatal("worker did not observe invoked command")
	}

	require.NoError(t, runner.Close())
}

func TestRunnerSurfacesFailureOnCheckForErrors(t *testing.T) {
	env := NewThreadEnvironment(nil)
	defer env.Close()

	failure := errors.New("worker blew up")
	runner, err := env.CreateRunner(func(wakeup Wakeup) (*Runnable, error) {
		r := NewRunnable("fails", wakeup, nil)
		r.HandleCommand("explode", func(args ...any) error { return failure })
		return r, nil
	})
	require.NoError(t, err)
	require.NoError(t, runner.Start())
	require.NoError(t, runner.Invoke("explode"))

	require.Eventually(t, func() bool {
		err := runner.CheckForErrors()
		return err != nil
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, Failed, runner.State())

	// The failure was already observed through CheckForErrors, so the
	// scoped teardown does not raise it a second time.
	require.NoError(t, runner.Close())
}

func TestRunnerStopIsIdempotentAndClosePollsOutstandingStatus(t *testing.T) {
	env := NewThreadEnvironment(nil)
	defer env.Close()

	runner, err := env.CreateRunner(func(wakeup Wakeup) (*Runnable, error) {
		return NewRunnable("stoppable", wakeup, nil), nil
	})
	require.NoError(t, err)
	require.NoError(t, runner.Start())

	require.NoError(t, runner.Stop("first"))
	// A second Stop against a non-Running Runner is a no-op, not an error.
	require.NoError(t, runner.Stop("second"))

	require.NoError(t, runner.Close())
	require.Equal(t, Stopped, runner.State())
}

func TestRunnerActionsBeforeStartFail(t *testing.T) {
	env := NewThreadEnvironment(nil)
	defer env.Close()

	runner, err := env.CreateRunner(func(wakeup Wakeup) (*Runnable, error) {
		return NewRunnable("unstarted", wakeup, nil), nil
	})
	require.NoError(t, err)

	require.Error(t, runner.Invoke("anything"))
	require.Error(t, runner.Ping())

	// The worker was never started, so its join can never observe an
	// exit; bound it tightly rather than waiting out the default timeout.
	runner.SetJoinTimeout(20 * time.Millisecond)
	require.Error(t, runner.Close())
}
