package puma

import (
	"os"
	"testing"
)

// The process flavour re-execs the current binary as its worker, so the
// test binary itself must be able to play that role: TestMain intercepts
// a re-exec'd invocation (workerEnvVar set) before the testing package
// gets anywhere near argument parsing, and hands it to RunWorkerMain,
// which never returns.
func init() {
	RegisterWorkerEntry("integration-doubler", func(wakeup Wakeup, ctx *WorkerContext) (*Runnable, error) {
		r := NewRunnable("integration-doubler", wakeup, nil)
		in, err := ConnectInput[int](ctx, "in")
		if err != nil {
			return nil, err
		}
		out, err := ConnectOutput[int](ctx, "out")
		if err != nil {
			return nil, err
		}
		pub := out.Publish()
		RegisterOutput(r, pub)
		if err := RegisterInput(r, in, HandlerFuncs[int]{
			Value: func(v int) error { return pub.PublishValue(v * 2) },
		}); err != nil {
			return nil, err
		}
		return r, nil
	})
}

func TestMain(m *testing.M) {
	RunWorkerMain()
	os.Exit(m.Run())
}
