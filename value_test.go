package puma

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueNewValue(t *testing.T) {
	v := NewValue(42)
	require.False(t, v.IsComplete())
	require.Nil(t, v.Err())
	require.Equal(t, 42, v.Payload)
}

func TestValueCompleteValue(t *testing.T) {
	cause := errors.New("boom")

	ok := CompleteValue[int](nil)
	require.True(t, ok.IsComplete())
	require.Nil(t, ok.Err())

	failed := CompleteValue[int](cause)
	require.True(t, failed.IsComplete())
	require.Equal(t, cause, failed.Err())
}

func TestHandlerFuncsNilCallbacksAreNoops(t *testing.T) {
	var h HandlerFuncs[int]
	require.NoError(t, h.OnValue(1))
	require.NotPanics(t, func() { h.OnComplete(nil) })
}

func TestHandlerFuncsDelegates(t *testing.T) {
	var gotValue int
	var gotErr error
	h := HandlerFuncs[int]{
		Value:    func(v int) error { gotValue = v; return nil },
		Complete: func(err error) { gotErr = err },
	}
	require.NoError(t, h.OnValue(7))
	require.Equal(t, 7, gotValue)

	sentinel := errors.New("done")
	h.OnComplete(sentinel)
	require.Equal(t, sentinel, gotErr)
}
