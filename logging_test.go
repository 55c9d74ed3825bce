package puma

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerFromDevelopmentProfileLogsWithoutPanicking(t *testing.T) {
	logger, closeFn, err := NewLogger(DevelopmentProfile())
	require.NoError(t, err)
	defer closeFn()

	require.NotPanics(t, func() {
		logger.Debug("debug message", "k", "v")
		logger.Info("info message")
		logger.Warn("warn message", "count", 3)
		logger.Err("error message", errors.New("boom"))
	})
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	cfg := LogConfig{Root: RootConfig{Handlers: []string{"missing"}}}
	_, _, err := NewLogger(cfg)
	require.Error(t, err)
}

func TestNamedTagsRecordsWithoutPanicking(t *testing.T) {
	logger, closeFn, err := NewLogger(DevelopmentProfile())
	require.NoError(t, err)
	defer closeFn()

	child := Named(logger, "worker-1")
	require.NotPanics(t, func() { child.Info("hello from child") })
}

func TestNamedOnNonLogifaceLoggerIsNoop(t *testing.T) {
	var stub Logger = noopLogger{}
	require.Equal(t, stub, Named(stub, "whatever"))
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any)      {}
func (noopLogger) Info(string, ...any)       {}
func (noopLogger) Warn(string, ...any)       {}
func (noopLogger) Err(string, error, ...any) {}
