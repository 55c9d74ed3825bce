package puma

import (
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/require"
)

func TestParseLogConfigYAML(t *testing.T) {
	doc := []byte(`
version: 1
handlers:
  console:
    class: console
  file:
    class: rotating_file
    filename: /var/log/puma/worker.log
root:
  level: warning
  handlers: [console, file]
`)
	cfg, err := ParseLogConfig(doc)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Version)
	require.Equal(t, "rotating_file", cfg.Handlers["file"].Class)
	require.Equal(t, "/var/log/puma/worker.log", cfg.Handlers["file"].Filename)
	require.Equal(t, []string{"console", "file"}, cfg.Root.Handlers)
	require.Equal(t, logiface.LevelWarning, cfg.rootLevel())
}

func TestParseLogConfigRejectsInvalidYAML(t *testing.T) {
	_, err := ParseLogConfig([]byte("not: [valid"))
	require.Error(t, err)
}

func TestDevelopmentProfileIsConsoleAtDebug(t *testing.T) {
	cfg := DevelopmentProfile()
	require.Equal(t, "debug", cfg.Root.Level)
	require.Equal(t, logiface.LevelDebug, cfg.rootLevel())
	writers, closers, err := cfg.buildWriters()
	require.NoError(t, err)
	require.Len(t, writers, 1)
	require.Empty(t, closers)
}

func TestProductionProfileIsRotatingFileAtInfo(t *testing.T) {
	cfg := ProductionProfile("/tmp/puma-test.log")
	require.Equal(t, "info", cfg.Root.Level)
	require.Equal(t, logiface.LevelInformational, cfg.rootLevel())
	writers, closers, err := cfg.buildWriters()
	require.NoError(t, err)
	require.Len(t, writers, 1)
	require.Len(t, closers, 1)
}

func TestBuildWritersRejectsUndefinedHandler(t *testing.T) {
	cfg := LogConfig{Root: RootConfig{Handlers: []string{"missing"}}}
	_, _, err := cfg.buildWriters()
	require.Error(t, err)
}

func TestBuildWritersRejectsRotatingFileWithoutFilename(t *testing.T) {
	cfg := LogConfig{
		Handlers: map[string]HandlerConfig{"file": {Class: "rotating_file"}},
		Root:     RootConfig{Handlers: []string{"file"}},
	}
	_, _, err := cfg.buildWriters()
	require.Error(t, err)
}

func TestRootLevelDefaultsToInformational(t *testing.T) {
	cfg := LogConfig{}
	require.Equal(t, logiface.LevelInformational, cfg.rootLevel())
}
