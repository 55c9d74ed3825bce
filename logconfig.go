package puma

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joeycumines/logiface"
	"gopkg.in/yaml.v3"
)

// LogConfig is a dictConfig-shaped description of a process's logging
// setup (spec.md §6): one or more handlers, each either a rotating file
// sink or the console, and a root level. It is intentionally much smaller
// than Python's logging.config.dictConfig: PUMA has exactly one logger per
// process (the LogFunnel's sink, or a worker's own root logger), so there
// is no need for the "loggers" and "filters" sections that dictConfig
// supports; "handlers" and "root" are enough to describe the fan-out this
// framework actually needs.
type LogConfig struct {
	Version              int                      `yaml:"version"`
	DisableExistingLoggers bool                   `yaml:"disable_existing_loggers"`
	Handlers             map[string]HandlerConfig `yaml:"handlers"`
	Root                 RootConfig               `yaml:"root"`
}

// HandlerConfig describes one log sink.
type HandlerConfig struct {
	// Class selects the handler implementation: "console" or
	// "rotating_file".
	Class string `yaml:"class"`
	// Filename is required when Class is "rotating_file".
	Filename string `yaml:"filename"`
}

// RootConfig names the handlers attached to the root logger and the
// minimum level it emits.
type RootConfig struct {
	Level    string   `yaml:"level"`
	Handlers []string `yaml:"handlers"`
}

// ParseLogConfig decodes a LogConfig from YAML, per spec.md §6's
// dictConfig-style document shape.
func ParseLogConfig(data []byte) (LogConfig, error) {
	var cfg LogConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return LogConfig{}, newProtocolError("ParseLogConfig", err)
	}
	return cfg, nil
}

// DevelopmentProfile returns the default LogConfig for interactive use:
// console output only, at debug level.
func DevelopmentProfile() LogConfig {
	return LogConfig{
		Version: 1,
		Handlers: map[string]HandlerConfig{
			"console": {Class: "console"},
		},
		Root: RootConfig{
			Level:    "debug",
			Handlers: []string{"console"},
		},
	}
}

// ProductionProfile returns the default LogConfig for long-running
// deployments: a rotating file handler at info level, with 30-day
// retention and UTC backup timestamps. The file rotates by size (see
// rotatingWriter), not at midnight.
func ProductionProfile(filename string) LogConfig {
	return LogConfig{
		Version: 1,
		Handlers: map[string]HandlerConfig{
			"file": {Class: "rotating_file", Filename: filename},
		},
		Root: RootConfig{
			Level:    "info",
			Handlers: []string{"file"},
		},
	}
}

// rootLevel maps the configured root level name onto a logiface.Level.
func (c LogConfig) rootLevel() logiface.Level {
	switch strings.ToLower(c.Root.Level) {
	case "trace":
		return logiface.LevelTrace
	case "debug":
		return logiface.LevelDebug
	case "info", "informational", "":
		return logiface.LevelInformational
	case "notice":
		return logiface.LevelNotice
	case "warning", "warn":
		return logiface.LevelWarning
	case "error", "err":
		return logiface.LevelError
	case "critical", "crit":
		return logiface.LevelCritical
	case "alert":
		return logiface.LevelAlert
	case "emergency", "panic":
		return logiface.LevelEmergency
	default:
		return logiface.LevelInformational
	}
}

// buildWriters resolves the root logger's handlers into io.Writers,
// returning any rotating file handlers separately so they can be closed on
// shutdown.
func (c LogConfig) buildWriters() ([]io.Writer, []io.Closer, error) {
	var writers []io.Writer
	var closers []io.Closer
	for _, name := range c.Root.Handlers {
		h, ok := c.Handlers[name]
		if !ok {
			return nil, nil, newProtocolError("LogConfig.buildWriters", fmt.Errorf("puma: undefined handler %q", name))
		}
		switch h.Class {
		case "console", "":
			writers = append(writers, os.Stderr)
		case "rotating_file":
			if h.Filename == "" {
				return nil, nil, newProtocolError("LogConfig.buildWriters", fmt.Errorf("puma: handler %q missing filename", name))
			}
			rw := rotatingWriter(h.Filename)
			writers = append(writers, rw)
			closers = append(closers, rw)
		default:
			return nil, nil, newProtocolError("LogConfig.buildWriters", fmt.Errorf("puma: unknown handler class %q", h.Class))
		}
	}
	return writers, closers, nil
}
