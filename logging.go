package puma

import (
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the narrow logging surface used throughout this package. It is
// deliberately smaller than logiface's generic Logger[E]: internal call
// sites only ever need leveled messages with a handful of key/value pairs,
// so Logger wraps a concrete izerolog.Logger rather than threading the
// generic type parameter through every Runnable and Buffer.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Err(msg string, err error, kv ...any)
}

// logifaceLogger adapts a *logiface.Logger[*izerolog.Event] to Logger.
type logifaceLogger struct {
	inner *logiface.Logger[*izerolog.Event]
	name  string
}

func (l *logifaceLogger) Debug(msg string, kv ...any) { l.log(l.inner.Debug(), msg, kv) }
func (l *logifaceLogger) Info(msg string, kv ...any)  { l.log(l.inner.Info(), msg, kv) }
func (l *logifaceLogger) Warn(msg string, kv ...any)  { l.log(l.inner.Warning(), msg, kv) }

func (l *logifaceLogger) Err(msg string, err error, kv ...any) {
	b := l.inner.Err()
	if b == nil {
		return
	}
	b = b.Err(err)
	l.log(b, msg, kv)
}

func (l *logifaceLogger) log(b *logiface.Builder[*izerolog.Event], msg string, kv []any) {
	if b == nil {
		return
	}
	if l.name != "" {
		b = b.Str("logger", l.name)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b = b.Interface(key, kv[i+1])
	}
	b.Log(msg)
}

// Named returns a Logger that annotates every record with a "logger" field,
// mirroring how getLogger(name) works in the configuration model (spec.md
// §6).
func (l *logifaceLogger) Named(name string) Logger {
	return &logifaceLogger{inner: l.inner, name: name}
}

// Named returns a child Logger tagged with name, if the underlying
// implementation supports it, and the receiver unchanged otherwise.
func Named(l Logger, name string) Logger {
	if ll, ok := l.(*logifaceLogger); ok {
		return ll.Named(name)
	}
	return l
}

// NewLogger builds the root Logger for a process from a LogConfig. The
// returned Logger is backed by logiface atop izerolog atop zerolog, with
// file handlers rotated and retained via lumberjack (see rotatingWriter):
// 30-day retention and UTC-stamped backup filenames. Rotation is by file
// size, not by time of day.
func NewLogger(cfg LogConfig) (Logger, func() error, error) {
	writers, closers, err := cfg.buildWriters()
	if err != nil {
		return nil, nil, err
	}

	var mw zerolog.LevelWriter
	switch len(writers) {
	case 0:
		writers = append(writers, os.Stderr)
		fallthrough
	case 1:
		mw = zerolog.MultiLevelWriter(writers[0])
	default:
		mw = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(mw).With().Timestamp().Logger()
	level := cfg.rootLevel()

	base := izerolog.L.New(
		izerolog.L.WithZerolog(zl),
		logiface.WithLevel[*izerolog.Event](level),
	)

	closeAll := func() error {
		var firstErr error
		for _, c := range closers {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	return &logifaceLogger{inner: base}, closeAll, nil
}

// rotatingWriter constructs a lumberjack.Logger for a single handler's
// filename: backups are kept for 30 days, stamped in UTC and compressed.
// The file rotates when it reaches lumberjack's default size limit
// (MaxSize is left unset); it does not rotate at midnight.
func rotatingWriter(filename string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:  filename,
		MaxAge:    30, // days
		LocalTime: false,
		Compress:  true,
	}
}
