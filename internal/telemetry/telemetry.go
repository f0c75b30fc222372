// Package telemetry provides the leveled logging sink used across the
// module in place of ad hoc fmt.Println diagnostics.
package telemetry

import (
	"sync"

	"go.uber.org/zap"
)

// Logger wraps a zap sugared logger behind the Debug/DebugFrames/DebugHPACK
// flags the http2 options struct has always carried. Formatting is deferred
// behind the flag check, the same way the teacher's "if opts.Debug { ... }"
// guards avoided the cost when disabled.
type Logger struct {
	base        *zap.SugaredLogger
	debug       bool
	debugFrames bool
	debugHPACK  bool
}

var (
	defaultOnce sync.Once
	defaultBase *zap.SugaredLogger
)

func base() *zap.SugaredLogger {
	defaultOnce.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		defaultBase = l.Sugar()
	})
	return defaultBase
}

// New returns a Logger gated by the three verbosity flags the engine accepts.
func New(debug, debugFrames, debugHPACK bool) *Logger {
	return &Logger{
		base:        base(),
		debug:       debug,
		debugFrames: debugFrames,
		debugHPACK:  debugHPACK,
	}
}

// Nop returns a Logger that discards everything, used where no Options have
// been supplied (e.g. package-level defaults and most unit tests).
func Nop() *Logger {
	return &Logger{base: zap.NewNop().Sugar()}
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.debug {
		return
	}
	l.base.Debugf(format, args...)
}

func (l *Logger) Frame(format string, args ...any) {
	if l == nil || !l.debugFrames {
		return
	}
	l.base.Debugf(format, args...)
}

func (l *Logger) HPACK(format string, args ...any) {
	if l == nil || !l.debugHPACK {
		return
	}
	l.base.Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil {
		return
	}
	l.base.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.base.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.base.Errorf(format, args...)
}
