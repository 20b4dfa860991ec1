// Package logging wraps logrus with the severity choices the server
// loop and its collaborators use at each call site: Info for lifecycle
// events (startup, shutdown), Debug for per-connection detail, Warn for
// recoverable I/O failures, and Fatal for unrecoverable init errors.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is a thin facade over *logrus.Logger so callers depend on
// this package's surface rather than logrus directly.
type Logger struct {
	entry *logrus.Entry
}

// Options configures a new Logger.
type Options struct {
	// Level is one of "debug", "info", "warn", "error". Empty defaults
	// to "info".
	Level string
	// Output defaults to os.Stderr.
	Output io.Writer
	// JSON selects structured JSON output instead of logrus's default
	// text formatter; daily log rotation (spec.md §6 LogPath/LogSuffix)
	// is handled by the Output writer (see RotatingFile), not by the
	// Logger itself.
	JSON bool
}

// New builds a Logger from Options.
func New(opts Options) *Logger {
	l := logrus.New()
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stderr)
	}
	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return &Logger{entry: logrus.NewEntry(l)}
}

// With returns a Logger with the given structured fields attached to
// every subsequent call.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }
