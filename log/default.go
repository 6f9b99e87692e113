package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// DefaultLogger implements Logger on top of logrus, using the prefixed
// formatter and caller hook so entries carry file:line:func context the
// same way gosip's default logger does.
type DefaultLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger builds a DefaultLogger writing to out (stderr if nil) at
// the given logrus level, tagged with scope as its prefix.
func NewDefaultLogger(scope string, level logrus.Level, out io.Writer) *DefaultLogger {
	if out == nil {
		out = os.Stderr
	}
	base := logrus.New()
	base.Out = out
	base.Level = level
	base.Formatter = NewFormatter(true)
	base.AddHook(&CallerHook{})

	return &DefaultLogger{entry: base.WithField("scope", scope)}
}

func (l *DefaultLogger) WithFields(flds map[string]any) Logger {
	return &DefaultLogger{entry: l.entry.WithFields(logrus.Fields(flds))}
}

func (l *DefaultLogger) Debug(msg string, flds map[string]any) {
	l.entry.WithFields(logrus.Fields(flds)).Debug(msg)
}

func (l *DefaultLogger) Info(msg string, flds map[string]any) {
	l.entry.WithFields(logrus.Fields(flds)).Info(msg)
}

func (l *DefaultLogger) Warn(msg string, flds map[string]any) {
	l.entry.WithFields(logrus.Fields(flds)).Warn(msg)
}

func (l *DefaultLogger) Error(msg string, flds map[string]any) {
	l.entry.WithFields(logrus.Fields(flds)).Error(msg)
}

// NoopLogger discards everything. Useful as a zero-value default so callers
// never need a nil check before logging.
type NoopLogger struct{}

func (NoopLogger) WithFields(map[string]any) Logger { return NoopLogger{} }
func (NoopLogger) Debug(string, map[string]any)      {}
func (NoopLogger) Info(string, map[string]any)       {}
func (NoopLogger) Warn(string, map[string]any)       {}
func (NoopLogger) Error(string, map[string]any)      {}
