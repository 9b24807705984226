package logflags

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is what the tracer, the ELF loader and the terminal log through.
// Loggers are derived per layer and carry the layer name as a field, the
// tracer adds the pid once a target exists.
type Logger interface {
	WithField(key string, value interface{}) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Fields are attached to every entry written by a Logger.
type Fields map[string]interface{}

// LoggerFactory builds the Logger of a layer. fields and out may be nil.
type LoggerFactory func(level logrus.Level, fields Fields, out io.Writer) Logger

var loggerFactory LoggerFactory

// SetLoggerFactory replaces the logrus backed default. Passing nil restores
// it.
func SetLoggerFactory(lf LoggerFactory) {
	loggerFactory = lf
}

// logrusLogger adapts a logrus entry to Logger.
type logrusLogger struct {
	*logrus.Entry
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{l.Entry.WithField(key, value)}
}
