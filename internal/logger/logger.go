// Package logger configures the process logger and bridges it into pion's
// LoggerFactory so WebRTC internals write to the same sink.
package logger

import (
	"fmt"
	"os"

	"github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

// New returns a logrus logger writing to stderr at the given level. format is
// "text" or "json".
func New(level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(lvl)

	switch format {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return l, nil
}

// PionFactory adapts a logrus logger to logging.LoggerFactory. Each pion scope
// becomes a "pion" field on the entry.
func PionFactory(l logrus.FieldLogger) logging.LoggerFactory {
	return &pionFactory{log: l}
}

type pionFactory struct {
	log logrus.FieldLogger
}

func (f *pionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{entry: f.log.WithField("pion", scope)}
}

type pionLogger struct {
	entry *logrus.Entry
}

func (p *pionLogger) Trace(msg string)                          { p.entry.Trace(msg) }
func (p *pionLogger) Tracef(format string, args ...interface{}) { p.entry.Tracef(format, args...) }
func (p *pionLogger) Debug(msg string)                          { p.entry.Debug(msg) }
func (p *pionLogger) Debugf(format string, args ...interface{}) { p.entry.Debugf(format, args...) }
func (p *pionLogger) Info(msg string)                           { p.entry.Info(msg) }
func (p *pionLogger) Infof(format string, args ...interface{})  { p.entry.Infof(format, args...) }
func (p *pionLogger) Warn(msg string)                           { p.entry.Warn(msg) }
func (p *pionLogger) Warnf(format string, args ...interface{})  { p.entry.Warnf(format, args...) }
func (p *pionLogger) Error(msg string)                          { p.entry.Error(msg) }
func (p *pionLogger) Errorf(format string, args ...interface{}) { p.entry.Errorf(format, args...) }
