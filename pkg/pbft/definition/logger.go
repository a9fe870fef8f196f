// Package definition holds the concrete, swappable implementations of the
// small interfaces declared in pkg/pbft/types (Logger today; Transport and
// Service implementations live closer to their own concerns).
package definition

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// LogrusLogger backs types.Logger with github.com/sirupsen/logrus, used
// whenever the caller does not supply its own Logger implementation.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger builds a LogrusLogger writing structured, leveled
// entries to stderr, with debug output disabled until ToggleDebug(true).
func NewDefaultLogger(replica types.ReplicaID) *LogrusLogger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &LogrusLogger{entry: base.WithField("replica", replica)}
}

func (l *LogrusLogger) Info(v ...interface{})                       { l.entry.Info(v...) }
func (l *LogrusLogger) Infof(format string, v ...interface{})       { l.entry.Infof(format, v...) }
func (l *LogrusLogger) Warn(v ...interface{})                       { l.entry.Warn(v...) }
func (l *LogrusLogger) Warnf(format string, v ...interface{})       { l.entry.Warnf(format, v...) }
func (l *LogrusLogger) Error(v ...interface{})                      { l.entry.Error(v...) }
func (l *LogrusLogger) Errorf(format string, v ...interface{})      { l.entry.Errorf(format, v...) }
func (l *LogrusLogger) Debug(v ...interface{})                      { l.entry.Debug(v...) }
func (l *LogrusLogger) Debugf(format string, v ...interface{})      { l.entry.Debugf(format, v...) }
func (l *LogrusLogger) Fatal(v ...interface{})                      { l.entry.Fatal(v...) }
func (l *LogrusLogger) Fatalf(format string, v ...interface{})      { l.entry.Fatalf(format, v...) }

// ToggleDebug enables debug-level logging when value is true, disables it
// otherwise, and returns value.
func (l *LogrusLogger) ToggleDebug(value bool) bool {
	if value {
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	}
	return value
}

var _ types.Logger = (*LogrusLogger)(nil)
