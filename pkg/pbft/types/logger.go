package types

// Logger is the logging facade used throughout pkg/pbft. Implementations
// are free to route these calls to any structured logging backend; the
// reference implementation in pkg/pbft/definition backs it with logrus.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})

	// ToggleDebug enables debug-level logging when value is true, disables
	// it otherwise, and returns value.
	ToggleDebug(value bool) bool
}
