// Package ldlog contains a logging abstraction that allows log messages to be filtered by
// level and routed to any destination.
//
// The SDK uses a Loggers instance to do all of its logging. By default, output goes to
// standard error with a minimum level of Info. Applications can replace the underlying
// logger, replace it for an individual level, or change the minimum level.
package ldlog

import (
	"log"
	"os"
)

// LogLevel describes one of the possible thresholds of log message.
type LogLevel int

const (
	// Debug level is for very verbose diagnostic output, disabled by default.
	Debug LogLevel = iota + 1
	// Info level is for informational messages about normal operation of the SDK.
	Info
	// Warn level is for messages about unexpected conditions that do not prevent the SDK
	// from working.
	Warn
	// Error level is for errors that should be investigated.
	Error
	// None means no messages at all.
	None
)

// Name returns the level name as used in log output, such as "WARN".
func (l LogLevel) Name() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "NONE"
	}
}

// BaseLogger is the interface for the underlying logging implementation, compatible with
// log.Logger.
type BaseLogger interface {
	Println(values ...interface{})
	Printf(format string, values ...interface{})
}

// Loggers is a configurable logging component with a separate output channel for each log
// level. The zero value is usable and writes Info-level and above to standard error.
//
// Loggers methods are safe for concurrent use, but configuration methods (SetBaseLogger,
// SetMinLevel, etc.) should only be called before the instance is handed off to SDK
// components.
type Loggers struct {
	minLevel     LogLevel
	baseLogger   BaseLogger
	levelLoggers [4]BaseLogger
}

// NewDefaultLoggers returns a Loggers instance with default properties: all messages of
// Info level or above go to standard error.
func NewDefaultLoggers() Loggers {
	return Loggers{}
}

// NewDisabledLoggers returns a Loggers instance that will never write any output.
func NewDisabledLoggers() Loggers {
	return Loggers{minLevel: None}
}

func defaultBaseLogger() BaseLogger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

// SetBaseLogger specifies the default destination for all log output. Levels that were
// given their own destination with SetBaseLoggerForLevel are unaffected.
func (l *Loggers) SetBaseLogger(baseLogger BaseLogger) {
	l.baseLogger = baseLogger
}

// SetBaseLoggerForLevel specifies a destination for log output of one specific level,
// overriding the logger set by SetBaseLogger.
func (l *Loggers) SetBaseLoggerForLevel(level LogLevel, baseLogger BaseLogger) {
	if level >= Debug && level <= Error {
		l.levelLoggers[level-Debug] = baseLogger
	}
}

// SetMinLevel sets the lowest level of message that will be logged. The default is Info.
func (l *Loggers) SetMinLevel(minLevel LogLevel) {
	l.minLevel = minLevel
}

// GetMinLevel returns the minimum level of message that will be logged.
func (l Loggers) GetMinLevel() LogLevel {
	if l.minLevel == 0 {
		return Info
	}
	return l.minLevel
}

// IsDebugEnabled returns true if Debug-level logging is enabled. Components use this to
// avoid computing expensive debug output that would be discarded.
func (l Loggers) IsDebugEnabled() bool {
	return l.GetMinLevel() <= Debug
}

func (l Loggers) loggerForLevel(level LogLevel) BaseLogger {
	if level >= Debug && level <= Error {
		if ll := l.levelLoggers[level-Debug]; ll != nil {
			return ll
		}
	}
	if l.baseLogger != nil {
		return l.baseLogger
	}
	return defaultBaseLogger()
}

func (l Loggers) logString(level LogLevel, values ...interface{}) {
	if level < l.GetMinLevel() {
		return
	}
	args := make([]interface{}, 0, len(values)+1)
	args = append(args, level.Name()+":")
	args = append(args, values...)
	l.loggerForLevel(level).Println(args...)
}

func (l Loggers) logStringf(level LogLevel, format string, values ...interface{}) {
	if level < l.GetMinLevel() {
		return
	}
	l.loggerForLevel(level).Printf(level.Name()+": "+format, values...)
}

// Debug logs a message at Debug level, if that level is enabled.
func (l Loggers) Debug(values ...interface{}) { l.logString(Debug, values...) }

// Debugf logs a formatted message at Debug level, if that level is enabled.
func (l Loggers) Debugf(format string, values ...interface{}) { l.logStringf(Debug, format, values...) }

// Info logs a message at Info level, if that level is enabled.
func (l Loggers) Info(values ...interface{}) { l.logString(Info, values...) }

// Infof logs a formatted message at Info level, if that level is enabled.
func (l Loggers) Infof(format string, values ...interface{}) { l.logStringf(Info, format, values...) }

// Warn logs a message at Warn level, if that level is enabled.
func (l Loggers) Warn(values ...interface{}) { l.logString(Warn, values...) }

// Warnf logs a formatted message at Warn level, if that level is enabled.
func (l Loggers) Warnf(format string, values ...interface{}) { l.logStringf(Warn, format, values...) }

// Error logs a message at Error level, if that level is enabled.
func (l Loggers) Error(values ...interface{}) { l.logString(Error, values...) }

// Errorf logs a formatted message at Error level, if that level is enabled.
func (l Loggers) Errorf(format string, values ...interface{}) { l.logStringf(Error, format, values...) }
