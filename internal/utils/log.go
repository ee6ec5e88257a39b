package utils

import (
	"log"
	"os"
	"strconv"
	"time"
)

// LogLevel controls the verbosity of the package-wide default logger.
type LogLevel uint8

const (
	logEnv = "MINQ_LOG_LEVEL"

	LogLevelNothing LogLevel = 0
	LogLevelError   LogLevel = 1
	LogLevelInfo    LogLevel = 2
	LogLevelDebug   LogLevel = 3
)

var (
	logLevel   = LogLevelNothing
	timeFormat = ""
)

// SetLogLevel sets the log level of the default logger.
func SetLogLevel(level LogLevel) { logLevel = level }

// SetLogTimeFormat sets the format of the timestamp; an empty string
// disables timestamps.
func SetLogTimeFormat(format string) {
	log.SetFlags(0)
	timeFormat = format
}

// Debugf logs a debug-level message via the default logger.
func Debugf(format string, args ...interface{}) {
	if logLevel == LogLevelDebug {
		logMessage(format, args...)
	}
}

// Infof logs an info-level message via the default logger.
func Infof(format string, args ...interface{}) {
	if logLevel >= LogLevelInfo {
		logMessage(format, args...)
	}
}

// Errorf logs an error-level message via the default logger.
func Errorf(format string, args ...interface{}) {
	if logLevel >= LogLevelError {
		logMessage(format, args...)
	}
}

func logMessage(format string, args ...interface{}) {
	if len(timeFormat) > 0 {
		log.Printf(time.Now().Format(timeFormat)+" "+format, args...)
		return
	}
	log.Printf(format, args...)
}

// Debug reports whether the default logger is at debug level.
func Debug() bool { return logLevel == LogLevelDebug }

func init() { readLoggingEnv() }

func readLoggingEnv() {
	env := os.Getenv(logEnv)
	if env == "" {
		return
	}
	level, err := strconv.Atoi(env)
	if err != nil {
		return
	}
	logLevel = LogLevel(level)
}

// Logger is the narrow logging capability a connection is handed; it lets
// the connection core (§4.5) log without depending on a concrete logging
// library. The default implementation forwards to the package-level
// Debugf/Infof/Errorf functions above.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithPrefix(prefix string) Logger
}

type defaultLogger struct{ prefix string }

// DefaultLogger is the package-level Logger backed by the env-configurable
// global level.
var DefaultLogger Logger = &defaultLogger{}

func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	Debugf(l.prefix+format, args...)
}
func (l *defaultLogger) Infof(format string, args ...interface{}) {
	Infof(l.prefix+format, args...)
}
func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	Errorf(l.prefix+format, args...)
}
func (l *defaultLogger) WithPrefix(prefix string) Logger {
	return &defaultLogger{prefix: l.prefix + prefix + ": "}
}
