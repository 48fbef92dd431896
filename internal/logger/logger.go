// Package logger provides the leveled logger shared by every gateway component.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

// Logger is the logging interface injected into the gateway, the OAuth client,
// the directory resolver and the session store.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})

	// Structured logging support
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// LogLevel represents the logging level
type LogLevel int

const (
	// LogLevelDebug enables all log messages
	LogLevelDebug LogLevel = iota
	// LogLevelInfo enables info and error messages
	LogLevelInfo
	// LogLevelError enables only error messages
	LogLevelError
	// LogLevelNone disables all logging
	LogLevelNone
)

// ParseLogLevel converts a string log level to LogLevel. Unknown values map to info.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "error":
		return LogLevelError
	case "none":
		return LogLevelNone
	default:
		return LogLevelInfo
	}
}

// StandardLogger implements Logger on top of the standard log package.
// Errors go to errOut, everything else to out.
type StandardLogger struct {
	mu       sync.RWMutex
	logError *log.Logger
	logInfo  *log.Logger
	logDebug *log.Logger
	fields   map[string]interface{}
	level    LogLevel
}

// New creates a StandardLogger writing info/debug to stdout and errors to stderr.
func New(level string) *StandardLogger {
	return NewStandardLogger(level, os.Stderr, os.Stdout)
}

// NewStandardLogger creates a StandardLogger with explicit outputs. Nil writers discard.
func NewStandardLogger(level string, errOut, out io.Writer) *StandardLogger {
	if errOut == nil {
		errOut = io.Discard
	}
	if out == nil {
		out = io.Discard
	}

	return &StandardLogger{
		logError: log.New(errOut, "ERROR: ", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lmsgprefix),
		logInfo:  log.New(out, "INFO: ", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lmsgprefix),
		logDebug: log.New(out, "DEBUG: ", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lmsgprefix),
		fields:   make(map[string]interface{}),
		level:    ParseLogLevel(level),
	}
}

func (l *StandardLogger) emit(at LogLevel, target *log.Logger, msg string) {
	if l.level > at {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	target.Print(l.formatWithFields(msg))
}

// Debug logs a debug message
func (l *StandardLogger) Debug(msg string) { l.emit(LogLevelDebug, l.logDebug, msg) }

// Debugf logs a formatted debug message
func (l *StandardLogger) Debugf(format string, args ...interface{}) {
	if l.level > LogLevelDebug {
		return
	}
	l.emit(LogLevelDebug, l.logDebug, fmt.Sprintf(format, args...))
}

// Info logs an info message
func (l *StandardLogger) Info(msg string) { l.emit(LogLevelInfo, l.logInfo, msg) }

// Infof logs a formatted info message
func (l *StandardLogger) Infof(format string, args ...interface{}) {
	if l.level > LogLevelInfo {
		return
	}
	l.emit(LogLevelInfo, l.logInfo, fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *StandardLogger) Error(msg string) { l.emit(LogLevelError, l.logError, msg) }

// Errorf logs a formatted error message
func (l *StandardLogger) Errorf(format string, args ...interface{}) {
	if l.level > LogLevelError {
		return
	}
	l.emit(LogLevelError, l.logError, fmt.Sprintf(format, args...))
}

// WithField returns a new logger with an additional field
func (l *StandardLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new logger with additional fields. The receiver is not modified.
func (l *StandardLogger) WithFields(fields map[string]interface{}) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	child := &StandardLogger{
		logError: l.logError,
		logInfo:  l.logInfo,
		logDebug: l.logDebug,
		fields:   make(map[string]interface{}, len(l.fields)+len(fields)),
		level:    l.level,
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range fields {
		child.fields[k] = v
	}
	return child
}

// formatWithFields appends fields in key order so output is stable.
func (l *StandardLogger) formatWithFields(msg string) string {
	if len(l.fields) == 0 {
		return msg
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, l.fields[k])
	}
	return fmt.Sprintf("%s [%s]", msg, b.String())
}

type noOpLogger struct{}

func (noOpLogger) Debug(string)                               {}
func (noOpLogger) Debugf(string, ...interface{})              {}
func (noOpLogger) Info(string)                                {}
func (noOpLogger) Infof(string, ...interface{})               {}
func (noOpLogger) Error(string)                               {}
func (noOpLogger) Errorf(string, ...interface{})              {}
func (n noOpLogger) WithField(string, interface{}) Logger     { return n }
func (n noOpLogger) WithFields(map[string]interface{}) Logger { return n }

// NoOp returns a logger that discards everything.
func NoOp() Logger {
	return noOpLogger{}
}
