// Package logging provides the logging interface and default implementations for bcache.
//
// Design: Five-level interface (Error, Warn, Info, Debug, Fatal). Callers can
// plug in their own structured logger; a logrus adapter is provided for the
// command-line tools.
//
// Fatalf behavior: logs at FATAL level and calls the configured FatalHandler.
// It does NOT exit the process. The cache engine uses Fatalf to report
// capacity faults (pool exhausted) and lock-discipline violations, then
// fails the operation itself.
//
// Log format: YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// Example: 2026/10/15 18:45:13 WARN [steal] shard 3 empty, took slot 17 from shard 4
//
// Component namespace prefixes are used for filtering:
//   - [bcache] — pool setup and engine operations
//   - [steal]  — cross-shard recycling
//   - [device] — block device I/O
//   - [server] — HTTP block service
//   - [stress] — stress driver
package logging

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
)

// ErrFatal is the sentinel error wrapped by fatal conditions.
// Use errors.Is(err, ErrFatal) to detect fatal errors in returned errors.
var ErrFatal = errors.New("fatal error")

// FatalHandler is called when Fatalf is invoked.
// The handler receives the formatted fatal message.
//
// Contract: FatalHandler must be safe for concurrent use.
// Contract: FatalHandler must not call Fatalf (avoid infinite recursion).
type FatalHandler func(msg string)

// Level represents the logging level.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings, and errors.
	LevelInfo
	// LevelDebug logs everything including debug messages.
	LevelDebug
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelWarn, fmt.Errorf("logging: unknown level %q", s)
	}
}

// Logger defines the interface for cache logging.
//
// Concurrency: DefaultLogger and Discard are safe for concurrent use.
// User-provided Logger implementations MUST be safe for concurrent use,
// as logging may occur from multiple goroutines simultaneously.
type Logger interface {
	// Errorf logs a formatted error message.
	Errorf(format string, args ...any)

	// Warnf logs a formatted warning message.
	Warnf(format string, args ...any)

	// Infof logs a formatted informational message.
	Infof(format string, args ...any)

	// Debugf logs a formatted debug message.
	Debugf(format string, args ...any)

	// Fatalf logs a fatal error and triggers the fatal handler.
	// It does not exit; the caller fails the operation.
	Fatalf(format string, args ...any)
}

// DefaultLogger is the default logger that writes to a specified output.
// It is safe for concurrent use (log.Logger is thread-safe).
// Level is read-only after construction — create a new logger to change level.
type DefaultLogger struct {
	logger       *log.Logger
	level        Level
	fatalHandler atomic.Pointer[FatalHandler]
}

// NewDefaultLogger creates a new default logger with the specified level.
// It writes to stderr.
func NewDefaultLogger(level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(os.Stderr, "", log.LstdFlags),
		level:  level,
	}
}

// NewLogger creates a new logger with the specified output and level.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

// SetFatalHandler sets the handler called when Fatalf is invoked.
func (l *DefaultLogger) SetFatalHandler(h FatalHandler) {
	l.fatalHandler.Store(&h)
}

// Level returns the logging level.
func (l *DefaultLogger) Level() Level {
	return l.level
}

// Errorf logs a formatted error message.
func (l *DefaultLogger) Errorf(format string, args ...any) {
	if l.level >= LevelError {
		_ = l.logger.Output(2, "ERROR "+fmt.Sprintf(format, args...))
	}
}

// Warnf logs a formatted warning message.
func (l *DefaultLogger) Warnf(format string, args ...any) {
	if l.level >= LevelWarn {
		_ = l.logger.Output(2, "WARN "+fmt.Sprintf(format, args...))
	}
}

// Infof logs a formatted informational message.
func (l *DefaultLogger) Infof(format string, args ...any) {
	if l.level >= LevelInfo {
		_ = l.logger.Output(2, "INFO "+fmt.Sprintf(format, args...))
	}
}

// Debugf logs a formatted debug message.
func (l *DefaultLogger) Debugf(format string, args ...any) {
	if l.level >= LevelDebug {
		_ = l.logger.Output(2, "DEBUG "+fmt.Sprintf(format, args...))
	}
}

// Fatalf logs a fatal error and triggers the fatal handler.
func (l *DefaultLogger) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	// Fatal messages bypass level filtering
	_ = l.logger.Output(2, "FATAL "+msg)

	if h := l.fatalHandler.Load(); h != nil {
		(*h)(msg)
	}
}

// Namespace prefixes for log messages.
const (
	// NSCache is the namespace for pool setup and engine operations.
	NSCache = "[bcache] "
	// NSSteal is the namespace for cross-shard recycling.
	NSSteal = "[steal] "
	// NSDevice is the namespace for block device I/O.
	NSDevice = "[device] "
	// NSServer is the namespace for the HTTP block service.
	NSServer = "[server] "
	// NSStress is the namespace for the stress driver.
	NSStress = "[stress] "
)

// IsNil returns true if the logger is nil or a typed-nil.
// A typed-nil occurs when a nil pointer is assigned to an interface:
//
//	var l *MyLogger = nil
//	opts.Logger = l  // Interface is not nil, but underlying pointer is
//
// Calling methods on a typed-nil panics, so this function detects both cases.
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrDefault returns the provided logger if it is valid (non-nil and not typed-nil),
// otherwise returns a default WARN-level logger.
func OrDefault(l Logger) Logger {
	if IsNil(l) {
		return NewDefaultLogger(LevelWarn)
	}
	return l
}
