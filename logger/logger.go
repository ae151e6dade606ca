package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// LogLevel mirrors the device log levels that the settings control point can set.
// A message is printed when its level is at or below the current level.
type LogLevel uint8

const (
	SILENT  LogLevel = iota // Nothing is printed
	FATAL                   // Unrecoverable lifecycle defects
	ERROR                   // Errors
	WARN                    // Warnings
	INFO                    // High-level events (connections, profile changes, updates)
	TRACE                   // Protocol messages (control point, OTA frames)
	VERBOSE                 // Per-notification and per-impulse detail
)

// MaxLevel is the highest level accepted from the wire.
const MaxLevel = VERBOSE

var (
	currentLevel LogLevel = INFO
	out          io.Writer = os.Stdout
	mu           sync.RWMutex
)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	if level > MaxLevel {
		level = MaxLevel
	}
	currentLevel = level
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetOutput redirects log output; nil restores stdout
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	out = w
}

// ParseLevel converts a string to a LogLevel
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "SILENT":
		return SILENT
	case "FATAL":
		return FATAL
	case "ERROR":
		return ERROR
	case "WARN", "WARNING":
		return WARN
	case "INFO":
		return INFO
	case "TRACE":
		return TRACE
	case "VERBOSE":
		return VERBOSE
	default:
		return INFO
	}
}

func (l LogLevel) String() string {
	switch l {
	case SILENT:
		return "SILENT"
	case FATAL:
		return "FATAL"
	case ERROR:
		return "ERROR"
	case WARN:
		return "WARN "
	case INFO:
		return "INFO "
	case TRACE:
		return "TRACE"
	case VERBOSE:
		return "VERB "
	}
	return fmt.Sprintf("L%d", uint8(l))
}

// Enabled reports whether a message at level would be printed
func Enabled(level LogLevel) bool {
	return level != SILENT && level <= GetLevel()
}

func log(level LogLevel, prefix, format string, args ...interface{}) {
	if !Enabled(level) {
		return
	}

	msg := fmt.Sprintf(format, args...)

	mu.RLock()
	w := out
	mu.RUnlock()

	if prefix != "" {
		fmt.Fprintf(w, "[%s %s] %s\n", prefix, level, msg)
	} else {
		fmt.Fprintf(w, "[%s] %s\n", level, msg)
	}
}

// Fatal logs a lifecycle defect. It does not exit; callers panic or stop themselves.
func Fatal(prefix, format string, args ...interface{}) {
	log(FATAL, prefix, format, args...)
}

// Error logs an error message
func Error(prefix, format string, args ...interface{}) {
	log(ERROR, prefix, format, args...)
}

// Warn logs a warning message
func Warn(prefix, format string, args ...interface{}) {
	log(WARN, prefix, format, args...)
}

// Info logs an info message (high-level events)
func Info(prefix, format string, args ...interface{}) {
	log(INFO, prefix, format, args...)
}

// Trace logs a protocol-level message
func Trace(prefix, format string, args ...interface{}) {
	log(TRACE, prefix, format, args...)
}

// Verbose logs per-frame detail
func Verbose(prefix, format string, args ...interface{}) {
	log(VERBOSE, prefix, format, args...)
}

// ToJSON converts any value to a pretty-printed JSON string for logging
func ToJSON(v interface{}) string {
	if msg, ok := v.(proto.Message); ok {
		marshaler := protojson.MarshalOptions{
			Multiline:       true,
			Indent:          "  ",
			EmitUnpopulated: false,
		}
		jsonBytes, err := marshaler.Marshal(msg)
		if err != nil {
			return fmt.Sprintf("<error: %v>", err)
		}
		return string(jsonBytes)
	}

	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(jsonBytes)
}

// TraceJSON logs a trace message with a JSON representation
func TraceJSON(prefix, label string, v interface{}) {
	if !Enabled(TRACE) {
		return
	}
	log(TRACE, prefix, "%s:\n%s", label, ToJSON(v))
}

// InfoJSON logs an info message with a JSON representation
func InfoJSON(prefix, label string, v interface{}) {
	if !Enabled(INFO) {
		return
	}
	log(INFO, prefix, "%s:\n%s", label, ToJSON(v))
}
