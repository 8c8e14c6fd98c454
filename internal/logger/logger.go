// Package logger provides structured, level-gated logging for the proxy.
//
// Each entry is written as a single line with fixed-width columns:
//
//	2006-01-02 15:04:05.000 | MODULE       | ACTION               | LEVEL | message
//
// Levels (lowest to highest): debug, info, warn, error.
// Entries below the configured minimum level are silently dropped.
//
// Most of what this proxy logs is keyed by endpoint ("GET /v1/users/{id}")
// and carries a handful of scalar fields alongside the message (status,
// score, issue count). Fields renders those as sorted "key=value" pairs
// appended to the message instead of each call site hand-building its own
// Sprintf, so a drift alert and a forced-chaos response end up logged in
// the same shape:
//
//	log := logger.New("DISPATCH", cfg.LogLevel)
//	log.Info("forward", "POST /v1/users/{id} -> 200 [PROXY]")
//	log.Errorf("forward", "dial %s: %v", host, err)
//	log.WarnKV("drift", "schema drift detected", Fields{"endpoint": key, "score": alert.Score})
package logger

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

// Level represents a log severity.
type Level int

// Log severity constants, ordered lowest to highest.
const (
	LevelDebug Level = iota // fine-grained diagnostic output
	LevelInfo               // normal operational messages
	LevelWarn               // unexpected but recoverable conditions
	LevelError              // failures requiring attention
)

// Logger writes structured log lines for a single module.
type Logger struct {
	module string
	level  Level
	out    *log.Logger
}

// New creates a Logger for the given module, gated at the given level string.
// Unrecognized level strings default to "info".
func New(module, levelStr string) *Logger {
	return &Logger{
		module: strings.ToUpper(module),
		level:  parseLevel(levelStr),
		// No prefix or flags — we supply the full line ourselves.
		out: log.New(os.Stderr, "", 0),
	}
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(levelStr string) {
	l.level = parseLevel(levelStr)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(action, msg string) { l.write(LevelDebug, "DEBUG", action, msg) }

// Info logs at INFO level.
func (l *Logger) Info(action, msg string) { l.write(LevelInfo, "INFO ", action, msg) }

// Warn logs at WARN level.
func (l *Logger) Warn(action, msg string) { l.write(LevelWarn, "WARN ", action, msg) }

// Error logs at ERROR level.
func (l *Logger) Error(action, msg string) { l.write(LevelError, "ERROR", action, msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(action, format string, args ...any) {
	l.Debug(action, fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(action, format string, args ...any) {
	l.Info(action, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

// Fatal logs at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatal(action, msg string) {
	l.Error(action, msg)
	os.Exit(1)
}

// Fatalf logs a formatted message at ERROR level and then calls os.Exit(1).
func (l *Logger) Fatalf(action, format string, args ...any) {
	l.Fatal(action, fmt.Sprintf(format, args...))
}

// Fields carries scalar context to append to a log line. Keys are rendered
// in sorted order so a given call site always produces the same column
// layout, which matters for anyone grepping the log rather than parsing it.
type Fields map[string]any

// render turns Fields into "key=value key2=value2", sorted by key. An empty
// Fields renders to "".
func (f Fields) render() string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, f[k])
	}
	return b.String()
}

func withFields(msg string, fields Fields) string {
	if rendered := fields.render(); rendered != "" {
		return msg + " " + rendered
	}
	return msg
}

// DebugKV logs at DEBUG level with structured fields appended to msg.
func (l *Logger) DebugKV(action, msg string, fields Fields) {
	l.write(LevelDebug, "DEBUG", action, withFields(msg, fields))
}

// InfoKV logs at INFO level with structured fields appended to msg.
func (l *Logger) InfoKV(action, msg string, fields Fields) {
	l.write(LevelInfo, "INFO ", action, withFields(msg, fields))
}

// WarnKV logs at WARN level with structured fields appended to msg.
func (l *Logger) WarnKV(action, msg string, fields Fields) {
	l.write(LevelWarn, "WARN ", action, withFields(msg, fields))
}

// ErrorKV logs at ERROR level with structured fields appended to msg.
func (l *Logger) ErrorKV(action, msg string, fields Fields) {
	l.write(LevelError, "ERROR", action, withFields(msg, fields))
}

// write emits one log line if level >= l.level.
func (l *Logger) write(level Level, levelLabel, action, msg string) {
	if level < l.level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.out.Printf("%s | %-12s | %-22s | %s | %s", ts, l.module, action, levelLabel, msg)
}

// parseLevel converts a string to a Level, defaulting to LevelInfo.
func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
