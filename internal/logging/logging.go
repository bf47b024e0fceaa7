// Package logging provides slog based logging for the adapter
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Custom logging levels (compatible with slog)
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug // -4
	LevelInfo  = slog.LevelInfo  // 0
	LevelWarn  = slog.LevelWarn  // 4
	LevelError = slog.LevelError // 8
)

var levelNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

// LoggerFactory is a factory for creating logger instances.
// Loggers created before SetLevel keep observing the new level.
type LoggerFactory struct {
	writer io.Writer
	level  *slog.LevelVar
	json   bool
}

// NewLoggerFactory creates a new factory writing text records to stderr at info level
func NewLoggerFactory() *LoggerFactory {
	return NewLoggerFactoryWithConfig(os.Stderr, LevelInfo)
}

// NewLoggerFactoryWithConfig creates a new factory with custom configuration
func NewLoggerFactoryWithConfig(w io.Writer, level slog.Level) *LoggerFactory {
	if w == nil {
		w = os.Stderr
	}
	lv := new(slog.LevelVar)
	lv.Set(level)

	return &LoggerFactory{
		writer: w,
		level:  lv,
	}
}

// UseJSON switches the factory to JSON records
func (f *LoggerFactory) UseJSON(enabled bool) *LoggerFactory {
	f.json = enabled
	return f
}

// SetLevel sets the logging level for the factory
func (f *LoggerFactory) SetLevel(level slog.Level) {
	f.level.Set(level)
}

// Level returns the current level
func (f *LoggerFactory) Level() slog.Level {
	return f.level.Level()
}

// CreateLogger creates a new logger tagged with the component name
func (f *LoggerFactory) CreateLogger(name string) *slog.Logger {
	options := &slog.HandlerOptions{
		Level:       f.level,
		ReplaceAttr: customizeLogLevels,
	}
	var handler slog.Handler
	if f.json {
		handler = slog.NewJSONHandler(f.writer, options)
	} else {
		handler = slog.NewTextHandler(f.writer, options)
	}
	return slog.New(handler).With("component", name)
}

// ParseLevel converts a configuration string into a level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Discard returns a logger that drops every record
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelError + 1}))
}

func customizeLogLevels(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		if name, ok := levelNames[level]; ok {
			return slog.Attr{Key: a.Key, Value: slog.StringValue(name)}
		}
	}
	return a
}

// Trace logs at trace level
func Trace(logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Log(context.TODO(), LevelTrace, msg, args...)
}

// Debug logs at debug level
func Debug(logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Debug(msg, args...)
}

// Info logs at info level
func Info(logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Info(msg, args...)
}

// Warn logs at warn level
func Warn(logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Warn(msg, args...)
}

// Error logs at error level
func Error(logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Error(msg, args...)
}
