// Package logging provides structured logging using Go's slog package.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	// CorrelationIDKey is the context key for identification correlation IDs.
	CorrelationIDKey ContextKey = "correlation_id"
)

var (
	// defaultLogger is the global logger instance.
	defaultLogger *slog.Logger
)

func init() {
	// Initialize with a default logger (JSON format, Info level)
	InitLogger(LevelInfo, FormatJSON)
}

// Level represents a log level.
type Level int

const (
	// LevelDebug is for debug messages.
	LevelDebug Level = iota
	// LevelInfo is for informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// Format represents a log output format.
type Format int

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON Format = iota
	// FormatText outputs logs in human-readable text format.
	FormatText
)

// ParseLevel converts a configuration string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// ParseFormat converts a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "text":
		return FormatText, nil
	}
	return FormatJSON, fmt.Errorf("unknown log format %q", s)
}

// InitLogger initializes the global logger with the specified level and
// format, writing to stderr so that results on stdout stay machine readable.
func InitLogger(level Level, format Format) {
	InitLoggerWithWriter(os.Stderr, level, format)
}

// InitLoggerWithWriter initializes the global logger writing to w.
func InitLoggerWithWriter(w io.Writer, level Level, format Format) {
	var slogLevel slog.Level
	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Customize timestamp format
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// GetCorrelationID retrieves the correlation ID from the context.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// LoggerFromContext returns a logger with context values attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger := defaultLogger
	if id := GetCorrelationID(ctx); id != "" {
		logger = logger.With("correlation_id", id)
	}
	return logger
}

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// DebugContext logs a debug message with context.
func DebugContext(ctx context.Context, msg string, args ...any) {
	LoggerFromContext(ctx).Debug(msg, args...)
}

// CatalogLoaded logs a successfully built signature catalog.
func CatalogLoaded(source, version string, formats, signatures int, duration time.Duration, args ...any) {
	allArgs := []any{
		"source", source,
		"version", version,
		"formats", formats,
		"signatures", signatures,
		"duration_ms", duration.Milliseconds(),
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Info("catalog_loaded", allArgs...)
}

// SignatureWarning logs a signature that loads but deserves attention,
// such as one that can only be found by a full unanchored scan.
func SignatureWarning(signatureID, message string, args ...any) {
	allArgs := []any{
		"signature_id", signatureID,
		"message", message,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Warn("signature_warning", allArgs...)
}

// IdentificationCompleted logs the outcome of one resource identification.
func IdentificationCompleted(ctx context.Context, resource string, matches int, duration time.Duration, args ...any) {
	allArgs := []any{
		"resource", resource,
		"matches", matches,
		"duration_ms", duration.Milliseconds(),
	}
	allArgs = append(allArgs, args...)
	LoggerFromContext(ctx).Info("identification_completed", allArgs...)
}

// IdentificationFailed logs a resource whose identification returned an error.
func IdentificationFailed(ctx context.Context, resource string, err error, args ...any) {
	allArgs := []any{
		"resource", resource,
		"error", err.Error(),
	}
	allArgs = append(allArgs, args...)
	LoggerFromContext(ctx).Error("identification_failed", allArgs...)
}

// SchedulerStarted logs scheduler startup information.
func SchedulerStarted(coreWorkers, maxWorkers, queueCapacity int, args ...any) {
	allArgs := []any{
		"core_workers", coreWorkers,
		"max_workers", maxWorkers,
		"queue_capacity", queueCapacity,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Info("scheduler_started", allArgs...)
}

// SchedulerShutdown logs scheduler shutdown with final task counts.
func SchedulerShutdown(completed, failed int64, args ...any) {
	allArgs := []any{
		"completed", completed,
		"failed", failed,
	}
	allArgs = append(allArgs, args...)
	defaultLogger.Info("scheduler_shutdown", allArgs...)
}
