package log

import (
	"context"
	"log/slog"
	"net/http"

	"presupuesto/internal/core"
)

type ContextKey string

const LoggerContextKey ContextKey = "logger"

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext returns the request-scoped logger, or one over slog.Default.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{Logger: slog.Default(), component: "unknown"}
}

// StructuredLogger emits the fixed-shape records that dashboards key on:
// request completion, candidate failures and run summaries.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

func (sl *StructuredLogger) log(ctx context.Context, level slog.Level, msg string, fields LogFields) {
	if _, ok := fields[FieldComponent]; !ok {
		fields = fields.WithComponent(sl.logger.component)
	}
	sl.logger.Logger.Log(ctx, level, msg, fields.ToSlice()...)
}

// LogHTTPEnd logs the completion of an HTTP request. 4xx is a warning, 5xx an
// error.
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = slog.LevelWarn
	} else if statusCode >= 500 {
		level = slog.LevelError
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")).
		WithHTTPResponse(statusCode, durationMs, statusCode < 400).
		WithClientIP(clientIP).
		WithComponent(ComponentHTTP)

	sl.log(ctx, level, "HTTP request completed", fields)
}

// LogCandidateFailure records a source that was abandoned in favour of the
// next candidate.
func (sl *StructuredLogger) LogCandidateFailure(ctx context.Context, source, location string, err error) {
	sl.log(ctx, slog.LevelWarn, "Candidate source failed, trying next",
		NewFields().WithSource(source, location).WithError(err))
}

// LogRunEnd summarises a live computation that produced a result.
func (sl *StructuredLogger) LogRunEnd(ctx context.Context, msg, source string, entries int, stats core.ParseStats) {
	fields := NewFields().WithSource(source, "").WithStats(stats)
	fields[FieldCategories] = entries

	level := slog.LevelInfo
	if !stats.Clean() {
		level = slog.LevelWarn
	}
	sl.log(ctx, level, msg, fields)
}
