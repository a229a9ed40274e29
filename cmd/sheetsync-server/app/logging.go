package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stacklok/sheetsync-server/internal/config"
)

const (
	defaultLogMaxSizeMB  = 100
	defaultLogMaxBackups = 3
)

// ParseLogLevel maps a level name to a slog.Level. An empty name is info.
func ParseLogLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// traceHandler wraps an slog.Handler to inject OpenTelemetry trace_id and
// span_id into every log record.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// NewLogHandler returns a JSON handler on w that carries trace context
func NewLogHandler(w io.Writer, level slog.Level) slog.Handler {
	return &traceHandler{Handler: slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})}
}

// currentLevel returns the lowest level the default logger emits
func currentLevel() slog.Level {
	for _, l := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if slog.Default().Enabled(context.Background(), l) {
			return l
		}
	}
	return slog.LevelError
}

// configureLogging applies the logging section of the config file on top of
// the environment level. It returns a closer for the rotated log file, if any.
func configureLogging(cfg config.LoggingConfig) io.Closer {
	level := currentLevel()
	if cfg.Level != "" {
		parsed, ok := ParseLogLevel(cfg.Level)
		if !ok {
			slog.Warn("Invalid logging.level, keeping current level", "value", cfg.Level)
		} else {
			level = parsed
		}
	}

	if cfg.File == "" {
		slog.SetDefault(slog.New(NewLogHandler(os.Stderr, level)))
		return io.NopCloser(nil)
	}

	rotated := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    defaultLogMaxSizeMB,
		MaxBackups: defaultLogMaxBackups,
		Compress:   true,
	}
	if cfg.MaxSizeMB > 0 {
		rotated.MaxSize = cfg.MaxSizeMB
	}
	if cfg.MaxBackups > 0 {
		rotated.MaxBackups = cfg.MaxBackups
	}

	slog.SetDefault(slog.New(NewLogHandler(io.MultiWriter(os.Stderr, rotated), level)))
	slog.Info("Writing logs to file", "file", cfg.File)
	return rotated
}
