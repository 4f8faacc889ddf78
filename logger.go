package natstore

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with column-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithPath adds a column path field to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithRow adds a row field to the logger.
func (l *Logger) WithRow(row uint32) *Logger {
	return &Logger{
		Logger: l.Logger.With("row", row),
	}
}

// WithKind adds a value kind field to the logger.
func (l *Logger) WithKind(kind string) *Logger {
	return &Logger{
		Logger: l.Logger.With("kind", kind),
	}
}

// LogFindOrInsert logs a find-or-insert operation.
func (l *Logger) LogFindOrInsert(ctx context.Context, row uint32, dedupHit bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "find or insert failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "find or insert completed",
			"row", row,
			"dedup_hit", dedupHit,
		)
	}
}

// LogSet logs a set operation.
func (l *Logger) LogSet(ctx context.Context, row uint32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "set failed",
			"row", row,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "set completed",
			"row", row,
		)
	}
}

// LogRemove logs a remove operation. freed reports whether the value's bytes
// were released from the data file.
func (l *Logger) LogRemove(ctx context.Context, row uint32, freed bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "remove failed",
			"row", row,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "remove completed",
			"row", row,
			"freed", freed,
		)
	}
}

// LogOpen logs opening a column.
func (l *Logger) LogOpen(rows int, err error) {
	if err != nil {
		l.Error("open failed",
			"error", err,
		)
	} else {
		l.Info("column opened",
			"rows", rows,
		)
	}
}

// LogClose logs closing a column.
func (l *Logger) LogClose(err error) {
	if err != nil {
		l.Error("close failed",
			"error", err,
		)
	} else {
		l.Info("column closed")
	}
}
