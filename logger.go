package vecrag

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with vecrag-specific context.
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
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithDocumentID adds a document_id field to the logger.
func (l *Logger) WithDocumentID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("document_id", id),
	}
}

// WithK adds a k (result count) field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{
		Logger: l.Logger.With("k", k),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogIngest logs an ingest operation.
func (l *Logger) LogIngest(ctx context.Context, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ingest failed",
			"count", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "ingest completed",
			"count", count,
		)
	}
}

// LogRetrieve logs a retrieval operation.
func (l *Logger) LogRetrieve(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "retrieve failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "retrieve completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, documentID string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"document_id", documentID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"document_id", documentID,
			"count", count,
		)
	}
}

// LogCompaction logs a compaction operation.
func (l *Logger) LogCompaction(ctx context.Context, reclaimed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "compaction completed",
			"reclaimed", reclaimed,
		)
	}
}

// LogSnapshotSave logs a snapshot save.
func (l *Logger) LogSnapshotSave(ctx context.Context, sequence uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot save failed",
			"sequence", sequence,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"sequence", sequence,
		)
	}
}

// LogSnapshotLoad logs the startup load, including degraded starts
// where persisted state existed but could not be read.
func (l *Logger) LogSnapshotLoad(ctx context.Context, source string, degraded bool, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "snapshot load failed",
			"source", source,
			"error", err,
		)
	case degraded:
		l.WarnContext(ctx, "snapshot load degraded to empty state",
			"source", source,
		)
	default:
		l.InfoContext(ctx, "snapshot loaded",
			"source", source,
		)
	}
}
