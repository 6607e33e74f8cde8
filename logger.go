package bcache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with cache-specific context.
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

// NewJSONLogger creates a Logger that writes JSON-formatted logs to w.
// A nil w means stderr.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{
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
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// WithDevice adds a device field to the logger.
func (l *Logger) WithDevice(dev DeviceID) *Logger {
	return &Logger{
		Logger: l.Logger.With("device", dev),
	}
}

// WithRunID tags every record with a run identifier.
func (l *Logger) WithRunID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("run_id", id),
	}
}

// LogAcquire logs a completed acquire.
func (l *Logger) LogAcquire(ctx context.Context, key Key, hit bool, slot int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "acquire failed",
			"key", key.String(),
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "acquire completed",
		"key", key.String(),
		"hit", hit,
		"slot", slot,
	)
}

// LogEviction logs a slot being reassigned from victim to key.
func (l *Logger) LogEviction(ctx context.Context, slot int, victim, key Key) {
	l.DebugContext(ctx, "slot evicted",
		"slot", slot,
		"victim", victim.String(),
		"key", key.String(),
	)
}

// LogCapacityExhausted logs an acquire that found every slot referenced.
func (l *Logger) LogCapacityExhausted(ctx context.Context, key Key, slots int) {
	l.ErrorContext(ctx, "no unreferenced buffers",
		"key", key.String(),
		"slots", slots,
	)
}

// LogDeviceError logs a failed device transfer.
func (l *Logger) LogDeviceError(ctx context.Context, op string, key Key, err error) {
	l.ErrorContext(ctx, "device "+op+" failed",
		"key", key.String(),
		"error", err,
	)
}

// LogPersist logs a write-through.
func (l *Logger) LogPersist(ctx context.Context, key Key, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "persist failed",
			"key", key.String(),
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "persist completed",
		"key", key.String(),
		"duration", d,
	)
}

// LogPrefetch logs the outcome of a prefetch batch.
func (l *Logger) LogPrefetch(ctx context.Context, dev DeviceID, count int, err error) {
	if err != nil {
		l.WarnContext(ctx, "prefetch failed",
			"device", dev,
			"count", count,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "prefetch completed",
		"device", dev,
		"count", count,
	)
}
