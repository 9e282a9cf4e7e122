package logger

import "context"

// LoggerContext accumulates key/value attributes for a short-lived scope and
// appends them to every record logged through it. Unlike With, it does not
// rebuild the underlying handler, making it cheap to use inside loops.
type LoggerContext struct {
	log  *Logger
	args []any
}

// NewLoggerContext constructs a LoggerContext around the provided logger.
func NewLoggerContext(log *Logger) *LoggerContext {
	return &LoggerContext{log: log}
}

// Add appends key/value attributes to the context.
func (lc *LoggerContext) Add(args ...any) {
	lc.args = append(lc.args, args...)
}

// Debug logs at LevelDebug with the accumulated attributes.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.log.write(ctx, LevelDebug, 3, msg, append(lc.args, args...)...)
}

// Info logs at LevelInfo with the accumulated attributes.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.log.write(ctx, LevelInfo, 3, msg, append(lc.args, args...)...)
}

// Warn logs at LevelWarn with the accumulated attributes.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.log.write(ctx, LevelWarn, 3, msg, append(lc.args, args...)...)
}

// Error logs at LevelError with the accumulated attributes.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.log.write(ctx, LevelError, 3, msg, append(lc.args, args...)...)
}
