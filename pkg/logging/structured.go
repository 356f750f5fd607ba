// Package logging provides the structured logger for generation runs,
// wrapping slog for context-style call sites and zap for the typed
// fields verbose mode emits per iteration.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger pairs a slog and a zap logger over the same sink.
type Logger struct {
	slog *slog.Logger
	zap  *zap.Logger
}

// Config holds logging configuration. Level follows the user-visible
// vocabulary: quiet, normal, verbose, debug.
type Config struct {
	Level     string
	Format    string // "json" or "console"
	Output    string // "stdout" or "stderr"
	AddCaller bool
}

// DefaultConfig is console logging at normal verbosity.
func DefaultConfig() Config {
	return Config{Level: "normal", Format: "console", Output: "stderr"}
}

// New creates the structured logger.
func New(config Config) (*Logger, error) {
	if config.Format == "" {
		config.Format = "console"
	}
	if config.Output == "" {
		config.Output = "stderr"
	}

	var sink io.Writer = os.Stderr
	if config.Output == "stdout" {
		sink = os.Stdout
	}
	slogHandler := slog.NewTextHandler(sink, &slog.HandlerOptions{
		Level: slogLevel(config.Level),
	})

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zapLevel(config.Level)
	zapConfig.Encoding = config.Format
	zapConfig.OutputPaths = []string{config.Output}
	zapConfig.ErrorOutputPaths = []string{config.Output}
	zapConfig.DisableCaller = !config.AddCaller
	zapConfig.DisableStacktrace = true
	if config.Format == "console" {
		zapConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
	}
	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{slog: slog.New(slogHandler), zap: zapLogger}, nil
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{
		slog: slog.New(slog.NewTextHandler(io.Discard, nil)),
		zap:  zap.NewNop(),
	}
}

// slogLevel maps the user vocabulary onto slog levels: quiet shows
// errors only, normal shows info, verbose and debug both show debug.
func slogLevel(level string) slog.Level {
	switch level {
	case "quiet":
		return slog.LevelError
	case "verbose", "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func zapLevel(level string) zap.AtomicLevel {
	switch level {
	case "quiet":
		return zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	case "verbose", "debug":
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	default:
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
}

// Zap exposes the underlying zap logger for components that log typed
// fields on hot paths.
func (l *Logger) Zap() *zap.Logger { return l.zap }

// With attaches run-scoped fields, e.g. the run id.
func (l *Logger) With(fields map[string]any) *Logger {
	slogAttrs := make([]any, 0, len(fields)*2)
	zapFields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		slogAttrs = append(slogAttrs, key, value)
		zapFields = append(zapFields, zap.Any(key, value))
	}
	return &Logger{slog: l.slog.With(slogAttrs...), zap: l.zap.With(zapFields...)}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
	l.zap.Debug(msg, toZapFields(args)...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
	l.zap.Info(msg, toZapFields(args)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
	l.zap.Warn(msg, toZapFields(args)...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
	l.zap.Error(msg, toZapFields(args)...)
}

func toZapFields(args []any) []zap.Field {
	if len(args) == 0 {
		return nil
	}
	fields := make([]zap.Field, 0, len(args)/2)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			fields = append(fields, zap.Any(key, args[i+1]))
		}
	}
	return fields
}

// LogIterationDelta emits the verbose per-iteration archive delta.
func (l *Logger) LogIterationDelta(iteration, covered, total int, elapsed time.Duration) {
	l.Debug("iteration",
		"iteration", iteration,
		"covered", covered,
		"total", total,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}
