package logging

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

// prevents collisions when adding new context keys
const loggerKey ctxKey = iota

var (
	defaultLogger     *zap.Logger
	defaultLoggerOnce sync.Once
)

// NewLogger builds a zap logger from ENV / LOG_LEVEL.
func NewLogger() *zap.Logger {
	env := os.Getenv("ENV")

	var config zap.Config

	if env == "dev" || env == "development" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.DisableCaller = false
	}

	//adjustable log level so it can change between restarts
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logLevel)); err == nil {
			config.Level = zap.NewAtomicLevelAt(level)
		}
	}

	logger, err := config.Build(
		zap.AddCallerSkip(1),
	)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	return logger
}

// Singleton logger
func DefaultLogger() *zap.Logger {
	defaultLoggerOnce.Do(func() {
		defaultLogger = NewLogger()
	})
	return defaultLogger
}

// attach a logger to context
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, falling back to the default.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return DefaultLogger()
	}

	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return DefaultLogger()
}

func L(ctx context.Context) *zap.Logger {
	return FromContext(ctx)
}

// WithFields adds structured fields to the logger in context.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	logger := FromContext(ctx).With(fields...)
	return WithLogger(ctx, logger)
}
