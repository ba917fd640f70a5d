// Package logctx carries a *slog.Logger through context so request-scoped
// attributes (file name, policy, request id) follow the call chain without
// threading a logger parameter everywhere.
package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const loggerKey contextKey = "logger"

// WithLogger stores logger in ctx for retrieval by LoggerFromContext.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the logger stored by WithLogger. Callers that
// never attached one get slog.Default, so the accessor is always safe.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey).(*slog.Logger)
	if !ok || logger == nil {
		return slog.Default()
	}

	return logger
}
