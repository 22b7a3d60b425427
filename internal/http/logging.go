package http

import (
	"context"
	"log/slog"

	"github.com/example/roombooking/internal/logging"
)

// handlerLogger scopes the request logger, falling back to the handler's own,
// to a single handler operation.
func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	pairs := make([]any, 0, 4+len(attrs))
	pairs = append(pairs, "handler", handlerName)
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	return logging.FromContextOr(ctx, fallback).With(append(pairs, attrs...)...)
}
