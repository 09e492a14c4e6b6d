package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey     contextKey = "logger"
	downloadIDKey contextKey = "download_id"
	surfaceIDKey  contextKey = "surface_id"
)

// correlationKeys are the context values TraceHandler copies onto every record, in order.
var correlationKeys = []contextKey{downloadIDKey, surfaceIDKey}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// WithDownloadID tags the context with the id of the download being handled.
func WithDownloadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, downloadIDKey, id)
}

func DownloadIDFromContext(ctx context.Context) string {
	return stringValue(ctx, downloadIDKey)
}

// WithSurfaceID tags the context with the surface a transfer came from.
func WithSurfaceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, surfaceIDKey, id)
}

func SurfaceIDFromContext(ctx context.Context) string {
	return stringValue(ctx, surfaceIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)

	return v
}
