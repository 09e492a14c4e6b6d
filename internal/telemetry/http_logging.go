package telemetry

import (
	"net/http"
	"time"

	"github.com/italolelis/surface_downloader/internal/logctx"
)

// quietPaths are scraped often enough that logging them at info would drown everything else.
var quietPaths = map[string]bool{
	"/metrics": true,
}

// HTTPLogging logs every request once it completes. Server errors log at error, client errors at
// warn and everything else at info, except quietPaths which log at debug.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()

		rec := newStatusRecorder(w)

		next.ServeHTTP(rec, r)

		logger := logctx.LoggerFromContext(ctx).With(
			"method", r.Method,
			"route", routePattern(r),
			"status", rec.status,
			"bytes", rec.written,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		if rec.hijacked {
			logger = logger.With("hijacked", true)
		}

		switch {
		case rec.status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "request served")
		case rec.status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "request served")
		case quietPaths[r.URL.Path]:
			logger.DebugContext(ctx, "request served")
		default:
			logger.InfoContext(ctx, "request served")
		}
	})
}
