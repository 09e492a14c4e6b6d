package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/surface_downloader/internal/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry

	ctx := context.Background()

	assert.NotPanics(t, func() {
		tel.RecordHTTPRequest("GET", "/api/history", "2xx", time.Millisecond)
		tel.IncrementHTTPInFlight()
		tel.DecrementHTTPInFlight()
		tel.RecordIntent(ctx, "unauthorized")
		tel.RecordGrantIssued(ctx, "url")
		tel.RecordGrantConsumed(ctx, "global")
		tel.RecordDownload(ctx, "completed", time.Second)
		tel.IncrementActiveDownloads(ctx)
		tel.DecrementActiveDownloads(ctx)
		tel.RecordHistoryOperation(ctx, "prepend", "success", time.Millisecond)
		tel.RecordSystemError("history", "write")
	})

	assert.NoError(t, tel.Shutdown(ctx))
	assert.NotNil(t, tel.Tracer())
}

func TestDisabledTelemetry(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cause := errors.New("boom")
	err = tel.InstrumentHistoryOperation(context.Background(), "list", func(context.Context) error {
		return cause
	})
	assert.ErrorIs(t, err, cause)
}

func TestInstrumentOperationPropagatesResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "surface_downloader-test", ServiceVersion: "test"})
	require.NoError(t, err)

	defer tel.Shutdown(context.Background())

	called := false
	err = tel.InstrumentSurfaceRequest(ctx, "primary", func(context.Context) error {
		called = true

		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	cause := errors.New("write failed")
	err = tel.InstrumentHistoryOperation(ctx, "prepend", func(context.Context) error { return cause })
	assert.ErrorIs(t, err, cause)
}

func TestRequestID(t *testing.T) {
	var seen string

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generates", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("replaces malformed upstream", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		req.Header.Set(RequestIDHeader, "bad id\n")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.NotEqual(t, "bad id\n", seen)
		assert.Len(t, seen, 36)
	})

	t.Run("reuses upstream", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		req.Header.Set(RequestIDHeader, "abc-123")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	})
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{http.StatusSwitchingProtocols, "1xx"},
		{http.StatusOK, "2xx"},
		{http.StatusFound, "3xx"},
		{http.StatusForbidden, "4xx"},
		{http.StatusBadGateway, "5xx"},
		{0, "unknown"},
		{600, "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusClass(tt.code))
	}
}

func TestHTTPMiddlewareCapturesStatus(t *testing.T) {
	mw := NewHTTPMiddleware(&Telemetry{})

	handler := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/downloads", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestStatusRecorder(t *testing.T) {
	t.Run("implicit ok and size", func(t *testing.T) {
		rec := newStatusRecorder(httptest.NewRecorder())

		_, err := rec.Write([]byte("hello"))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, rec.status)
		assert.Equal(t, int64(5), rec.written)
	})

	t.Run("first status wins", func(t *testing.T) {
		rec := newStatusRecorder(httptest.NewRecorder())

		rec.WriteHeader(http.StatusNotFound)
		rec.WriteHeader(http.StatusOK)

		assert.Equal(t, http.StatusNotFound, rec.status)
	})

	t.Run("nested wrappers share state", func(t *testing.T) {
		outer := newStatusRecorder(httptest.NewRecorder())
		inner := newStatusRecorder(outer)

		inner.WriteHeader(http.StatusConflict)

		assert.Same(t, outer, inner)
		assert.Equal(t, http.StatusConflict, outer.status)
	})

	t.Run("hijack unsupported", func(t *testing.T) {
		rec := newStatusRecorder(httptest.NewRecorder())

		_, _, err := rec.Hijack()
		assert.Error(t, err)
		assert.False(t, rec.hijacked)
	})
}

func TestHTTPLoggingRecordsRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(logctx.WithLogger(req.Context(), logger)))
		})
	})
	r.Use(HTTPLogging)
	r.Post("/downloads/{id}/pause", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/downloads/1760886000000/pause", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "/downloads/{id}/pause", entry["route"])
	assert.Equal(t, float64(http.StatusConflict), entry["status"])
}
