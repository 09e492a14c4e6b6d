package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/surface_downloader/internal/dispatcher"
	"github.com/italolelis/surface_downloader/internal/logctx"
	"github.com/italolelis/surface_downloader/internal/notifier"
	"github.com/italolelis/surface_downloader/internal/shell"
	"github.com/italolelis/surface_downloader/internal/storage"
	"github.com/italolelis/surface_downloader/internal/surface"
	"github.com/italolelis/surface_downloader/internal/transfer"
)

const maxBodySize = 1 << 20

// SurfaceFactory builds a secondary surface bound to a session.
type SurfaceFactory func(ctx context.Context, id, sessionID string) (surface.Surface, error)

type DownloadsHandler struct {
	username string
	password string

	dispatcher *dispatcher.Dispatcher
	history    storage.HistoryRepository
	opener     *shell.Opener
	hub        *notifier.Hub
	newSurface SurfaceFactory

	surfacesMu sync.Mutex
	surfaces   map[string]surface.Surface
}

type downloadRequest struct {
	URL       string `json:"url"`
	NameGuess string `json:"nameGuess"`
}

type openFileRequest struct {
	Path string `json:"path"`
}

type surfaceRequest struct {
	ID      string `json:"id"`
	Session string `json:"session"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewDownloadsHandler creates the caller-facing API. Basic auth is enforced only when username is set.
func NewDownloadsHandler(
	username, password string,
	d *dispatcher.Dispatcher,
	history storage.HistoryRepository,
	opener *shell.Opener,
	hub *notifier.Hub,
	newSurface SurfaceFactory,
) *DownloadsHandler {
	return &DownloadsHandler{
		username:   username,
		password:   password,
		dispatcher: d,
		history:    history,
		opener:     opener,
		hub:        hub,
		newSurface: newSurface,
		surfaces:   make(map[string]surface.Surface),
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Route("/downloads", func(r chi.Router) {
		r.Get("/", h.HandleListDownloads)
		r.Post("/", h.HandleRequestDownload)
		r.Post("/{id}/pause", h.handleControl(h.dispatcher.Pause))
		r.Post("/{id}/resume", h.handleControl(h.dispatcher.Resume))
		r.Post("/{id}/cancel", h.handleControl(h.dispatcher.Cancel))
	})

	r.Route("/history", func(r chi.Router) {
		r.Get("/", h.HandleListHistory)
		r.Delete("/", h.HandleClearHistory)
		r.Delete("/{id}", h.HandleDeleteHistoryEntry)
	})

	r.Post("/folder/open", h.HandleOpenFolder)
	r.Post("/files/open", h.HandleOpenFile)

	r.Post("/surfaces", h.HandleAttachSurface)
	r.Delete("/surfaces/{id}", h.HandleDetachSurface)

	r.Get("/events", h.HandleEvents)

	return r
}

// HandleRequestDownload authorizes and starts a caller-requested download.
func (h *DownloadsHandler) HandleRequestDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.dispatcher.HandleExplicitRequest(r.Context(), req.URL, req.NameGuess)
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusAccepted, result)
}

func (h *DownloadsHandler) HandleListDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.dispatcher.Active())
}

func (h *DownloadsHandler) handleControl(fn func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *DownloadsHandler) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.history.List(r.Context())
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, history)
}

func (h *DownloadsHandler) HandleDeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	remaining, err := h.history.RemoveByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, remaining)
}

func (h *DownloadsHandler) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	empty, err := h.history.Clear(r.Context())
	if err != nil {
		writeError(w, r, err)

		return
	}

	writeJSON(w, r, http.StatusOK, empty)
}

func (h *DownloadsHandler) HandleOpenFolder(w http.ResponseWriter, r *http.Request) {
	if err := h.opener.OpenFolder(r.Context()); err != nil {
		writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadsHandler) HandleOpenFile(w http.ResponseWriter, r *http.Request) {
	var req openFileRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.opener.OpenFile(r.Context(), req.Path); err != nil {
		writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleAttachSurface creates a secondary surface and makes it the target of explicit requests.
func (h *DownloadsHandler) HandleAttachSurface(w http.ResponseWriter, r *http.Request) {
	var req surfaceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Session = strings.TrimSpace(req.Session)

	if req.ID == "" || req.Session == "" {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "id and session are required"})

		return
	}

	if _, exists := h.dispatcher.Registry().Get(req.ID); exists {
		writeJSON(w, r, http.StatusConflict, errorResponse{Error: "surface " + req.ID + " already attached"})

		return
	}

	s, err := h.newSurface(r.Context(), req.ID, req.Session)
	if err != nil {
		writeError(w, r, err)

		return
	}

	h.surfacesMu.Lock()
	h.surfaces[req.ID] = s
	h.surfacesMu.Unlock()

	h.dispatcher.AttachSurface(r.Context(), s)

	writeJSON(w, r, http.StatusCreated, surfaceRequest{ID: s.ID(), Session: s.SessionID()})
}

// HandleDetachSurface removes a secondary surface. Transfers it already started keep running.
func (h *DownloadsHandler) HandleDetachSurface(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !h.dispatcher.DetachSurface(id) {
		writeError(w, r, &transfer.NotFoundError{Kind: "surface", ID: id})

		return
	}

	h.surfacesMu.Lock()
	s, ok := h.surfaces[id]
	delete(h.surfaces, id)
	h.surfacesMu.Unlock()

	if d, destroyable := s.(interface{ Destroy() }); ok && destroyable {
		d.Destroy()
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.username == "" {
			next.ServeHTTP(w, r)

			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="surface_downloader"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Debug("failed to decode request", "err", err)
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})

		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)

	logger := logctx.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
	} else {
		logger.Debug("request rejected", "status", status, "err", err)
	}

	writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

func errorStatus(err error) int {
	var malformedErr *transfer.MalformedURLError
	if errors.As(err, &malformedErr) {
		return http.StatusBadRequest
	}

	var pathErr *shell.PathError
	if errors.As(err, &pathErr) {
		return http.StatusBadRequest
	}

	var notFoundErr *transfer.NotFoundError
	if errors.As(err, &notFoundErr) {
		return http.StatusNotFound
	}

	var stateErr *transfer.StateError
	if errors.As(err, &stateErr) {
		return http.StatusConflict
	}

	var surfaceErr *transfer.SurfaceError
	if errors.As(err, &surfaceErr) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}
