// Package downloader implements a content surface that fetches URLs over HTTP and writes the
// transfers it is allowed to keep to disk.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/surface_downloader/internal/downloader/progress"
	"github.com/italolelis/surface_downloader/internal/lifecycle"
	"github.com/italolelis/surface_downloader/internal/logctx"
	"github.com/italolelis/surface_downloader/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	dirPerm      = 0755
	maxRedirects = 10

	progressInterval = int64(1024 * 1024) // 1MB
)

// IntentSink decides what happens to transfers the surface observes.
type IntentSink interface {
	Observe(ctx context.Context, intent transfer.Intent, item transfer.Item) (*lifecycle.Tracker, error)
	ObserveHeaders(rawURL string, header http.Header)
}

// Surface is an HTTP content surface. Every response it receives becomes a transfer-intent; only
// the ones the sink accepts are streamed to disk.
type Surface struct {
	id        string
	kind      transfer.SurfaceKind
	sessionID string
	sink      IntentSink
	client    *http.Client

	destroyed atomic.Bool
	wg        sync.WaitGroup
}

type Option func(*Surface)

// WithTransport replaces the base round tripper. It is still wrapped with otelhttp.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Surface) {
		s.client.Transport = otelhttp.NewTransport(rt)
	}
}

func NewSurface(id string, kind transfer.SurfaceKind, sessionID string, jar http.CookieJar, sink IntentSink, opts ...Option) *Surface {
	s := &Surface{
		id:        id,
		kind:      kind,
		sessionID: sessionID,
		sink:      sink,
	}

	s.client = &http.Client{
		Transport:     otelhttp.NewTransport(http.DefaultTransport),
		Jar:           jar,
		CheckRedirect: s.checkRedirect,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Surface) ID() string {
	return s.id
}

func (s *Surface) Kind() transfer.SurfaceKind {
	return s.kind
}

func (s *Surface) SessionID() string {
	return s.sessionID
}

func (s *Surface) Destroyed() bool {
	return s.destroyed.Load()
}

// Destroy stops the surface from starting new transfers. Streams already running finish.
func (s *Surface) Destroy() {
	s.destroyed.Store(true)
}

// Wait blocks until every stream started by the surface has finished.
func (s *Surface) Wait() {
	s.wg.Wait()
}

// DownloadURL requests rawURL and offers the response to the sink. It returns once the sink has
// decided; an accepted transfer keeps streaming in the background.
func (s *Surface) DownloadURL(ctx context.Context, rawURL string) error {
	if s.Destroyed() {
		return &transfer.SurfaceError{SurfaceID: s.id, Reason: "surface destroyed"}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return &transfer.MalformedURLError{URL: rawURL, Err: err}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &transfer.MalformedURLError{URL: rawURL}
	}

	ctx = logctx.WithSurfaceID(ctx, s.id)
	logger := logctx.LoggerFromContext(ctx).With("url", rawURL)

	// the transfer outlives the caller's request
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	chain := &redirectChain{urls: []string{rawURL}}

	req, err := http.NewRequestWithContext(withRedirectChain(ctx, chain), http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()

		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()

		return fmt.Errorf("failed to request %s: %w", rawURL, err)
	}

	s.sink.ObserveHeaders(resp.Request.URL.String(), resp.Header)

	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		cancel()

		return fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, rawURL)
	}

	item := newItem(rawURL, chain.snapshot(), resp, cancel)
	intent := transfer.NewIntent(item, s.id, s.kind, s.sessionID)

	tracker, err := s.sink.Observe(ctx, intent, item)
	if err != nil {
		logger.DebugContext(ctx, "transfer not accepted", "err", err)
		resp.Body.Close()
		item.Cancel()

		return nil
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.stream(logctx.WithDownloadID(ctx, tracker.ID()), item, tracker)
	}()

	return nil
}

func (s *Surface) stream(ctx context.Context, item *Item, tracker *lifecycle.Tracker) {
	defer item.resp.Body.Close()
	defer item.cancel()

	// terminal events must not be dropped because the transfer was cancelled
	doneCtx := context.WithoutCancel(ctx)
	logger := logctx.LoggerFromContext(ctx)
	targetPath := item.SavePath()

	written, err := s.writeFile(ctx, item, tracker, targetPath, logger)
	if err != nil {
		if item.Cancelled() {
			logger.InfoContext(ctx, "download cancelled", "target", targetPath)
		} else {
			logger.ErrorContext(ctx, "download interrupted", "target", targetPath, "err", err)
			tracker.OnInterrupted()
		}

		tracker.OnTerminal(doneCtx, false)

		return
	}

	logger.InfoContext(ctx, "downloaded and saved file", "target", targetPath, "file_size", humanize.Bytes(uint64(written)))
	tracker.OnTerminal(doneCtx, true)
}

// writeFile streams the body to a .part file next to targetPath and renames it on success.
func (s *Surface) writeFile(ctx context.Context, item *Item, tracker *lifecycle.Tracker, targetPath string, logger *slog.Logger) (int64, error) {
	if err := ensureTargetDir(targetPath, logger); err != nil {
		return 0, err
	}

	partPath := targetPath + ".part"

	out, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create target file: %w", err)
	}

	if item.total > 0 {
		logger.InfoContext(ctx, "downloading file", "file_path", targetPath, "file_size", humanize.Bytes(uint64(item.total)))
	} else {
		logger.InfoContext(ctx, "downloading file", "file_path", targetPath)
	}

	progressCb := func(written int64, total int64) {
		tracker.OnProgress(written, total)

		if total > 0 {
			logger.DebugContext(ctx, "download progress",
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", lifecycle.FormatPercent(written, total))
		} else {
			logger.DebugContext(ctx, "download progress", "downloaded", humanize.Bytes(uint64(written)))
		}
	}

	pr := progress.NewReader(progress.NewGatedReader(ctx, item.resp.Body, item.gate), item.total, progressInterval, progressCb)

	_, copyErr := io.Copy(out, pr)
	closeErr := out.Close()

	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(partPath)

		return pr.Written(), fmt.Errorf("failed to copy file: %w", err)
	}

	if err := os.Rename(partPath, targetPath); err != nil {
		os.Remove(partPath)

		return pr.Written(), fmt.Errorf("failed to move file into place: %w", err)
	}

	return pr.Written(), nil
}

func (s *Surface) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}

	if req.Response != nil {
		s.sink.ObserveHeaders(via[len(via)-1].URL.String(), req.Response.Header)
	}

	if chain := redirectChainFromContext(req.Context()); chain != nil {
		chain.add(req.URL.String())
	}

	return nil
}

func ensureTargetDir(targetPath string, logger *slog.Logger) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		logger.Error("failed to create target directory", "dir", dir, "err", err)

		return fmt.Errorf("failed to create target directory: %w", err)
	}

	return nil
}
