package downloader_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/italolelis/surface_downloader/internal/dispatcher"
	"github.com/italolelis/surface_downloader/internal/downloader"
	"github.com/italolelis/surface_downloader/internal/filename"
	"github.com/italolelis/surface_downloader/internal/lifecycle"
	"github.com/italolelis/surface_downloader/internal/storage/jsonfile"
	"github.com/italolelis/surface_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const body = "ID3-fake-audio-payload"

type harness struct {
	dispatcher *dispatcher.Dispatcher
	surface    *downloader.Surface
	history    *jsonfile.HistoryRepository
	dir        string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	names, err := filename.NewResolver(16)
	require.NoError(t, err)

	dir := t.TempDir()
	history := jsonfile.NewHistoryRepository(filepath.Join(dir, "history", "downloads.json"))
	d := dispatcher.New(filepath.Join(dir, "files"), names, history, dispatcher.WithEventBuffer(64))

	jar, err := downloader.NewSessionPool().Jar("default")
	require.NoError(t, err)

	s := downloader.NewSurface("main", transfer.SurfacePrimary, "default", jar, d)
	d.SetPrimary(s)

	return &harness{dispatcher: d, surface: s, history: history, dir: filepath.Join(dir, "files")}
}

// waitTerminal collects events until a completed or failed event arrives.
func (h *harness) waitTerminal(t *testing.T) []lifecycle.Event {
	t.Helper()

	var events []lifecycle.Event

	timeout := time.After(5 * time.Second)

	for {
		select {
		case ev := <-h.dispatcher.Events():
			events = append(events, ev)
			if ev.IsTerminal() {
				h.surface.Wait()

				return events
			}
		case <-timeout:
			t.Fatalf("no terminal event, got %d events", len(events))
		}
	}
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/music/track.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="Artist - Track.mp3"`)
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/go", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/files/song.flac", http.StatusFound)
	})
	mux.HandleFunc("/files/song.flac", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		fmt.Fprint(w, "partial")
		w.(http.Flusher).Flush()

		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}

		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func TestExplicitRequest_UsesHeaderName(t *testing.T) {
	h := newHarness(t)
	srv := newServer(t)

	_, err := h.dispatcher.HandleExplicitRequest(context.Background(), srv.URL+"/music/track.mp3", "")
	require.NoError(t, err)

	events := h.waitTerminal(t)

	assert.Equal(t, lifecycle.EventStarted, events[0].Type)
	assert.Equal(t, "Artist - Track.mp3", events[0].Download.FileName)

	last := events[len(events)-1]
	require.Equal(t, lifecycle.EventCompleted, last.Type)

	data, err := os.ReadFile(filepath.Join(h.dir, "Artist - Track.mp3"))
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	history, err := h.history.List(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, transfer.StatusCompleted, history[0].Status)
	assert.Equal(t, int64(len(body)), history[0].Size)
}

func TestExplicitRequest_RedirectChainAndGuess(t *testing.T) {
	h := newHarness(t)
	srv := newServer(t)

	_, err := h.dispatcher.HandleExplicitRequest(context.Background(), srv.URL+"/go", "My: Song")
	require.NoError(t, err)

	events := h.waitTerminal(t)
	require.Equal(t, lifecycle.EventCompleted, events[len(events)-1].Type)

	_, err = os.Stat(filepath.Join(h.dir, "My_ Song.flac"))
	assert.NoError(t, err)
}

func TestUnrequestedTransferIsCancelled(t *testing.T) {
	h := newHarness(t)
	srv := newServer(t)

	err := h.surface.DownloadURL(context.Background(), srv.URL+"/music/track.mp3")
	require.NoError(t, err)

	assert.Empty(t, h.dispatcher.Active())
	assert.Empty(t, h.dispatcher.Events())

	_, err = os.Stat(h.dir)
	assert.True(t, os.IsNotExist(err))
}

func TestInterruptedTransferFails(t *testing.T) {
	h := newHarness(t)
	srv := newServer(t)

	_, err := h.dispatcher.HandleExplicitRequest(context.Background(), srv.URL+"/broken", "")
	require.NoError(t, err)

	events := h.waitTerminal(t)

	var sawInterrupted bool
	for _, ev := range events {
		if ev.Status == transfer.StatusInterrupted {
			sawInterrupted = true
		}
	}

	assert.True(t, sawInterrupted)
	assert.Equal(t, lifecycle.EventFailed, events[len(events)-1].Type)

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	history, err := h.history.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCancelInFlight(t *testing.T) {
	h := newHarness(t)
	srv := newServer(t)

	_, err := h.dispatcher.HandleExplicitRequest(context.Background(), srv.URL+"/slow", "")
	require.NoError(t, err)

	started := <-h.dispatcher.Events()
	require.Equal(t, lifecycle.EventStarted, started.Type)
	require.NoError(t, h.dispatcher.Cancel(started.Download.ID))

	events := h.waitTerminal(t)
	last := events[len(events)-1]
	assert.Equal(t, lifecycle.EventFailed, last.Type)

	for _, ev := range events {
		assert.NotEqual(t, transfer.StatusInterrupted, ev.Status)
	}
}

func TestDownloadURL_Errors(t *testing.T) {
	h := newHarness(t)
	srv := newServer(t)

	err := h.surface.DownloadURL(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "404"))

	err = h.surface.DownloadURL(context.Background(), "ftp://example.com/a.mp3")
	require.Error(t, err)

	h.surface.Destroy()

	err = h.surface.DownloadURL(context.Background(), srv.URL+"/music/track.mp3")
	require.Error(t, err)
}
