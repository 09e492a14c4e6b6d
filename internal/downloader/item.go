package downloader

import (
	"context"
	"net/http"
	"path"
	"sync"
	"sync/atomic"

	"github.com/italolelis/surface_downloader/internal/downloader/progress"
	"github.com/italolelis/surface_downloader/internal/filename"
)

// Item is an HTTP response waiting to be written to disk.
type Item struct {
	url   string
	chain []string
	name  string
	total int64

	resp   *http.Response
	gate   *progress.Gate
	cancel context.CancelFunc

	mu        sync.Mutex
	savePath  string
	cancelled atomic.Bool
}

func newItem(rawURL string, chain []string, resp *http.Response, cancel context.CancelFunc) *Item {
	return &Item{
		url:    rawURL,
		chain:  chain,
		name:   responseFilename(resp),
		total:  resp.ContentLength,
		resp:   resp,
		gate:   progress.NewGate(),
		cancel: cancel,
	}
}

func (i *Item) URL() string {
	return i.url
}

// URLChain is the full chain of URLs the request visited, starting with URL.
func (i *Item) URLChain() []string {
	return i.chain
}

// Filename is the name the server suggested, or the last segment of the final URL path.
func (i *Item) Filename() string {
	return i.name
}

// TotalBytes is the advertised content length; -1 when unknown.
func (i *Item) TotalBytes() int64 {
	return i.total
}

func (i *Item) SetSavePath(p string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.savePath = p
}

func (i *Item) SavePath() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.savePath
}

func (i *Item) Cancel() {
	if i.cancelled.CompareAndSwap(false, true) {
		i.cancel()
		i.gate.Resume()
	}
}

func (i *Item) Cancelled() bool {
	return i.cancelled.Load()
}

func (i *Item) Pause() {
	i.gate.Pause()
}

func (i *Item) Resume() {
	i.gate.Resume()
}

func responseFilename(resp *http.Response) string {
	for _, v := range resp.Header.Values("Content-Disposition") {
		if name, ok := filename.ParseContentDisposition(v); ok {
			return name
		}
	}

	if resp.Request != nil && resp.Request.URL != nil {
		if base := path.Base(resp.Request.URL.Path); base != "/" && base != "." {
			return base
		}
	}

	return filename.DefaultName
}
