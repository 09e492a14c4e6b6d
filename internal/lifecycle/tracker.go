// Package lifecycle follows an authorized transfer from start to completion or failure.
package lifecycle

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/italolelis/surface_downloader/internal/logctx"
	"github.com/italolelis/surface_downloader/internal/storage"
	"github.com/italolelis/surface_downloader/internal/transfer"
)

// HistoryWriter persists finished downloads.
type HistoryWriter interface {
	Prepend(ctx context.Context, rec storage.DownloadRecord) error
}

type Options struct {
	// Events receives lifecycle notifications. Progress events are dropped when it is full.
	Events  chan<- Event
	History HistoryWriter
	// OnTerminal runs exactly once when the transfer completes or fails.
	OnTerminal func(d transfer.Download)
	Item       transfer.Item
	Clock      func() time.Time
}

// Tracker owns the state of one in-flight download.
type Tracker struct {
	mu       sync.Mutex
	download transfer.Download
	key      string
	opts     Options
	terminal bool
}

// New creates a tracker for d, keyed by the deduplication key. Zero fields of d are filled in:
// ID from the clock, StartTime and the downloading status.
func New(d transfer.Download, key string, opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	now := opts.Clock()

	if d.ID == "" {
		d.ID = NewID(now)
	}

	if d.StartTime.IsZero() {
		d.StartTime = now
	}

	d.Status = transfer.StatusDownloading

	return &Tracker{download: d, key: key, opts: opts}
}

func (t *Tracker) ID() string {
	return t.download.ID
}

func (t *Tracker) Key() string {
	return t.key
}

func (t *Tracker) Item() transfer.Item {
	return t.opts.Item
}

// Snapshot returns a copy of the current download state.
func (t *Tracker) Snapshot() transfer.Download {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snapshot()
}

// Start announces the download.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.snapshot()
	t.send(ctx, Event{Type: EventStarted, Download: &d})
}

// OnProgress reports received bytes. It is ignored unless the download is actively downloading.
func (t *Tracker) OnProgress(received, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminal || t.download.Status != transfer.StatusDownloading {
		return
	}

	ev := Event{Type: EventProgress, ID: t.download.ID, Status: transfer.StatusDownloading}

	if total > 0 {
		t.download.Size = total
		ev.Progress = FormatPercent(received, total)
	} else {
		t.download.Size = received
		ev.Indeterminate = true
	}

	t.trySend(ev)
}

// OnPaused marks the download paused.
func (t *Tracker) OnPaused() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminal || t.download.Status != transfer.StatusDownloading {
		return
	}

	t.download.Status = transfer.StatusPaused
	t.trySend(Event{Type: EventProgress, ID: t.download.ID, Status: transfer.StatusPaused})
}

// OnResumed moves a paused download back to downloading.
func (t *Tracker) OnResumed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminal || t.download.Status != transfer.StatusPaused {
		return
	}

	t.download.Status = transfer.StatusDownloading
}

// OnInterrupted marks the download interrupted. Interrupted downloads are not retried.
func (t *Tracker) OnInterrupted() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminal || t.download.Status == transfer.StatusInterrupted {
		return
	}

	t.download.Status = transfer.StatusInterrupted
	t.trySend(Event{Type: EventProgress, ID: t.download.ID, Status: transfer.StatusInterrupted})
}

// OnTerminal finishes the download. Only the first call has any effect: the terminal hook runs,
// a successful download is prepended to the history, and the final event is emitted.
func (t *Tracker) OnTerminal(ctx context.Context, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminal {
		return
	}

	t.terminal = true

	ctx = logctx.WithDownloadID(ctx, t.download.ID)
	logger := logctx.LoggerFromContext(ctx)

	if success {
		end := t.opts.Clock()
		t.download.EndTime = &end
		t.download.Status = transfer.StatusCompleted
	} else {
		t.download.Status = transfer.StatusFailed
	}

	d := t.snapshot()

	if t.opts.OnTerminal != nil {
		t.opts.OnTerminal(d)
	}

	if !success {
		logger.WarnContext(ctx, "download failed", "file_name", d.FileName, "url", d.URL)
		t.send(ctx, Event{Type: EventFailed, Download: &d})

		return
	}

	if t.opts.History != nil {
		if err := t.opts.History.Prepend(ctx, d.Record()); err != nil {
			logger.ErrorContext(ctx, "failed to save download history", "err", err)
		}
	}

	logger.InfoContext(ctx, "download completed", "file_name", d.FileName, "file_path", d.FilePath)
	t.send(ctx, Event{Type: EventCompleted, Download: &d})
}

// Pause asks the transport to pause and records the new state.
func (t *Tracker) Pause() bool {
	if t.Snapshot().Status != transfer.StatusDownloading {
		return false
	}

	if t.opts.Item != nil {
		t.opts.Item.Pause()
	}

	t.OnPaused()

	return true
}

// Resume asks the transport to resume a paused download.
func (t *Tracker) Resume() bool {
	if t.Snapshot().Status != transfer.StatusPaused {
		return false
	}

	if t.opts.Item != nil {
		t.opts.Item.Resume()
	}

	t.OnResumed()

	return true
}

// Cancel asks the transport to abort. The transport reports the failure through OnTerminal.
func (t *Tracker) Cancel() bool {
	if t.Snapshot().IsTerminal() {
		return false
	}

	if t.opts.Item != nil {
		t.opts.Item.Cancel()
	}

	return true
}

// FormatPercent renders received/total as a percentage with two decimals.
func FormatPercent(received, total int64) string {
	return strconv.FormatFloat(float64(received)/float64(total)*100, 'f', 2, 64)
}

func (t *Tracker) snapshot() transfer.Download {
	d := t.download
	if d.EndTime != nil {
		end := *d.EndTime
		d.EndTime = &end
	}

	return d
}

func (t *Tracker) send(ctx context.Context, ev Event) {
	if t.opts.Events == nil {
		return
	}

	select {
	case t.opts.Events <- ev:
	case <-ctx.Done():
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "dropping lifecycle event", "type", ev.Type, "download_id", ev.DownloadID())
	}
}

func (t *Tracker) trySend(ev Event) {
	if t.opts.Events == nil {
		return
	}

	select {
	case t.opts.Events <- ev:
	default:
	}
}
