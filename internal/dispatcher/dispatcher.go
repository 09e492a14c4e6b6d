// Package dispatcher decides which observed transfers are legitimate and drives the accepted ones.
package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/surface_downloader/internal/dedup"
	"github.com/italolelis/surface_downloader/internal/filename"
	"github.com/italolelis/surface_downloader/internal/grant"
	"github.com/italolelis/surface_downloader/internal/lifecycle"
	"github.com/italolelis/surface_downloader/internal/logctx"
	"github.com/italolelis/surface_downloader/internal/surface"
	"github.com/italolelis/surface_downloader/internal/telemetry"
	"github.com/italolelis/surface_downloader/internal/transfer"
)

const defaultEventBuffer = 64

// RequestResult is returned to callers of HandleExplicitRequest.
type RequestResult struct {
	Status    string  `json:"status"`
	URL       string  `json:"url"`
	NameGuess *string `json:"nameGuess"`
}

type Dispatcher struct {
	// mu serializes the authorization gates and grant issuance.
	mu sync.Mutex

	downloadDir string
	ledger      *grant.Ledger
	dedup       *dedup.Deduplicator
	names       *filename.Resolver
	registry    *surface.Registry
	history     lifecycle.HistoryWriter
	telemetry   *telemetry.Telemetry
	clock       func() time.Time

	events chan lifecycle.Event

	trackersMu sync.RWMutex
	trackers   map[string]*lifecycle.Tracker
}

type Option func(*Dispatcher)

func WithLedger(l *grant.Ledger) Option {
	return func(d *Dispatcher) {
		d.ledger = l
	}
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(d *Dispatcher) {
		d.telemetry = t
	}
}

// WithEventBuffer sets the capacity of the events channel.
func WithEventBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.events = make(chan lifecycle.Event, n)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.clock = now
	}
}

func New(downloadDir string, names *filename.Resolver, history lifecycle.HistoryWriter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		downloadDir: downloadDir,
		ledger:      grant.NewLedger(),
		dedup:       dedup.New(),
		names:       names,
		registry:    surface.NewRegistry(),
		history:     history,
		clock:       time.Now,
		events:      make(chan lifecycle.Event, defaultEventBuffer),
		trackers:    make(map[string]*lifecycle.Tracker),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Events streams lifecycle notifications of every tracked download. It must be drained.
func (d *Dispatcher) Events() <-chan lifecycle.Event {
	return d.events
}

func (d *Dispatcher) Ledger() *grant.Ledger {
	return d.ledger
}

func (d *Dispatcher) Registry() *surface.Registry {
	return d.registry
}

func (d *Dispatcher) DownloadDir() string {
	return d.downloadDir
}

// SetPrimary registers the primary surface.
func (d *Dispatcher) SetPrimary(s surface.Surface) {
	d.registry.SetPrimary(s)
}

// AttachSurface registers a secondary surface. It becomes the target of explicit requests.
func (d *Dispatcher) AttachSurface(ctx context.Context, s surface.Surface) {
	if d.registry.Attach(s) {
		logctx.LoggerFromContext(ctx).InfoContext(ctx, "secondary handlers attached to session", "session_id", s.SessionID())
	}
}

func (d *Dispatcher) DetachSurface(id string) bool {
	_, ok := d.registry.Detach(id)

	return ok
}

// ObserveHeaders records the Content-Disposition name a response for rawURL advertised.
func (d *Dispatcher) ObserveHeaders(rawURL string, header http.Header) {
	d.names.ObserveHeaders(rawURL, header)
}

// HandleIntent runs the authorization gates for one listener's view of a transfer-intent. On
// success the item has its save path set and a started tracker is returned. Unauthorized and
// duplicate transfers are cancelled; a NotOwnerError leaves the item untouched.
func (d *Dispatcher) HandleIntent(ctx context.Context, intent transfer.Intent, item transfer.Item) (*lifecycle.Tracker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx = logctx.WithSurfaceID(ctx, intent.SurfaceID)
	logger := logctx.LoggerFromContext(ctx).With("url", intent.URL)

	if intent.Listener == transfer.SurfacePrimary &&
		intent.SurfaceKind == transfer.SurfaceSecondary &&
		d.registry.HandlersAttached(intent.SessionID) {
		d.telemetry.RecordIntent(ctx, "not_owner")

		return nil, &transfer.NotOwnerError{SessionID: intent.SessionID, Listener: intent.Listener}
	}

	rule, ok := d.ledger.TryConsume(intent)
	if !ok {
		item.Cancel()
		d.telemetry.RecordIntent(ctx, "unauthorized")
		logger.InfoContext(ctx, "blocked transfer that was not requested")

		return nil, &transfer.UnauthorizedError{URL: intent.URL, SurfaceID: intent.SurfaceID}
	}

	d.telemetry.RecordGrantConsumed(ctx, rule.String())

	key := intent.LogicalKey()
	if !d.dedup.TryClaim(key) {
		item.Cancel()
		d.telemetry.RecordIntent(ctx, "duplicate")
		logger.DebugContext(ctx, "cancelled duplicate transfer", "key", key)

		return nil, &transfer.DuplicateError{Key: key}
	}

	d.ledger.Purge(intent)

	name := d.names.Resolve(intent, item.Filename())
	path := filepath.Join(d.downloadDir, name)
	item.SetSavePath(path)

	size := item.TotalBytes()
	if size < 0 {
		size = 0
	}

	tracker := lifecycle.New(transfer.Download{
		FileName: name,
		FilePath: path,
		URL:      item.URL(),
		Size:     size,
	}, key, lifecycle.Options{
		Events:     d.events,
		History:    d.history,
		Item:       item,
		Clock:      d.clock,
		OnTerminal: d.onTerminal(ctx, key),
	})

	d.track(tracker)
	d.telemetry.RecordIntent(ctx, "authorized")
	d.telemetry.IncrementActiveDownloads(ctx)

	ctx = logctx.WithDownloadID(ctx, tracker.ID())
	logger.InfoContext(ctx, "download started", "rule", rule.String(), "file_path", path)

	tracker.Start(ctx)

	return tracker, nil
}

// Observe delivers an intent to every listener registered on its session, the primary listener
// first. The item is cancelled when no listener accepts it.
func (d *Dispatcher) Observe(ctx context.Context, intent transfer.Intent, item transfer.Item) (*lifecycle.Tracker, error) {
	var listeners []transfer.SurfaceKind

	if primary := d.registry.Primary(); primary != nil && primary.SessionID() == intent.SessionID {
		listeners = append(listeners, transfer.SurfacePrimary)
	}

	if d.registry.HandlersAttached(intent.SessionID) {
		listeners = append(listeners, transfer.SurfaceSecondary)
	}

	var lastErr error = &transfer.UnauthorizedError{URL: intent.URL, SurfaceID: intent.SurfaceID}

	for _, listener := range listeners {
		obs := newObservation(item)

		in := intent
		in.Listener = listener

		tracker, err := d.HandleIntent(ctx, in, obs)
		if err == nil {
			obs.accept()

			return tracker, nil
		}

		lastErr = err

		// the key is already in flight, so no other listener can accept it
		var dupErr *transfer.DuplicateError
		if errors.As(err, &dupErr) {
			break
		}
	}

	item.Cancel()

	return nil, lastErr
}

// HandleExplicitRequest authorizes a caller-requested transfer of rawURL and asks the current
// surface to start it.
func (d *Dispatcher) HandleExplicitRequest(ctx context.Context, rawURL, nameGuess string) (RequestResult, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return RequestResult{}, &transfer.MalformedURLError{URL: rawURL}
	}

	logger := logctx.LoggerFromContext(ctx).With("url", rawURL)

	d.mu.Lock()

	d.names.RecordGuess(rawURL, nameGuess)

	d.ledger.GrantURL(rawURL)
	d.telemetry.RecordGrantIssued(ctx, grant.RuleURL.String())

	host, err := transfer.Hostname(rawURL)
	if err == nil {
		d.ledger.GrantHostname(host)
		d.telemetry.RecordGrantIssued(ctx, grant.RuleHostname.String())
	} else {
		logger.DebugContext(ctx, "skipping hostname grant", "err", err)
	}

	d.ledger.GrantGlobalOnce()
	d.telemetry.RecordGrantIssued(ctx, grant.RuleGlobal.String())

	target := d.registry.Current()
	if target != nil {
		d.ledger.GrantSurface(target.ID())
		d.telemetry.RecordGrantIssued(ctx, grant.RuleSurface.String())
	}

	d.mu.Unlock()

	if target == nil {
		d.revoke(ctx, "", rawURL, host)

		return RequestResult{}, &transfer.SurfaceError{Reason: "no surface available"}
	}

	logger.InfoContext(ctx, "download requested", "surface_id", target.ID())

	if err := target.DownloadURL(ctx, rawURL); err != nil {
		d.revoke(ctx, target.ID(), rawURL, host)

		return RequestResult{}, &transfer.SurfaceError{SurfaceID: target.ID(), Reason: "failed to start transfer", Err: err}
	}

	result := RequestResult{Status: "started", URL: rawURL}
	if nameGuess != "" {
		result.NameGuess = &nameGuess
	}

	return result, nil
}

// revoke withdraws the grants of an explicit request whose transfer never started, so they cannot
// authorize an unrelated transfer later.
func (d *Dispatcher) revoke(ctx context.Context, surfaceID, rawURL, host string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ledger.Revoke(surfaceID, rawURL, host)
	logctx.LoggerFromContext(ctx).DebugContext(ctx, "revoked grants of failed request", "url", rawURL)
}

// Active returns the in-flight downloads, oldest first.
func (d *Dispatcher) Active() []transfer.Download {
	trackers := d.snapshotTrackers()

	out := make([]transfer.Download, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, t.Snapshot())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (d *Dispatcher) Pause(id string) error {
	return d.control(id, "pause", (*lifecycle.Tracker).Pause)
}

func (d *Dispatcher) Resume(id string) error {
	return d.control(id, "resume", (*lifecycle.Tracker).Resume)
}

func (d *Dispatcher) Cancel(id string) error {
	return d.control(id, "cancel", (*lifecycle.Tracker).Cancel)
}

// Close cancels every in-flight download.
func (d *Dispatcher) Close() {
	for _, t := range d.snapshotTrackers() {
		t.Cancel()
	}
}

func (d *Dispatcher) control(id, action string, fn func(*lifecycle.Tracker) bool) error {
	d.trackersMu.RLock()
	t, ok := d.trackers[id]
	d.trackersMu.RUnlock()

	if !ok {
		return &transfer.NotFoundError{Kind: "download", ID: id}
	}

	if !fn(t) {
		return &transfer.StateError{ID: id, Action: action, Status: t.Snapshot().Status}
	}

	return nil
}

func (d *Dispatcher) onTerminal(ctx context.Context, key string) func(transfer.Download) {
	ctx = context.WithoutCancel(ctx)

	return func(dl transfer.Download) {
		d.dedup.Release(key)
		d.untrack(dl.ID)

		d.telemetry.DecrementActiveDownloads(ctx)
		d.telemetry.RecordDownload(ctx, dl.Status, d.clock().Sub(dl.StartTime))
	}
}

func (d *Dispatcher) track(t *lifecycle.Tracker) {
	d.trackersMu.Lock()
	defer d.trackersMu.Unlock()

	d.trackers[t.ID()] = t
}

func (d *Dispatcher) untrack(id string) {
	d.trackersMu.Lock()
	defer d.trackersMu.Unlock()

	delete(d.trackers, id)
}

// snapshotTrackers copies the tracker set so callers never hold trackersMu while taking a
// tracker's lock.
func (d *Dispatcher) snapshotTrackers() []*lifecycle.Tracker {
	d.trackersMu.RLock()
	defer d.trackersMu.RUnlock()

	out := make([]*lifecycle.Tracker, 0, len(d.trackers))
	for _, t := range d.trackers {
		out = append(out, t)
	}

	return out
}
