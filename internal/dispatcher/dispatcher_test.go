package dispatcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/italolelis/surface_downloader/internal/filename"
	"github.com/italolelis/surface_downloader/internal/grant"
	"github.com/italolelis/surface_downloader/internal/lifecycle"
	"github.com/italolelis/surface_downloader/internal/storage"
	"github.com/italolelis/surface_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeItem struct {
	mu        sync.Mutex
	url       string
	chain     []string
	name      string
	savePath  string
	cancelled int
}

func (f *fakeItem) URL() string        { return f.url }
func (f *fakeItem) URLChain() []string { return f.chain }
func (f *fakeItem) Filename() string   { return f.name }
func (f *fakeItem) TotalBytes() int64  { return 200 }
func (f *fakeItem) Pause()             {}
func (f *fakeItem) Resume()            {}

func (f *fakeItem) SetSavePath(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.savePath = p
}

func (f *fakeItem) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled++
}

func (f *fakeItem) Cancelled() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.cancelled
}

type fakeSurface struct {
	id, session string
	kind        transfer.SurfaceKind
	requested   []string
	err         error
}

func (s *fakeSurface) ID() string                 { return s.id }
func (s *fakeSurface) Kind() transfer.SurfaceKind { return s.kind }
func (s *fakeSurface) SessionID() string          { return s.session }
func (s *fakeSurface) Destroyed() bool            { return false }

func (s *fakeSurface) DownloadURL(_ context.Context, rawURL string) error {
	s.requested = append(s.requested, rawURL)

	return s.err
}

type memoryHistory struct {
	mu      sync.Mutex
	records []storage.DownloadRecord
}

func (m *memoryHistory) Prepend(_ context.Context, rec storage.DownloadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append([]storage.DownloadRecord{rec}, m.records...)

	return nil
}

func (m *memoryHistory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.records)
}

const songURL = "https://cdn.example.com/music/song.mp3"

func newDispatcher(t *testing.T) (*Dispatcher, *memoryHistory, *fakeSurface) {
	t.Helper()

	names, err := filename.NewResolver(16)
	require.NoError(t, err)

	history := &memoryHistory{}
	d := New(t.TempDir(), names, history, WithEventBuffer(32))

	primary := &fakeSurface{id: "main", session: "default", kind: transfer.SurfacePrimary}
	d.SetPrimary(primary)

	return d, history, primary
}

func primaryIntent(item *fakeItem) transfer.Intent {
	return transfer.NewIntent(item, "main", transfer.SurfacePrimary, "default")
}

func TestHandleIntent_UnauthorizedIsCancelled(t *testing.T) {
	d, history, _ := newDispatcher(t)
	item := &fakeItem{url: "https://ads.example.com/tracker.bin", name: "tracker.bin"}

	tracker, err := d.HandleIntent(context.Background(), primaryIntent(item), item)

	var unauthErr *transfer.UnauthorizedError
	require.True(t, errors.As(err, &unauthErr))
	assert.Nil(t, tracker)
	assert.Equal(t, 1, item.Cancelled())
	assert.Empty(t, d.Active())
	assert.Zero(t, history.Len())
	assert.Empty(t, d.Events())
}

func TestHandleIntent_DuplicateIsCancelled(t *testing.T) {
	d, _, _ := newDispatcher(t)
	d.Ledger().GrantGlobalOnce()
	d.Ledger().GrantGlobalOnce()

	first := &fakeItem{url: "https://a.example.com/start", chain: []string{songURL}, name: "song.mp3"}
	second := &fakeItem{url: "https://b.example.com/other", chain: []string{"https://CDN.example.com/music/song.mp3"}, name: "song.mp3"}

	_, err := d.HandleIntent(context.Background(), primaryIntent(first), first)
	require.NoError(t, err)

	_, err = d.HandleIntent(context.Background(), primaryIntent(second), second)

	var dupErr *transfer.DuplicateError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, 0, first.Cancelled())
	assert.Equal(t, 1, second.Cancelled())
	assert.Len(t, d.Active(), 1)
}

func TestExplicitRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	d, history, primary := newDispatcher(t)

	result, err := d.HandleExplicitRequest(ctx, songURL, "Song: Title?")
	require.NoError(t, err)
	assert.Equal(t, "started", result.Status)
	require.NotNil(t, result.NameGuess)
	assert.Equal(t, "Song: Title?", *result.NameGuess)
	assert.Equal(t, []string{songURL}, primary.requested)

	item := &fakeItem{url: songURL, name: "song.mp3"}

	tracker, err := d.HandleIntent(ctx, primaryIntent(item), item)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.DownloadDir(), "Song_ Title_.mp3"), item.savePath)

	started := <-d.Events()
	assert.Equal(t, lifecycle.EventStarted, started.Type)
	assert.Equal(t, "Song_ Title_.mp3", started.Download.FileName)

	// still in flight: the same URL is a duplicate
	again := &fakeItem{url: songURL, name: "song.mp3"}
	_, err = d.HandleIntent(ctx, primaryIntent(again), again)

	var dupErr *transfer.DuplicateError
	require.True(t, errors.As(err, &dupErr))

	tracker.OnProgress(50, 200)
	assert.Equal(t, "25.00", (<-d.Events()).Progress)

	tracker.OnTerminal(ctx, true)
	assert.Equal(t, lifecycle.EventCompleted, (<-d.Events()).Type)
	assert.Equal(t, 1, history.Len())
	assert.Empty(t, d.Active())

	// the explicit request granted one global transfer besides the surface grant; the duplicate
	// above consumed it, so nothing authorizes a further transfer
	later := &fakeItem{url: songURL, name: "song.mp3"}
	_, err = d.HandleIntent(ctx, primaryIntent(later), later)

	var unauthErr *transfer.UnauthorizedError
	require.True(t, errors.As(err, &unauthErr))
}

func TestExplicitRequest_GlobalCounterAfterRelease(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDispatcher(t)

	_, err := d.HandleExplicitRequest(ctx, songURL, "")
	require.NoError(t, err)

	first := &fakeItem{url: songURL, name: "song.mp3"}
	tracker, err := d.HandleIntent(ctx, primaryIntent(first), first)
	require.NoError(t, err)
	<-d.Events()

	tracker.OnTerminal(ctx, false)
	assert.Equal(t, lifecycle.EventFailed, (<-d.Events()).Type)

	second := &fakeItem{url: songURL, name: "song.mp3"}
	_, err = d.HandleIntent(ctx, primaryIntent(second), second)
	require.NoError(t, err)
	<-d.Events()

	third := &fakeItem{url: songURL, name: "song.mp3"}
	_, err = d.HandleIntent(ctx, primaryIntent(third), third)

	var unauthErr *transfer.UnauthorizedError
	require.True(t, errors.As(err, &unauthErr))
}

func TestExplicitRequest_NameGuessNull(t *testing.T) {
	d, _, _ := newDispatcher(t)

	result, err := d.HandleExplicitRequest(context.Background(), songURL, "")
	require.NoError(t, err)
	assert.Nil(t, result.NameGuess)
}

func TestExplicitRequest_MalformedURLStillGranted(t *testing.T) {
	d, _, primary := newDispatcher(t)

	_, err := d.HandleExplicitRequest(context.Background(), "not a url", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"not a url"}, primary.requested)
}

func TestExplicitRequest_PrefersLatestSecondary(t *testing.T) {
	ctx := context.Background()
	d, _, primary := newDispatcher(t)

	webview := &fakeSurface{id: "wv-1", session: "persist:player", kind: transfer.SurfaceSecondary}
	d.AttachSurface(ctx, webview)

	_, err := d.HandleExplicitRequest(ctx, songURL, "")
	require.NoError(t, err)
	assert.Empty(t, primary.requested)
	assert.Equal(t, []string{songURL}, webview.requested)
}

func TestExplicitRequest_SurfaceErrors(t *testing.T) {
	t.Run("no surface", func(t *testing.T) {
		names, err := filename.NewResolver(4)
		require.NoError(t, err)

		d := New(t.TempDir(), names, nil)

		_, err = d.HandleExplicitRequest(context.Background(), songURL, "")

		var surfaceErr *transfer.SurfaceError
		require.True(t, errors.As(err, &surfaceErr))
		assert.Empty(t, surfaceErr.SurfaceID)
	})

	t.Run("surface fails", func(t *testing.T) {
		d, _, primary := newDispatcher(t)
		cause := errors.New("connection refused")
		primary.err = cause

		_, err := d.HandleExplicitRequest(context.Background(), songURL, "")

		var surfaceErr *transfer.SurfaceError
		require.True(t, errors.As(err, &surfaceErr))
		assert.Equal(t, "main", surfaceErr.SurfaceID)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("empty url", func(t *testing.T) {
		d, _, _ := newDispatcher(t)

		_, err := d.HandleExplicitRequest(context.Background(), "  ", "")

		var malformed *transfer.MalformedURLError
		assert.True(t, errors.As(err, &malformed))
	})
}

func TestExplicitRequest_FailedRequestRevokesGrants(t *testing.T) {
	noGrants := map[grant.Rule]int{
		grant.RuleSurface:  0,
		grant.RuleGlobal:   0,
		grant.RuleURL:      0,
		grant.RuleHostname: 0,
	}

	tests := []struct {
		name  string
		setup func(t *testing.T) *Dispatcher
	}{
		{
			name: "surface fails to start the transfer",
			setup: func(t *testing.T) *Dispatcher {
				d, _, primary := newDispatcher(t)
				primary.err = errors.New("unexpected status 404")

				return d
			},
		},
		{
			name: "no surface available",
			setup: func(t *testing.T) *Dispatcher {
				names, err := filename.NewResolver(4)
				require.NoError(t, err)

				return New(t.TempDir(), names, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			d := tt.setup(t)

			_, err := d.HandleExplicitRequest(ctx, songURL, "")

			var surfaceErr *transfer.SurfaceError
			require.True(t, errors.As(err, &surfaceErr))
			assert.Equal(t, noGrants, d.Ledger().Pending())

			noise := &fakeItem{url: "https://ads.example.com/tracker.bin", name: "tracker.bin"}
			_, err = d.HandleIntent(ctx, transfer.NewIntent(noise, "other", transfer.SurfaceSecondary, "s2"), noise)

			var unauthErr *transfer.UnauthorizedError
			require.True(t, errors.As(err, &unauthErr))
			assert.Equal(t, 1, noise.Cancelled())
		})
	}
}

func TestExplicitRequest_FailedRequestKeepsEarlierGrant(t *testing.T) {
	d, _, primary := newDispatcher(t)
	d.Ledger().GrantGlobalOnce()

	primary.err = errors.New("connection refused")

	_, err := d.HandleExplicitRequest(context.Background(), songURL, "")
	require.Error(t, err)
	assert.Equal(t, 1, d.Ledger().Pending()[grant.RuleGlobal])
}

func TestHandleIntent_NotOwner(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDispatcher(t)
	d.Ledger().GrantGlobalOnce()

	d.AttachSurface(ctx, &fakeSurface{id: "wv-1", session: "default", kind: transfer.SurfaceSecondary})

	item := &fakeItem{url: songURL, name: "song.mp3"}
	intent := transfer.NewIntent(item, "wv-1", transfer.SurfaceSecondary, "default")
	intent.Listener = transfer.SurfacePrimary

	_, err := d.HandleIntent(ctx, intent, item)

	var ownerErr *transfer.NotOwnerError
	require.True(t, errors.As(err, &ownerErr))
	assert.Equal(t, 0, item.Cancelled())
	assert.Equal(t, 1, d.Ledger().Pending()[grant.RuleGlobal], "global grant must not be consumed")
}

func TestObserve_SecondaryListenerOwnsEvent(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDispatcher(t)

	webview := &fakeSurface{id: "wv-1", session: "default", kind: transfer.SurfaceSecondary}
	d.AttachSurface(ctx, webview)

	_, err := d.HandleExplicitRequest(ctx, songURL, "")
	require.NoError(t, err)

	item := &fakeItem{url: songURL, name: "song.mp3"}

	tracker, err := d.Observe(ctx, transfer.NewIntent(item, "wv-1", transfer.SurfaceSecondary, "default"), item)
	require.NoError(t, err)
	require.NotNil(t, tracker)
	assert.Equal(t, 0, item.Cancelled())

	require.NoError(t, d.Cancel(tracker.ID()))
	assert.Equal(t, 1, item.Cancelled())
}

func TestObserve_NoListenerAcceptsCancelsOnce(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDispatcher(t)

	d.AttachSurface(ctx, &fakeSurface{id: "wv-1", session: "default", kind: transfer.SurfaceSecondary})

	item := &fakeItem{url: "https://ads.example.com/x.bin", name: "x.bin"}

	_, err := d.Observe(ctx, transfer.NewIntent(item, "main", transfer.SurfacePrimary, "default"), item)
	require.Error(t, err)
	assert.Equal(t, 1, item.Cancelled())
}

func TestObserve_DuplicateStopsFanOut(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDispatcher(t)

	d.AttachSurface(ctx, &fakeSurface{id: "wv-1", session: "default", kind: transfer.SurfaceSecondary})

	d.Ledger().GrantGlobalOnce()

	first := &fakeItem{url: songURL, name: "song.mp3"}
	_, err := d.HandleIntent(ctx, primaryIntent(first), first)
	require.NoError(t, err)
	<-d.Events()

	d.Ledger().GrantGlobalOnce()
	d.Ledger().GrantGlobalOnce()

	dup := &fakeItem{url: songURL, name: "song.mp3"}
	_, err = d.Observe(ctx, primaryIntent(dup), dup)

	var dupErr *transfer.DuplicateError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, 1, dup.Cancelled())
	assert.Equal(t, 1, d.Ledger().Pending()[grant.RuleGlobal], "only the first listener may consume a grant")
}

func TestObserve_UnknownSession(t *testing.T) {
	d, _, _ := newDispatcher(t)
	d.Ledger().GrantGlobalOnce()

	item := &fakeItem{url: songURL, name: "song.mp3"}

	_, err := d.Observe(context.Background(), transfer.NewIntent(item, "x", transfer.SurfaceSecondary, "persist:unknown"), item)

	var unauthErr *transfer.UnauthorizedError
	require.True(t, errors.As(err, &unauthErr))
	assert.Equal(t, 1, item.Cancelled())
}

func TestControl(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDispatcher(t)
	d.Ledger().GrantGlobalOnce()

	item := &fakeItem{url: songURL, name: "song.mp3"}
	tracker, err := d.HandleIntent(ctx, primaryIntent(item), item)
	require.NoError(t, err)

	var notFound *transfer.NotFoundError
	require.True(t, errors.As(d.Pause("missing"), &notFound))

	require.NoError(t, d.Pause(tracker.ID()))
	assert.Equal(t, transfer.StatusPaused, d.Active()[0].Status)

	var stateErr *transfer.StateError
	require.True(t, errors.As(d.Pause(tracker.ID()), &stateErr))
	assert.Equal(t, transfer.StatusPaused, stateErr.Status)

	require.NoError(t, d.Resume(tracker.ID()))
	assert.Equal(t, transfer.StatusDownloading, d.Active()[0].Status)

	d.Close()
	assert.Equal(t, 1, item.Cancelled())
}
