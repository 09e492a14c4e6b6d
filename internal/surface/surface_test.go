package surface

import (
	"context"
	"testing"

	"github.com/italolelis/surface_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
)

type stubSurface struct {
	id, session string
	kind        transfer.SurfaceKind
	destroyed   bool
}

func (s *stubSurface) ID() string                                { return s.id }
func (s *stubSurface) Kind() transfer.SurfaceKind                { return s.kind }
func (s *stubSurface) SessionID() string                         { return s.session }
func (s *stubSurface) DownloadURL(context.Context, string) error { return nil }
func (s *stubSurface) Destroyed() bool                           { return s.destroyed }
func (s *stubSurface) Destroy()                                  { s.destroyed = true }

func TestCurrent(t *testing.T) {
	r := NewRegistry()
	primary := &stubSurface{id: "main", session: "default", kind: transfer.SurfacePrimary}
	r.SetPrimary(primary)

	assert.Equal(t, primary, r.Current())

	first := &stubSurface{id: "wv-1", session: "persist:a", kind: transfer.SurfaceSecondary}
	second := &stubSurface{id: "wv-2", session: "persist:a", kind: transfer.SurfaceSecondary}

	assert.True(t, r.Attach(first))
	assert.False(t, r.Attach(second))
	assert.Equal(t, second, r.Current())

	second.destroyed = true
	assert.Equal(t, primary, r.Current())

	r.Attach(first)
	assert.Equal(t, first, r.Current())

	_, ok := r.Detach("wv-1")
	assert.True(t, ok)
	assert.Equal(t, primary, r.Current())
}

func TestHandlersAttached(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.HandlersAttached("default"))

	r.Attach(&stubSurface{id: "wv-1", session: "default", kind: transfer.SurfaceSecondary})
	assert.True(t, r.HandlersAttached("default"))

	r.Detach("wv-1")
	assert.True(t, r.HandlersAttached("default"))
	assert.False(t, r.HandlersAttached("persist:other"))
}

func TestGet(t *testing.T) {
	r := NewRegistry()
	r.SetPrimary(&stubSurface{id: "main", kind: transfer.SurfacePrimary})
	r.Attach(&stubSurface{id: "wv-1", kind: transfer.SurfaceSecondary})

	s, ok := r.Get("main")
	assert.True(t, ok)
	assert.Equal(t, transfer.SurfacePrimary, s.Kind())

	_, ok = r.Get("wv-1")
	assert.True(t, ok)

	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Len(t, r.Secondaries(), 1)
}

func TestInstrumentedSurface_Delegates(t *testing.T) {
	inner := &stubSurface{id: "wv-1", session: "default", kind: transfer.SurfaceSecondary}
	s := NewInstrumentedSurface(inner, nil)

	assert.Equal(t, "wv-1", s.ID())
	assert.Equal(t, transfer.SurfaceSecondary, s.Kind())
	assert.NoError(t, s.DownloadURL(context.Background(), "https://cdn.example.com/a.mp3"))
}

func TestInstrumentedSurface_ForwardsDestroy(t *testing.T) {
	inner := &stubSurface{id: "wv-1", session: "default", kind: transfer.SurfaceSecondary}
	s := NewInstrumentedSurface(inner, nil)

	s.Destroy()

	assert.True(t, inner.destroyed)
	assert.True(t, s.Destroyed())
}
