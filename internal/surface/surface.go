// Package surface tracks the content surfaces transfers can originate from.
package surface

import (
	"context"
	"sync"

	"github.com/italolelis/surface_downloader/internal/transfer"
)

// Surface is a content surface able to start a transfer on the user's behalf.
type Surface interface {
	ID() string
	Kind() transfer.SurfaceKind
	SessionID() string
	DownloadURL(ctx context.Context, rawURL string) error
	Destroyed() bool
}

// Registry holds the primary surface and the secondary surfaces attached at runtime.
type Registry struct {
	mu sync.RWMutex

	primary   Surface
	surfaces  map[string]Surface
	attached  map[string]bool // session id -> secondary handlers attached
	lastAdded string
}

func NewRegistry() *Registry {
	return &Registry{
		surfaces: make(map[string]Surface),
		attached: make(map[string]bool),
	}
}

func (r *Registry) SetPrimary(s Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.primary = s
}

func (r *Registry) Primary() Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.primary
}

// Attach registers a secondary surface. The first surface seen on a session marks the session as
// having secondary handlers attached; the flag is never cleared.
func (r *Registry) Attach(s Surface) (firstOnSession bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.surfaces[s.ID()] = s
	r.lastAdded = s.ID()

	if r.attached[s.SessionID()] {
		return false
	}

	r.attached[s.SessionID()] = true

	return true
}

// Detach forgets a secondary surface. The session keeps its attached flag.
func (r *Registry) Detach(id string) (Surface, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.surfaces[id]
	if !ok {
		return nil, false
	}

	delete(r.surfaces, id)

	if r.lastAdded == id {
		r.lastAdded = ""
	}

	return s, true
}

func (r *Registry) Get(id string) (Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.primary != nil && r.primary.ID() == id {
		return r.primary, true
	}

	s, ok := r.surfaces[id]

	return s, ok
}

// Current returns the most recently attached live secondary surface, else the primary.
func (r *Registry) Current() Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.surfaces[r.lastAdded]; ok && !s.Destroyed() {
		return s
	}

	return r.primary
}

// HandlersAttached reports whether a secondary surface was ever attached on the session.
func (r *Registry) HandlersAttached(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.attached[sessionID]
}

// Secondaries returns the attached secondary surfaces.
func (r *Registry) Secondaries() []Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Surface, 0, len(r.surfaces))
	for _, s := range r.surfaces {
		out = append(out, s)
	}

	return out
}
