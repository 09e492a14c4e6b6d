package surface

import (
	"context"

	"github.com/italolelis/surface_downloader/internal/telemetry"
)

// InstrumentedSurface wraps a Surface with telemetry.
type InstrumentedSurface struct {
	Surface
	telemetry *telemetry.Telemetry
}

// NewInstrumentedSurface creates a new instrumented surface.
func NewInstrumentedSurface(s Surface, tel *telemetry.Telemetry) *InstrumentedSurface {
	return &InstrumentedSurface{Surface: s, telemetry: tel}
}

// DownloadURL starts a transfer on the wrapped surface with telemetry.
func (s *InstrumentedSurface) DownloadURL(ctx context.Context, rawURL string) error {
	return s.telemetry.InstrumentSurfaceRequest(ctx, s.Kind().String(), func(ctx context.Context) error {
		return s.Surface.DownloadURL(ctx, rawURL)
	})
}

// Destroy forwards to the wrapped surface when it supports it.
func (s *InstrumentedSurface) Destroy() {
	if d, ok := s.Surface.(interface{ Destroy() }); ok {
		d.Destroy()
	}
}

var _ Surface = (*InstrumentedSurface)(nil)
