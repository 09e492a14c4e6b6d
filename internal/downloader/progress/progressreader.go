package progress

import (
	"context"
	"io"
	"sync"
)

// ProgressReader wraps an io.Reader and reports progress via a callback. A report is made every
// reportInterval bytes, whenever the completed percentage crosses a multiple of percentStep, and
// once more when the underlying reader is exhausted.
type ProgressReader struct {
	Reader     io.Reader
	Total      int64
	OnProgress func(written int64, total int64)

	totalRead      int64
	lastReport     int64 // bytes since last report
	reportInterval int64
	percentStep    int64
}

func NewReader(r io.Reader, total int64, interval int64, cb func(written int64, total int64)) *ProgressReader {
	return &ProgressReader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
		percentStep:    1,
	}
}

// WithPercentStep changes how many percent must complete between reports.
func (pr *ProgressReader) WithPercentStep(step int64) *ProgressReader {
	if step > 0 {
		pr.percentStep = step
	}

	return pr
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		before := pr.totalRead
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.lastReport >= pr.reportInterval || pr.crossedStep(before) {
			pr.report()
		}
	}

	if err == io.EOF && pr.lastReport > 0 {
		pr.report()
	}

	return n, err
}

func (pr *ProgressReader) Written() int64 {
	return pr.totalRead
}

func (pr *ProgressReader) crossedStep(before int64) bool {
	if pr.Total <= 0 {
		return false
	}

	return pr.totalRead*100/pr.Total/pr.percentStep > before*100/pr.Total/pr.percentStep
}

func (pr *ProgressReader) report() {
	pr.lastReport = 0

	if pr.OnProgress != nil {
		pr.OnProgress(pr.totalRead, pr.Total)
	}
}

// Gate blocks readers while paused.
type Gate struct {
	mu     sync.Mutex
	resume chan struct{} // non-nil while paused
}

func NewGate() *Gate {
	return &Gate{}
}

// Pause makes subsequent Wait calls block until Resume.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resume == nil {
		g.resume = make(chan struct{})
	}
}

func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resume != nil {
		close(g.resume)
		g.resume = nil
	}
}

func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.resume != nil
}

// Wait returns once the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	resume := g.resume
	g.mu.Unlock()

	if resume == nil {
		return ctx.Err()
	}

	select {
	case <-resume:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GatedReader pauses reads while its gate is closed and fails them once ctx is done.
type GatedReader struct {
	ctx    context.Context
	reader io.Reader
	gate   *Gate
}

func NewGatedReader(ctx context.Context, r io.Reader, g *Gate) *GatedReader {
	return &GatedReader{ctx: ctx, reader: r, gate: g}
}

func (gr *GatedReader) Read(p []byte) (int, error) {
	if err := gr.gate.Wait(gr.ctx); err != nil {
		return 0, err
	}

	return gr.reader.Read(p)
}
