package cleanup

import (
	"context"
	"time"

	"github.com/italolelis/surface_downloader/internal/grant"
	"github.com/italolelis/surface_downloader/internal/logctx"
)

// Runner periodically sweeps expired grants and stale partial files.
type Runner struct {
	Ledger       *grant.Ledger
	Dir          string
	KeepPartials time.Duration
	Interval     time.Duration
	// Active returns the save paths of in-flight downloads.
	Active func() map[string]bool
}

// Run blocks until ctx is done. A non-positive interval disables sweeping.
func (r *Runner) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	if r.Interval <= 0 {
		logger.Warn("cleanup disabled", "interval", r.Interval.String())
		<-ctx.Done()

		return nil
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return nil
		case now := <-ticker.C:
			SweepGrants(ctx, r.Ledger, now)

			var active map[string]bool
			if r.Active != nil {
				active = r.Active()
			}

			if _, err := DeleteStalePartials(ctx, r.Dir, r.KeepPartials, active, now); err != nil {
				logger.Error("failed to delete stale partial files", "err", err)
			}
		}
	}
}
