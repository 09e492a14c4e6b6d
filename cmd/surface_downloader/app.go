package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/italolelis/surface_downloader/internal/config"
	"github.com/italolelis/surface_downloader/internal/dispatcher"
	"github.com/italolelis/surface_downloader/internal/downloader"
	"github.com/italolelis/surface_downloader/internal/filename"
	"github.com/italolelis/surface_downloader/internal/grant"
	"github.com/italolelis/surface_downloader/internal/logctx"
	"github.com/italolelis/surface_downloader/internal/storage"
	"github.com/italolelis/surface_downloader/internal/storage/jsonfile"
	"github.com/italolelis/surface_downloader/internal/storage/sqlite"
	"github.com/italolelis/surface_downloader/internal/surface"
	"github.com/italolelis/surface_downloader/internal/telemetry"
	"github.com/italolelis/surface_downloader/internal/transfer"
)

// app holds the components shared by every command.
type app struct {
	cfg        *config.Config
	telemetry  *telemetry.Telemetry
	history    storage.HistoryRepository
	dispatcher *dispatcher.Dispatcher
	sessions   *downloader.SessionPool

	db *sql.DB

	surfacesMu sync.Mutex
	surfaces   []*downloader.Surface
}

// openHistory opens the configured history backend wrapped with telemetry.
func openHistory(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (storage.HistoryRepository, *sql.DB, error) {
	logger := logctx.LoggerFromContext(ctx)

	switch cfg.HistoryBackend {
	case config.HistoryBackendSQLite:
		db, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			logger.Error("DB error", "err", err)

			return nil, nil, err
		}

		return storage.NewInstrumentedHistoryRepository(sqlite.NewHistoryRepository(db), tel), db, nil
	default:
		return storage.NewInstrumentedHistoryRepository(jsonfile.NewHistoryRepository(cfg.HistoryPath), tel), nil, nil
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		DiskPath:       cfg.TargetDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// =========================================================================
	// Start History
	history, db, err := openHistory(ctx, cfg, tel)
	if err != nil {
		return nil, err
	}

	// =========================================================================
	// Start Dispatcher
	names, err := filename.NewResolver(cfg.NameCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create filename resolver: %w", err)
	}

	d := dispatcher.New(cfg.TargetDir, names, history,
		dispatcher.WithLedger(grant.NewLedger(grant.WithTTL(cfg.GrantTTL))),
		dispatcher.WithTelemetry(tel),
		dispatcher.WithEventBuffer(cfg.EventBuffer),
	)

	a := &app{
		cfg:        cfg,
		telemetry:  tel,
		history:    history,
		dispatcher: d,
		sessions:   downloader.NewSessionPool(),
		db:         db,
	}

	// =========================================================================
	// Start Primary Surface
	primary, err := a.newSurface(cfg.PrimarySurfaceID, transfer.SurfacePrimary, cfg.PrimarySessionID)
	if err != nil {
		return nil, err
	}

	d.SetPrimary(primary)

	logger.Info("primary surface ready", "surface_id", cfg.PrimarySurfaceID, "session_id", cfg.PrimarySessionID)

	return a, nil
}

func (a *app) newSurface(id string, kind transfer.SurfaceKind, sessionID string) (surface.Surface, error) {
	jar, err := a.sessions.Jar(sessionID)
	if err != nil {
		return nil, err
	}

	s := downloader.NewSurface(id, kind, sessionID, jar, a.dispatcher)

	a.surfacesMu.Lock()
	a.surfaces = append(a.surfaces, s)
	a.surfacesMu.Unlock()

	return surface.NewInstrumentedSurface(s, a.telemetry), nil
}

// secondarySurface builds surfaces attached through the API.
func (a *app) secondarySurface(_ context.Context, id, sessionID string) (surface.Surface, error) {
	return a.newSurface(id, transfer.SurfaceSecondary, sessionID)
}

// activePaths returns the save paths of in-flight downloads.
func (a *app) activePaths() map[string]bool {
	active := make(map[string]bool)
	for _, dl := range a.dispatcher.Active() {
		active[dl.FilePath] = true
	}

	return active
}

// waitForStreams blocks until every surface has finished writing.
func (a *app) waitForStreams() {
	a.surfacesMu.Lock()
	surfaces := append([]*downloader.Surface(nil), a.surfaces...)
	a.surfacesMu.Unlock()

	for _, s := range surfaces {
		s.Wait()
	}
}

func (a *app) Close(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Error("failed to close database", "err", err)
		}
	}

	if err := a.telemetry.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown telemetry", "err", err)
	}
}
