package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/surface_downloader/internal/cleanup"
	"github.com/italolelis/surface_downloader/internal/config"
	"github.com/italolelis/surface_downloader/internal/http/rest"
	"github.com/italolelis/surface_downloader/internal/logctx"
	"github.com/italolelis/surface_downloader/internal/notifier"
	"github.com/italolelis/surface_downloader/internal/shell"
	"github.com/italolelis/surface_downloader/internal/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download API",
	Long:  "Starts the HTTP API, the event stream and the background cleanup until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cfg, err := setup(cmd.Context())
		if err != nil {
			return err
		}

		logger := logctx.LoggerFromContext(ctx)
		logger.Info("surface downloader starting...", "log_level", cfg.LogLevel)

		if err := run(ctx, cfg); err != nil {
			logger.Error("fatal error", "err", err)

			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	// =========================================================================
	// Start Notification
	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	hub := notifier.NewHub(cfg.EventBuffer, notif)

	// the hub outlives ctx so terminal events of cancelled downloads are still drained
	hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHub()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(hubCtx, a.dispatcher.Events())
	})

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, a, hub)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	logger.Info("waiting for downloads...",
		"target_dir", cfg.TargetDir,
		"history_backend", cfg.HistoryBackend,
		"cleanup_interval", cfg.CleanupInterval.String(),
		"grant_ttl", cfg.GrantTTL.String(),
	)

	// =========================================================================
	// Start Cleanup
	runner := &cleanup.Runner{
		Ledger:       a.dispatcher.Ledger(),
		Dir:          cfg.TargetDir,
		KeepPartials: cfg.KeepPartialFiles,
		Interval:     cfg.CleanupInterval,
		Active:       a.activePaths,
	}

	g.Go(func() error {
		return runner.Run(gctx)
	})

	// =========================================================================
	// Shutdown
	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		a.dispatcher.Close()
		a.waitForStreams()
		stopHub()

		return nil
	})

	return g.Wait()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, a *app, hub *notifier.Hub) *http.Server {
	cfg := a.cfg

	handler := rest.NewDownloadsHandler(
		cfg.Web.Username,
		cfg.Web.Password,
		a.dispatcher,
		a.history,
		shell.NewOpener(cfg.TargetDir),
		hub,
		a.secondarySurface,
	)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(a.telemetry).Middleware)

	r.Mount("/api", handler.Routes())
	r.Handle("/metrics", a.telemetry.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "surface_downloader"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
