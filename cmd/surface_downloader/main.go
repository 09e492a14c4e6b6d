package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/surface_downloader/internal/config"
	"github.com/italolelis/surface_downloader/internal/logctx"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "surface_downloader",
	Short: "Download authorization and deduplication for embedded content surfaces",
	Long: "Watches transfers started by content surfaces, lets through only the ones a caller " +
		"asked for and saves them to the download directory.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and returns a context carrying the configured logger.
func setup(ctx context.Context) (context.Context, *config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)

		return nil, nil, err
	}

	handler := logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logctx.WithLogger(ctx, logger), cfg, nil
}
