package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/italolelis/surface_downloader/internal/lifecycle"
	"github.com/italolelis/surface_downloader/internal/logctx"
	"github.com/italolelis/surface_downloader/internal/transfer"
	"github.com/spf13/cobra"
)

var fetchName string

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download a single URL",
	Long: "Requests url through the primary surface, waits until the download completes or fails " +
		"and prints the finished download as JSON.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, err := setup(cmd.Context())
		if err != nil {
			return err
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(ctx))

		dl, err := fetch(ctx, a, args[0], fetchName)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(dl); err != nil {
			return err
		}

		if dl.Status != transfer.StatusCompleted {
			return fmt.Errorf("download of %s %s", dl.URL, dl.Status)
		}

		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchName, "name", "", "suggested file name")
	rootCmd.AddCommand(fetchCmd)
}

// fetch runs one explicit request and returns the download once it is terminal.
func fetch(ctx context.Context, a *app, rawURL, nameGuess string) (transfer.Download, error) {
	logger := logctx.LoggerFromContext(ctx)

	result, err := a.dispatcher.HandleExplicitRequest(ctx, rawURL, nameGuess)
	if err != nil {
		return transfer.Download{}, err
	}

	logger.Info("download requested", "url", result.URL)

	events := a.dispatcher.Events()

	// an accepted transfer has queued its started event before the request returns
	if len(events) == 0 {
		return transfer.Download{}, fmt.Errorf("transfer of %s was not accepted", rawURL)
	}

	done := ctx.Done()

	for {
		select {
		case <-done:
			done = nil

			logger.Info("cancelling download")
			a.dispatcher.Close()
		case ev := <-events:
			switch ev.Type {
			case lifecycle.EventProgress:
				logger.Debug("download progress", "download_id", ev.ID, "progress", ev.Progress, "status", ev.Status)
			case lifecycle.EventStarted:
				logger.Info("download started", "download_id", ev.DownloadID(), "file_name", ev.Download.FileName)
			case lifecycle.EventCompleted, lifecycle.EventFailed:
				return *ev.Download, nil
			}
		}
	}
}
