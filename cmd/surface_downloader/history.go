package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/italolelis/surface_downloader/internal/config"
	"github.com/italolelis/surface_downloader/internal/storage"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and edit the download history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the download history, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withHistory(cmd.Context(), func(ctx context.Context, repo storage.HistoryRepository) ([]storage.DownloadRecord, error) {
			return repo.List(ctx)
		})
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove one entry and print the remaining history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(cmd.Context(), func(ctx context.Context, repo storage.HistoryRepository) ([]storage.DownloadRecord, error) {
			return repo.RemoveByID(ctx, args[0])
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withHistory(cmd.Context(), func(ctx context.Context, repo storage.HistoryRepository) ([]storage.DownloadRecord, error) {
			return repo.Clear(ctx)
		})
	},
}

func init() {
	historyCmd.AddCommand(historyListCmd, historyDeleteCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

// withHistory opens the configured backend, runs fn and prints the records it returns.
func withHistory(ctx context.Context, fn func(context.Context, storage.HistoryRepository) ([]storage.DownloadRecord, error)) error {
	ctx, cfg, err := setup(ctx)
	if err != nil {
		return err
	}

	return printHistory(ctx, cfg, fn)
}

func printHistory(ctx context.Context, cfg *config.Config, fn func(context.Context, storage.HistoryRepository) ([]storage.DownloadRecord, error)) error {
	repo, db, err := openHistory(ctx, cfg, nil)
	if err != nil {
		return err
	}

	if db != nil {
		defer db.Close()
	}

	records, err := fn(ctx, repo)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(records)
}
