package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remsync/remsync/internal/device"
	"github.com/remsync/remsync/internal/logging"
	"github.com/remsync/remsync/internal/store"
	"github.com/remsync/remsync/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the document root and record changed pages",
	Long: `Watch the device document root for page changes.

Every created or modified page file is recorded as pending in the
shared cache, where the upload process picks it up. A full rescan of
the document tree runs at startup and then periodically, so changes
the event stream missed are not lost.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := logging.New("watcher", cfg.LogPath)

		st := store.Open(cfg.CachePath)
		resolver := device.NewResolver(cfg.WatchPath)

		w, err := watcher.New(st, cfg.WatchPath, resolver, logger)
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Printf("watching %s, cache %s", cfg.WatchPath, cfg.CachePath)
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("watcher: %w", err)
		}
		logger.Printf("shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
