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
	"github.com/remsync/remsync/internal/transport"
	"github.com/remsync/remsync/internal/uploader"
)

var uploadOnce bool

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload recorded pages to the server",
	Long: `Drain pending pages from the shared cache to the server.

Pages are uploaded in batches on a fixed interval. A failed upload is
retried after a hold-down period; pages that keep failing past the
retry ceiling are marked failed and left alone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.ServerURL == "" {
			return fmt.Errorf("server_url is not configured")
		}

		logger := logging.New("uploader", cfg.LogPath)

		st := store.Open(cfg.CachePath)
		client := transport.New(cfg.ServerURL, cfg.APIKey, cfg.Timeout)
		resolver := device.NewResolver(cfg.WatchPath)

		u := uploader.New(st, client, resolver, uploader.Config{
			Root:       cfg.WatchPath,
			SharedPath: cfg.SharedPath,
			Interval:   cfg.UploadInterval,
			BatchSize:  cfg.BatchSize,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		}, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if uploadOnce {
			n, err := u.RunCycle(ctx)
			if err != nil {
				return fmt.Errorf("sync cycle: %w", err)
			}
			fmt.Printf("Processed %d page(s)\n", n)
			return nil
		}

		logger.Printf("uploading to %s every %s, cache %s", cfg.ServerURL, cfg.UploadInterval, cfg.CachePath)
		if err := u.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("uploader: %w", err)
		}
		logger.Printf("shutting down")
		return nil
	},
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadOnce, "once", false, "run a single sync cycle and exit")
	rootCmd.AddCommand(uploadCmd)
}
