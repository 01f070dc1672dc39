package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remsync/remsync/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "remsync",
	Short: "Sync reMarkable pages to a remote server",
	Long: `remsync keeps a reMarkable tablet's pages mirrored to a remote server.

It runs as two cooperating processes sharing one cache file:

  remsync watch    watches the document root and records changed pages
  remsync upload   drains recorded pages to the server with retries

Both read the same config file (remsync.yaml).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./remsync.yaml, /etc/remsync/remsync.yaml)")
}

// loadConfig reads the config named by --config, or the default search
// path when the flag is unset.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
