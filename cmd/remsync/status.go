package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remsync/remsync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync-state counts from the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st := store.Open(cfg.CachePath)

		pages := 0
		for _, doc := range st.Documents() {
			pages += doc.Len()
		}

		fmt.Printf("Cache: %s\n", cfg.CachePath)
		fmt.Printf("Documents: %d, pages: %d\n", st.Len(), pages)
		for _, s := range []store.Status{store.StatusPending, store.StatusUploaded, store.StatusFailed, store.StatusSkipped} {
			fmt.Printf("  %-8s %d\n", s, st.CountByStatus(s))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
