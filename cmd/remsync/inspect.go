package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remsync/remsync/internal/store"
)

var (
	inspectDoc    string
	inspectStatus string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Dump cache entries for debugging",
	Long: `Print every document and page recorded in the cache.

Use --doc to restrict output to one document ID and --status to show
only pages in a given state (pending, uploaded, failed, skipped).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var want store.Status
		filterStatus := inspectStatus != ""
		if filterStatus {
			want, err = store.ParseStatus(inspectStatus)
			if err != nil {
				return err
			}
		}

		st := store.Open(cfg.CachePath)

		docs := st.Documents()
		if inspectDoc != "" {
			doc, ok := st.FindDocument(inspectDoc)
			if !ok {
				return fmt.Errorf("document %s not in cache", inspectDoc)
			}
			docs = []*store.Document{doc}
		}

		shown := 0
		for _, doc := range docs {
			header := false
			for _, page := range doc.Pages() {
				if filterStatus && page.Status != want {
					continue
				}
				if !header {
					fmt.Printf("%s (%d pages)\n", doc.ID, doc.Len())
					header = true
				}
				fmt.Printf("  %s  label=%-4s %-8s retries=%d modified=%s\n",
					page.UUID, page.Label, page.Status, page.RetryCount,
					page.ModifiedAt.Format("2006-01-02 15:04:05"))
				shown++
			}
		}
		fmt.Printf("%d page(s)\n", shown)
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDoc, "doc", "", "show only this document ID")
	inspectCmd.Flags().StringVar(&inspectStatus, "status", "", "show only pages with this status")
	rootCmd.AddCommand(inspectCmd)
}
