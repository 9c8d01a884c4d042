package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearthkeep/hearthkeep/internal/models"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, failed writes, and last sync times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			stats := app.Queue.GetStats()
			fmt.Printf("pending writes: %d\n", stats.Pending)
			fmt.Printf("failed writes:  %d\n", stats.Failed)

			for _, f := range app.Queue.Failed() {
				fmt.Printf("  %s %s %s: %s (%s)\n",
					f.Write.Op, f.Write.EntityType, f.Write.OperationID, f.Reason, f.Detail)
			}

			for _, t := range models.AllEntityTypes() {
				ts, err := app.Cache.LastSyncedAt(t)
				if err != nil {
					return err
				}
				if ts == nil {
					fmt.Printf("%-13s never synced\n", t)
					continue
				}
				fmt.Printf("%-13s synced %s\n", t, ts)
			}
			return nil
		},
	}
}
