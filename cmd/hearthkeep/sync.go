package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass against the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.SyncNow(cmd.Context()); err != nil {
				return err
			}
			stats := app.Queue.GetStats()
			fmt.Printf("sync complete, %d pending, %d failed\n", stats.Pending, stats.Failed)
			return nil
		},
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Requeue conflict-failed writes and sync again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.Queue.RetryFailed()
			if err != nil {
				return err
			}
			fmt.Printf("requeued %d failed writes\n", n)
			if n == 0 {
				return nil
			}
			return app.SyncNow(cmd.Context())
		},
	}
}
