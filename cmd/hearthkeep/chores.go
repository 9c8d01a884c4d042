package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearthkeep/hearthkeep/internal/models"
)

func newChoresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chores",
		Short: "Manage household chores",
	}
	cmd.AddCommand(newChoresListCmd())
	cmd.AddCommand(newChoresAddCmd())
	cmd.AddCommand(newChoresDoneCmd())
	return cmd
}

func newChoresListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List chores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			chores, err := app.Chores.FindAll()
			if err != nil {
				return err
			}
			for _, c := range chores {
				mark := " "
				if c.Done {
					mark = "x"
				}
				key := string(c.ID)
				if key == "" {
					key = c.LocalID
				}
				fmt.Printf("[%s] %s  %s\n", mark, key, c.Title)
			}
			return nil
		},
	}
}

func newChoresAddCmd() *cobra.Command {
	var assignedTo, notes string

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a chore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			created, err := app.Chores.Create(cmd.Context(), &models.Chore{
				Title:      args[0],
				AssignedTo: assignedTo,
				Notes:      notes,
			})
			if err != nil {
				return err
			}
			fmt.Printf("added %s (%s)\n", created.Title, created.LocalID)
			return nil
		},
	}
	cmd.Flags().StringVar(&assignedTo, "assign", "", "household member responsible")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	return cmd
}

func newChoresDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Toggle a chore's done state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			updated, err := app.Chores.Toggle(cmd.Context(), args[0], func(c *models.Chore) {
				c.Done = !c.Done
			})
			if err != nil {
				return err
			}
			state := "open"
			if updated.Done {
				state = "done"
			}
			fmt.Printf("%s is now %s\n", updated.Title, state)
			return nil
		},
	}
}
