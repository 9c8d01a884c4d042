package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearthkeep/hearthkeep/internal/models"
)

func newRecipesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "Manage household recipes",
	}
	cmd.AddCommand(newRecipesListCmd())
	cmd.AddCommand(newRecipesAddCmd())
	cmd.AddCommand(newRecipesRemoveCmd())
	return cmd
}

func newRecipesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recipes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			recipes, err := app.Recipes.FindAll()
			if err != nil {
				return err
			}
			for _, r := range recipes {
				key := string(r.ID)
				if key == "" {
					key = r.LocalID + " (unsynced)"
				}
				fmt.Printf("%s  %s\n", key, r.Title)
			}
			return nil
		},
	}
}

func newRecipesAddCmd() *cobra.Command {
	var servings int
	var tags, instructions string

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			created, err := app.Recipes.Create(cmd.Context(), &models.Recipe{
				Title:        args[0],
				Servings:     servings,
				Tags:         tags,
				Instructions: instructions,
			})
			if err != nil {
				return err
			}
			fmt.Printf("added %s (%s)\n", created.Title, created.LocalID)
			return nil
		},
	}
	cmd.Flags().IntVar(&servings, "servings", 0, "number of servings")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags")
	cmd.Flags().StringVar(&instructions, "instructions", "", "preparation steps")
	return cmd
}

func newRecipesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a recipe by server or local id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			return app.Recipes.Delete(cmd.Context(), args[0])
		},
	}
}
