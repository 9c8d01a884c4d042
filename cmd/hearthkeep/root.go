package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hearthkeep/hearthkeep/internal/client"
	"github.com/hearthkeep/hearthkeep/internal/config"
	"github.com/hearthkeep/hearthkeep/internal/logging"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hearthkeep",
		Short:         "Hearthkeep device client",
		Long:          "hearthkeep manages the household's recipes, shopping lists, and chores from this device, working offline and syncing when the server is reachable.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: hearthkeep.yaml in ., ~/.hearthkeep, /etc/hearthkeep)")

	root.AddCommand(newStatusCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newRetryCmd())
	root.AddCommand(newRecipesCmd())
	root.AddCommand(newChoresCmd())
	return root
}

// openApp loads config and wires the client stack. Callers own Close.
func openApp() (*client.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// The CLI talks to a terminal; keep routine logging out of the output.
	level := logging.LevelWarn
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = logging.LevelDebug
	case "error":
		level = logging.LevelError
	}
	logging.Init(os.Stderr, level)

	return client.New(cfg)
}
