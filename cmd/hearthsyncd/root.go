package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hearthkeep/hearthkeep/internal/config"
	"github.com/hearthkeep/hearthkeep/internal/logging"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hearthsyncd",
		Short:         "Hearthkeep sync daemon",
		Long:          "hearthsyncd serves the household sync API: idempotent batch apply, single-entity endpoints, and realtime change push.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: hearthkeep.yaml in ., ~/.hearthkeep, /etc/hearthkeep)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	return root
}

// loadConfig reads config and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := logging.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	logging.Init(os.Stdout, level)
	return cfg, nil
}
