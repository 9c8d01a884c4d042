package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hearthkeep/hearthkeep/internal/db"
	"github.com/hearthkeep/hearthkeep/internal/logging"
	"github.com/hearthkeep/hearthkeep/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			database, err := db.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			defer database.Close()

			migrator := db.NewMigrator(database.DB)
			if err := migrator.Initialize(); err != nil {
				return err
			}
			if err := migrator.Up(); err != nil {
				return err
			}

			hub := server.NewHub()
			svc := server.NewApplyService(database, hub)

			httpServer := &http.Server{
				Addr:    cfg.Server.Addr,
				Handler: server.Routes(svc, hub),
			}

			errCh := make(chan error, 1)
			go func() {
				logging.Info("sync server listening", map[string]interface{}{
					"addr":     cfg.Server.Addr,
					"data_dir": cfg.DataDir,
				})
				if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				logging.Info("shutting down", map[string]interface{}{"signal": sig.String()})
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(ctx)
		},
	}
}
