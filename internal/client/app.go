// Package client assembles the device-side sync stack: durable state,
// write queue, cache, typed repositories, background processor, scheduler,
// and the realtime listener, all sharing one sqlite data directory.
package client

import (
	"context"

	"github.com/hearthkeep/hearthkeep/internal/cache"
	"github.com/hearthkeep/hearthkeep/internal/config"
	"github.com/hearthkeep/hearthkeep/internal/db"
	apperrors "github.com/hearthkeep/hearthkeep/internal/errors"
	"github.com/hearthkeep/hearthkeep/internal/models"
	"github.com/hearthkeep/hearthkeep/internal/queue"
	"github.com/hearthkeep/hearthkeep/internal/repo"
	syncpkg "github.com/hearthkeep/hearthkeep/internal/sync"
	"github.com/hearthkeep/hearthkeep/internal/sync/scheduler"
)

// App owns the full client runtime. Construct with New, then Start to run
// background sync, and Close when done. The typed repositories are usable
// immediately after New, with or without Start.
type App struct {
	database *db.DB
	Queue    *queue.Store
	Cache    *cache.Store
	Net      *syncpkg.Tracker

	Recipes       *repo.Collection[*models.Recipe]
	ShoppingLists *repo.Collection[*models.ShoppingList]
	ShoppingItems *repo.Collection[*models.ShoppingItem]
	Chores        *repo.Collection[*models.Chore]

	Processor *syncpkg.Processor
	scheduler *scheduler.Scheduler
	listener  *syncpkg.Listener
}

// New opens the data directory and wires the client stack from config.
func New(cfg *config.Config) (*App, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	state, err := db.NewStateStore(database.DB)
	if err != nil {
		database.Close()
		return nil, err
	}

	q, err := queue.Open(state, queue.DefaultCapacity)
	if err != nil {
		database.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to open write queue", err)
	}

	c := cache.New(state)
	net := syncpkg.NewTracker(true)

	entityClient := repo.NewHTTPEntityClient(&repo.HTTPEntityClientConfig{
		BaseURL:   cfg.Remote.BaseURL,
		AuthToken: cfg.Remote.AuthToken,
		DeviceID:  cfg.Remote.DeviceID,
	})

	batchConfig := syncpkg.DefaultHTTPClientConfig(cfg.Remote.BaseURL)
	batchConfig.AuthToken = cfg.Remote.AuthToken
	batch := syncpkg.NewHTTPClient(batchConfig)

	proc := syncpkg.NewProcessor(q, c, state, batch, net, nil)

	schedConfig := scheduler.DefaultConfig()
	if cfg.Remote.SyncInterval > 0 {
		schedConfig.SyncInterval = cfg.Remote.SyncInterval
	}

	app := &App{
		database:      database,
		Queue:         q,
		Cache:         c,
		Net:           net,
		Recipes:       repo.NewCollection[*models.Recipe](models.EntityTypeRecipe, c, q, entityClient, net),
		ShoppingLists: repo.NewCollection[*models.ShoppingList](models.EntityTypeShoppingList, c, q, entityClient, net),
		ShoppingItems: repo.NewCollection[*models.ShoppingItem](models.EntityTypeShoppingItem, c, q, entityClient, net),
		Chores:        repo.NewCollection[*models.Chore](models.EntityTypeChore, c, q, entityClient, net),
		Processor:     proc,
		scheduler:     scheduler.New(proc, net, schedConfig),
	}

	if cfg.Remote.WebsocketURL != "" {
		app.listener = syncpkg.NewListener(
			syncpkg.DefaultListenerConfig(cfg.Remote.WebsocketURL, cfg.Remote.DeviceID), c, net)
	}

	return app, nil
}

// Start launches background sync: the periodic scheduler and, when a
// websocket URL is configured, the realtime listener.
func (a *App) Start(ctx context.Context) {
	a.scheduler.Start(ctx)
	if a.listener != nil {
		a.listener.Start(ctx)
	}
}

// SyncNow runs one foreground sync pass immediately.
func (a *App) SyncNow(ctx context.Context) error {
	return a.Processor.RunOnce(ctx)
}

// NotifyForeground nudges the scheduler, used when the app regains focus.
func (a *App) NotifyForeground() {
	a.scheduler.NotifyForeground()
}

// Close stops background work and releases the data directory.
func (a *App) Close() error {
	if a.listener != nil {
		a.listener.Stop()
	}
	a.scheduler.Stop()
	return a.database.Close()
}
