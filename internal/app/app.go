package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"ingest/internal/config"
	"ingest/internal/connectors"
	"ingest/internal/secret"
	"ingest/internal/service"
	"ingest/internal/storage"
)

// shutdownGrace bounds how long Serve waits for in-flight runs on exit.
const shutdownGrace = 30 * time.Second

// App wires configuration, storage and services together. Every entry
// point (CLI commands, the scheduler, the MCP server) goes through it.
type App struct {
	cfg *config.Config

	db      *storage.DB
	jobs    *storage.SyncStore
	dests   *storage.DestinationStore
	secrets secret.SecretStore

	sync *service.SyncService
}

// New opens the job database, registers YAML connector presets and builds
// the services. notifier may be nil.
func New(cfg *config.Config, notifier service.Notifier) (*App, error) {
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	names, err := connectors.LoadDir(cfg.ConnectorDir())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load connectors: %w", err)
	}
	if len(names) > 0 {
		log.Printf("[APP] Loaded connectors from %s: %v", cfg.ConnectorDir(), names)
	}

	a := &App{
		cfg:     cfg,
		db:      db,
		jobs:    storage.NewSyncStore(db),
		dests:   storage.NewDestinationStore(db),
		secrets: secret.NewEnvStore(cfg.SecretPrefix),
	}
	a.sync = service.NewSyncService(a.jobs, a.dests, a.secrets, notifier, service.Options{
		RunTimeout:  cfg.RunTimeout,
		MaxDepth:    cfg.MaxDepth,
		PreviewRows: cfg.PreviewRows,
	})
	return a, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Sync returns the sync service.
func (a *App) Sync() *service.SyncService { return a.sync }

// DB returns the job database.
func (a *App) DB() *storage.DB { return a.db }

// Close stops watchers and closes the database.
func (a *App) Close() error {
	a.sync.Stop()
	return a.db.Close()
}

// Serve starts the cron and file watchers for every enabled triggered job
// and blocks until ctx is done. Runs still in flight get shutdownGrace to
// finish.
func (a *App) Serve(ctx context.Context) error {
	a.sync.RestartWatchers(ctx)
	log.Printf("[APP] Scheduler running (db: %s)", a.cfg.DBPath)

	<-ctx.Done()
	a.sync.Stop()

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.sync.WaitRunning(waitCtx); err != nil {
		return fmt.Errorf("shutdown with runs still in flight %v: %w", a.sync.Running(), err)
	}
	log.Println("[APP] Scheduler stopped")
	return nil
}

// SecretVar names the environment variable that holds a destination's
// password.
func (a *App) SecretVar(destinationID string) string {
	return secret.NewEnvStore(a.cfg.SecretPrefix).Var(secret.DestinationKey(destinationID))
}
