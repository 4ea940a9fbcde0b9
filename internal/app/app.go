// Package app wires the registry, routing engine, pipeline and document
// tracker from a Config onto the selected storage driver.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"stagegate/internal/config"
	"stagegate/internal/db"
	"stagegate/internal/documents"
	"stagegate/internal/events"
	"stagegate/internal/migrate"
	"stagegate/internal/observability"
	"stagegate/internal/pipeline"
	"stagegate/internal/registry"
	"stagegate/internal/repo"
	"stagegate/internal/routing"
	"stagegate/internal/store"
)

type Options struct {
	Log         observability.Logger
	TraceWriter io.Writer
	// Resume restarts unfinished workflows found in persistent storage.
	Resume bool
}

type App struct {
	Config    *config.Config
	Log       observability.Logger
	Registry  *registry.Registry
	Router    routing.Engine
	Pipeline  *pipeline.Machine
	Documents *documents.Tracker
	Events    events.Recorder
	DB        *sql.DB

	shutdownTracer func(context.Context) error
}

// New builds an App. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	log := opts.Log
	if log == nil {
		log = observability.NopLogger()
	}
	a := &App{Config: cfg, Log: log}

	if cfg.Tracing.Enabled {
		w := opts.TraceWriter
		if w == nil {
			w = os.Stderr
		}
		shutdown, err := observability.InitTracer(cfg.Tracing.ServiceName, w)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		a.shutdownTracer = shutdown
	}

	var (
		wfStore  store.WorkflowStore
		docStore store.DocumentStore
	)
	switch cfg.Storage.Driver {
	case "sqlite":
		conn, err := db.Open(db.Config{Workspace: cfg.Storage.Workspace})
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		if err := migrate.MigrateContext(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		r := repo.Repo{DB: conn}
		a.DB = conn
		wfStore, docStore = r, r
		a.Events = events.Writer{DB: conn}
	default:
		mem := store.NewMemory()
		wfStore, docStore = mem, mem
		a.Events = events.NewMemoryLog(0)
	}

	a.Registry = registry.New(cfg.Entities, log)
	a.Router = routing.New(cfg, log.With("component", "routing"))

	machine, err := pipeline.New(pipeline.Options{
		Config:   cfg.Pipeline,
		Registry: a.Registry,
		Store:    wfStore,
		Events:   a.Events,
		Log:      log,
	})
	if err != nil {
		a.closeStorage()
		return nil, err
	}
	a.Pipeline = machine

	tracker, err := documents.New(documents.Options{
		Config: cfg.Documents,
		Store:  docStore,
		Events: a.Events,
		Log:    log,
	})
	if err != nil {
		a.closeStorage()
		return nil, err
	}
	a.Documents = tracker

	if opts.Resume && a.DB != nil {
		if _, err := machine.Resume(ctx); err != nil {
			return nil, errors.Join(fmt.Errorf("resume workflows: %w", err), a.Close(ctx))
		}
	}
	return a, nil
}

// Close stops background work and releases storage.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Documents != nil {
		a.Documents.Close()
	}
	if a.Pipeline != nil {
		if err := a.Pipeline.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeStorage(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeStorage() error {
	if a.DB == nil {
		return nil
	}
	err := a.DB.Close()
	a.DB = nil
	return err
}
