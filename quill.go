// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package quill is a declarative data layer: collections are described as
// schemas with per-operation and per-field access rules, and every create,
// read, update and delete flows through an engine that merges access filters
// into queries, masks unreadable fields, runs lifecycle hooks and enforces
// structural invariants such as singleton collections.
//
// Embedders declare their collections, build an App from a Config, and run
// operations through app.Engine. Authorization denials are silent: a denied
// operation returns an empty result and a nil error.
package quill

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/quillcms/quill/internal/config"
	"github.com/quillcms/quill/internal/engine"
	"github.com/quillcms/quill/internal/logging"
	"github.com/quillcms/quill/internal/observability"
	"github.com/quillcms/quill/internal/schema"
	"github.com/quillcms/quill/internal/store"
	"github.com/quillcms/quill/internal/store/postgres"
)

// Version is the library version reported in log records.
const Version = "0.1.0"

// pingTimeout bounds the readiness probe's store ping.
const pingTimeout = 2 * time.Second

// App wires a configured engine together with its store and observability
// listener.
type App struct {
	Engine *engine.Engine
	Logger *slog.Logger

	pool   *pgxpool.Pool
	obs    *observability.Server
	obsErr <-chan error
}

// New builds an App for the given configuration and collection schemas.
// With the postgres backend it connects a pool and verifies connectivity;
// migrations are applied separately (see the quill migrate command). An
// observability listener starts when the config names an address.
func New(ctx context.Context, cfg *config.Config, reg *schema.Registry) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.Setup("quill", Version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level), nil)

	app := &App{Logger: logger}

	var st store.Store
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, oops.Code("STORE_CONNECT_FAILED").Wrap(err)
		}
		app.pool = pool
		st = postgres.New(pool, reg)
	default:
		st = store.NewMemory(reg)
	}

	eng, err := engine.New(engine.Config{
		Registry: reg,
		Store:    st,
		Logger:   logger,
		Limits: engine.Limits{
			DefaultPageSize: cfg.Engine.DefaultPageSize,
			MaxPageSize:     cfg.Engine.MaxPageSize,
		},
	})
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.Engine = eng

	if cfg.Observability.Addr != "" {
		app.obs = observability.NewServer(cfg.Observability.Addr, app.ready)
		errCh, err := app.obs.Start()
		if err != nil {
			app.Close(ctx)
			return nil, err
		}
		app.obsErr = errCh
	}

	return app, nil
}

// ObservabilityAddr returns the bound metrics/health address, or "" when the
// listener is disabled.
func (a *App) ObservabilityAddr() string {
	if a.obs == nil {
		return ""
	}
	return a.obs.Addr()
}

// Err returns a channel reporting observability server failures. Nil when
// the listener is disabled.
func (a *App) Err() <-chan error {
	return a.obsErr
}

// Close stops the observability listener and releases the store connection.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.obs != nil {
		if err := a.obs.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return firstErr
}

// ready is the readiness probe: with a postgres backend it pings the pool,
// otherwise the in-memory store is always ready.
func (a *App) ready() bool {
	if a.pool == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return a.pool.Ping(ctx) == nil
}
