// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillcms/quill/internal/config"
	"github.com/quillcms/quill/internal/store/postgres"
)

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store connectivity and migration state",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}
	cmd.Printf("store backend: %s\n", cfg.Store.Backend)
	if cfg.Store.Backend != "postgres" {
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		cmd.Println("database: unreachable")
		return err
	}
	cmd.Println("database: ok")

	m, err := postgres.NewMigrator(cfg.Store.DatabaseURL)
	if err != nil {
		return err
	}
	defer m.Close() //nolint:errcheck // close error does not affect the outcome

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		cmd.Printf("migrations: version %d (dirty)\n", version)
		return nil
	}
	cmd.Printf("migrations: version %d\n", version)
	return nil
}
