package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the quill CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quill",
		Short: "Quill - declarative data layer with per-field access control",
		Long: `Quill is a declarative data layer: collections are described as schemas
with per-operation and per-field access rules, and every operation flows
through an engine that merges access filters into queries, masks unreadable
fields and runs lifecycle hooks.

The CLI manages the PostgreSQL backend of an embedding application.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
