package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/talecast/internal/config"
	"github.com/MrWong99/talecast/internal/roster"
)

func newMigrateCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the roster schema of the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cmd.OutOrStdout(), cfg.Store)
		},
	}
}

// migrate opens the configured store, which applies its schema, and checks
// that it answers.
func migrate(ctx context.Context, w io.Writer, sc config.StoreConfig) error {
	var (
		store roster.Store
		err   error
	)
	switch sc.Backend {
	case config.StoreSQLite:
		store, err = roster.OpenSQLite(ctx, sc.SQLitePath)
	case config.StorePostgres:
		store, err = roster.NewPostgresStore(ctx, sc.PostgresDSN)
	default:
		fmt.Fprintln(w, "memory store has no schema, nothing to migrate")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", sc.Backend, err)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("migrate %s: %w", sc.Backend, err)
	}
	fmt.Fprintf(w, "%s schema is up to date\n", sc.Backend)
	return nil
}
