package main

import (
	"github.com/spf13/cobra"

	"github.com/MrWong99/talecast/internal/config"
)

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "talecast",
		Short:         "Narrated story pipeline: speaker reconciliation, voice casting, and scene launch",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "talecast.yaml", "Configuration file path")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	rootCmd.AddCommand(newServeCommand(&configPath))
	rootCmd.AddCommand(newParseCommand())
	rootCmd.AddCommand(newVoicesCommand(load))
	rootCmd.AddCommand(newMigrateCommand(load))
	return rootCmd
}
