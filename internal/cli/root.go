// Package cli wires the DStream commands using Cobra. Commands stay thin:
// they load configuration, open connectors, and hand off to the engine.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/codeG12/DStream/pkg/logger"
)

func NewRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "dstream",
		Short: "DStream ETL - extract, transform, load data streams",
		Long: `DStream moves records from a source (tap) to a destination (target)
through a uniform streaming protocol, tracking per-stream progress so
interrupted or incremental syncs resume from the last committed bookmark.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(verbose)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newDiscoverCmd(),
		newSyncCmd(),
		newTapCmd(),
		newTargetCmd(),
		newStateCmd(),
		newCatalogCmd(),
	)
	return rootCmd
}
