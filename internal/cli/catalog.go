package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeG12/DStream/internal/catalog"
	"github.com/codeG12/DStream/pkg/logger"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and edit the catalog file",
	}
	cmd.AddCommand(newCatalogViewCmd(), newCatalogSelectCmd(true), newCatalogSelectCmd(false))
	return cmd
}

func newCatalogViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <file>",
		Short: "List the catalog's streams and their selection state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Catalog: %d streams\n\n", len(cat.Streams))
			for _, entry := range cat.Streams {
				mark := " "
				if entry.Selected {
					mark = "x"
				}
				line := fmt.Sprintf("  [%s] %s (%s", mark, entry.Stream, entry.ReplicationMethod)
				if entry.ReplicationKey != "" {
					line += ", key " + entry.ReplicationKey
				}
				fmt.Fprintln(out, line+")")
			}
			return nil
		},
	}
}

func newCatalogSelectCmd(selecting bool) *cobra.Command {
	use, short := "select", "Mark streams for extraction"
	if !selecting {
		use, short = "deselect", "Unmark streams for extraction"
	}

	return &cobra.Command{
		Use:   use + " <file> <streams...>",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(args[0])
			if err != nil {
				return err
			}

			var unknown []string
			if selecting {
				unknown = cat.Select(args[1:])
			} else {
				unknown = cat.Deselect(args[1:])
			}
			for _, name := range unknown {
				logger.Warnf("stream not found in catalog: %s", name)
			}

			if err := cat.Save(args[0]); err != nil {
				return err
			}
			logger.Infof("catalog updated: %s", args[0])
			return nil
		},
	}
}
