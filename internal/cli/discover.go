package cli

import (
	"github.com/spf13/cobra"

	"github.com/codeG12/DStream/internal/catalog"
	"github.com/codeG12/DStream/internal/config"
	"github.com/codeG12/DStream/internal/connector"
	"github.com/codeG12/DStream/pkg/logger"
)

func newDiscoverCmd() *cobra.Command {
	var configPath, outputPath string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover a connector's streams and write the catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			conn, err := connector.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			d, err := connector.AsDiscoverer(conn)
			if err != nil {
				return err
			}

			entries, err := d.Discover(ctx)
			if err != nil {
				return err
			}

			cat := catalog.New(cfg.Name)
			cat.Streams = entries
			if err := cat.Save(outputPath); err != nil {
				return err
			}

			logger.Infof("discovered %d streams for %s, catalog written to %s",
				len(entries), cfg.Name, outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the connector config file")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "catalog.json", "Path to write the catalog file")
	cmd.MarkFlagRequired("config")
	return cmd
}
