package cli

import (
	"github.com/spf13/cobra"

	"github.com/codeG12/DStream/internal/catalog"
	"github.com/codeG12/DStream/internal/config"
	"github.com/codeG12/DStream/internal/connector"
	"github.com/codeG12/DStream/internal/etl"
	"github.com/codeG12/DStream/internal/state"
	"github.com/codeG12/DStream/pkg/logger"
)

func newTapCmd() *cobra.Command {
	var configPath, catalogPath, statePath, outputPath string

	cmd := &cobra.Command{
		Use:   "tap",
		Short: "Extract the selected streams and serialize the message stream",
		Long: `Runs only the extraction side: the selected catalog streams are read
from the source and written as newline-delimited protocol messages to the
output (stdout by default). A .gz output name enables gzip compression.
The artifact can be replayed later with 'dstream target'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			cat, err := catalog.Load(catalogPath)
			if err != nil {
				return err
			}

			store, err := state.Load(statePath)
			if err != nil {
				return err
			}

			conn, err := connector.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)
			reader, err := connector.AsReader(conn)
			if err != nil {
				return err
			}

			pipeline, err := etl.NewPipeline(reader, cat, cfg, nil, store)
			if err != nil {
				return err
			}

			out, err := openOutput(outputPath)
			if err != nil {
				return err
			}

			if err := pipeline.Tap(ctx, out); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}

			logger.Infof("tap %s finished: %d streams", cfg.Name, len(pipeline.Streams()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the tap config file")
	cmd.Flags().StringVar(&catalogPath, "catalog", "catalog.json", "Path to the catalog file")
	cmd.Flags().StringVar(&statePath, "state", "state.json", "Path to the state file")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path to write the message stream (default stdout)")
	cmd.MarkFlagRequired("config")
	return cmd
}
