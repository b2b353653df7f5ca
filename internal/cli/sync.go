package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/codeG12/DStream/internal/catalog"
	"github.com/codeG12/DStream/internal/config"
	"github.com/codeG12/DStream/internal/connector"
	"github.com/codeG12/DStream/internal/etl"
	"github.com/codeG12/DStream/internal/model"
	"github.com/codeG12/DStream/internal/state"
	"github.com/codeG12/DStream/pkg/logger"
)

func newSyncCmd() *cobra.Command {
	var tapConfigPath, targetConfigPath, catalogPath, statePath string
	var flushInterval time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run tap and target as connected stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tapCfg, err := config.Load(tapConfigPath)
			if err != nil {
				return err
			}
			targetCfg, err := config.Load(targetConfigPath)
			if err != nil {
				return err
			}
			if err := tapCfg.Validate(); err != nil {
				return err
			}
			if err := targetCfg.Validate(); err != nil {
				return err
			}

			stream, err := model.NewStream(
				model.NewConnector(tapCfg, config.RoleTap),
				model.NewConnector(targetCfg, config.RoleTarget),
			)
			if err != nil {
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
			release, err := store.Lock()
			if err != nil {
				return err
			}
			defer release()

			source, err := connector.Open(ctx, tapCfg)
			if err != nil {
				return err
			}
			defer source.Close(ctx)
			reader, err := connector.AsReader(source)
			if err != nil {
				return err
			}

			dest, err := connector.Open(ctx, targetCfg)
			if err != nil {
				return err
			}
			defer dest.Close(ctx)
			writer, err := connector.AsWriter(dest)
			if err != nil {
				return err
			}

			pipeline, err := etl.NewPipeline(reader, cat, tapCfg, targetCfg, store)
			if err != nil {
				return err
			}
			logger.Infof("starting sync %s: %d streams selected", stream.Name, len(pipeline.Streams()))

			sink := etl.NewSink(writer, store, etl.SinkConfig{
				BatchSize:     targetCfg.BatchSize,
				FlushInterval: flushInterval,
			})

			runErr := pipeline.Sync(ctx, sink)
			stream.RecordResult(runErr)
			logger.Infof("stream %s: last sync %s at %s",
				stream.Name, stream.LastSyncStatus, stream.LastSyncAt.Format(time.RFC3339))
			return runErr
		},
	}

	cmd.Flags().StringVar(&tapConfigPath, "tap-config", "", "Path to the tap config file")
	cmd.Flags().StringVar(&targetConfigPath, "target-config", "", "Path to the target config file")
	cmd.Flags().StringVar(&catalogPath, "catalog", "catalog.json", "Path to the catalog file")
	cmd.Flags().StringVar(&statePath, "state", "state.json", "Path to the state file")
	cmd.Flags().DurationVar(&flushInterval, "flush-interval", 0, "Max time a partial batch may remain unflushed (0 disables)")
	cmd.MarkFlagRequired("tap-config")
	cmd.MarkFlagRequired("target-config")
	return cmd
}
