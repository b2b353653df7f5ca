package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/codeG12/DStream/internal/config"
	"github.com/codeG12/DStream/internal/connector"
	"github.com/codeG12/DStream/internal/etl"
	"github.com/codeG12/DStream/internal/state"
	"github.com/codeG12/DStream/pkg/logger"
)

func newTargetCmd() *cobra.Command {
	var configPath, inputPath, statePath string
	var flushInterval time.Duration

	cmd := &cobra.Command{
		Use:   "target",
		Short: "Load a serialized message stream into the destination",
		Long: `Runs only the load side: a newline-delimited protocol message stream is
read from the input (stdin by default, gzip when the name ends in .gz) and
written to the destination in batches, checkpointing state after each
committed batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
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

			conn, err := connector.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)
			writer, err := connector.AsWriter(conn)
			if err != nil {
				return err
			}

			in, err := openInput(inputPath)
			if err != nil {
				return err
			}
			defer in.Close()

			sink := etl.NewSink(writer, store, etl.SinkConfig{
				BatchSize:     cfg.BatchSize,
				FlushInterval: flushInterval,
			})
			if err := etl.Target(ctx, in, sink); err != nil {
				return err
			}

			logger.Infof("target %s finished: %d records committed", cfg.Name, sink.TotalRecords())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the target config file")
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Path to read the message stream from (default stdin)")
	cmd.Flags().StringVar(&statePath, "state", "state.json", "Path to the state file")
	cmd.Flags().DurationVar(&flushInterval, "flush-interval", 0, "Max time a partial batch may remain unflushed (0 disables)")
	cmd.MarkFlagRequired("config")
	return cmd
}
