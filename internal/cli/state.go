package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codeG12/DStream/internal/state"
	"github.com/codeG12/DStream/pkg/logger"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and edit the state file",
	}
	cmd.AddCommand(newStateViewCmd(), newStateClearCmd(), newStateSetCmd())
	return cmd
}

func newStateViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <file>",
		Short: "Print the state file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := state.Load(args[0])
			if err != nil {
				return err
			}

			records := store.Records()
			raw, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}
}

func newStateClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <file>",
		Short: "Drop all bookmarks (the next sync re-extracts everything)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := state.New(args[0])
			release, err := store.Lock()
			if err != nil {
				return err
			}
			defer release()

			store.Clear()
			if err := store.Persist(); err != nil {
				return err
			}
			logger.Infof("state cleared: %s", args[0])
			return nil
		},
	}
}

func newStateSetCmd() *cobra.Command {
	var bookmarkType string

	cmd := &cobra.Command{
		Use:   "set <file> <stream> <table> <column> <value>",
		Short: "Write a bookmark directly",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := state.Load(args[0])
			if err != nil {
				return err
			}
			release, err := store.Lock()
			if err != nil {
				return err
			}
			defer release()

			rec, _ := store.Get(args[1], args[2])
			rec.Stream = args[1]
			rec.Table = args[2]
			rec.BookmarkColumn = args[3]
			rec.BookmarkValue = args[4]
			rec.BookmarkType = state.BookmarkType(bookmarkType)
			if err := store.Checkpoint(rec); err != nil {
				return err
			}
			if err := store.Persist(); err != nil {
				return err
			}

			logger.Infof("bookmark set for %s.%s: %s=%s", args[1], args[2], args[3], args[4])
			return nil
		},
	}

	cmd.Flags().StringVar(&bookmarkType, "type", "string", "Bookmark type: string, integer, float, or timestamp")
	return cmd
}
