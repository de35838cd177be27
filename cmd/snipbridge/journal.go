package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"snipbridge/internal/journal"
)

var errJournalDisabled = errors.New("run_service.journal_dir is not set")

func newJournalCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect run journals written by the run service",
	}

	open := func() (*journal.Store, error) {
		cfg, err := opts.load()
		if err != nil {
			return nil, err
		}
		dir := strings.TrimSpace(cfg.RunService.JournalDir)
		if dir == "" {
			return nil, errJournalDisabled
		}
		return journal.NewStore(dir)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List journaled runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			infos, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", info.RunID, info.UpdatedAt.Format(time.RFC3339), info.SizeBytes)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the entries of one run journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			entries, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, entry := range entries {
				if err := enc.Encode(entry); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}
