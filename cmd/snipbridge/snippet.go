package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newSnippetCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snippet",
		Short: "Read and write snippets in the configured store",
	}

	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Print a stored snippet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, closeFn, err := openSnippetStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer closeFn()

			content, err := store.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), content)
			return err
		},
	}

	var file string
	put := &cobra.Command{
		Use:   "put <name> [content]",
		Short: "Store a snippet from an argument, --file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			var content string
			switch {
			case len(args) == 2:
				content = args[1]
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				content = string(data)
			default:
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				content = string(data)
			}

			store, closeFn, err := openSnippetStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := store.Save(cmd.Context(), args[0], content); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", args[0])
			return err
		},
	}
	put.Flags().StringVarP(&file, "file", "f", "", "Read snippet content from file")

	cmd.AddCommand(get, put)
	return cmd
}
