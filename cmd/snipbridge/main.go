package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"snipbridge/internal/config"
)

func main() {
	if err := execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "snipbridge: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(o.configPath)})
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "snipbridge",
		Short:         "snipbridge connects an agent run to remotely hosted snippet tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file")

	cmd.AddCommand(
		newToolsCmd(opts),
		newAgentsCmd(opts),
		newRunCmd(opts),
		newSnippetCmd(opts),
		newJournalCmd(opts),
	)
	return cmd
}
